package cli

import (
	"testing"
)

func TestParseVariants_EqualSplitDefault(t *testing.T) {
	variants, err := parseVariants("control,red", "")
	if err != nil {
		t.Fatalf("parseVariants failed: %v", err)
	}
	if len(variants) != 2 {
		t.Fatalf("got %d variants, want 2", len(variants))
	}
	if variants[0].ID != "control" || variants[0].Weight != 50 {
		t.Errorf("got %s/%d, want control/50", variants[0].ID, variants[0].Weight)
	}
	if variants[1].ID != "red" || variants[1].Weight != 50 {
		t.Errorf("got %s/%d, want red/50", variants[1].ID, variants[1].Weight)
	}
}

func TestParseVariants_ExplicitWeights(t *testing.T) {
	variants, err := parseVariants("a,b,c", "70,20,10")
	if err != nil {
		t.Fatalf("parseVariants failed: %v", err)
	}
	if variants[0].Weight != 70 || variants[1].Weight != 20 || variants[2].Weight != 10 {
		t.Errorf("weights %d/%d/%d, want 70/20/10", variants[0].Weight, variants[1].Weight, variants[2].Weight)
	}
}

func TestParseVariants_Errors(t *testing.T) {
	if _, err := parseVariants("only-one", ""); err == nil {
		t.Error("expected error for a single variant")
	}
	if _, err := parseVariants("a,b", "50"); err == nil {
		t.Error("expected error for weight count mismatch")
	}
	if _, err := parseVariants("a,b", "50,x"); err == nil {
		t.Error("expected error for non-numeric weight")
	}
}

func TestBuildAudience(t *testing.T) {
	if aud := buildAudience("", "", ""); aud != nil {
		t.Error("expected nil audience when no filters given")
	}

	aud := buildAudience("mobile, tablet", "US", "")
	if aud == nil {
		t.Fatal("expected an audience")
	}
	if len(aud.Devices) != 2 || aud.Devices[1] != "tablet" {
		t.Errorf("devices %v, want [mobile tablet]", aud.Devices)
	}
	if len(aud.Countries) != 1 || aud.Countries[0] != "US" {
		t.Errorf("countries %v, want [US]", aud.Countries)
	}
	if aud.Languages != nil {
		t.Errorf("languages %v, want nil", aud.Languages)
	}
}

func TestSplitList(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"  ", nil},
		{"a", []string{"a"}},
		{"a, b ,c", []string{"a", "b", "c"}},
		{"a,,b", []string{"a", "b"}},
	}
	for _, tc := range cases {
		got := splitList(tc.in)
		if len(got) != len(tc.want) {
			t.Errorf("splitList(%q) = %v, want %v", tc.in, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("splitList(%q) = %v, want %v", tc.in, got, tc.want)
			}
		}
	}
}

func TestParseRates(t *testing.T) {
	rates, err := parseRates("", 3)
	if err != nil {
		t.Fatalf("parseRates failed: %v", err)
	}
	if len(rates) != 3 || rates[0] != 0.1 {
		t.Errorf("default rates %v, want [0.1 0.1 0.1]", rates)
	}

	rates, err = parseRates("0.10,0.15", 2)
	if err != nil {
		t.Fatalf("parseRates failed: %v", err)
	}
	if rates[0] != 0.10 || rates[1] != 0.15 {
		t.Errorf("rates %v, want [0.10 0.15]", rates)
	}

	if _, err := parseRates("0.1", 2); err == nil {
		t.Error("expected error for rate count mismatch")
	}
	if _, err := parseRates("1.5,0.1", 2); err == nil {
		t.Error("expected error for out-of-range rate")
	}
}

func TestFormatNumber(t *testing.T) {
	cases := []struct {
		in   int
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{12345, "12,345"},
		{1234567, "1,234,567"},
	}
	for _, tc := range cases {
		if got := formatNumber(tc.in); got != tc.want {
			t.Errorf("formatNumber(%d) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestFormatPercent(t *testing.T) {
	if got := formatPercent(0); got != "0%" {
		t.Errorf("got %s, want 0%%", got)
	}
	if got := formatPercent(0.1234); got != "12.34%" {
		t.Errorf("got %s, want 12.34%%", got)
	}
}
