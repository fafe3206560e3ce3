package abtest_test

import (
	"fmt"
	"testing"

	"github.com/sveturs/abkit/internal/abtest"
)

func twoVariantExperiment(id string, controlWeight, altWeight int) *abtest.Experiment {
	return &abtest.Experiment{
		ID:     id,
		Name:   id,
		Status: abtest.StatusRunning,
		Variants: []abtest.Variant{
			{ID: "control", Name: "Control", Weight: controlWeight},
			{ID: "alternative", Name: "Alternative", Weight: altWeight},
		},
		TrafficAllocation: 100,
	}
}

func TestEvaluate_NotRunning(t *testing.T) {
	uc := abtest.UserContext{UserID: "u1"}

	for _, status := range []abtest.Status{abtest.StatusDraft, abtest.StatusPaused, abtest.StatusCompleted} {
		exp := twoVariantExperiment("exp-1", 50, 50)
		exp.Status = status
		if v := abtest.Evaluate(exp, uc); v != nil {
			t.Errorf("status %s: expected nil variant, got %s", status, v.ID)
		}
	}

	if v := abtest.Evaluate(nil, uc); v != nil {
		t.Error("expected nil variant for nil experiment")
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	exp := twoVariantExperiment("exp-det", 50, 50)

	for i := 0; i < 100; i++ {
		uc := abtest.UserContext{UserID: fmt.Sprintf("user-%d", i)}
		first := abtest.Evaluate(exp, uc)
		if first == nil {
			t.Fatalf("user %d: expected a variant at full allocation", i)
		}
		for j := 0; j < 5; j++ {
			if v := abtest.Evaluate(exp, uc); v.ID != first.ID {
				t.Fatalf("user %d: got %s then %s", i, first.ID, v.ID)
			}
		}
	}
}

func TestInAllocation_Boundaries(t *testing.T) {
	exp := twoVariantExperiment("exp-alloc", 50, 50)

	exp.TrafficAllocation = 0
	for i := 0; i < 200; i++ {
		uc := abtest.UserContext{UserID: fmt.Sprintf("user-%d", i)}
		if abtest.InAllocation(exp, uc) {
			t.Fatalf("user %d inside a 0%% allocation", i)
		}
	}

	exp.TrafficAllocation = 100
	for i := 0; i < 200; i++ {
		uc := abtest.UserContext{UserID: fmt.Sprintf("user-%d", i)}
		if !abtest.InAllocation(exp, uc) {
			t.Fatalf("user %d outside a 100%% allocation", i)
		}
	}
}

func TestInAllocation_ApproximatesPercentage(t *testing.T) {
	exp := twoVariantExperiment("exp-pct", 50, 50)
	exp.TrafficAllocation = 30

	in := 0
	n := 10000
	for i := 0; i < n; i++ {
		uc := abtest.UserContext{UserID: fmt.Sprintf("user-%d", i)}
		if abtest.InAllocation(exp, uc) {
			in++
		}
	}

	share := float64(in) / float64(n)
	if share < 0.25 || share > 0.35 {
		t.Errorf("allocation share %f, want ~0.30", share)
	}
}

func TestSelectVariant_WeightProportions(t *testing.T) {
	exp := &abtest.Experiment{
		ID:     "exp-weights",
		Status: abtest.StatusRunning,
		Variants: []abtest.Variant{
			{ID: "a", Weight: 70},
			{ID: "b", Weight: 20},
			{ID: "c", Weight: 10},
		},
		TrafficAllocation: 100,
	}

	counts := make(map[string]int)
	n := 10000
	for i := 0; i < n; i++ {
		v := abtest.SelectVariant(exp, fmt.Sprintf("user-%d", i))
		if v == nil {
			t.Fatalf("user %d: no variant selected", i)
		}
		counts[v.ID]++
	}

	want := map[string]float64{"a": 0.70, "b": 0.20, "c": 0.10}
	for id, expected := range want {
		got := float64(counts[id]) / float64(n)
		if got < expected-0.05 || got > expected+0.05 {
			t.Errorf("variant %s share %f, want %f ±0.05", id, got, expected)
		}
	}
}

func TestSelectVariant_ZeroWeightNeverChosen(t *testing.T) {
	exp := &abtest.Experiment{
		ID:     "exp-zero",
		Status: abtest.StatusRunning,
		Variants: []abtest.Variant{
			{ID: "a", Weight: 100},
			{ID: "dead", Weight: 0},
		},
	}

	for i := 0; i < 1000; i++ {
		v := abtest.SelectVariant(exp, fmt.Sprintf("user-%d", i))
		if v == nil || v.ID == "dead" {
			t.Fatalf("user %d: got zero-weight variant", i)
		}
	}
}

func TestSelectVariant_NoVariants(t *testing.T) {
	exp := &abtest.Experiment{ID: "exp-empty", Status: abtest.StatusRunning}
	if v := abtest.SelectVariant(exp, "u1"); v != nil {
		t.Errorf("expected nil for empty variant list, got %s", v.ID)
	}
}

func TestEligible_NoAudience(t *testing.T) {
	exp := twoVariantExperiment("exp-open", 50, 50)
	if !abtest.Eligible(exp, abtest.UserContext{}) {
		t.Error("expected everyone eligible without a target audience")
	}
}

func TestEligible_Filters(t *testing.T) {
	newUsers := true
	exp := twoVariantExperiment("exp-target", 50, 50)
	exp.TargetAudience = &abtest.TargetAudience{
		Devices:   []string{"mobile"},
		Countries: []string{"US", "CA"},
		Browsers:  []string{"chrome"},
		Languages: []string{"en"},
		NewUsers:  &newUsers,
	}

	match := abtest.UserContext{
		Device: "mobile", Country: "US", Browser: "chrome", Language: "en", IsNewUser: true,
	}
	if !abtest.Eligible(exp, match) {
		t.Fatal("expected matching context to be eligible")
	}

	cases := []struct {
		name string
		mut  func(*abtest.UserContext)
	}{
		{"device", func(uc *abtest.UserContext) { uc.Device = "desktop" }},
		{"country", func(uc *abtest.UserContext) { uc.Country = "DE" }},
		{"browser", func(uc *abtest.UserContext) { uc.Browser = "firefox" }},
		{"language", func(uc *abtest.UserContext) { uc.Language = "ru" }},
		{"new user", func(uc *abtest.UserContext) { uc.IsNewUser = false }},
	}
	for _, tc := range cases {
		uc := match
		tc.mut(&uc)
		if abtest.Eligible(exp, uc) {
			t.Errorf("%s mismatch: expected ineligible", tc.name)
		}
	}
}

func TestEligible_CaseInsensitive(t *testing.T) {
	exp := twoVariantExperiment("exp-fold", 50, 50)
	exp.TargetAudience = &abtest.TargetAudience{Countries: []string{"us"}}

	if !abtest.Eligible(exp, abtest.UserContext{Country: "US"}) {
		t.Error("expected country match to ignore case")
	}
}

func TestEligible_CustomRules(t *testing.T) {
	cases := []struct {
		name  string
		rule  abtest.CustomRule
		props map[string]any
		want  bool
	}{
		{"equals match", abtest.CustomRule{Field: "plan", Operator: "equals", Value: "pro"}, map[string]any{"plan": "pro"}, true},
		{"equals mismatch", abtest.CustomRule{Field: "plan", Operator: "equals", Value: "pro"}, map[string]any{"plan": "free"}, false},
		{"contains", abtest.CustomRule{Field: "tags", Operator: "contains", Value: "beta"}, map[string]any{"tags": "beta,early"}, true},
		{"greater", abtest.CustomRule{Field: "age", Operator: "greater", Value: 18}, map[string]any{"age": 21}, true},
		{"greater equal fails", abtest.CustomRule{Field: "age", Operator: "greater", Value: 18}, map[string]any{"age": 18}, false},
		{"less", abtest.CustomRule{Field: "visits", Operator: "less", Value: 5}, map[string]any{"visits": 3.0}, true},
		{"numeric string", abtest.CustomRule{Field: "score", Operator: "greater", Value: "10"}, map[string]any{"score": "15"}, true},
		{"missing field", abtest.CustomRule{Field: "plan", Operator: "equals", Value: "pro"}, nil, false},
		{"unknown operator", abtest.CustomRule{Field: "plan", Operator: "matches", Value: "pro"}, map[string]any{"plan": "pro"}, false},
	}

	for _, tc := range cases {
		exp := twoVariantExperiment("exp-rules", 50, 50)
		exp.TargetAudience = &abtest.TargetAudience{Custom: []abtest.CustomRule{tc.rule}}
		uc := abtest.UserContext{Properties: tc.props}
		if got := abtest.Eligible(exp, uc); got != tc.want {
			t.Errorf("%s: Eligible = %v, want %v", tc.name, got, tc.want)
		}
	}
}
