package abtest_test

import (
	"testing"

	"github.com/sveturs/abkit/internal/abtest"
	"github.com/sveturs/abkit/internal/storage"
)

const (
	chromeUA  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	firefoxUA = "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
	safariUA  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15"
	edgeUA    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0"
	operaUA   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 OPR/106.0.0.0"
	iphoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1"
	ipadUA    = "Mozilla/5.0 (iPad; CPU OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1"
)

func TestClassifyDevice_ByWidth(t *testing.T) {
	cases := []struct {
		width int
		want  string
	}{
		{320, "mobile"},
		{767, "mobile"},
		{768, "tablet"},
		{1023, "tablet"},
		{1024, "desktop"},
		{1920, "desktop"},
	}
	for _, tc := range cases {
		if got := abtest.ClassifyDevice(tc.width, ""); got != tc.want {
			t.Errorf("ClassifyDevice(%d) = %s, want %s", tc.width, got, tc.want)
		}
	}
}

func TestClassifyDevice_UserAgentFallback(t *testing.T) {
	cases := []struct {
		ua   string
		want string
	}{
		{iphoneUA, "mobile"},
		{ipadUA, "tablet"},
		{chromeUA, "desktop"},
		{"", "desktop"},
	}
	for _, tc := range cases {
		if got := abtest.ClassifyDevice(0, tc.ua); got != tc.want {
			t.Errorf("ClassifyDevice(0, %.30q...) = %s, want %s", tc.ua, got, tc.want)
		}
	}
}

func TestClassifyBrowser(t *testing.T) {
	cases := []struct {
		ua   string
		want string
	}{
		{chromeUA, "chrome"},
		{firefoxUA, "firefox"},
		{safariUA, "safari"},
		{edgeUA, "edge"},
		{operaUA, "opera"},
		{"curl/8.4.0", "other"},
		{"", "other"},
	}
	for _, tc := range cases {
		if got := abtest.ClassifyBrowser(tc.ua); got != tc.want {
			t.Errorf("ClassifyBrowser(%.30q) = %s, want %s", tc.ua, got, tc.want)
		}
	}
}

func TestClassifyLanguage(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"en-US,en;q=0.9", "en"},
		{"ru-RU,ru;q=0.9,en;q=0.8", "ru"},
		{"de", "de"},
		{"pt_BR", "pt"},
		{"", "other"},
	}
	for _, tc := range cases {
		if got := abtest.ClassifyLanguage(tc.header); got != tc.want {
			t.Errorf("ClassifyLanguage(%q) = %s, want %s", tc.header, got, tc.want)
		}
	}
}

func TestResolver_CountryResolution(t *testing.T) {
	r := abtest.NewResolver(storage.NewMemory(), storage.NewMemory(), nil)

	// Explicit signal wins over the locale
	uc := r.Resolve(abtest.Signals{Country: "de", AcceptLanguage: "en-US"})
	if uc.Country != "DE" {
		t.Errorf("got country %s, want DE", uc.Country)
	}

	// Locale region as fallback
	uc = r.Resolve(abtest.Signals{AcceptLanguage: "en-US,en;q=0.9"})
	if uc.Country != "US" {
		t.Errorf("got country %s, want US", uc.Country)
	}

	// No usable region
	uc = r.Resolve(abtest.Signals{AcceptLanguage: "en"})
	if uc.Country != "other" {
		t.Errorf("got country %s, want other", uc.Country)
	}
}

func TestResolver_SessionIDStable(t *testing.T) {
	r := abtest.NewResolver(storage.NewMemory(), storage.NewMemory(), nil)

	first := r.SessionID()
	if first == "" {
		t.Fatal("expected a session id")
	}
	if again := r.SessionID(); again != first {
		t.Errorf("session id changed from %s to %s", first, again)
	}

	uc := r.Resolve(abtest.Signals{})
	if uc.SessionID != first {
		t.Errorf("resolved context session %s, want %s", uc.SessionID, first)
	}
}

func TestResolver_NewUserOnlyOnce(t *testing.T) {
	durable := storage.NewMemory()
	r := abtest.NewResolver(storage.NewMemory(), durable, nil)

	if uc := r.Resolve(abtest.Signals{}); !uc.IsNewUser {
		t.Error("expected first resolve to mark a new user")
	}
	if uc := r.Resolve(abtest.Signals{}); uc.IsNewUser {
		t.Error("expected second resolve to be a returning user")
	}

	// A later session over the same durable store is still returning
	later := abtest.NewResolver(storage.NewMemory(), durable, nil)
	if uc := later.Resolve(abtest.Signals{}); uc.IsNewUser {
		t.Error("expected user to stay returning across sessions")
	}
}

func TestResolver_FullContext(t *testing.T) {
	r := abtest.NewResolver(storage.NewMemory(), storage.NewMemory(), nil)

	uc := r.Resolve(abtest.Signals{
		UserID:         "u1",
		ViewportWidth:  390,
		UserAgent:      iphoneUA,
		AcceptLanguage: "ru-RU,ru;q=0.9",
		Properties:     map[string]any{"plan": "pro"},
	})

	if uc.UserID != "u1" {
		t.Errorf("got user %s, want u1", uc.UserID)
	}
	if uc.Device != "mobile" {
		t.Errorf("got device %s, want mobile", uc.Device)
	}
	if uc.Browser != "safari" {
		t.Errorf("got browser %s, want safari", uc.Browser)
	}
	if uc.Language != "ru" {
		t.Errorf("got language %s, want ru", uc.Language)
	}
	if uc.Country != "RU" {
		t.Errorf("got country %s, want RU", uc.Country)
	}
	if uc.Properties["plan"] != "pro" {
		t.Errorf("custom properties not carried through")
	}
	if uc.Key() != "u1" {
		t.Errorf("got key %s, want u1", uc.Key())
	}
}

func TestUserContext_KeyFallsBackToSession(t *testing.T) {
	uc := abtest.UserContext{SessionID: "sess-1"}
	if uc.Key() != "sess-1" {
		t.Errorf("got key %s, want sess-1", uc.Key())
	}
}
