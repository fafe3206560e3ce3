package abtest

import (
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sveturs/abkit/internal/storage"
)

// Signals are the raw environment inputs a UserContext is derived from.
// Callers typically fill them from an HTTP request (User-Agent,
// Accept-Language, viewport client hint) or from whatever telemetry the
// embedding application has.
type Signals struct {
	UserID         string
	ViewportWidth  int
	UserAgent      string
	AcceptLanguage string
	// Country overrides locale-derived country when the caller has a better
	// proxy (CDN geo header and the like).
	Country    string
	Properties map[string]any
}

// Device classification thresholds, in CSS pixels.
const (
	mobileMaxWidth = 768
	tabletMaxWidth = 1024
)

const sessionIDKey = "ab_session_id"
const firstSeenKey = "ab_first_seen"

// Resolver derives UserContexts from Signals. The session store holds the
// session id; the durable store holds the first-seen marker driving the
// new-user flag.
type Resolver struct {
	session storage.Store
	durable storage.Store
	log     *zap.Logger
}

func NewResolver(session, durable storage.Store, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{session: session, durable: durable, log: log}
}

// Resolve builds a UserContext. On first call in a session it generates and
// persists the session id; subsequent calls reuse it.
func (r *Resolver) Resolve(sig Signals) UserContext {
	return UserContext{
		UserID:     sig.UserID,
		SessionID:  r.SessionID(),
		Device:     ClassifyDevice(sig.ViewportWidth, sig.UserAgent),
		Browser:    ClassifyBrowser(sig.UserAgent),
		Country:    resolveCountry(sig),
		Language:   ClassifyLanguage(sig.AcceptLanguage),
		IsNewUser:  r.isNewUser(),
		Properties: sig.Properties,
	}
}

// SessionID returns the current session id, generating and persisting one
// if absent. Idempotent across calls in the same session.
func (r *Resolver) SessionID() string {
	if id, err := r.session.Get(sessionIDKey); err == nil && id != "" {
		return id
	}

	id := uuid.NewString()
	if err := r.session.Set(sessionIDKey, id); err != nil {
		r.log.Warn("failed to persist session id", zap.Error(err))
	}
	return id
}

// isNewUser reports whether this is the first session seen by the durable
// store, marking it on first call.
func (r *Resolver) isNewUser() bool {
	if _, err := r.durable.Get(firstSeenKey); err == nil {
		return false
	}
	if err := r.durable.Set(firstSeenKey, "1"); err != nil {
		r.log.Warn("failed to persist first-seen marker", zap.Error(err))
	}
	return true
}

// ClassifyDevice buckets a viewport width into mobile/tablet/desktop.
// Without a width it falls back to user-agent sniffing; unknown maps to
// desktop, the least restrictive class.
func ClassifyDevice(width int, userAgent string) string {
	if width > 0 {
		switch {
		case width < mobileMaxWidth:
			return "mobile"
		case width < tabletMaxWidth:
			return "tablet"
		default:
			return "desktop"
		}
	}

	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		return "tablet"
	case strings.Contains(ua, "mobi") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone"):
		return "mobile"
	default:
		return "desktop"
	}
}

// ClassifyBrowser extracts a coarse browser family from a user-agent
// string. Unknown agents map to "other" rather than failing.
func ClassifyBrowser(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "edg/") || strings.Contains(ua, "edge"):
		return "edge"
	case strings.Contains(ua, "opr/") || strings.Contains(ua, "opera"):
		return "opera"
	case strings.Contains(ua, "chrome"):
		return "chrome"
	case strings.Contains(ua, "firefox"):
		return "firefox"
	case strings.Contains(ua, "safari"):
		return "safari"
	case ua == "":
		return "other"
	default:
		return "other"
	}
}

// ClassifyLanguage returns the primary language subtag of an
// Accept-Language header ("ru-RU,ru;q=0.9" -> "ru").
func ClassifyLanguage(acceptLanguage string) string {
	lang := strings.TrimSpace(strings.Split(acceptLanguage, ",")[0])
	lang = strings.Split(lang, ";")[0]
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return "other"
	}
	return lang
}

// resolveCountry prefers an explicit signal, then the region subtag of the
// first Accept-Language entry ("en-US" -> "US").
func resolveCountry(sig Signals) string {
	if sig.Country != "" {
		return strings.ToUpper(sig.Country)
	}

	lang := strings.TrimSpace(strings.Split(sig.AcceptLanguage, ",")[0])
	lang = strings.Split(lang, ";")[0]
	if i := strings.IndexAny(lang, "-_"); i > 0 && i+1 < len(lang) {
		region := lang[i+1:]
		if len(region) == 2 {
			return strings.ToUpper(region)
		}
	}
	return "other"
}
