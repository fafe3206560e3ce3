package abtest

import "time"

// Status is the lifecycle state of an experiment.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Experiment defines a weighted test between two or more variants.
// Definitions are immutable after load except Status, WinnerVariant and
// Significance, which are set exactly once when a winner is declared, and
// the per-variant metrics aggregates which the tracker mutates.
type Experiment struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	Variants          []Variant       `json:"variants" yaml:"variants"`
	TargetAudience    *TargetAudience `json:"targetAudience,omitempty" yaml:"targetAudience,omitempty"`
	TrafficAllocation int             `json:"trafficAllocation" yaml:"trafficAllocation"` // 0-100 percent
	Status            Status          `json:"status" yaml:"status"`
	Metrics           []string        `json:"metrics,omitempty" yaml:"metrics,omitempty"`

	WinnerVariant string  `json:"winnerVariant,omitempty" yaml:"winnerVariant,omitempty"`
	Significance  float64 `json:"statisticalSignificance,omitempty" yaml:"statisticalSignificance,omitempty"`

	StartDate time.Time  `json:"startDate,omitempty" yaml:"startDate,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty" yaml:"endDate,omitempty"`
}

// TotalWeight is the sum of variant weights.
func (e *Experiment) TotalWeight() int {
	total := 0
	for _, v := range e.Variants {
		total += v.Weight
	}
	return total
}

// Variant returns the variant with the given id, or nil.
func (e *Experiment) Variant(id string) *Variant {
	for i := range e.Variants {
		if e.Variants[i].ID == id {
			return &e.Variants[i]
		}
	}
	return nil
}

// Variant is one arm of an experiment. Config is an opaque bag interpreted
// by the caller.
type Variant struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Weight      int            `json:"weight" yaml:"weight"`
	Config      map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Metrics     VariantMetrics `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// VariantMetrics are monotonically incremented by tracked events.
// ConversionRate is always recomputed from the counters, never trusted as
// stored.
type VariantMetrics struct {
	Impressions    int                `json:"impressions"`
	Conversions    int                `json:"conversions"`
	ConversionRate float64            `json:"conversionRate"`
	Revenue        float64            `json:"revenue,omitempty"`
	Custom         map[string]float64 `json:"customMetrics,omitempty"`
}

// TargetAudience restricts an experiment to matching user contexts. Every
// specified filter must pass; unset filters impose no constraint.
type TargetAudience struct {
	Devices   []string     `json:"devices,omitempty" yaml:"devices,omitempty"`
	Countries []string     `json:"countries,omitempty" yaml:"countries,omitempty"`
	Browsers  []string     `json:"browsers,omitempty" yaml:"browsers,omitempty"`
	Languages []string     `json:"languages,omitempty" yaml:"languages,omitempty"`
	NewUsers  *bool        `json:"newUsers,omitempty" yaml:"newUsers,omitempty"`
	Custom    []CustomRule `json:"customRules,omitempty" yaml:"customRules,omitempty"`
}

// CustomRule matches a custom user property against a value.
type CustomRule struct {
	Field    string `json:"field" yaml:"field"`
	Operator string `json:"operator" yaml:"operator"` // equals, contains, greater, less
	Value    any    `json:"value" yaml:"value"`
}

// UserContext is the per-session targeting input. It is derived from
// environment signals and not persisted beyond the session except the
// session id.
type UserContext struct {
	UserID     string         `json:"userId,omitempty"`
	SessionID  string         `json:"sessionId"`
	Device     string         `json:"device"`
	Browser    string         `json:"browser"`
	Country    string         `json:"country"`
	Language   string         `json:"language"`
	IsNewUser  bool           `json:"isNewUser"`
	Properties map[string]any `json:"customProperties,omitempty"`
}

// Key is the identity assignments are stored under: the user id when known,
// otherwise the session id.
func (c UserContext) Key() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.SessionID
}

// Assignment is the sticky binding of one user to one variant. Never
// mutated after creation.
type Assignment struct {
	ExperimentID string    `json:"experimentId"`
	VariantID    string    `json:"variantId"`
	AssignedAt   time.Time `json:"assignedAt"`
	Sticky       bool      `json:"sticky"`
}

// ConversionEvent is an append-only record of a tracked occurrence
// attributed to a user's assignment.
type ConversionEvent struct {
	ExperimentID string         `json:"experimentId"`
	VariantID    string         `json:"variantId"`
	EventName    string         `json:"eventName"`
	Value        float64        `json:"value,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// AnalyticsEvent is the wire form queued for the analytics sink. Every
// event carries the timestamp and session id in addition to its own fields.
type AnalyticsEvent struct {
	Type      string         `json:"type"`
	Name      string         `json:"name,omitempty"`
	Timestamp string         `json:"timestamp"`
	SessionID string         `json:"sessionId"`
	Data      map[string]any `json:"data,omitempty"`
}

// CompletionReport is posted to the completion sink when an experiment
// concludes.
type CompletionReport struct {
	WinnerVariant string          `json:"winnerVariant"`
	Significance  float64         `json:"significance"`
	Variants      []VariantReport `json:"variants"`
}

type VariantReport struct {
	ID      string         `json:"id"`
	Metrics VariantMetrics `json:"metrics"`
}

// Results is a read-only snapshot of an experiment's standing.
type Results struct {
	Experiment   string          `json:"experiment"`
	Status       Status          `json:"status"`
	Variants     []VariantReport `json:"variants"`
	Winner       string          `json:"winner,omitempty"`
	Significance float64         `json:"significance,omitempty"`
}

// Well-known event names with metric side effects.
const (
	EventImpression = "impression"
	EventConversion = "conversion"
)
