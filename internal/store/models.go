package store

import "time"

// Event is one ingested analytics event attributed to a variant. The log
// is append-only; duplicates are possible (the SDK delivers at least once)
// and tolerated by the aggregation queries.
type Event struct {
	ID           int64
	ExperimentID string
	VariantID    string
	EventName    string // "impression", "conversion", or a custom goal
	SessionID    string
	Value        float64
	Metadata     string // raw JSON, opaque to the store
	CreatedAt    time.Time
}

// VariantStats are per-variant aggregates derived from the event log.
type VariantStats struct {
	VariantID   string
	Impressions int
	Conversions int
	Revenue     float64
}
