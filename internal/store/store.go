package store

import (
	"context"

	"github.com/sveturs/abkit/internal/abtest"
)

// Store defines the interface for experiment storage operations
type Store interface {
	// Experiment operations
	CreateExperiment(ctx context.Context, exp *abtest.Experiment) error
	GetExperiment(ctx context.Context, id string) (*abtest.Experiment, error)
	ListExperiments(ctx context.Context) ([]*abtest.Experiment, error)
	ActiveExperiments(ctx context.Context) ([]*abtest.Experiment, error)
	CompleteExperiment(ctx context.Context, id string, winnerVariant string, significance float64) error
	UpdateStatus(ctx context.Context, id string, status abtest.Status) error
	DeleteExperiment(ctx context.Context, id string) error

	// Event operations
	RecordEvent(ctx context.Context, ev Event) error
	GetVariantStats(ctx context.Context, experimentID string) ([]VariantStats, error)
	GetEvents(ctx context.Context, experimentID string) ([]*Event, error)

	// Settings (feature flags, server metadata)
	SetSetting(ctx context.Context, key, value string) error
	GetSetting(ctx context.Context, key string) (string, error)
	AllSettings(ctx context.Context) (map[string]string, error)

	// Lifecycle
	Close() error
}
