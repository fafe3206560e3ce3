package abtest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FlagStore is the simple name→value toggle map, independent of the
// weighted-experiment machinery. Values refresh via an explicit polling
// task that stops with its context, so no ticker outlives the engine.
type FlagStore struct {
	mu    sync.RWMutex
	flags map[string]any

	source Source
	log    *zap.Logger
}

func NewFlagStore(source Source, log *zap.Logger) *FlagStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &FlagStore{
		flags:  make(map[string]any),
		source: source,
		log:    log,
	}
}

// IsEnabled reads a flag as a boolean. Unknown flags return the default.
func (f *FlagStore) IsEnabled(name string, def bool) bool {
	f.mu.RLock()
	v, ok := f.flags[name]
	f.mu.RUnlock()
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != "" && t != "false" && t != "0"
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return def
	}
}

// Value reads a raw flag value, or the default when unset.
func (f *FlagStore) Value(name string, def any) any {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if v, ok := f.flags[name]; ok {
		return v
	}
	return def
}

// Set overrides a flag locally. Overrides survive until the next poll
// replaces the same name.
func (f *FlagStore) Set(name string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags[name] = value
}

// Refresh pulls the flag map from the source once.
func (f *FlagStore) Refresh(ctx context.Context) {
	if f.source == nil {
		return
	}

	flags, err := f.source.FeatureFlags(ctx)
	if err != nil {
		f.log.Warn("failed to refresh feature flags", zap.Error(err))
		return
	}

	f.mu.Lock()
	for name, v := range flags {
		f.flags[name] = v
	}
	f.mu.Unlock()
}

// Poll refreshes at the given interval until ctx is cancelled. Runs an
// immediate refresh first so callers don't start with an empty map.
func (f *FlagStore) Poll(ctx context.Context, interval time.Duration) {
	f.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.Refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}
