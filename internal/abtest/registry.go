package abtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry holds the in-memory experiment definitions for the process
// lifetime. Load populates it once from the remote source; on any failure
// it falls back to the built-in defaults so flag consumers never see an
// empty registry.
type Registry struct {
	mu          sync.RWMutex
	experiments map[string]*Experiment
	source      Source
	log         *zap.Logger
}

func NewRegistry(source Source, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		experiments: make(map[string]*Experiment),
		source:      source,
		log:         log,
	}
}

// Load fetches active experiments from the source. Network errors and
// malformed definitions are recovered by loading the local defaults; Load
// itself never fails.
func (r *Registry) Load(ctx context.Context) {
	if r.source == nil {
		r.loadLocal()
		return
	}

	experiments, err := r.source.ActiveExperiments(ctx)
	if err != nil {
		r.log.Warn("failed to load remote experiments, using local defaults", zap.Error(err))
		r.loadLocal()
		return
	}

	loaded := 0
	r.mu.Lock()
	for i := range experiments {
		exp := experiments[i]
		if err := ValidateExperiment(&exp); err != nil {
			r.log.Warn("rejecting experiment at load",
				zap.String("experiment", exp.ID), zap.Error(err))
			continue
		}
		r.experiments[exp.ID] = &exp
		loaded++
	}
	r.mu.Unlock()

	if loaded == 0 {
		r.log.Warn("remote source returned no usable experiments, using local defaults")
		r.loadLocal()
	}
}

func (r *Registry) loadLocal() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, exp := range defaultExperiments() {
		e := exp
		r.experiments[e.ID] = &e
	}
}

// Get returns the experiment with the given id, or nil.
func (r *Registry) Get(id string) *Experiment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.experiments[id]
}

// All returns the registered experiments.
func (r *Registry) All() []*Experiment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Experiment, 0, len(r.experiments))
	for _, e := range r.experiments {
		out = append(out, e)
	}
	return out
}

// Put registers an experiment directly, bypassing the source. Used by
// tests and the simulator.
func (r *Registry) Put(exp *Experiment) error {
	if err := ValidateExperiment(exp); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.experiments[exp.ID] = exp
	return nil
}

// ValidateExperiment rejects definitions the evaluator cannot safely run:
// missing id, no variants, non-positive weight sum. Traffic allocation is
// clamped rather than rejected.
func ValidateExperiment(exp *Experiment) error {
	if exp.ID == "" {
		return fmt.Errorf("experiment has no id")
	}
	if len(exp.Variants) == 0 {
		return fmt.Errorf("experiment %q has no variants", exp.ID)
	}
	if exp.TotalWeight() <= 0 {
		return fmt.Errorf("experiment %q has non-positive total weight", exp.ID)
	}
	seen := make(map[string]bool, len(exp.Variants))
	for _, v := range exp.Variants {
		if v.ID == "" {
			return fmt.Errorf("experiment %q has a variant with no id", exp.ID)
		}
		if seen[v.ID] {
			return fmt.Errorf("experiment %q has duplicate variant %q", exp.ID, v.ID)
		}
		seen[v.ID] = true
		if v.Weight < 0 {
			return fmt.Errorf("experiment %q variant %q has negative weight", exp.ID, v.ID)
		}
	}

	if exp.TrafficAllocation < 0 {
		exp.TrafficAllocation = 0
	}
	if exp.TrafficAllocation > 100 {
		exp.TrafficAllocation = 100
	}
	if exp.Status == "" {
		exp.Status = StatusDraft
	}
	return nil
}

// defaultExperiments is the hardcoded fallback set, matching what the
// marketplace ships while the experiment API is unreachable.
func defaultExperiments() []Experiment {
	return []Experiment{
		{
			ID:          "unified-attributes-ui",
			Name:        "Unified Attributes UI Test",
			Description: "Testing new unified attributes interface",
			Variants: []Variant{
				{
					ID:          "control",
					Name:        "Control",
					Description: "Current attributes UI",
					Weight:      50,
					Config:      map[string]any{"useUnifiedUI": false},
				},
				{
					ID:          "variant-a",
					Name:        "Unified UI",
					Description: "New unified attributes UI",
					Weight:      50,
					Config:      map[string]any{"useUnifiedUI": true},
				},
			},
			TrafficAllocation: 100,
			Status:            StatusRunning,
			Metrics:           []string{"conversion_rate", "engagement_time", "bounce_rate"},
			StartDate:         time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}
