// Package abtest implements the marketplace experiment engine: sticky
// deterministic variant assignment, audience targeting, conversion
// tracking with batched analytics delivery, two-proportion significance
// detection and feature flags.
package abtest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sveturs/abkit/internal/stats"
	"github.com/sveturs/abkit/internal/storage"
)

const metricsKeyPurpose = "ab_metrics"
const metricsKeyVersion = "1"

// Deps are the engine's injected collaborators. Nil stores default to
// in-memory ones; a nil Source runs the engine fully local.
type Deps struct {
	// Durable survives restarts (cookie/file analog); holds assignments,
	// the first-seen marker and the metrics snapshot.
	Durable storage.Store
	// Session lives for one session; holds the session id.
	Session storage.Store
	Source  Source
	Logger  *zap.Logger
}

// Engine is the public facade. Construct with New, call Start once, Close
// on teardown. All query methods are safe for concurrent use and never
// return errors for unknown experiment ids — absence means "show the
// control experience".
type Engine struct {
	cfg      Config
	log      *zap.Logger
	source   Source
	durable  storage.Store
	resolver *Resolver

	registry    *Registry
	assignments *AssignmentStore
	tracker     *Tracker
	flags       *FlagStore

	mu          sync.Mutex
	metricsSave *storage.Debouncer

	cancelPoll context.CancelFunc
	pollDone   chan struct{}
	closeOnce  sync.Once
}

func New(cfg Config, deps Deps) *Engine {
	cfg = cfg.withDefaults()

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	durable := deps.Durable
	if durable == nil {
		durable = storage.NewMemory()
	}
	session := deps.Session
	if session == nil {
		session = storage.NewMemory()
	}

	source := deps.Source
	if cfg.DisableRemoteConfig {
		source = nil
	}

	e := &Engine{
		cfg:      cfg,
		log:      log,
		source:   source,
		durable:  durable,
		resolver: NewResolver(session, durable, log),
		registry: NewRegistry(source, log),
		flags:    NewFlagStore(source, log),
		pollDone: make(chan struct{}),
	}

	e.assignments = NewAssignmentStore(durable, cfg.AssignmentKey, cfg.AssignmentExpiry, log)
	e.tracker = NewTracker(cfg, source, e.resolver.SessionID, log)
	e.metricsSave = storage.NewDebouncer(cfg.MetricsSnapshotDelay, e.saveMetricsSnapshot)

	e.assignments.OnAssign(func(a Assignment, userID string) {
		e.tracker.Queue("event", "experiment_assigned", map[string]any{
			"experimentId": a.ExperimentID,
			"variantId":    a.VariantID,
			"userId":       userID,
		})
	})

	return e
}

// Start loads experiment definitions, restores the local metrics snapshot
// and launches the analytics flusher and the flag poller.
func (e *Engine) Start(ctx context.Context) {
	e.registry.Load(ctx)
	e.loadMetricsSnapshot()
	e.tracker.Start()

	pollCtx, cancel := context.WithCancel(context.Background())
	e.cancelPoll = cancel
	go func() {
		defer close(e.pollDone)
		e.flags.Poll(pollCtx, e.cfg.FlagPollInterval)
	}()
}

// Resolve derives a UserContext from environment signals.
func (e *Engine) Resolve(sig Signals) UserContext {
	return e.resolver.Resolve(sig)
}

// GetVariant returns the user's sticky variant for an experiment, or nil
// when the experiment is unknown, not running, the user fails targeting,
// or the user falls outside the traffic allocation.
func (e *Engine) GetVariant(experimentID string, uc UserContext) *Variant {
	exp := e.registry.Get(experimentID)
	if exp == nil {
		return nil
	}

	// Status flips to completed under e.mu when significance is reached;
	// read it under the same lock.
	e.mu.Lock()
	running := exp.Status == StatusRunning
	e.mu.Unlock()
	if !running {
		return nil
	}

	if !Eligible(exp, uc) {
		return nil
	}
	if !InAllocation(exp, uc) {
		return nil
	}

	assignment := e.assignments.GetOrCreate(exp, uc.Key())
	if assignment == nil {
		return nil
	}
	return exp.Variant(assignment.VariantID)
}

// GetVariants is the batch lookup across several experiment ids. Absent
// entries mean no variant for that experiment.
func (e *Engine) GetVariants(experimentIDs []string, uc UserContext) map[string]*Variant {
	out := make(map[string]*Variant, len(experimentIDs))
	for _, id := range experimentIDs {
		if v := e.GetVariant(id, uc); v != nil {
			out[id] = v
		}
	}
	return out
}

// TrackConversion records a named event against the user's assignment for
// the experiment. Silently a no-op when the user has no assignment, so
// non-participant events never pollute metrics.
func (e *Engine) TrackConversion(uc UserContext, experimentID, eventName string, value float64, metadata map[string]any) {
	assignment := e.assignments.Find(uc.Key(), experimentID)
	if assignment == nil {
		return
	}

	e.tracker.QueueConversion(ConversionEvent{
		ExperimentID: experimentID,
		VariantID:    assignment.VariantID,
		EventName:    eventName,
		Value:        value,
		Metadata:     metadata,
		Timestamp:    time.Now().UTC(),
	})

	e.updateMetrics(experimentID, assignment.VariantID, eventName, value)
}

func (e *Engine) updateMetrics(experimentID, variantID, eventName string, value float64) {
	exp := e.registry.Get(experimentID)
	if exp == nil {
		return
	}

	e.mu.Lock()
	variant := exp.Variant(variantID)
	if variant == nil {
		e.mu.Unlock()
		return
	}

	switch eventName {
	case EventImpression:
		variant.Metrics.Impressions++
	case EventConversion:
		variant.Metrics.Conversions++
		if value != 0 {
			variant.Metrics.Revenue += value
		}
	default:
		if variant.Metrics.Custom == nil {
			variant.Metrics.Custom = make(map[string]float64)
		}
		variant.Metrics.Custom[eventName]++
	}

	if variant.Metrics.Impressions > 0 {
		variant.Metrics.ConversionRate =
			float64(variant.Metrics.Conversions) / float64(variant.Metrics.Impressions)
	}

	e.checkSignificanceLocked(exp)
	e.mu.Unlock()

	e.metricsSave.Trigger()
}

// checkSignificanceLocked runs after every metrics update, for two-variant
// experiments only (more arms: never evaluated, a known scope limit).
// Called with e.mu held.
func (e *Engine) checkSignificanceLocked(exp *Experiment) {
	if len(exp.Variants) != 2 || exp.WinnerVariant != "" {
		return
	}

	control := &exp.Variants[0]
	challenger := &exp.Variants[1]
	if control.Metrics.Impressions < e.cfg.MinSampleSize ||
		challenger.Metrics.Impressions < e.cfg.MinSampleSize {
		return
	}

	z := stats.ZStat(
		control.Metrics.Conversions, control.Metrics.Impressions,
		challenger.Metrics.Conversions, challenger.Metrics.Impressions,
	)
	if z < stats.ZScore(e.cfg.ConfidenceLevel) {
		return
	}

	exp.Significance = stats.ConfidencePercent(z)
	if challenger.Metrics.ConversionRate > control.Metrics.ConversionRate {
		exp.WinnerVariant = challenger.ID
	} else {
		exp.WinnerVariant = control.ID
	}
	exp.Status = StatusCompleted

	e.log.Info("experiment reached significance",
		zap.String("experiment", exp.ID),
		zap.String("winner", exp.WinnerVariant),
		zap.Float64("significance", exp.Significance))

	e.tracker.Queue("event", "experiment_complete", map[string]any{
		"experimentId":  exp.ID,
		"winnerVariant": exp.WinnerVariant,
		"significance":  exp.Significance,
	})

	report := CompletionReport{
		WinnerVariant: exp.WinnerVariant,
		Significance:  exp.Significance,
	}
	for _, v := range exp.Variants {
		report.Variants = append(report.Variants, VariantReport{ID: v.ID, Metrics: v.Metrics})
	}

	if e.source != nil {
		// Best effort, off the hot path. Failure is logged, never surfaced.
		go func(id string, report CompletionReport) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := e.source.CompleteExperiment(ctx, id, report); err != nil {
				e.log.Error("failed to persist experiment results",
					zap.String("experiment", id), zap.Error(err))
			}
		}(exp.ID, report)
	}
}

// IsFeatureEnabled reads a feature flag as a boolean.
func (e *Engine) IsFeatureEnabled(name string, def bool) bool {
	return e.flags.IsEnabled(name, def)
}

// FeatureValue reads a raw feature flag value.
func (e *Engine) FeatureValue(name string, def any) any {
	return e.flags.Value(name, def)
}

// SetFeatureFlag overrides a flag locally.
func (e *Engine) SetFeatureFlag(name string, value any) {
	e.flags.Set(name, value)
}

// Assignments returns the user's current assignments.
func (e *Engine) Assignments(uc UserContext) []Assignment {
	return e.assignments.Get(uc.Key())
}

// ResetAssignments clears the user's assignments so they can be re-bucketed.
func (e *Engine) ResetAssignments(uc UserContext) {
	e.assignments.Reset(uc.Key())
}

// Results returns a snapshot of an experiment's standing, or nil when the
// experiment is unknown.
func (e *Engine) Results(experimentID string) *Results {
	exp := e.registry.Get(experimentID)
	if exp == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	res := &Results{
		Experiment:   exp.Name,
		Status:       exp.Status,
		Winner:       exp.WinnerVariant,
		Significance: exp.Significance,
	}
	for _, v := range exp.Variants {
		res.Variants = append(res.Variants, VariantReport{ID: v.ID, Metrics: v.Metrics})
	}
	return res
}

// Experiments returns every registered experiment.
func (e *Engine) Experiments() []*Experiment {
	return e.registry.All()
}

// Registry exposes the registry for seeding in tests and the simulator.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Close stops the flag poller, flushes pending analytics and the metrics
// snapshot. Safe to call more than once.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		if e.cancelPoll != nil {
			e.cancelPoll()
			<-e.pollDone
		}
		e.tracker.Close()
		e.metricsSave.Flush()
		e.metricsSave.Stop()
	})
}

// loadMetricsSnapshot restores per-variant metrics persisted by a previous
// session. Best effort: a missing or stale snapshot just means counters
// start at zero.
func (e *Engine) loadMetricsSnapshot() {
	raw, err := e.durable.Get(storage.Key(metricsKeyPurpose, metricsKeyVersion, ""))
	if err != nil {
		return
	}

	var snapshot map[string]map[string]VariantMetrics
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		e.log.Warn("failed to parse metrics snapshot", zap.Error(err))
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for expID, variants := range snapshot {
		exp := e.registry.Get(expID)
		if exp == nil {
			continue
		}
		for variantID, m := range variants {
			if v := exp.Variant(variantID); v != nil {
				v.Metrics = m
			}
		}
	}
}

// saveMetricsSnapshot is the debounced durable write coalescing bursts of
// metric updates. A crash inside the quiet period loses only the most
// recent updates, acceptable for this cache.
func (e *Engine) saveMetricsSnapshot() {
	snapshot := make(map[string]map[string]VariantMetrics)

	e.mu.Lock()
	for _, exp := range e.registry.All() {
		variants := make(map[string]VariantMetrics, len(exp.Variants))
		for _, v := range exp.Variants {
			variants[v.ID] = v.Metrics
		}
		snapshot[exp.ID] = variants
	}
	e.mu.Unlock()

	raw, err := json.Marshal(snapshot)
	if err != nil {
		e.log.Warn("failed to marshal metrics snapshot", zap.Error(err))
		return
	}
	if err := e.durable.Set(storage.Key(metricsKeyPurpose, metricsKeyVersion, ""), string(raw)); err != nil {
		e.log.Warn("failed to persist metrics snapshot", zap.Error(err))
	}
}

// Choose renders one of two values based on the user's assignment: the
// control value when the user gets the first-listed variant or no variant
// at all, otherwise the alternative. The Go analog of a two-subtree
// experiment wrapper.
func Choose[T any](e *Engine, experimentID string, uc UserContext, control, alternative T) T {
	v := e.GetVariant(experimentID, uc)
	if v == nil {
		return control
	}
	exp := e.registry.Get(experimentID)
	if exp == nil || len(exp.Variants) == 0 || v.ID == exp.Variants[0].ID {
		return control
	}
	return alternative
}

// WhenEnabled returns onValue when the named feature flag is enabled,
// otherwise offValue. The flag analog of Choose.
func WhenEnabled[T any](e *Engine, flag string, def bool, onValue, offValue T) T {
	if e.IsFeatureEnabled(flag, def) {
		return onValue
	}
	return offValue
}
