package abtest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const maxFlushBackoff = time.Minute

// Tracker batches analytics events for the sink: flush at BatchSize queued
// events or every FlushInterval, whichever comes first, and eagerly on
// Close. Delivery is at-least-once — a failed batch is re-queued at the
// front, so duplicates are possible and accepted. Under sustained failure
// retries back off exponentially and the queue is bounded, dropping the
// oldest events past the limit.
type Tracker struct {
	mu        sync.Mutex
	queue     []AnalyticsEvent
	dropped   int
	retryWait time.Duration
	nextTry   time.Time

	cfg       Config
	source    Source
	sessionID func() string
	log       *zap.Logger

	stop     chan struct{}
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

func NewTracker(cfg Config, source Source, sessionID func() string, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		cfg:       cfg,
		source:    source,
		sessionID: sessionID,
		log:       log,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the periodic flusher. Calling it more than once is a no-op.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	go t.run()
}

func (t *Tracker) run() {
	defer close(t.done)

	ticker := time.NewTicker(t.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Flush(context.Background())
		case <-t.stop:
			return
		}
	}
}

// Queue enqueues an analytics event, stamping timestamp and session id.
// Triggers an immediate flush once the batch threshold is reached.
func (t *Tracker) Queue(eventType, name string, data map[string]any) {
	if t.cfg.DisableAnalytics {
		return
	}

	ev := AnalyticsEvent{
		Type:      eventType,
		Name:      name,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		SessionID: t.sessionID(),
		Data:      data,
	}

	t.mu.Lock()
	t.queue = append(t.queue, ev)
	for len(t.queue) > t.cfg.QueueLimit {
		t.queue = t.queue[1:]
		t.dropped++
	}
	shouldFlush := len(t.queue) >= t.cfg.BatchSize
	t.mu.Unlock()

	if shouldFlush {
		go t.Flush(context.Background())
	}
}

// QueueConversion enqueues a conversion record for delivery. The record is
// not retained beyond the queue; per-variant aggregates live on the
// experiment's metrics.
func (t *Tracker) QueueConversion(ev ConversionEvent) {
	t.Queue("conversion", ev.EventName, map[string]any{
		"experimentId": ev.ExperimentID,
		"variantId":    ev.VariantID,
		"value":        ev.Value,
		"metadata":     ev.Metadata,
	})
}

// Flush sends everything queued. Failed batches go back to the front of the
// queue. Respects the retry backoff window after a failure.
func (t *Tracker) Flush(ctx context.Context) {
	if t.source == nil {
		t.mu.Lock()
		t.queue = nil
		t.mu.Unlock()
		return
	}

	t.mu.Lock()
	if len(t.queue) == 0 || time.Now().Before(t.nextTry) {
		t.mu.Unlock()
		return
	}
	batch := t.queue
	t.queue = nil
	if t.dropped > 0 {
		t.log.Warn("analytics queue overflowed, oldest events dropped",
			zap.Int("dropped", t.dropped))
		t.dropped = 0
	}
	t.mu.Unlock()

	if err := t.source.PublishEvents(ctx, batch); err != nil {
		t.mu.Lock()
		t.queue = append(batch, t.queue...)
		for len(t.queue) > t.cfg.QueueLimit {
			t.queue = t.queue[1:]
			t.dropped++
		}
		if t.retryWait == 0 {
			t.retryWait = t.cfg.FlushInterval
		} else {
			t.retryWait *= 2
			if t.retryWait > maxFlushBackoff {
				t.retryWait = maxFlushBackoff
			}
		}
		t.nextTry = time.Now().Add(t.retryWait)
		t.mu.Unlock()

		t.log.Error("failed to deliver analytics batch, re-queued",
			zap.Int("events", len(batch)), zap.Error(err))
		return
	}

	t.mu.Lock()
	t.retryWait = 0
	t.nextTry = time.Time{}
	t.mu.Unlock()
}

// Pending returns the number of queued events.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Close stops the flusher and makes a final eager flush, the analog of
// flushing when the page goes hidden. Safe on a tracker that was never
// started.
func (t *Tracker) Close() {
	t.stopOnce.Do(func() {
		close(t.stop)
		t.mu.Lock()
		started := t.started
		t.mu.Unlock()
		if started {
			<-t.done
		}

		t.mu.Lock()
		t.nextTry = time.Time{}
		t.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		t.Flush(ctx)
	})
}
