package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sveturs/abkit/internal/abtest"
	"github.com/sveturs/abkit/internal/store"
)

type HealthResponse struct {
	Status           string `json:"status"`
	ExperimentsCount int    `json:"experiments_count"`
	DBSizeBytes      int64  `json:"db_size_bytes"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	experiments, err := s.store.ListExperiments(r.Context())
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var dbSize int64
	row := s.store.DB().QueryRow("SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()")
	if err := row.Scan(&dbSize); err != nil {
		dbSize = 0
	}

	response := HealthResponse{
		Status:           "ok",
		ExperimentsCount: len(experiments),
		DBSizeBytes:      dbSize,
		UptimeSeconds:    int64(time.Since(s.startTime).Seconds()),
	}

	writeJSON(w, http.StatusOK, response)
}

// handleActiveExperiments serves the definition feed the SDK loads at
// startup: running experiments only.
func (s *Server) handleActiveExperiments(w http.ResponseWriter, r *http.Request) {
	setCORS(w, "GET, OPTIONS")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	experiments, err := s.store.ActiveExperiments(r.Context())
	if err != nil {
		s.log.Error("failed to list active experiments", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Return empty array instead of null
	if experiments == nil {
		experiments = []*abtest.Experiment{}
	}
	writeJSON(w, http.StatusOK, experiments)
}

// analyticsRequest is the batched ingest body: { events: [...] }.
type analyticsRequest struct {
	Events []analyticsEvent `json:"events"`
}

type analyticsEvent struct {
	Type      string         `json:"type"`
	Name      string         `json:"name"`
	Timestamp string         `json:"timestamp"`
	SessionID string         `json:"sessionId"`
	Data      map[string]any `json:"data"`
}

// handleAnalyticsEvents ingests SDK event batches. Delivery is
// at-least-once so the handler is tolerant: events it cannot attribute to
// an experiment are skipped, not rejected, and the batch still succeeds.
func (s *Server) handleAnalyticsEvents(w http.ResponseWriter, r *http.Request) {
	setCORS(w, "POST, OPTIONS")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.limiter.Allow() {
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	var req analyticsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if len(req.Events) == 0 {
		http.Error(w, "Missing events", http.StatusBadRequest)
		return
	}

	stored := 0
	for _, ev := range req.Events {
		rec, ok := s.toEventRecord(ev)
		if !ok {
			continue
		}
		if err := s.store.RecordEvent(r.Context(), rec); err != nil {
			s.log.Error("failed to record event", zap.Error(err))
			http.Error(w, "Failed to record events", http.StatusInternalServerError)
			return
		}
		stored++
	}

	s.log.Debug("ingested analytics batch",
		zap.Int("received", len(req.Events)), zap.Int("stored", stored))
	w.WriteHeader(http.StatusNoContent)
}

// toEventRecord maps a wire event onto the event log. Conversion events
// carry the experiment attribution in Data; lifecycle events
// (experiment_assigned, experiment_complete) are kept for audit with their
// type as the event name.
func (s *Server) toEventRecord(ev analyticsEvent) (store.Event, bool) {
	experimentID, _ := ev.Data["experimentId"].(string)
	variantID, _ := ev.Data["variantId"].(string)
	if experimentID == "" || ev.SessionID == "" {
		return store.Event{}, false
	}

	name := ev.Name
	if name == "" {
		name = ev.Type
	}

	value := 0.0
	if v, ok := ev.Data["value"].(float64); ok {
		value = v
	}

	var metadata string
	if raw, ok := ev.Data["metadata"]; ok && raw != nil {
		if b, err := json.Marshal(raw); err == nil {
			metadata = string(b)
		}
	}

	createdAt := time.Now()
	if ev.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339, ev.Timestamp); err == nil {
			createdAt = t
		}
	}

	return store.Event{
		ExperimentID: experimentID,
		VariantID:    variantID,
		EventName:    name,
		SessionID:    ev.SessionID,
		Value:        value,
		Metadata:     metadata,
		CreatedAt:    createdAt,
	}, true
}

// handleExperimentComplete is the completion sink:
// POST /api/v1/experiments/{id}/complete.
func (s *Server) handleExperimentComplete(w http.ResponseWriter, r *http.Request) {
	setCORS(w, "POST, OPTIONS")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/experiments/")
	id, ok := strings.CutSuffix(path, "/complete")
	if !ok || id == "" || strings.Contains(id, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	var report abtest.CompletionReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if report.WinnerVariant == "" {
		http.Error(w, "Missing winnerVariant", http.StatusBadRequest)
		return
	}

	err := s.store.CompleteExperiment(r.Context(), id, report.WinnerVariant, report.Significance)
	if err == store.ErrNotFound {
		http.Error(w, "Experiment not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("failed to complete experiment",
			zap.String("experiment", id), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.log.Info("experiment completed",
		zap.String("experiment", id),
		zap.String("winner", report.WinnerVariant),
		zap.Float64("significance", report.Significance))
	w.WriteHeader(http.StatusNoContent)
}

// handleFlags serves the feature-flag map the SDK polls. Flags live in the
// settings table under a "flag:" prefix; values are stored as JSON so
// booleans, numbers and strings all round-trip.
func (s *Server) handleFlags(w http.ResponseWriter, r *http.Request) {
	setCORS(w, "GET, OPTIONS")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	settings, err := s.store.AllSettings(r.Context())
	if err != nil {
		s.log.Error("failed to load settings", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	flags := make(map[string]any)
	for key, raw := range settings {
		name, ok := strings.CutPrefix(key, "flag:")
		if !ok {
			continue
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		flags[name] = value
	}

	writeJSON(w, http.StatusOK, flags)
}

func setCORS(w http.ResponseWriter, methods string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", methods)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
