package abtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Source is the engine's view of the experiment backend: a definition
// source, an analytics sink and a completion sink. A nil Source runs the
// engine fully local (fallback definitions, analytics dropped).
type Source interface {
	ActiveExperiments(ctx context.Context) ([]Experiment, error)
	FeatureFlags(ctx context.Context) (map[string]any, error)
	PublishEvents(ctx context.Context, events []AnalyticsEvent) error
	CompleteExperiment(ctx context.Context, experimentID string, report CompletionReport) error
}

// HTTPSource talks to an abkit server (or any backend exposing the same
// endpoints) over REST.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSource(baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSource{baseURL: baseURL, client: client}
}

func (s *HTTPSource) ActiveExperiments(ctx context.Context) ([]Experiment, error) {
	var experiments []Experiment
	if err := s.getJSON(ctx, "/api/v1/experiments/active", &experiments); err != nil {
		return nil, err
	}
	return experiments, nil
}

func (s *HTTPSource) FeatureFlags(ctx context.Context) (map[string]any, error) {
	var flags map[string]any
	if err := s.getJSON(ctx, "/api/v1/flags", &flags); err != nil {
		return nil, err
	}
	return flags, nil
}

func (s *HTTPSource) PublishEvents(ctx context.Context, events []AnalyticsEvent) error {
	body := struct {
		Events []AnalyticsEvent `json:"events"`
	}{Events: events}
	return s.postJSON(ctx, "/api/v1/analytics/events", body)
}

func (s *HTTPSource) CompleteExperiment(ctx context.Context, experimentID string, report CompletionReport) error {
	return s.postJSON(ctx, "/api/v1/experiments/"+experimentID+"/complete", report)
}

func (s *HTTPSource) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (s *HTTPSource) postJSON(ctx context.Context, path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}
	return nil
}
