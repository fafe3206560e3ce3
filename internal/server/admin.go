package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sveturs/abkit/internal/abtest"
	"github.com/sveturs/abkit/internal/stats"
	"github.com/sveturs/abkit/internal/store"
)

// handleAdminExperiments serves POST (create) and GET (list with stats) on
// /admin/api/experiments.
func (s *Server) handleAdminExperiments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.adminCreateExperiment(w, r)
	case http.MethodGet:
		s.adminListExperiments(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) adminCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var exp abtest.Experiment
	if err := json.NewDecoder(r.Body).Decode(&exp); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if exp.ID == "" {
		exp.ID = uuid.NewString()
	}
	if exp.Status == "" {
		exp.Status = abtest.StatusRunning
	}
	if err := abtest.ValidateExperiment(&exp); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.CreateExperiment(r.Context(), &exp); err != nil {
		s.log.Error("failed to create experiment", zap.Error(err))
		http.Error(w, "Failed to create experiment", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, exp)
}

type experimentSummary struct {
	Experiment *abtest.Experiment    `json:"experiment"`
	Stats      []stats.VariantResult `json:"stats"`
	Confident  bool                  `json:"confident"`
	Confidence float64               `json:"confidence"`
	Leading    string                `json:"leading,omitempty"`
}

func (s *Server) adminListExperiments(w http.ResponseWriter, r *http.Request) {
	experiments, err := s.store.ListExperiments(r.Context())
	if err != nil {
		s.log.Error("failed to list experiments", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	summaries := make([]experimentSummary, 0, len(experiments))
	for _, exp := range experiments {
		variantStats, err := s.store.GetVariantStats(r.Context(), exp.ID)
		if err != nil {
			s.log.Error("failed to get variant stats",
				zap.String("experiment", exp.ID), zap.Error(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		result := stats.Analyze(variantData(exp, variantStats))
		summary := experimentSummary{
			Experiment: exp,
			Stats:      result.Variants,
			Confident:  result.Confident,
			Confidence: result.ConfidenceLevel,
		}
		if len(result.Variants) > 1 {
			summary.Leading = result.Variants[result.LeadingVariant].ID
		}
		summaries = append(summaries, summary)
	}

	writeJSON(w, http.StatusOK, summaries)
}

// variantData joins the definition's variant order with the aggregated
// event counts, zero-filling variants that have no events yet.
func variantData(exp *abtest.Experiment, variantStats []store.VariantStats) []stats.VariantData {
	byID := make(map[string]store.VariantStats, len(variantStats))
	for _, vs := range variantStats {
		byID[vs.VariantID] = vs
	}

	data := make([]stats.VariantData, len(exp.Variants))
	for i, v := range exp.Variants {
		vs := byID[v.ID]
		data[i] = stats.VariantData{
			ID:          v.ID,
			Name:        v.Name,
			Views:       vs.Impressions,
			Conversions: vs.Conversions,
		}
	}
	return data
}

// handleAdminSetFlag sets a feature flag: PUT /admin/api/flags/{name} with
// a JSON body holding the value.
func (s *Server) handleAdminSetFlag(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/admin/api/flags/")
	if name == "" || strings.Contains(name, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	var value any
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	raw, err := json.Marshal(value)
	if err != nil {
		http.Error(w, "Invalid value", http.StatusBadRequest)
		return
	}
	if err := s.store.SetSetting(r.Context(), "flag:"+name, string(raw)); err != nil {
		s.log.Error("failed to set flag", zap.String("flag", name), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
