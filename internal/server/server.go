// Package server exposes the experiment backend the SDK talks to: the
// active-experiment feed, the analytics ingest, the completion sink, the
// feature-flag feed, and token-protected admin endpoints.
package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sveturs/abkit/internal/store"
)

type Config struct {
	Port      int    `yaml:"port"`
	TokenFile string `yaml:"token_file"`
	// EventsPerSecond caps analytics ingest; bursts up to EventsBurst are
	// absorbed.
	EventsPerSecond float64 `yaml:"events_per_second"`
	EventsBurst     int     `yaml:"events_burst"`
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.EventsPerSecond <= 0 {
		c.EventsPerSecond = 50
	}
	if c.EventsBurst <= 0 {
		c.EventsBurst = 100
	}
	return c
}

type Server struct {
	store     *store.SQLiteStore
	cfg       Config
	token     string
	router    *http.ServeMux
	limiter   *rate.Limiter
	log       *zap.Logger
	startTime time.Time
}

func New(s *store.SQLiteStore, cfg Config, log *zap.Logger) *Server {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}

	srv := &Server{
		store:     s,
		cfg:       cfg,
		token:     generateToken(),
		router:    http.NewServeMux(),
		limiter:   rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), cfg.EventsBurst),
		log:       log,
		startTime: time.Now(),
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	// Public endpoints consumed by the SDK
	s.router.HandleFunc("/health", s.handleHealth)
	s.router.HandleFunc("/api/v1/experiments/active", s.handleActiveExperiments)
	s.router.HandleFunc("/api/v1/analytics/events", s.handleAnalyticsEvents)
	s.router.HandleFunc("/api/v1/experiments/", s.handleExperimentComplete)
	s.router.HandleFunc("/api/v1/flags", s.handleFlags)

	// Admin endpoints (protected)
	s.router.Handle("/admin/api/experiments", s.authMiddleware(http.HandlerFunc(s.handleAdminExperiments)))
	s.router.Handle("/admin/api/flags/", s.authMiddleware(http.HandlerFunc(s.handleAdminSetFlag)))
}

func (s *Server) Start() error {
	// Write token to file for the token command
	if s.cfg.TokenFile != "" {
		if err := os.WriteFile(s.cfg.TokenFile, []byte(s.token), 0600); err != nil {
			s.log.Warn("failed to write token file", zap.Error(err))
		}
	}

	s.log.Info("server listening",
		zap.Int("port", s.cfg.Port),
		zap.String("admin_token", s.token))

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) Token() string {
	return s.token
}

func (s *Server) Store() *store.SQLiteStore {
	return s.store
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func generateToken() string {
	bytes := make([]byte, 4)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to a simple token if crypto/rand fails
		return "a1b2c3d4"
	}
	return hex.EncodeToString(bytes)
}
