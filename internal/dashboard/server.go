// Package dashboard exposes a read-only HTTP API over the latest
// valuation snapshots.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/quantfold/optrisk/internal/storage"
	"github.com/quantfold/optrisk/internal/util"
)

// Server serves portfolio summaries and per-position valuations.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	storage   storage.Interface
	logger    *logrus.Logger
	port      int
	authToken string
}

// Config holds dashboard server settings.
type Config struct {
	Port      int
	AuthToken string
}

// PositionView is the wire shape of one valued position.
type PositionView struct {
	Description          string  `json:"description"`
	Underlying           string  `json:"underlying"`
	Type                 string  `json:"type"`
	Strike               float64 `json:"strike"`
	Expiration           string  `json:"expiration"`
	Quantity             int     `json:"quantity"`
	Spot                 float64 `json:"spot"`
	Delta                float64 `json:"delta"`
	DeltaSource          string  `json:"delta_source"`
	Vol                  float64 `json:"vol,omitempty"`
	DeltaExposure        float64 `json:"delta_exposure"`
	BetaAdjustedExposure float64 `json:"beta_adjusted_exposure"`
	Error                string  `json:"error,omitempty"`
}

// NewServer builds the dashboard router.
func NewServer(cfg Config, store storage.Interface, logger *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		storage:   store,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/summary", s.handleGetSummary)
	s.router.Get("/api/positions", s.handleGetPositions)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start begins serving; it blocks like http.ListenAndServe.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting dashboard server on port %d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleGetSummary(w http.ResponseWriter, _ *http.Request) {
	snap, err := s.storage.LatestSnapshot()
	if err != nil {
		if errors.Is(err, storage.ErrNoSnapshots) {
			http.Error(w, "No valuation recorded yet", http.StatusNotFound)
			return
		}
		s.logger.WithError(err).Error("Failed to load latest snapshot")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap.Summary); err != nil {
		s.logger.WithError(err).Error("Failed to encode summary")
	}
}

func (s *Server) handleGetPositions(w http.ResponseWriter, _ *http.Request) {
	snap, err := s.storage.LatestSnapshot()
	if err != nil {
		if errors.Is(err, storage.ErrNoSnapshots) {
			http.Error(w, "No valuation recorded yet", http.StatusNotFound)
			return
		}
		s.logger.WithError(err).Error("Failed to load latest snapshot")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	views := make([]PositionView, 0, len(snap.Positions))
	for _, pv := range snap.Positions {
		view := PositionView{
			Description:          pv.Position.Description,
			Underlying:           pv.Position.Underlying,
			Type:                 string(pv.Position.Type),
			Strike:               pv.Position.Strike,
			Expiration:           pv.Position.Expiration.Format("2006-01-02"),
			Quantity:             pv.Position.Quantity,
			Spot:                 pv.Spot,
			Delta:                pv.Result.Delta,
			DeltaSource:          string(pv.Result.Source),
			Vol:                  pv.Result.Vol,
			DeltaExposure:        util.RoundToCents(pv.DeltaExposure),
			BetaAdjustedExposure: util.RoundToCents(pv.BetaAdjustedExposure),
			Error:                pv.Err,
		}
		views = append(views, view)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil {
		s.logger.WithError(err).Error("Failed to encode positions")
	}
}
