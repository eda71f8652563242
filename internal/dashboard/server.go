// Package dashboard exposes the operator HTTP surface: health, engine
// status, position intake, manual exits, and trade history.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"exitwatch/internal/models"
	"exitwatch/internal/monitor"
	"exitwatch/internal/storage"
)

type Server struct {
	router    *chi.Mux
	server    *http.Server
	engine    *monitor.Engine
	storage   storage.Interface
	logger    *logrus.Logger
	port      int
	authToken string
}

type Config struct {
	Port      int
	AuthToken string
}

func NewServer(cfg Config, engine *monitor.Engine, store storage.Interface, logger *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		engine:    engine,
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
	s.router.Get("/api/status", s.handleStatus)
	s.router.Get("/api/positions", s.handleGetPositions)
	s.router.Get("/api/positions/{tradeID}", s.handleGetPosition)
	s.router.Get("/api/history", s.handleGetHistory)
	s.router.Post("/api/positions", s.handleRegisterPosition)
	s.router.Post("/api/positions/{tradeID}/exit", s.handleManualExit)
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

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting dashboard server on port %d", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	}
	s.writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.ActivePositions())
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeID")

	if view, ok := s.engine.PositionStatus(tradeID); ok {
		s.writeJSON(w, http.StatusOK, view)
		return
	}

	// Not under live monitoring; fall back to the durable record so
	// terminal positions stay addressable.
	rec, err := s.storage.GetByTradeID(r.Context(), tradeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		s.logger.WithError(err).Error("Failed to load position record")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	filter := storage.HistoryFilter{
		Status: models.PositionStatus(r.URL.Query().Get("status")),
		UserID: r.URL.Query().Get("user_id"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}
	if filter.Status != "" && !filter.Status.Terminal() {
		http.Error(w, "status must be exited or failed", http.StatusBadRequest)
		return
	}

	records, err := s.storage.GetHistory(r.Context(), filter)
	if err != nil {
		s.logger.WithError(err).Error("Failed to load history")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []storage.PositionRecord{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleRegisterPosition(w http.ResponseWriter, r *http.Request) {
	var req models.OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid body: %v", err), http.StatusBadRequest)
		return
	}

	id, err := s.engine.RegisterPosition(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, monitor.ErrDuplicateTrade):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		default:
			s.logger.WithError(err).Warn("Position registration rejected")
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]string{
		"id":       id,
		"trade_id": req.TradeID,
	})
}

func (s *Server) handleManualExit(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeID")

	// Optional body: {"reason": "..."}.
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	if err := s.engine.ManualExit(r.Context(), tradeID, body.Reason); err != nil {
		if errors.Is(err, monitor.ErrNotMonitored) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.logger.WithError(err).Error("Manual exit failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"trade_id": tradeID,
		"result":   "exit executed",
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
