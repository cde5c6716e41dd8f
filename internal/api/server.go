// Package api provides the read-only diagnostics HTTP and WebSocket server.
//
// The server never mutates engine state: it serves snapshots the engine
// publishes and the session journal. Trading is unaffected if it is down.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/intraday-trader/internal/engine"
	"github.com/atlas-desktop/intraday-trader/internal/journal"
	"github.com/atlas-desktop/intraday-trader/pkg/types"
)

// EngineView is the read surface the server needs from the engine.
type EngineView interface {
	Status() engine.Status
	Strategies() []types.StrategyConfig
}

// Server is the diagnostics HTTP/WebSocket server.
type Server struct {
	logger     *zap.Logger
	config     types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	engine     EngineView
	journal    *journal.Journal
	hub        *Hub
	started    time.Time
}

// NewServer creates a diagnostics server.
func NewServer(logger *zap.Logger, config types.ServerConfig, view EngineView, jnl *journal.Journal, hub *Hub) *Server {
	s := &Server{
		logger:  logger,
		config:  config,
		router:  mux.NewRouter(),
		engine:  view,
		journal: jnl,
		hub:     hub,
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/api/v1/positions", s.handlePositions).Methods("GET")
	s.router.HandleFunc("/api/v1/strategies", s.handleStrategies).Methods("GET")
	s.router.HandleFunc("/api/v1/journal/trades", s.handleJournalTrades).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.HandleFunc("/ws", s.hub.HandleWebSocket)
}

// Start runs the server until Stop is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting diagnostics server", zap.String("addr", addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.engine.Status())
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	status := s.engine.Status()
	s.writeJSON(w, map[string]interface{}{
		"positions": status.OpenPositions,
		"count":     len(status.OpenPositions),
	})
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"strategies": s.engine.Strategies(),
	})
}

func (s *Server) handleJournalTrades(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}
	trades, err := s.journal.RecentTrades(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"trades": trades,
		"count":  len(trades),
	})
}
