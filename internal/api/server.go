// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/decisionlog"
	"github.com/atlas-desktop/trading-backend/internal/killswitch"
	"github.com/atlas-desktop/trading-backend/internal/metrics"
	"github.com/atlas-desktop/trading-backend/internal/pnl"
)

// Pipeline is the subset of pipeline.Supervisor the dashboard server reads
// from. Narrowed to an interface so tests can exercise routing and handlers
// without a live broker-backed Supervisor.
type Pipeline interface {
	AccountIDs() []string
	OrderEventSink(accountID string) (*pnl.OrderEventSink, bool)
	DecisionLog(accountID string) (*decisionlog.DecisionLog, bool)
	LivePnL(accountID string) (*pnl.LivePnL, bool)
	KillSwitch(accountID string) (*killswitch.KillSwitch, bool)
}

// Server is the HTTP/WebSocket dashboard and webhook server (spec.md §4.7,
// §4.12). It exposes health and metrics, mounts one order-event webhook
// route per configured account, and upgrades the read-only decision/equity
// feed to WebSocket clients through Hub.
type Server struct {
	logger     *zap.Logger
	host       string
	port       int
	router     *mux.Router
	httpServer *http.Server
	hub        *Hub
	upgrader   websocket.Upgrader
	pipe       Pipeline
}

// NewServer builds the dashboard server, mounting a webhook route for every
// account pipe knows about.
func NewServer(logger *zap.Logger, host string, port int, pipe Pipeline, hub *Hub) *Server {
	s := &Server{
		logger: logger.Named("api"),
		host:   host,
		port:   port,
		router: mux.NewRouter(),
		hub:    hub,
		pipe:   pipe,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.router.HandleFunc("/api/v1/accounts/{accountID}/decisions", s.handleDecisions).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/accounts/{accountID}/equity", s.handleEquity).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/accounts/{accountID}/kill-switch", s.handleKillSwitch).Methods(http.MethodGet)

	for _, accountID := range s.pipe.AccountIDs() {
		sink, ok := s.pipe.OrderEventSink(accountID)
		if !ok {
			continue
		}
		s.router.Handle("/webhooks/order-events/"+accountID, sink).Methods(http.MethodPost)
	}

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Router exposes the underlying mux.Router for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start begins serving. Blocks until Stop is called or the listener errors.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	s.logger.Info("starting api server", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: listen: %w", err)
	}
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountID"]
	dlog, ok := s.pipe.DecisionLog(accountID)
	if !ok {
		http.Error(w, "unknown account", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accountId": accountID,
		"decisions": dlog.Rows(),
	})
}

func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountID"]
	live, ok := s.pipe.LivePnL(accountID)
	if !ok {
		http.Error(w, "unknown account", http.StatusNotFound)
		return
	}
	snap, ok := live.LatestEquity()
	if !ok {
		http.Error(w, "no equity snapshot yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleKillSwitch(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountID"]
	ks, ok := s.pipe.KillSwitch(accountID)
	if !ok {
		http.Error(w, "unknown account", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ks.State())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn.RemoteAddr().String(), s.hub, conn)
	s.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
