package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/novaex/novaex/pkg/engine"
	"github.com/novaex/novaex/pkg/kv"
)

// Server exposes the control plane: snapshot, restore, order book removal
// and health, as unary JSON-over-HTTP calls, plus Prometheus metrics.
type Server struct {
	core   *engine.Core
	store  kv.Store
	router *mux.Router
	srv    *http.Server
	log    *zap.SugaredLogger
	start  time.Time
}

func NewServer(core *engine.Core, store kv.Store, reg *prometheus.Registry, log *zap.SugaredLogger) *Server {
	s := &Server{
		core:   core,
		store:  store,
		router: mux.NewRouter(),
		log:    log.With("component", "rpc"),
		start:  time.Now(),
	}
	s.setupRoutes(reg)
	return s
}

func (s *Server) setupRoutes(reg *prometheus.Registry) {
	api := s.router.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/snapshots/{symbol}", s.handleCreateSnapshot).Methods("POST")
	api.HandleFunc("/snapshots/{symbol}/restore", s.handleRestoreSnapshot).Methods("POST")
	api.HandleFunc("/orderbooks/{symbol}", s.handleRemoveOrderBook).Methods("DELETE")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
}

// Start blocks serving until Stop is called.
func (s *Server) Start(addr string) error {
	c := cors.New(cors.Options{
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})

	s.srv = &http.Server{Addr: addr, Handler: c.Handler(s.router)}

	s.log.Infow("rpc_server_starting", "addr", addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

type snapshotResponse struct {
	Success bool   `json:"success"`
	Data    string `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	data, err := s.core.SnapshotOrderBook(symbol)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, snapshotResponse{Error: err.Error()})
		return
	}

	if data != "" {
		if err := s.store.SaveSnapshot(r.Context(), symbol, data); err != nil {
			s.log.Warnw("snapshot_cache_write_failed", "symbol", symbol, "err", err)
		}
	}

	s.log.Infow("snapshot_created", "symbol", symbol, "bytes", len(data))
	respondJSON(w, http.StatusOK, snapshotResponse{Success: true, Data: data})
}

type restoreRequest struct {
	Data string `json:"data"`
}

type restoreResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleRestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	var req restoreRequest
	if r.Body != nil {
		// an empty or absent body means "restore from the cache"
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	data := req.Data
	if data == "" {
		cached, ok, err := s.store.LoadSnapshot(r.Context(), symbol)
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, restoreResponse{Error: err.Error()})
			return
		}
		if !ok {
			respondJSON(w, http.StatusNotFound, restoreResponse{Error: "no snapshot for " + symbol})
			return
		}
		data = cached
	}

	if err := s.core.RestoreOrderBook(symbol, data); err != nil {
		respondJSON(w, http.StatusBadRequest, restoreResponse{Error: err.Error()})
		return
	}

	s.log.Infow("snapshot_restored", "symbol", symbol)
	respondJSON(w, http.StatusOK, restoreResponse{Success: true})
}

type removeResponse struct {
	Success bool `json:"success"`
}

func (s *Server) handleRemoveOrderBook(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	ok := s.core.RemoveOrderBook(symbol)
	s.log.Infow("orderbook_removed", "symbol", symbol, "existed", ok)
	respondJSON(w, http.StatusOK, removeResponse{Success: ok})
}

type healthResponse struct {
	Healthy         bool   `json:"healthy"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	SymbolCount     int    `json:"symbol_count"`
	OrdersProcessed uint64 `json:"orders_processed"`
	TradesExecuted  uint64 `json:"trades_executed"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	orders, trades := s.core.Totals()
	respondJSON(w, http.StatusOK, healthResponse{
		Healthy:         true,
		UptimeSeconds:   int64(time.Since(s.start).Seconds()),
		SymbolCount:     s.core.GetSymbolCount(),
		OrdersProcessed: orders,
		TradesExecuted:  trades,
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
