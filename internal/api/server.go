// Package api exposes the REST and WebSocket surface. Every route is
// read-only except POST /api/prng/verify/{id}.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/rugslab/rugs-data-service/internal/broadcast"
	"github.com/rugslab/rugs-data-service/internal/schema"
	"github.com/rugslab/rugs-data-service/internal/store"
	"github.com/rugslab/rugs-data-service/internal/telemetry"
	"github.com/rugslab/rugs-data-service/internal/tracker"
	"github.com/rugslab/rugs-data-service/internal/upstream"
)

type Server struct {
	st      *store.Store
	tracker *tracker.Tracker
	up      *upstream.Client
	hub     *broadcast.Hub
	reg     *schema.Registry
	origins []string

	// verifySem bounds concurrent PRNG re-simulations.
	verifySem chan struct{}

	http *http.Server
}

func NewServer(addr string, st *store.Store, tr *tracker.Tracker, up *upstream.Client, hub *broadcast.Hub, reg *schema.Registry, origins []string, verifyWorkers int) *Server {
	if verifyWorkers < 1 {
		verifyWorkers = 1
	}
	s := &Server{
		st:        st,
		tracker:   tr,
		up:        up,
		hub:       hub,
		reg:       reg,
		origins:   origins,
		verifySem: make(chan struct{}, verifyWorkers),
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.cors)

	api.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/readiness", s.handleReadiness).Methods(http.MethodGet)
	api.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	api.HandleFunc("/connection", s.handleConnection).Methods(http.MethodGet)
	api.HandleFunc("/live", s.handleLive).Methods(http.MethodGet)
	api.HandleFunc("/snapshots", s.handleSnapshots).Methods(http.MethodGet)
	api.HandleFunc("/games", s.handleGames).Methods(http.MethodGet)
	api.HandleFunc("/games/current", s.handleCurrentGame).Methods(http.MethodGet)
	api.HandleFunc("/games/{id}", s.handleGame).Methods(http.MethodGet)
	api.HandleFunc("/games/{id}/quality", s.handleGameQuality).Methods(http.MethodGet)
	api.HandleFunc("/games/{id}/verification", s.handleGameVerification).Methods(http.MethodGet)
	api.HandleFunc("/ohlc", s.handleOHLC).Methods(http.MethodGet)
	api.HandleFunc("/god-candles", s.handleGodCandles).Methods(http.MethodGet)
	api.HandleFunc("/prng/tracking", s.handlePRNGTracking).Methods(http.MethodGet)
	api.HandleFunc("/prng/verify/{id}", s.handleVerify).Methods(http.MethodPost)
	api.HandleFunc("/schemas", s.handleSchemas).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatusCreate).Methods(http.MethodPost)
	api.HandleFunc("/status", s.handleStatusList).Methods(http.MethodGet)
	api.HandleFunc("/ws/stream", hub.HandleWS)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	telemetry.Infof("api: listening on %s", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// cors applies the configured allow-list; "*" allows any origin.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		telemetry.Warnf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
