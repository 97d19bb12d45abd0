package api

import (
	"encoding/json"
	"net/http"
	"rendellc/aquarium2mqtt/monitor"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Analysis is the part of the analyzer exposed over HTTP.
type Analysis interface {
	Latest() (monitor.Result, bool)
	TriggerCycle(t monitor.Trigger) bool
}

type Server struct {
	analysis Analysis
	logger   zerolog.Logger
}

func NewRouter(analysis Analysis, gatherer prometheus.Gatherer, logger zerolog.Logger) *mux.Router {
	s := &Server{analysis: analysis, logger: logger.With().Str("component", "api").Logger()}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/api/analysis", s.latest).Methods(http.MethodGet)
	r.HandleFunc("/api/analysis", s.trigger).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return r
}

// NewServer wraps the router with access logging and panic recovery.
func NewServer(addr string, router http.Handler, logger zerolog.Logger) *http.Server {
	accessLog := logger.With().Str("component", "http").Logger()
	handler := handlers.LoggingHandler(accessLog, handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(router))

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) latest(w http.ResponseWriter, r *http.Request) {
	result, ok := s.analysis.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no analysis has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request) {
	notify := false
	if v := r.URL.Query().Get("notify"); v != "" {
		var err error
		notify, err = strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "notify must be a boolean")
			return
		}
	}

	status := "queued"
	if !s.analysis.TriggerCycle(monitor.Trigger{Source: "api", Notify: notify}) {
		status = "already_queued"
	}
	s.logger.Info().Bool("notify", notify).Str("status", status).Msg("analysis requested")
	writeJSON(w, http.StatusAccepted, map[string]any{"status": status})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}
