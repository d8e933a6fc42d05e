package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"finsync/pkg/attachment"
	"finsync/pkg/logging"
	memorycollector "finsync/pkg/metrics/memory"
	"finsync/pkg/reconcile"
	"finsync/pkg/record"
	"finsync/pkg/session"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes the signed-in user's records, reports and exports over HTTP.
type Server struct {
	policy   *reconcile.Policy
	accounts *session.Directory
	metrics  *memorycollector.MemoryCollector
	http     *httpMetrics
	router   *mux.Router
	server   *http.Server
	config   ServerConfig
	logger   *logging.Logger
	now      func() time.Time
	started  time.Time
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// ReadTimeout for HTTP requests
	ReadTimeout time.Duration

	// WriteTimeout for HTTP responses
	WriteTimeout time.Duration

	// Namespace prefixes the HTTP request metrics.
	Namespace string

	// Attachment bounds the images accepted with transactions.
	Attachment attachment.Options

	// Gatherer serves /metrics. Defaults to the global Prometheus registry.
	Gatherer prometheus.Gatherer
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      ":8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		Namespace:    "finsync",
		Attachment:   attachment.DefaultOptions(),
	}
}

// NewServer creates the API server. mc may be nil, in which case
// /metrics/json reports that no snapshot is available.
func NewServer(policy *reconcile.Policy, accounts *session.Directory, mc *memorycollector.MemoryCollector, config ServerConfig) *Server {
	s := &Server{
		policy:   policy,
		accounts: accounts,
		metrics:  mc,
		http:     newHTTPMetrics(config.Namespace),
		config:   config,
		logger:   logging.Global().Named("api"),
		now:      time.Now,
		started:  time.Now(),
	}

	gatherer := config.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := mux.NewRouter()
	r.Use(s.http.middleware)

	// Health, status and metrics
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/metrics/json", s.handleMetricsJSON).Methods(http.MethodGet)

	// Session
	r.HandleFunc("/session", s.handleSession).Methods(http.MethodGet)
	r.HandleFunc("/session/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/session/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/session/online", s.handleOnline).Methods(http.MethodPut)

	// Records
	r.HandleFunc("/transactions", s.handleListTransactions).Methods(http.MethodGet)
	r.HandleFunc("/transactions", s.handleCreateTransaction).Methods(http.MethodPost)
	r.HandleFunc("/transactions/{id}", s.handleGetTransaction).Methods(http.MethodGet)
	r.HandleFunc("/transactions/{id}", s.handleUpdateTransaction).Methods(http.MethodPut)
	r.HandleFunc("/transactions/{id}", s.handleDeleteTransaction).Methods(http.MethodDelete)
	r.HandleFunc("/goals", s.handleListGoals).Methods(http.MethodGet)
	r.HandleFunc("/goals", s.handleCreateGoal).Methods(http.MethodPost)
	r.HandleFunc("/goals/{id}", s.handleUpdateGoal).Methods(http.MethodPut)
	r.HandleFunc("/goals/{id}", s.handleDeleteGoal).Methods(http.MethodDelete)
	r.HandleFunc("/goals/{id}/deposits", s.handleDeposit).Methods(http.MethodPost)
	r.HandleFunc("/data", s.handleClearAll).Methods(http.MethodDelete)

	// Reports and exports
	r.HandleFunc("/reports/summary", s.handleSummary).Methods(http.MethodGet)
	r.HandleFunc("/reports/categories", s.handleCategories).Methods(http.MethodGet)
	r.HandleFunc("/reports/daily", s.handleDaily).Methods(http.MethodGet)
	r.HandleFunc("/export/csv", s.handleExportCSV).Methods(http.MethodGet)
	r.HandleFunc("/export/backup", s.handleExportBackup).Methods(http.MethodGet)

	s.router = r
	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return s
}

// Handler returns the router serving every endpoint.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Collectors returns the HTTP request metrics for registration.
func (s *Server) Collectors() []prometheus.Collector {
	return []prometheus.Collector{s.http.requests, s.http.duration}
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	go func() {
		s.logger.Info("server listening", zap.String("addr", s.config.Address))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleHealth returns a simple health check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": s.now().Unix(),
	})
}

// handleStatus returns the session and collection sizes.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "running",
		"timestamp":    s.now().Unix(),
		"uptime":       time.Since(s.started).String(),
		"session":      s.policy.Session(),
		"transactions": len(s.policy.Transactions()),
		"goals":        len(s.policy.Goals()),
	})
}

// handleMetricsJSON returns the in-memory metrics snapshot.
func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"error": "metrics collector does not support JSON snapshot",
		})
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps err to a status code and writes it as JSON.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case record.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, reconcile.ErrNoSession), errors.Is(err, session.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, reconcile.ErrRecordNotFound):
		status = http.StatusNotFound
	case errors.Is(err, attachment.ErrTooLarge), errors.Is(err, attachment.ErrUploadTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, attachment.ErrNotImage), errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	}

	body := map[string]interface{}{"error": err.Error()}
	var ce *record.CategoryError
	if errors.As(err, &ce) && ce.Suggestion != "" {
		body["suggestion"] = ce.Suggestion
	}
	writeJSON(w, status, body)
}
