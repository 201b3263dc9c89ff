// Package server exposes the proxy's HTTP surface: the Anthropic-style
// messages endpoint backed by routing and fallback dispatch, plus the
// health, stats, and admin endpoints around it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/multimodel-ai/intelligent-proxy/internal/dispatch"
	"github.com/multimodel-ai/intelligent-proxy/internal/health"
	"github.com/multimodel-ai/intelligent-proxy/internal/middleware"
	"github.com/multimodel-ai/intelligent-proxy/internal/registry"
	"github.com/multimodel-ai/intelligent-proxy/internal/routing"
	"github.com/multimodel-ai/intelligent-proxy/internal/types"
	"github.com/multimodel-ai/intelligent-proxy/internal/upstream"
)

// Server represents the HTTP server
type Server struct {
	registry   *registry.Registry
	tracker    *health.Tracker
	engine     *routing.Engine
	loop       *dispatch.Loop
	stats      *RequestStats
	validation *middleware.ValidationMiddleware
	httpServer *http.Server
	logger     *logrus.Logger
	config     *ServerConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// NewServer creates a new server instance
func NewServer(reg *registry.Registry, tracker *health.Tracker, engine *routing.Engine, loop *dispatch.Loop, config *ServerConfig, logger *logrus.Logger) (*Server, error) {
	validation, err := middleware.NewValidationMiddleware(openAPISpec, true, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize validation middleware: %w", err)
	}

	return &Server{
		registry:   reg,
		tracker:    tracker,
		engine:     engine,
		loop:       loop,
		stats:      NewRequestStats(),
		validation: validation,
		logger:     logger,
		config:     config,
	}, nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	r := s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           ":" + s.config.Port,
		Handler:        r,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.WithField("port", s.config.Port).Info("Starting intelligent proxy server")
	return s.httpServer.ListenAndServe()
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping intelligent proxy server")
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.contentTypeMiddleware)
	r.Use(s.validation.Middleware)

	// API routes
	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/messages", s.handleMessages).Methods("POST")
	api.HandleFunc("/routing/decision", s.handleRoutingDecision).Methods("POST")
	api.HandleFunc("/providers", s.handleListProviders).Methods("GET")

	// Admin routes
	admin := r.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/routing-strategy", s.handleSetStrategy).Methods("POST")
	admin.HandleFunc("/providers/{name}/health", s.handleGetProviderHealth).Methods("GET")
	admin.HandleFunc("/providers/{name}/health", s.handleSetProviderHealth).Methods("PUT")

	// Operational endpoints
	r.HandleFunc("/health", s.handleHealthCheck).Methods("GET")
	r.HandleFunc("/stats", s.handleStats).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.setupDocsRoutes(r)

	return r
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Capture the status code for the access log
		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}

		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"user_agent":  r.UserAgent(),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) contentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" || r.Method == "PUT" {
			contentType := r.Header.Get("Content-Type")
			if contentType != "application/json" && contentType != "" {
				s.writeErrorResponse(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// inboundRequest is a decoded messages request: the typed view used by
// routing plus the raw JSON forwarded to passthrough providers.
type inboundRequest struct {
	typed *types.MessageRequest
	raw   map[string]interface{}
	prefs *types.Preferences
}

// decodeMessages reads the body once and decodes it into both views.
func decodeMessages(r *http.Request) (*inboundRequest, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}

	var typed types.MessageRequest
	if err := json.Unmarshal(body, &typed); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if typed.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if len(typed.Messages) == 0 {
		return nil, fmt.Errorf("messages must not be empty")
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	// Routing preferences ride alongside the message body and are
	// stripped before the request goes upstream.
	var prefs *types.Preferences
	if rawPrefs, ok := raw["preferences"]; ok {
		prefsData, err := json.Marshal(rawPrefs)
		if err == nil {
			prefs = &types.Preferences{}
			if err := json.Unmarshal(prefsData, prefs); err != nil {
				prefs = nil
			}
		}
		delete(raw, "preferences")
	}

	return &inboundRequest{typed: &typed, raw: raw, prefs: prefs}, nil
}

// Handlers

// handleMessages routes and dispatches an Anthropic-style message
// request across the configured providers.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	in, err := decodeMessages(r)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	decision, err := s.engine.Route(r.Context(), in.typed.Model, in.typed, in.prefs)
	if err != nil {
		s.stats.Record(false, false, false)
		s.writeErrorResponse(w, http.StatusServiceUnavailable, fmt.Sprintf("Routing failed: %v", err))
		return
	}

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = fmt.Sprintf("req-%d", time.Now().UnixNano())
	}

	result, trace, err := s.loop.Dispatch(r.Context(), decision, &upstream.Request{
		RequestID: requestID,
		Model:     decision.SelectedModel,
		Body:      in.typed,
		RawBody:   in.raw,
		Headers:   r.Header,
	})
	s.stats.Record(err == nil, trace.UsedFallback(), trace.RateLimited)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		s.writeErrorResponse(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Served-By", trace.ServedBy)
	w.WriteHeader(result.StatusCode)
	w.Write(result.Body)
}

// handleRoutingDecision returns the routing decision without executing
// the request.
func (s *Server) handleRoutingDecision(w http.ResponseWriter, r *http.Request) {
	in, err := decodeMessages(r)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	decision, err := s.engine.Route(r.Context(), in.typed.Model, in.typed, in.prefs)
	if err != nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, fmt.Sprintf("Routing failed: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(decision)
}

// handleListProviders lists configured providers with health state
func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	snapshots := s.tracker.SnapshotAll()

	providers := make([]map[string]interface{}, 0, s.registry.Len())
	for _, name := range s.registry.Names() {
		p, _ := s.registry.Get(name)
		snap := snapshots[name]

		providers = append(providers, map[string]interface{}{
			"name":              name,
			"status":            snap.Status,
			"priority":          p.Priority,
			"cost_multiplier":   p.CostMultiplier,
			"primary_model":     p.PrimaryModel,
			"health_score":      s.tracker.HealthScore(name),
			"avg_response_time": snap.AvgResponseTime,
			"success_rate":      snap.SuccessRate(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"providers": providers,
		"count":     len(providers),
	})
}

// handleHealthCheck reports overall service health: healthy while at
// least one provider can take traffic.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	s.tracker.RefreshAll()
	snapshots := s.tracker.SnapshotAll()

	usable := 0
	providerStatus := make(map[string]health.Status, len(snapshots))
	for name, snap := range snapshots {
		providerStatus[name] = snap.Status
		if snap.Status == health.StatusAvailable || snap.Status == health.StatusOverloaded {
			usable++
		}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if usable == 0 {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	} else if usable < len(snapshots) {
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status,
		"providers": providerStatus,
		"stats":     s.stats.Snapshot(),
		"timestamp": time.Now().Unix(),
	})
}

// handleStats returns aggregate request counters
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"requests": s.stats.Snapshot(),
		"strategy": s.engine.Strategy(),
	})
}

// handleGetProviderHealth returns the full health snapshot for one
// provider.
func (s *Server) handleGetProviderHealth(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	snap, ok := s.tracker.Health(name)
	if !ok {
		s.writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("Provider %s not found", name))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"provider":     name,
		"health":       snap,
		"health_score": s.tracker.HealthScore(name),
		"approaching":  s.tracker.IsApproachingLimit(name),
		"timestamp":    time.Now().Unix(),
	})
}

// handleSetStrategy switches the routing strategy at runtime
func (s *Server) handleSetStrategy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Strategy string `json:"strategy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}

	strategy, err := routing.ParseStrategy(body.Strategy)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.engine.SetStrategy(strategy); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"strategy": strategy,
	})
}

// handleSetProviderHealth overrides a provider's status, mainly for
// maintenance toggling.
func (s *Server) handleSetProviderHealth(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}

	status := health.Status(body.Status)
	switch status {
	case health.StatusAvailable, health.StatusRateLimited, health.StatusOverloaded, health.StatusError, health.StatusMaintenance:
	default:
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid status: %s", body.Status))
		return
	}

	if !s.tracker.SetStatus(name, status) {
		s.writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("Provider %s not found", name))
		return
	}

	s.logger.WithFields(logrus.Fields{
		"provider": name,
		"status":   status,
	}).Info("Provider health status overridden")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"provider": name,
		"status":   status,
	})
}

// Helper functions

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "api_error",
			"code":    statusCode,
		},
		"timestamp": time.Now().Unix(),
	}

	json.NewEncoder(w).Encode(errorResp)
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
