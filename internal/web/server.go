package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"

	"github.com/peggyjv/cellar/internal/engine"
	"github.com/peggyjv/cellar/internal/logger"
	"github.com/peggyjv/cellar/internal/queue"
	"github.com/peggyjv/cellar/internal/state"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer serves the read-only JSON dashboard over the engine.
type WebServer struct {
	router    *mux.Router
	port      string
	engine    *engine.Engine
	queue     *queue.Queue
	dbEnabled bool
}

// NewWebServer creates a new web server instance.
func NewWebServer(port string, eng *engine.Engine, q *queue.Queue, dbEnabled bool) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:    mux.NewRouter(),
		port:      port,
		engine:    eng,
		queue:     q,
		dbEnabled: dbEnabled,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/status", ws.handleStatus).Methods("GET")
	api.HandleFunc("/positions", ws.handlePositions).Methods("GET")
	api.HandleFunc("/requests", ws.handleRequests).Methods("GET")
	api.HandleFunc("/snapshots/latest", ws.handleLatestSnapshot).Methods("GET")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hasErrors := false

	dbHealthy := true
	if ws.dbEnabled {
		if err := state.TestDBConnection(); err != nil {
			dbHealthy = false
			hasErrors = true
		}
	}

	if _, err := ws.engine.CurrentStatus(); err != nil {
		hasErrors = true
	}

	overallStatus := "OK"
	if hasErrors {
		overallStatus = "DEGRADED"
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "cellar-engine",
			"version": "1.0.0",
		},
		"engine_status": map[string]interface{}{
			"database_enabled": ws.dbEnabled,
			"database_healthy": dbHealthy,
			"cycle_count":      ws.engine.CycleCount(),
		},
	}

	statusCode := http.StatusOK
	if hasErrors {
		statusCode = http.StatusServiceUnavailable
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleStatus returns the cellar accounting summary
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := ws.engine.CurrentStatus()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to assemble status")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve status")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, status)
}

// handlePositions returns the active position list with live balances
func (ws *WebServer) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := ws.engine.PositionStatuses()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to read positions")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve positions")
		return
	}

	response := map[string]interface{}{
		"positions": positions,
		"count":     len(positions),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleRequests returns the standing atomic-queue requests
func (ws *WebServer) handleRequests(w http.ResponseWriter, r *http.Request) {
	requests := ws.queue.Requests()

	response := map[string]interface{}{
		"requests": requests,
		"count":    len(requests),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleLatestSnapshot returns the most recent persisted accounting snapshot
func (ws *WebServer) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	if !ws.dbEnabled {
		ws.writeErrorResponse(w, http.StatusNotFound, "Persistence is disabled")
		return
	}

	snapshot, err := state.LoadLatestSnapshot(ws.engine.Cellar().Address().Hex())
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to load latest snapshot")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve snapshot")
		return
	}
	if snapshot == nil {
		ws.writeErrorResponse(w, http.StatusNotFound, "No snapshots recorded yet")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, snapshot)
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
