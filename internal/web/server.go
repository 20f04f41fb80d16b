package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/gorilla/mux"

	"github.com/leverfarm/dnv/internal/logger"
	"github.com/leverfarm/dnv/internal/state"
	"github.com/leverfarm/dnv/internal/types"
)

var webLogger = logger.GetForComponent("web_server")

// VaultDataProvider exposes the read-only vault views served by the API.
type VaultDataProvider interface {
	PositionInfo() (types.PositionInfo, error)
	TotalEquityValue() (sdkmath.LegacyDec, error)
	ShareSupply() sdkmath.Int
	ShareDenom() string
}

// WebServer handles HTTP requests for vault data
type WebServer struct {
	router *mux.Router
	port   string
	vault  VaultDataProvider
	params types.RiskParameters
}

// NewWebServer creates a new web server instance
func NewWebServer(port string, vault VaultDataProvider, params types.RiskParameters) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router: mux.NewRouter(),
		port:   port,
		vault:  vault,
		params: params,
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
	api.HandleFunc("/position-info", ws.handleGetPositionInfo).Methods("GET")
	api.HandleFunc("/equity", ws.handleGetEquity).Methods("GET")
	api.HandleFunc("/cycles", ws.handleGetCycles).Methods("GET")
	api.HandleFunc("/cycles/latest", ws.handleGetLatestCycle).Methods("GET")
	api.HandleFunc("/cycles/{id}", ws.handleGetCycle).Methods("GET")
	api.HandleFunc("/kills", ws.handleGetKills).Methods("GET")
	api.HandleFunc("/parameters", ws.handleGetParameters).Methods("GET")

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

// handleHealth returns comprehensive server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	// Get runtime memory stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	// Get latest cycle information
	latestSnapshots, snapErr := state.GetRecentSnapshots(1)
	var cycleInfo map[string]interface{}
	var hasErrors bool
	var lastCycleTime *time.Time

	if snapErr == nil && len(latestSnapshots) > 0 {
		snapshot := latestSnapshots[0]
		cycleInfo = map[string]interface{}{
			"current_cycle":    snapshot.CycleNumber,
			"last_cycle_time":  snapshot.Timestamp,
			"rebalanced":       snapshot.Rebalanced,
			"actions_executed": len(snapshot.Actions),
		}
		lastCycleTime = &snapshot.Timestamp
	} else {
		cycleInfo = map[string]interface{}{
			"current_cycle":    0,
			"last_cycle_time":  nil,
			"rebalanced":       false,
			"actions_executed": 0,
		}
		hasErrors = true // No cycle data available indicates an issue
	}

	// Get database connection status
	dbHealthy := true
	dbErr := state.TestDBConnection()
	if dbErr != nil {
		dbHealthy = false
		hasErrors = true
	}

	// Vault must be priceable for the service to be healthy
	vaultHealthy := true
	if _, err := ws.vault.TotalEquityValue(); err != nil {
		vaultHealthy = false
		hasErrors = true
	}

	// Determine overall status
	overallStatus := "OK"
	if hasErrors {
		overallStatus = "DEGRADED"
	}

	// Calculate uptime approximation based on last cycle time
	var uptimeSeconds int64
	if lastCycleTime != nil {
		uptimeSeconds = int64(time.Since(*lastCycleTime).Seconds())
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":            runtime.Version(),
			"goroutines_count":   runtime.NumGoroutine(),
			"total_alloc_bytes":  memStats.TotalAlloc,
			"heap_objects_count": memStats.HeapObjects,
			"alloc_bytes":        memStats.Alloc,
			"sys_bytes":          memStats.Sys,
			"gc_cycles":          memStats.NumGC,
			"uptime_seconds":     uptimeSeconds,
		},
		"component": map[string]interface{}{
			"name":    "dnv-delta-neutral-vault",
			"version": "1.0.0",
		},
		"vault_status": map[string]interface{}{
			"database_healthy":  dbHealthy,
			"vault_priceable":   vaultHealthy,
			"has_recent_errors": hasErrors,
			"cycle_info":        cycleInfo,
		},
	}

	// Set appropriate HTTP status code
	statusCode := http.StatusOK
	if hasErrors {
		statusCode = http.StatusServiceUnavailable
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetPositionInfo returns the live oracle-valued view of both sides
func (ws *WebServer) handleGetPositionInfo(w http.ResponseWriter, r *http.Request) {
	info, err := ws.vault.PositionInfo()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to value positions")
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "Failed to value positions")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, info)
}

// handleGetEquity returns total equity and the share supply backing it
func (ws *WebServer) handleGetEquity(w http.ResponseWriter, r *http.Request) {
	equity, err := ws.vault.TotalEquityValue()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to compute total equity")
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "Failed to compute total equity")
		return
	}

	response := map[string]interface{}{
		"total_equity_value": equity,
		"share_supply":       ws.vault.ShareSupply(),
		"share_denom":        ws.vault.ShareDenom(),
		"timestamp":          time.Now().UTC(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetCycles returns paginated cycle snapshots
func (ws *WebServer) handleGetCycles(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	snapshots, err := state.GetRecentSnapshots(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent snapshots")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve cycles")
		return
	}

	response := map[string]interface{}{
		"cycles": snapshots,
		"count":  len(snapshots),
		"limit":  limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetCycle returns a specific cycle snapshot by ID
func (ws *WebServer) handleGetCycle(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	idStr := vars["id"]

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid cycle ID")
		return
	}

	snapshot, err := state.GetSnapshotByID(id)
	if err != nil {
		webLogger.Error().Err(err).Int64("cycleId", id).Msg("Failed to get cycle")
		ws.writeErrorResponse(w, http.StatusNotFound, "Cycle not found")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, snapshot)
}

// handleGetLatestCycle returns the most recent cycle snapshot
func (ws *WebServer) handleGetLatestCycle(w http.ResponseWriter, r *http.Request) {
	snapshots, err := state.GetRecentSnapshots(1)
	if err != nil || len(snapshots) == 0 {
		webLogger.Error().Err(err).Msg("Failed to get latest cycle")
		ws.writeErrorResponse(w, http.StatusNotFound, "No cycles found")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, snapshots[0])
}

// handleGetKills returns recent liquidation receipts
func (ws *WebServer) handleGetKills(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	receipts, err := state.GetRecentKillReceipts(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get kill receipts")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve kill receipts")
		return
	}

	response := map[string]interface{}{
		"kills": receipts,
		"count": len(receipts),
		"limit": limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetParameters returns the active risk parameters
func (ws *WebServer) handleGetParameters(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"parameters": ws.params,
		"timestamp":  time.Now().UTC(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
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
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
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
