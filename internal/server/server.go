// Package server exposes the search engine over HTTP: JSON endpoints
// for search, synchronous batch runs and index management, plus a
// WebSocket endpoint that streams batch progress item by item.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"catsearch/internal/advisor"
	"catsearch/internal/batch"
	"catsearch/internal/engine"
	"catsearch/internal/history"
	"catsearch/internal/version"
)

// Config carries the HTTP listener settings.
type Config struct {
	Host string
	Port int
}

// Server wires the engine, batch processor, advisor and history store
// into an HTTP + WebSocket API.
type Server struct {
	cfg      Config
	engine   *engine.Engine
	batch    *batch.Processor
	advisor  *advisor.Advisor // may be nil
	history  *history.Store   // may be nil, disables recording
	upgrader websocket.Upgrader
	started  time.Time

	// ctx is the server lifecycle context. Rebuilds and WebSocket batch
	// runs use it instead of r.Context(), which is cancelled as soon as
	// the handler returns (and detached entirely after a WS upgrade).
	ctx context.Context
}

// New creates a server. advisor and hist may be nil.
func New(cfg Config, eng *engine.Engine, proc *batch.Processor, adv *advisor.Advisor, hist *history.Store) *Server {
	return &Server{
		cfg:     cfg,
		engine:  eng,
		batch:   proc,
		advisor: adv,
		history: hist,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		started: time.Now(),
		ctx:     context.Background(),
	}
}

// Handler builds the route table. Exposed separately from Start so
// tests can drive the full surface through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/batch", s.handleBatch)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/rebuild", s.handleRebuild)
	mux.HandleFunc("/api/history/searches", s.handleHistorySearches)
	mux.HandleFunc("/api/history/batches", s.handleHistoryBatches)
	mux.HandleFunc("/ws/batch", s.handleBatchWS)

	return mux
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.ctx = ctx

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler: s.Handler(),
	}

	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[Server] HTTP server error: %v", err)
		}
	}()

	log.Printf("[Server] Listening on %s", server.Addr)

	<-ctx.Done()

	log.Println("[Server] Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime"`
	Items     int       `json:"items"`
}

// handleHealth handles GET /health. It reports degraded (503) until the
// index is ready so load balancers hold traffic during initialization.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	st := s.engine.Status()
	status := "healthy"
	if !st.Ready {
		status = "degraded"
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Version:   version.Info(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Items:     st.Items,
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, response)
}

// handleStatus handles GET /api/status
// Response: {"ready": true, "items": 200000, ...}
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	st := s.engine.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ready":      st.Ready,
		"items":      st.Items,
		"dimensions": st.Dimensions,
		"embedder":   st.Embedder,
		"ef_search":  st.EfSearch,
		"hnsw_m":     st.M,
		"ai_enabled": s.advisor != nil && s.advisor.Available(),
		"version":    version.Info(),
	})
}

// handleSearch handles POST /api/search
// Request: {"query": "parafuso de aço", "top_k": 15, "use_ai": false}
// Response: {"query": ..., "total": N, "results": [...], "recommendation": ...}
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k,omitempty"`
		UseAI bool   `json:"use_ai,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeJSONError(w, http.StatusBadRequest, "query is required")
		return
	}

	start := time.Now()
	results, err := s.engine.Search(r.Context(), req.Query, req.TopK)
	if err != nil {
		if errors.Is(err, engine.ErrNotInitialized) {
			writeJSONError(w, http.StatusServiceUnavailable, "index not initialized")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "search failed: "+err.Error())
		return
	}

	response := map[string]interface{}{
		"query":   req.Query,
		"total":   len(results),
		"results": results,
	}

	if req.UseAI && s.advisor != nil {
		rec, err := s.advisor.Recommend(r.Context(), req.Query, results)
		switch {
		case err == nil:
			response["recommendation"] = rec
		case errors.Is(err, advisor.ErrUnavailable):
			// silently omitted, the advisor already logged the missing key
		default:
			log.Printf("WARNING: AI recommendation failed for API search: %v", err)
		}
	}

	s.recordSearch(req.Query, req.TopK, results, time.Since(start))

	writeJSON(w, http.StatusOK, response)
}

// handleBatch handles POST /api/batch
// Request: {"items": ["cimento 50kg", ...], "top_k": 5, "use_ai": false}
// Response: the completed run, one result group per item.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Items []string `json:"items"`
		TopK  int      `json:"top_k,omitempty"`
		UseAI bool     `json:"use_ai,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(req.Items) == 0 {
		writeJSONError(w, http.StatusBadRequest, "items is required")
		return
	}

	run, err := s.batch.Process(r.Context(), req.Items, batch.Options{
		TopK:  req.TopK,
		UseAI: req.UseAI,
	})
	if err != nil {
		if errors.Is(err, engine.ErrNotInitialized) {
			writeJSONError(w, http.StatusServiceUnavailable, "index not initialized")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "batch failed: "+err.Error())
		return
	}

	s.recordBatch(run, req.UseAI)

	writeJSON(w, http.StatusOK, run)
}

// handleRebuild handles POST /api/rebuild. Rebuilding re-embeds the
// whole corpus, which can take minutes, so the work runs in the
// background and searches keep serving the old artifacts until the
// swap.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	go func() {
		log.Println("[Server] Rebuild requested")
		if err := s.engine.Rebuild(s.ctx); err != nil {
			log.Printf("[Server] Rebuild failed: %v", err)
			return
		}
		log.Printf("[Server] Rebuild completed: %d items indexed", s.engine.Len())
	}()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "rebuilding",
	})
}

// handleHistorySearches handles GET /api/history/searches?limit=N
func (s *Server) handleHistorySearches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.history == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "history not enabled")
		return
	}

	entries, err := s.history.RecentSearches(queryLimit(r))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "history query failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"searches": entries,
	})
}

// handleHistoryBatches handles GET /api/history/batches?limit=N
func (s *Server) handleHistoryBatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.history == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "history not enabled")
		return
	}

	entries, err := s.history.RecentBatches(queryLimit(r))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "history query failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"batches": entries,
	})
}

func queryLimit(r *http.Request) int {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	return limit
}

func (s *Server) recordSearch(query string, topK int, results []engine.Result, took time.Duration) {
	if s.history == nil {
		return
	}

	entry := history.SearchEntry{
		Query:      query,
		TopK:       topK,
		Results:    len(results),
		DurationMS: took.Milliseconds(),
	}
	if len(results) > 0 {
		entry.BestScore = float64(results[0].Score)
		entry.BestItem = results[0].Record.ItemCode
	}
	if _, err := s.history.RecordSearch(entry); err != nil {
		log.Printf("WARNING: Failed to record search history: %v", err)
	}
}

func (s *Server) recordBatch(run *batch.Run, usedAI bool) {
	if s.history == nil {
		return
	}

	err := s.history.RecordBatch(history.BatchEntry{
		ID:         run.ID,
		Items:      len(run.Items),
		Results:    len(run.Results),
		Succeeded:  run.Succeeded,
		Failed:     run.Failed,
		UsedAI:     usedAI,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	})
	if err != nil {
		log.Printf("WARNING: Failed to record batch history: %v", err)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
