// Package web runs the sidecar HTTP surface that stands in for the
// host's on_prompt hook: submissions posted here come back rewritten,
// ready for the host's own validation pass.
package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/kjall/promptfold/pkg/graph"
	"github.com/kjall/promptfold/pkg/logging"
	"github.com/kjall/promptfold/pkg/pubsub"
	"github.com/kjall/promptfold/pkg/schema"
	"github.com/kjall/promptfold/pkg/transform"
)

// Submissions beyond this size are rejected; low-thousands-of-nodes
// graphs stay well under it.
const maxBodyBytes = 32 << 20

// TransformResponse is the sidecar's reply: the rewritten graph in the
// same shape it was submitted, plus the run's stats.
type TransformResponse struct {
	Prompt graph.RawGraph  `json:"prompt"`
	Stats  transform.Stats `json:"stats"`
}

// Server is the sidecar web server.
type Server struct {
	router    *mux.Router
	opts      transform.Options
	schema    schema.NodeClassSchema
	publisher pubsub.Publisher

	mu        sync.RWMutex
	lastStats *transform.Stats
}

// NewServer creates the sidecar with the given engine options and class
// schema.
func NewServer(opts transform.Options, sch schema.NodeClassSchema) *Server {
	ssePublisher := pubsub.NewSSEPublisher()

	// Replay only the latest stats to new subscribers.
	ssePublisher.ConfigureTopic(pubsub.TopicTransformStats, pubsub.TopicConfig{
		BufferSize: 10,
		ReplayAll:  false,
	})

	if sch == nil {
		sch = schema.Default()
	}
	s := &Server{
		router:    mux.NewRouter(),
		opts:      opts,
		schema:    sch,
		publisher: ssePublisher,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/transform", s.handleTransform).Methods("POST")
	s.router.HandleFunc("/api/stats", s.handleStats).Methods("GET")
	s.router.HandleFunc("/api/events", s.handleSubscribeStats).Methods("GET")
	s.router.HandleFunc("/api/health", s.handleHealth).Methods("GET")
}

// Handler returns the full handler chain, with request-ID logging.
func (s *Server) Handler() http.Handler {
	return logging.RequestIDMiddleware(s.router)
}

// Start runs the server on the given port, blocking.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	logging.Info("starting sidecar", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// handleTransform accepts either a bare graph or a submission envelope,
// rewrites it, and returns the result. Per the engine contract this
// endpoint never fails on graph content: a malformed graph comes back
// unmodified with the abort flag set.
func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	raw, targets, err := graph.ParseEnvelope(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result := transform.Transform(raw, targets, s.opts, s.schema)

	s.mu.Lock()
	s.lastStats = &result.Stats
	s.mu.Unlock()
	s.publishStats(r, result.Stats)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(TransformResponse{Prompt: result.Graph, Stats: result.Stats}); err != nil {
		logging.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

func (s *Server) publishStats(r *http.Request, stats transform.Stats) {
	eventType := "transformed"
	if stats.Aborted {
		eventType = "aborted"
	}
	notice := pubsub.TransformNotice{
		RequestID: logging.GetRequestID(r.Context()),
		Nodes:     stats.TotalNodes,
		Folded:    stats.FoldableSwitches,
		Rewritten: stats.RewrittenNodes,
		Pruned:    stats.PrunedNodes,
		ElapsedMs: stats.ElapsedMillis,
		Aborted:   stats.Aborted,
	}
	if err := s.publisher.Publish(pubsub.TopicTransformStats, eventType, notice); err != nil {
		logging.Warn("failed to publish transform stats", "error", err)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	stats := s.lastStats
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if stats == nil {
		w.Write([]byte("{}"))
		return
	}
	json.NewEncoder(w).Encode(stats)
}

func (s *Server) handleSubscribeStats(w http.ResponseWriter, r *http.Request) {
	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// Send initial comment to establish connection (Safari compatibility)
	fmt.Fprintf(w, ": connected\n\n")
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	sub, err := s.publisher.Subscribe(r.Context(), pubsub.TopicTransformStats)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer sub.Close()

	for event := range sub.Events() {
		if err := pubsub.WriteSSE(w, event); err != nil {
			logging.Debug("SSE client disconnected", "error", err)
			return
		}
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
