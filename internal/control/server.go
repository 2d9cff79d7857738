package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mbergkamp/ratchet/internal/engine/session"
)

// Server provides the HTTP operator surface: health, session state, the
// attempt journal, item-level interventions, and Prometheus metrics.
type Server struct {
	runner *Runner
	server *http.Server
}

// NewServer creates the status server.
func NewServer(runner *Runner, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		runner: runner,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /sessions", s.handleSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleSession)
	mux.HandleFunc("GET /sessions/{id}/attempts", s.handleAttempts)
	mux.HandleFunc("GET /sessions/{id}/items/{key}/history", s.handleHistory)
	mux.HandleFunc("POST /sessions/{id}/items/{key}/requeue", s.handleRequeue)
	mux.HandleFunc("POST /sessions/{id}/items/{key}/resolve", s.handleResolve)
	mux.HandleFunc("POST /sessions/{id}/items/{key}/abandon", s.handleAbandon)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	// A latched session means a resource died beyond recovery; surface it
	// the way load balancers expect.
	for _, sum := range s.runner.Summaries() {
		if sum.ResourceUnusable {
			status = "degraded"
			code = http.StatusServiceUnavailable
			break
		}
	}

	writeJSON(w, code, map[string]string{"status": status})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.Summaries())
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	view, ok := s.runner.View(r.PathValue("id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.runner.Session(r.PathValue("id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	recs, err := s.runner.Journal().SessionAttempts(r.Context(), sess.ID())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.runner.Session(r.PathValue("id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	recs, err := s.runner.Journal().ItemHistory(r.Context(), sess.ID(), r.PathValue("key"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	s.intervene(w, r, func(sess *session.Session, key string) error {
		return sess.Requeue(key)
	})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Payload json.RawMessage `json:"payload"`
	}
	if r.Body != nil {
		// An empty body is fine; resolve then carries no payload.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	s.intervene(w, r, func(sess *session.Session, key string) error {
		var payload any
		if len(body.Payload) > 0 {
			payload = body.Payload
		}
		return sess.Resolve(key, payload)
	})
}

func (s *Server) handleAbandon(w http.ResponseWriter, r *http.Request) {
	s.intervene(w, r, func(sess *session.Session, key string) error {
		return sess.Abandon(key)
	})
}

func (s *Server) intervene(w http.ResponseWriter, r *http.Request, op func(sess *session.Session, key string) error) {
	sess, ok := s.runner.Session(r.PathValue("id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	key := r.PathValue("key")
	if err := op(sess, key); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	item, err := sess.ItemByKey(key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
