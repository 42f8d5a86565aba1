// Package httpapi exposes the engine over HTTP. It is a thin collaborator:
// all interaction semantics live in the engine, this layer only decodes
// requests and encodes results.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	uichat "github.com/uichat/uichat"
	"github.com/uichat/uichat/api"
	"github.com/uichat/uichat/log"
)

// Server routes HTTP requests to an Engine.
type Server struct {
	engine *uichat.Engine
	logger *log.Logger
	router chi.Router
}

// New builds the router.
func New(engine *uichat.Engine, logger *log.Logger) *Server {
	s := &Server{engine: engine, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/send", s.handleSend)
		r.Get("/status", s.handleStatusAll)
		r.Get("/status/{provider}", s.handleStatus)
		r.Post("/providers/{provider}/session", s.handleNewSession)
		r.Post("/discover", s.handleDiscover)
	})
	r.Handle("/metrics", promhttp.Handler())
	s.router = r
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

type sendRequest struct {
	Provider        string `json:"provider"`
	Prompt          string `json:"prompt"`
	WaitForResponse *bool  `json:"waitForResponse,omitempty"`
	TimeoutSeconds  int    `json:"timeoutSeconds,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "decoding request body: "+err.Error())
		return
	}
	if req.Provider == "" || req.Prompt == "" {
		s.writeError(w, http.StatusBadRequest, "provider and prompt are required")
		return
	}

	wait := true
	if req.WaitForResponse != nil {
		wait = *req.WaitForResponse
	}
	timeout := time.Duration(req.TimeoutSeconds) * time.Second

	result := s.engine.Send(r.Context(), req.Provider, req.Prompt, wait, timeout)
	// Interaction failures are part of the result contract, not HTTP faults.
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	snap, err := s.engine.Status(provider)
	if err != nil {
		s.writeJSON(w, statusCode(err), map[string]interface{}{"error": api.AsError(err)})
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStatusAll(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": s.engine.StatusAll(),
	})
}

func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if err := s.engine.StartNewSession(r.Context(), provider); err != nil {
		s.writeJSON(w, statusCode(err), map[string]interface{}{"error": api.AsError(err)})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DiscoverPages(r.Context()); err != nil {
		s.writeJSON(w, http.StatusBadGateway, map[string]interface{}{"error": api.AsError(err)})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusCode(err error) int {
	switch api.KindOf(err) {
	case api.KindTransportNotAttached:
		return http.StatusNotFound
	case api.KindProviderBusy:
		return http.StatusConflict
	case api.KindProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Errorf("httpapi", "encoding response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}
