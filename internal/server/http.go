package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/knoguchi/docchat/internal/llm"
	"github.com/knoguchi/docchat/internal/markdown"
	"github.com/knoguchi/docchat/internal/prompt"
	"github.com/knoguchi/docchat/internal/retrieval"
	"github.com/knoguchi/docchat/internal/session"
	"github.com/knoguchi/docchat/internal/stream"
)

// HTTPServer wraps the chat service's chi-routed HTTP+SSE surface.
type HTTPServer struct {
	server *http.Server
	router *chi.Mux
	logger *slog.Logger
	port   int
}

// HTTPServerConfig holds configuration for the HTTP server.
type HTTPServerConfig struct {
	Port           int
	Logger         *slog.Logger
	AllowedOrigins []string
}

// Deps bundles the wired components the chat handlers call into.
type Deps struct {
	Orchestrator *retrieval.Orchestrator
	Sessions     *session.Store
	Renderer     *markdown.Renderer
	Transport    *stream.Transport
	LLM          llm.LLM
	LLMModel     string
	Citations    int
}

// NewHTTPServer builds the chi router and wraps it in an *http.Server.
func NewHTTPServer(cfg HTTPServerConfig, deps Deps) *HTTPServer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLoggingMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware(cfg.AllowedOrigins))

	router.Get("/healthz", healthCheckHandler())
	router.Get("/readyz", readinessCheckHandler())

	h := &chatHandlers{deps: deps, logger: logger}
	router.Route("/api/chat", func(r chi.Router) {
		r.Post("/stream", h.stream)
		r.Get("/citations", h.citations)
		r.Post("/clear", h.clear)
		r.Get("/session/validate", h.validate)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // streaming responses stay open far longer than a normal request
		IdleTimeout:  120 * time.Second,
	}

	return &HTTPServer{server: server, router: router, logger: logger, port: cfg.Port}
}

// Start runs the HTTP server until it is shut down.
func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// GetRouter returns the underlying chi router for additional route registration.
func (s *HTTPServer) GetRouter() *chi.Mux {
	return s.router
}

type chatStreamRequest struct {
	SessionID string `json:"sessionId"`
	Latest    string `json:"latest"`
}

type chatHandlers struct {
	deps   Deps
	logger *slog.Logger
}

// stream handles POST /api/chat/stream: it runs retrieval before opening
// the SSE response, so a retrieval failure never opens a partial stream
// with text already delivered to the client.
func (h *chatHandlers) stream(w http.ResponseWriter, r *http.Request) {
	var req chatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" || req.Latest == "" {
		http.Error(w, "sessionId and latest are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	history := h.deps.Sessions.History(req.SessionID)

	result, err := h.deps.Orchestrator.Answer(ctx, req.Latest, history)

	sink, sinkErr := stream.NewSink(w)
	if sinkErr != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	if err != nil {
		var tooSmall *prompt.TooSmallError
		if !errors.As(err, &tooSmall) {
			h.logger.Error("retrieval failed", "error", err, "session_id", req.SessionID)
			_ = sink.WriteEvent(stream.EventError, stream.ErrorPayload{Message: err.Error()})
			_ = sink.WriteDone()
			return
		}
	}

	h.deps.Sessions.Append(req.SessionID, session.RoleUser, req.Latest)

	renderedPrompt := prompt.Render(result.Prompt)
	citations := result.Citations
	if len(citations) > h.deps.Citations {
		citations = citations[:h.deps.Citations]
	}

	opener := func(ctx context.Context) (<-chan llm.StreamChunk, error) {
		return h.deps.LLM.GenerateStream(ctx, renderedPrompt, llm.GenerateOptions{
			Model:       h.deps.LLMModel,
			Temperature: 0.2,
		})
	}

	render := h.deps.Renderer.Render
	persist := func(rendered string) {
		h.deps.Sessions.Append(req.SessionID, session.RoleAssistant, rendered)
	}

	if err := h.deps.Transport.Run(ctx, sink, opener, citations, render, persist); err != nil {
		h.logger.Warn("chat stream ended with error", "error", err, "session_id", req.SessionID)
	}
}

// citations handles GET /api/chat/citations?q=...
func (h *chatHandlers) citations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		http.Error(w, "q is required", http.StatusBadRequest)
		return
	}

	citations, err := h.deps.Orchestrator.Citations(r.Context(), q)
	if err != nil {
		h.logger.Error("citations lookup failed", "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if len(citations) > h.deps.Citations {
		citations = citations[:h.deps.Citations]
	}

	writeJSON(w, http.StatusOK, citations)
}

// clear handles POST /api/chat/clear?sessionId=...
func (h *chatHandlers) clear(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}
	h.deps.Sessions.Clear(sessionID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// validate handles GET /api/chat/session/validate?sessionId=... and never
// creates the session.
func (h *chatHandlers) validate(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}

	exists := h.deps.Sessions.Exists(sessionID)
	message := "session not found"
	if exists {
		message = "session exists"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exists":  exists,
		"message": message,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// requestLoggingMiddleware logs HTTP requests.
func requestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// corsMiddleware handles CORS headers.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			if len(allowedOrigins) == 0 {
				allowed = true
				origin = "*"
			} else {
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						allowed = true
						break
					}
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, X-Request-ID")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// healthCheckHandler returns a handler for the /healthz endpoint.
func healthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

// readinessCheckHandler returns a handler for the /readyz endpoint.
func readinessCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
