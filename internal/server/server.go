// Package server implements the HTTP server that exposes the policy assistant
// over a REST/SSE API. The server is started by the `polai serve` CLI command.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/polai-go/internal/agent"
	"github.com/54b3r/polai-go/internal/logging"
)

// New constructs a Server from the provided agent and config.
func New(ag *agent.Agent, cfg *Config) (*Server, error) {
	if ag == nil {
		return nil, fmt.Errorf("server: agent must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = 4 * time.Minute
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		reg := prometheus.NewRegistry()
		cfg.MetricsRegistry = reg
		if cfg.MetricsGatherer == nil {
			cfg.MetricsGatherer = reg
		}
	}

	s := &Server{
		answerer: ag,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		history:  cfg.History,
		index:    cfg.Index,
		runner:   cfg.Runner,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: API key not set; /api routes are unauthenticated")
	}

	rps := cfg.RateLimit
	if rps <= 0 {
		rps = defaultRateLimit
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = defaultRateBurst
	}
	s.rl, s.stopRL = newRateLimiter(rps, burst, s.log)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// routes assembles the full handler tree: protected API routes behind auth,
// public probe and metrics routes, and the request logger outermost.
func (s *Server) routes() http.Handler {
	chat := s.instrument("chat", http.HandlerFunc(s.handleChat))
	if s.rl != nil {
		chat = s.rl.middleware(chat)
	}

	// Protected routes. Patterns carry the full path; the root mux delegates
	// the /api/ subtree here after auth.
	api := http.NewServeMux()
	api.Handle("POST /api/chat", chat)
	api.Handle("GET /api/sessions/{id}", s.instrument("session", http.HandlerFunc(s.handleSession)))
	api.Handle("GET /api/documents", s.instrument("documents", http.HandlerFunc(s.handleDocuments)))
	api.Handle("GET /api/document", s.instrument("document", http.HandlerFunc(s.handleDocumentPreview)))

	// Probe and metrics routes stay public so orchestrators can reach them
	// without credentials. The more specific patterns win over "/api/".
	root := http.NewServeMux()
	root.Handle("/api/", authMiddleware(s.cfg.APIKey, api))
	root.Handle("GET /api/healthz", s.instrument("healthz", http.HandlerFunc(s.handleHealth)))
	root.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	if s.cfg.MetricsGatherer != nil {
		root.Handle("GET /api/metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))
	}

	return requestLogger(s.log, root)
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	if s.stopRL != nil {
		defer s.stopRL()
	}

	errCh := make(chan error, 1)

	go func() {
		fmt.Printf("polai server listening on http://%s\n", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleChat handles POST /api/chat. The composed answer is streamed as
// Server-Sent Events so clients can render tokens as they arrive. Failures
// after the stream has started are delivered in-band as "error" events with
// a 200 status, since the headers are already on the wire.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	sessionID := req.SessionID
	newSession := false
	if sessionID == "" {
		sessionID = uuid.NewString()
		newSession = true
	}

	// Set SSE headers so the client receives a streaming response.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", s.cfg.CORSOrigin)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	if s.cfg.ChatTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ChatTimeout)
		defer cancel()
	}

	// Announce a generated session ID up front so the client can thread
	// follow-up questions even if this answer fails midway.
	if newSession {
		fmt.Fprintf(w, "event: session\ndata: %s\n\n", sessionID)
		flusher.Flush()
	}

	// sseWriter wraps the ResponseWriter to emit SSE-formatted data events.
	sw := &sseWriter{w: w, flusher: flusher}

	s.metrics.chatActiveStreams.Inc()
	start := time.Now()
	err := s.answerer.Answer(ctx, sessionID, req.Message, sw)
	elapsed := time.Since(start)
	s.metrics.chatActiveStreams.Dec()

	outcome := outcomeOK
	if err != nil {
		outcome = outcomeError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			outcome = outcomeTimeout
		}
		logging.FromContext(r.Context()).Error("chat failed",
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
		// SSE frames are newline-delimited; the message must stay on one line.
		msg := strings.ReplaceAll(agent.ExplainError(err), "\n", " ")
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", msg)
		flusher.Flush()
	} else {
		// Signal stream completion.
		fmt.Fprintf(w, "event: done\ndata: [DONE]\n\n")
		flusher.Flush()
	}

	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// handleHealth handles GET /api/healthz for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// sseWriter wraps an http.ResponseWriter to emit Server-Sent Event data frames.
type sseWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter

	// flusher flushes buffered data to the client after each write.
	flusher http.Flusher
}

// Write formats p as one or more SSE data lines and flushes to the client.
// Each newline in p is prefixed with "data: " so multi-line chunks never
// break the SSE frame boundary.
func (s *sseWriter) Write(p []byte) (n int, err error) {
	chunk := strings.TrimRight(string(bytes.Clone(p)), "\n")
	lines := strings.Split(chunk, "\n")
	var buf strings.Builder
	for _, line := range lines {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	if _, err = fmt.Fprint(s.w, buf.String()); err != nil {
		return 0, err
	}
	s.flusher.Flush()
	return len(p), nil
}
