package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/polai-go/internal/loader"
	"github.com/54b3r/polai-go/internal/rag"
	"github.com/54b3r/polai-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds a single /api/chat request from body decode to
	// stream completion. It must stay below WriteTimeout or the connection
	// is torn down before the timeout can be reported in-band.
	ChatTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// CORSOrigin is the Access-Control-Allow-Origin value sent on chat
	// responses. Defaults to "*" if empty.
	CORSOrigin string
	// MetricsRegistry receives every metric registration for this server
	// instance. If nil, a private registry is created and used as the
	// gatherer too, keeping instances (and tests) isolated from the default
	// registry.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /api/metrics. Usually the same value as
	// MetricsRegistry; when nil the metrics route is not registered.
	MetricsGatherer prometheus.Gatherer
	// History backs GET /api/sessions/{id}. Nil when persistence is disabled.
	History store.ConversationStore
	// Index is the artifact store whose presence GET /api/documents reports.
	// Nil when no index store is configured.
	Index rag.ArtifactStore
	// DocumentDir is the directory scanned by GET /api/documents and
	// GET /api/document when the request does not name one.
	DocumentDir string
	// Runner extracts PDF text for GET /api/document previews. Nil when
	// pdftotext is unavailable; PDF previews then return 503.
	Runner loader.Runner
}

// answerer is the interface handleChat calls to stream a response.
// *agent.Agent satisfies it; tests inject a fake.
type answerer interface {
	// Answer streams the composed answer for question to w, threading
	// conversation history under sessionID.
	Answer(ctx context.Context, sessionID, question string, w io.Writer) error
}

// Server is the HTTP server that fronts the policy agent.
type Server struct {
	// answerer streams answers for handleChat; set to the policy agent in
	// production, overridden by a fake in tests.
	answerer answerer
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments registered for this instance.
	metrics *serverMetrics
	// history backs GET /api/sessions/{id}; nil when persistence is disabled.
	history store.ConversationStore
	// index is the artifact store reported by GET /api/documents; may be nil.
	index rag.ArtifactStore
	// runner extracts document text for previews; may be nil.
	runner loader.Runner
	// rl rate-limits POST /api/chat per client IP; nil disables limiting.
	rl *rateLimiter
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// Message is the user's natural-language question.
	Message string `json:"message"`
	// SessionID threads conversation history across requests. When empty
	// the server generates one and announces it in an SSE "session" event.
	SessionID string `json:"session_id,omitempty"`
}

// sessionResponse is the JSON response for GET /api/sessions/{id}.
type sessionResponse struct {
	// SessionID is the session that was read.
	SessionID string `json:"session_id"`
	// Turns is the persisted conversation, oldest first.
	Turns []sessionTurn `json:"turns"`
}

// sessionTurn is a single persisted message within a session.
type sessionTurn struct {
	// Role is "user" or "assistant".
	Role string `json:"role"`
	// Content is the message text.
	Content string `json:"content"`
	// CreatedAt is when the message was persisted.
	CreatedAt time.Time `json:"createdAt"`
}

// documentsResponse is the JSON response for GET /api/documents.
type documentsResponse struct {
	// Dir is the cleaned absolute directory that was scanned.
	Dir string `json:"dir"`
	// Documents lists candidate policy documents, paths relative to Dir.
	Documents []documentEntry `json:"documents"`
	// Indexed indicates a persisted vector index artifact exists.
	Indexed bool `json:"indexed"`
	// IndexLocation describes where the index artifact lives, when known.
	IndexLocation string `json:"indexLocation,omitempty"`
}

// documentEntry is one entry in a documentsResponse.
type documentEntry struct {
	// Path is the document path relative to the scanned directory.
	Path string `json:"path"`
	// SizeBytes is the document size on disk.
	SizeBytes int64 `json:"sizeBytes"`
}

// documentResponse is the JSON response for GET /api/document.
type documentResponse struct {
	// Path is the absolute path of the document that was previewed.
	Path string `json:"path"`
	// Content is the extracted plain text, possibly truncated.
	Content string `json:"content"`
	// Truncated indicates Content was cut at the preview size cap.
	Truncated bool `json:"truncated"`
}
