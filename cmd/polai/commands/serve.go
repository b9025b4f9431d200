package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/54b3r/polai-go/internal/agent"
	"github.com/54b3r/polai-go/internal/embedder"
	"github.com/54b3r/polai-go/internal/logging"
	"github.com/54b3r/polai-go/internal/provider"
	"github.com/54b3r/polai-go/internal/rag"
	"github.com/54b3r/polai-go/internal/server"
	"github.com/54b3r/polai-go/internal/tracing"
)

// NewServeCmd constructs the `polai serve` command, which exposes the
// assistant over a REST/SSE API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the polai HTTP server",
		Long: `Start the polai HTTP server on localhost.

The server exposes the assistant over a REST/SSE API:

  POST /api/chat           ask a question; the answer streams back as SSE
  GET  /api/sessions/{id}  persisted turns for one session
  GET  /api/documents      candidate policy documents and index status
  GET  /api/document       extracted text preview of one document
  GET  /api/healthz        liveness
  GET  /api/ready          readiness (model, index, qdrant when configured)
  GET  /api/metrics        Prometheus metrics

Set POLAI_API_KEY to require Bearer authentication on the API routes.

Examples:
  polai serve
  polai serve --port 9090
  MODEL_PROVIDER=azure polai serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing: opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			providerCfg := provider.ConfigFromEnv()
			chatModel, err := provider.New(ctx, providerCfg)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", string(providerCfg.Backend)))

			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("serve: failed to initialise embedder: %w", err)
			}

			// The serve path gets the query cache: repeat questions across
			// clients skip the embed-and-search work entirely.
			cache := rag.NewQueryCache(
				getEnvInt("RETRIEVAL_CACHE_SIZE", 0),
				time.Duration(getEnvInt("RETRIEVAL_CACHE_TTL", 0))*time.Second,
			)

			stack, err := newRetrievalStack(log, emb, cache)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer stack.close()

			history := openHistory(log)
			if history != nil {
				defer func() { _ = history.Close() }()
			}

			policyAgent, err := agent.New(ctx, &agent.Config{
				ChatModel: chatModel,
				Retriever: stack.service,
				History:   history,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to initialise agent: %w", err)
			}

			// Flags win; env fills in when the flag was left untouched.
			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("SERVER_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("SERVER_PORT", port)
			}

			srv, err := server.New(policyAgent, &server.Config{
				Host:        host,
				Port:        port,
				Logger:      log,
				Pingers:     buildPingers(chatModel, providerCfg, stack),
				APIKey:      os.Getenv("POLAI_API_KEY"),
				RateLimit:   float64(getEnvInt("SERVER_RATE_LIMIT", 0)),
				CORSOrigin:  os.Getenv("SERVER_CORS_ORIGIN"),
				History:     history,
				Index:       stack.store,
				DocumentDir: stack.documentDir(),
				Runner:      stack.runner,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
