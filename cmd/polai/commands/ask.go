package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/54b3r/polai-go/internal/agent"
	"github.com/54b3r/polai-go/internal/embedder"
	"github.com/54b3r/polai-go/internal/logging"
	"github.com/54b3r/polai-go/internal/provider"
	"github.com/54b3r/polai-go/internal/tracing"
)

// NewAskCmd constructs the `polai ask` command, which answers a single
// natural language question about the policy document and streams the
// response to stdout.
func NewAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a one-off question about the policy document",
		Long: `Ask the polai assistant a natural language question about the policy document.

The first question builds the vector index (document extraction plus one
embedding pass) and persists it; later questions reuse the stored artifact.

Examples:
  polai ask "how many vacation days do full-time employees get?"
  polai ask "what is the notice period for resignation?"
  POLICY_DOCUMENT=handbook.pdf polai ask "does the handbook cover remote work?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			// Langfuse tracing is opt-in and silent when keys are absent.
			// Flush before exit or the short-lived process drops spans.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
			}

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}

			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("ask: failed to initialise embedder: %w", err)
			}

			stack, err := newRetrievalStack(log, emb, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer stack.close()

			policyAgent, err := agent.New(ctx, &agent.Config{
				ChatModel: chatModel,
				Retriever: stack.service,
			})
			if err != nil {
				return fmt.Errorf("ask: failed to initialise agent: %w", err)
			}

			question := strings.Join(args, " ")
			if err := policyAgent.Answer(ctx, "", question, os.Stdout); err != nil {
				// Full chain goes to the structured log; the terminal gets
				// one plain-language line.
				log.Error("ask failed", slog.Any("error", err))
				return errors.New(agent.ExplainError(err))
			}
			fmt.Println()
			return nil
		},
	}

	return cmd
}
