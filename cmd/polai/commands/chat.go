package commands

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/polai-go/internal/agent"
	"github.com/54b3r/polai-go/internal/embedder"
	"github.com/54b3r/polai-go/internal/logging"
	"github.com/54b3r/polai-go/internal/provider"
	"github.com/54b3r/polai-go/internal/tui"
)

// NewChatCmd constructs the `polai chat` command, which starts an
// interactive terminal session with the assistant.
func NewChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively about the policy document",
		Long: `Start an interactive terminal chat with the polai assistant.

Every session gets its own ID, and turns are persisted to the conversation
store so follow-up questions can build on earlier answers. Inside the
session, /save <path> exports the transcript as Markdown and /quit exits.

Examples:
  polai chat
  POLAI_HISTORY_DB=disabled polai chat`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("chat: failed to initialise model provider: %w", err)
			}

			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("chat: failed to initialise embedder: %w", err)
			}

			stack, err := newRetrievalStack(log, emb, nil)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
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
				return fmt.Errorf("chat: failed to initialise agent: %w", err)
			}

			// Get the index ready before the TUI takes over the terminal,
			// so the first question is not stuck behind a silent build.
			if err := stack.service.Warm(ctx); err != nil {
				log.Error("index preparation failed", slog.Any("error", err))
				return errors.New(agent.ExplainError(err))
			}

			return tui.Run(policyAgent)
		},
	}
}
