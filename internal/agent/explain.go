package agent

import (
	"context"
	"errors"

	"github.com/54b3r/polai-go/internal/rag"
)

// ExplainError maps pipeline errors onto short messages fit for an end user.
// The full error chain still belongs in logs; this is only the human-facing
// line shown by the CLI, the TUI, and the HTTP error events.
func ExplainError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out before an answer was ready. Try again, or ask a narrower question."
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	case errors.Is(err, rag.ErrProviderUnavailable):
		return "The model provider is unreachable. Check that the backend is running and its credentials are set."
	case errors.Is(err, rag.ErrCorruptIndex):
		return "The stored policy index is corrupt. Run `polai build --force` to rebuild it."
	case errors.Is(err, rag.ErrDocumentUnreadable):
		return "The policy document could not be read. Check the configured document path and that pdftotext is installed."
	case errors.Is(err, rag.ErrEmbeddingFailure):
		return "Embedding the question failed. Check the embedding provider settings."
	case errors.Is(err, rag.ErrInvalidConfiguration):
		return "Configuration problem: " + err.Error()
	default:
		return err.Error()
	}
}
