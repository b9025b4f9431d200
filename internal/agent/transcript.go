package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/54b3r/polai-go/internal/store"
)

// WriteTranscript renders the session's messages as a Markdown transcript
// and writes it to path, creating parent directories as needed. An existing
// file at path is overwritten.
func WriteTranscript(path, sessionID string, msgs []store.Message) error {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Policy chat transcript\n\n")
	fmt.Fprintf(&sb, "Session: %s\n", sessionID)
	fmt.Fprintf(&sb, "Exported: %s\n\n---\n\n", time.Now().UTC().Format(time.RFC3339))

	for _, m := range msgs {
		fmt.Fprintf(&sb, "**%s** (%s):\n\n%s\n\n",
			roleLabel(m.Role),
			m.CreatedAt.Format("2006-01-02 15:04"),
			strings.TrimSpace(m.Content),
		)
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("agent: transcript: failed to create directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("agent: transcript: failed to write %s: %w", path, err)
	}

	return nil
}

// roleLabel maps a stored role to its transcript heading.
func roleLabel(r store.Role) string {
	if r == store.RoleAssistant {
		return "polai"
	}
	return "You"
}
