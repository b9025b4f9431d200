package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/54b3r/polai-go/internal/store"
)

func transcriptMessages() []store.Message {
	at := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	return []store.Message{
		{Role: store.RoleUser, Content: "How many vacation days do I get?", CreatedAt: at},
		{Role: store.RoleAssistant, Content: "Employees receive 25 days of annual leave.", CreatedAt: at.Add(5 * time.Second)},
	}
}

func Test_WriteTranscript_RendersTurnsInOrder(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "transcript.md")
	if err := WriteTranscript(path, "sess-42", transcriptMessages()); err != nil {
		t.Fatalf("WriteTranscript: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	text := string(raw)

	for _, want := range []string{
		"# Policy chat transcript",
		"Session: sess-42",
		"**You** (2025-06-02 09:30):",
		"How many vacation days do I get?",
		"**polai** (2025-06-02 09:30):",
		"Employees receive 25 days of annual leave.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("transcript missing %q:\n%s", want, text)
		}
	}

	// The question must precede the answer.
	q := strings.Index(text, "How many vacation days")
	ans := strings.Index(text, "Employees receive 25 days")
	if q < 0 || ans < 0 || q > ans {
		t.Errorf("turn order wrong: question at %d, answer at %d", q, ans)
	}
}

func Test_WriteTranscript_CreatesParentDirectories(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "exports", "june", "transcript.md")
	if err := WriteTranscript(path, "sess-1", transcriptMessages()); err != nil {
		t.Fatalf("WriteTranscript: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected transcript at %s: %v", path, err)
	}
}

func Test_WriteTranscript_EmptySessionStillWritesHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.md")
	if err := WriteTranscript(path, "sess-empty", nil); err != nil {
		t.Fatalf("WriteTranscript: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(raw), "Session: sess-empty") {
		t.Errorf("header missing from empty transcript:\n%s", raw)
	}
}
