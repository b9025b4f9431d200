package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/54b3r/polai-go/internal/rag"
	"github.com/54b3r/polai-go/internal/store"
)

// fakeAsker records the question it was asked and returns a canned answer.
type fakeAsker struct {
	answer      string
	err         error
	gotSession  string
	gotQuestion string
}

func (f *fakeAsker) Answer(_ context.Context, sessionID, question string, w io.Writer) error {
	f.gotSession = sessionID
	f.gotQuestion = question
	if f.err != nil {
		return f.err
	}
	_, err := io.WriteString(w, f.answer)
	return err
}

// mustModel asserts the tea.Model returned by Update/submit is our Model.
func mustModel(t *testing.T, m tea.Model) Model {
	t.Helper()
	mm, ok := m.(Model)
	if !ok {
		t.Fatalf("model type = %T, want tui.Model", m)
	}
	return mm
}

func TestNew_MintsDistinctSessions(t *testing.T) {
	t.Parallel()

	a := New(&fakeAsker{})
	b := New(&fakeAsker{})

	if a.sessionID == "" {
		t.Fatal("session ID is empty")
	}
	if a.sessionID == b.sessionID {
		t.Fatalf("two models share session ID %q", a.sessionID)
	}
}

func TestSubmit_AsksAgentAndRecordsTurns(t *testing.T) {
	t.Parallel()

	asker := &fakeAsker{answer: "25 days per year."}
	m := New(asker)
	m.input.SetValue("How many vacation days do I get?")

	next, cmd := m.submit()
	mm := mustModel(t, next)

	if !mm.waiting {
		t.Error("model is not waiting after submit")
	}
	if len(mm.turns) != 1 || mm.turns[0].role != store.RoleUser {
		t.Fatalf("turns after submit = %+v, want one user turn", mm.turns)
	}
	if cmd == nil {
		t.Fatal("submit returned no command")
	}

	msg := cmd()
	ans, ok := msg.(answerMsg)
	if !ok {
		t.Fatalf("command produced %T, want answerMsg", msg)
	}
	if ans.text != "25 days per year." {
		t.Errorf("answer = %q", ans.text)
	}
	if asker.gotQuestion != "How many vacation days do I get?" {
		t.Errorf("agent asked %q", asker.gotQuestion)
	}
	if asker.gotSession != mm.sessionID {
		t.Errorf("agent session = %q, want %q", asker.gotSession, mm.sessionID)
	}

	next, _ = mm.Update(msg)
	mm = mustModel(t, next)
	if mm.waiting {
		t.Error("model still waiting after answer")
	}
	if len(mm.turns) != 2 || mm.turns[1].role != store.RoleAssistant {
		t.Fatalf("turns after answer = %+v, want user then assistant", mm.turns)
	}
	if mm.turns[1].content != "25 days per year." {
		t.Errorf("assistant turn = %q", mm.turns[1].content)
	}
}

func TestSubmit_ErrorKeepsSessionAlive(t *testing.T) {
	t.Parallel()

	asker := &fakeAsker{err: fmt.Errorf("agent: %w: dial tcp refused", rag.ErrProviderUnavailable)}
	m := New(asker)
	m.input.SetValue("anything")

	next, cmd := m.submit()
	mm := mustModel(t, next)

	msg := cmd()
	if _, ok := msg.(answerErrMsg); !ok {
		t.Fatalf("command produced %T, want answerErrMsg", msg)
	}

	next, _ = mm.Update(msg)
	mm = mustModel(t, next)

	if mm.waiting {
		t.Error("model still waiting after error")
	}
	if !mm.statusErr {
		t.Error("status not marked as error")
	}
	if !strings.Contains(mm.status, "unreachable") {
		t.Errorf("status = %q, want the plain-language provider message", mm.status)
	}
	// Only the user turn remains; the session can keep going.
	if len(mm.turns) != 1 {
		t.Fatalf("turns = %d, want 1", len(mm.turns))
	}

	mm.input.SetValue("try again")
	_, cmd = mm.submit()
	if cmd == nil {
		t.Fatal("retry after error returned no command")
	}
}

func TestSubmit_SaveWritesTranscript(t *testing.T) {
	t.Parallel()

	m := New(&fakeAsker{})
	m.turns = []turn{
		{role: store.RoleUser, content: "What is the notice period?", at: time.Now()},
		{role: store.RoleAssistant, content: "Two weeks.", at: time.Now()},
	}

	path := filepath.Join(t.TempDir(), "chat.md")
	m.input.SetValue("/save " + path)

	_, cmd := m.submit()
	if cmd == nil {
		t.Fatal("/save returned no command")
	}
	msg := cmd()
	saved, ok := msg.(savedMsg)
	if !ok {
		t.Fatalf("command produced %T, want savedMsg", msg)
	}
	if saved.err != nil {
		t.Fatalf("save failed: %v", saved.err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading transcript: %v", err)
	}
	content := string(data)
	for _, want := range []string{"# Policy chat transcript", "What is the notice period?", "Two weeks."} {
		if !strings.Contains(content, want) {
			t.Errorf("transcript missing %q", want)
		}
	}
}

func TestSubmit_SaveWithoutPathShowsUsage(t *testing.T) {
	t.Parallel()

	m := New(&fakeAsker{})
	m.input.SetValue("/save")

	next, cmd := m.submit()
	mm := mustModel(t, next)

	if cmd != nil {
		t.Error("bare /save returned a command")
	}
	if !mm.statusErr || !strings.Contains(mm.status, "usage") {
		t.Errorf("status = %q, want usage hint", mm.status)
	}
}

func TestSubmit_UnknownCommand(t *testing.T) {
	t.Parallel()

	m := New(&fakeAsker{})
	m.input.SetValue("/frobnicate")

	next, cmd := m.submit()
	mm := mustModel(t, next)

	if cmd != nil {
		t.Error("unknown command returned a command")
	}
	if !strings.Contains(mm.status, "unknown command /frobnicate") {
		t.Errorf("status = %q", mm.status)
	}
	if len(mm.turns) != 0 {
		t.Errorf("unknown command recorded a turn: %+v", mm.turns)
	}
}

func TestSubmit_QuitCommand(t *testing.T) {
	t.Parallel()

	m := New(&fakeAsker{})
	m.input.SetValue("/quit")

	_, cmd := m.submit()
	if cmd == nil {
		t.Fatal("/quit returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("/quit did not produce a quit message")
	}
}

func TestSubmit_WhileWaitingIsIgnored(t *testing.T) {
	t.Parallel()

	m := New(&fakeAsker{})
	m.waiting = true
	m.input.SetValue("a second question")

	next, cmd := m.submit()
	mm := mustModel(t, next)

	if cmd != nil {
		t.Error("submit while waiting returned a command")
	}
	if len(mm.turns) != 0 {
		t.Errorf("submit while waiting recorded a turn: %+v", mm.turns)
	}
}

func TestUpdate_EnterSubmits(t *testing.T) {
	t.Parallel()

	asker := &fakeAsker{answer: "ok"}
	m := New(asker)
	m.input.SetValue("hello")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	mm := mustModel(t, next)

	if cmd == nil {
		t.Fatal("enter returned no command")
	}
	if len(mm.turns) != 1 {
		t.Fatalf("turns = %d, want 1", len(mm.turns))
	}
}

func TestUpdate_CtrlCQuits(t *testing.T) {
	t.Parallel()

	m := New(&fakeAsker{})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("ctrl+c returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("ctrl+c did not produce a quit message")
	}
}

func TestUpdate_ErrorVariants(t *testing.T) {
	t.Parallel()

	m := New(&fakeAsker{})
	next, _ := m.Update(answerErrMsg{err: errors.New("some backend detail")})
	mm := mustModel(t, next)

	if !mm.statusErr {
		t.Error("status not marked as error")
	}
	if !strings.Contains(mm.status, "some backend detail") {
		t.Errorf("status = %q, want pass-through for unknown errors", mm.status)
	}
}
