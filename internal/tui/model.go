// Package tui implements the interactive terminal chat behind `polai chat`,
// built on Bubble Tea. The model keeps the full transcript in memory for
// display and export; durable history is the agent's concern.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/54b3r/polai-go/internal/agent"
	"github.com/54b3r/polai-go/internal/store"
)

// Asker is the TUI-facing subset of the policy agent.
type Asker interface {
	Answer(ctx context.Context, sessionID, question string, w io.Writer) error
}

// turn is one displayed message in the transcript.
type turn struct {
	role    store.Role
	content string
	at      time.Time
}

// Model is the Bubble Tea model for the chat session.
type Model struct {
	asker     Asker
	sessionID string
	input     textinput.Model
	viewport  viewport.Model
	turns     []turn
	status    string
	statusErr bool
	waiting   bool
	ready     bool
}

// New creates a chat model with a fresh session ID.
func New(asker Asker) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the policy document and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		asker:     asker,
		sessionID: uuid.NewString(),
		input:     ti,
		viewport:  vp,
		status:    "Type a question to begin.",
	}
}

// Run starts the interactive chat and blocks until the user quits.
func Run(asker Asker) error {
	_, err := tea.NewProgram(New(asker), tea.WithAltScreen()).Run()
	return err
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window, and answer events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around the transcript and input boxes
		_, th := chatBoxStyle.GetFrameSize()
		_, ih := inputBoxStyle.GetFrameSize()
		reserved := 2 + ih + 1 + 1 // header+help, input frame, status, spacer
		vh := msg.Height - reserved - th
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = vh
		m.input.Width = max(20, msg.Width-6)
		m.viewport.SetContent(m.renderTranscript())
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEnter {
			return m.submit()
		}

	case answerMsg:
		m.waiting = false
		m.turns = append(m.turns, turn{role: store.RoleAssistant, content: msg.text, at: time.Now()})
		m.setStatus("Ready.", false)
		m.viewport.SetContent(m.renderTranscript())
		m.viewport.GotoBottom()
		return m, nil

	case answerErrMsg:
		// The session survives a failed answer; the error lands in the
		// status line in plain language and the user can retry.
		m.waiting = false
		m.setStatus(agent.ExplainError(msg.err), true)
		return m, nil

	case savedMsg:
		if msg.err != nil {
			m.setStatus("Save failed: "+msg.err.Error(), true)
		} else {
			m.setStatus("Transcript saved to "+msg.path, false)
		}
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// submit handles Enter: slash commands first, otherwise ask the agent.
func (m Model) submit() (tea.Model, tea.Cmd) {
	raw := strings.TrimSpace(m.input.Value())
	switch {
	case raw == "":
		return m, nil

	case raw == "/quit" || raw == "/exit":
		return m, tea.Quit

	case strings.HasPrefix(raw, "/save"):
		path := strings.TrimSpace(strings.TrimPrefix(raw, "/save"))
		if path == "" {
			m.setStatus("usage: /save <path>", true)
			return m, nil
		}
		m.input.Reset()
		return m, m.saveCmd(path)

	case strings.HasPrefix(raw, "/"):
		m.setStatus("unknown command "+raw+" (try /save <path> or /quit)", true)
		return m, nil
	}

	if m.waiting {
		m.setStatus("Still working on the last question.", false)
		return m, nil
	}

	m.turns = append(m.turns, turn{role: store.RoleUser, content: raw, at: time.Now()})
	m.waiting = true
	m.setStatus("Thinking...", false)
	m.input.Reset()
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
	return m, m.askCmd(raw)
}

// askCmd runs the agent off the UI loop and delivers the result as a message.
func (m Model) askCmd(question string) tea.Cmd {
	asker, sessionID := m.asker, m.sessionID
	return func() tea.Msg {
		var buf strings.Builder
		if err := asker.Answer(context.Background(), sessionID, question, &buf); err != nil {
			return answerErrMsg{err: err}
		}
		return answerMsg{text: buf.String()}
	}
}

// saveCmd exports the in-memory transcript to path as Markdown.
func (m Model) saveCmd(path string) tea.Cmd {
	msgs := make([]store.Message, 0, len(m.turns))
	for _, t := range m.turns {
		msgs = append(msgs, store.Message{Role: t.role, Content: t.content, CreatedAt: t.at})
	}
	sessionID := m.sessionID
	return func() tea.Msg {
		return savedMsg{path: path, err: agent.WriteTranscript(path, sessionID, msgs)}
	}
}

// View renders the chat layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := titleStyle.Render("polai policy chat")
	help := dimStyle.Render(fmt.Sprintf("session %s  |  /save <path> to export  |  /quit or ctrl+c to exit", shortID(m.sessionID)))
	transcript := chatBoxStyle.Render(m.viewport.View())
	input := inputBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	if m.statusErr {
		status = errStyle.Render(m.status)
	}
	return header + "\n" + help + "\n" + transcript + "\n" + input + "\n" + status
}

// renderTranscript renders every turn, wrapped to the viewport width.
func (m Model) renderTranscript() string {
	if len(m.turns) == 0 {
		return dimStyle.Render("Ask a question about the policy document to get started.")
	}
	wrap := lipgloss.NewStyle().Width(max(20, m.viewport.Width-2))
	var sb strings.Builder
	for i, t := range m.turns {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		label := youStyle.Render("You")
		if t.role == store.RoleAssistant {
			label = botStyle.Render("polai")
		}
		sb.WriteString(label + "\n" + wrap.Render(t.content))
	}
	return sb.String()
}

func (m *Model) setStatus(s string, isErr bool) {
	m.status = s
	m.statusErr = isErr
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// answerMsg delivers a completed answer from the agent goroutine.
type answerMsg struct{ text string }

// answerErrMsg delivers a failed answer.
type answerErrMsg struct{ err error }

// savedMsg reports the outcome of a /save export.
type savedMsg struct {
	path string
	err  error
}

var (
	chatBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	titleStyle    = lipgloss.NewStyle().Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	youStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	botStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)
