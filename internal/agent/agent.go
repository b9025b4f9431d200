// Package agent wires the Eino ReAct agent and the policy lookup tool into
// the two-stage polai answer pipeline: a retrieval stage that fetches the
// relevant policy passages, and a composer stage that rewrites them into a
// plain-language answer streamed to the caller.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/polai-go/internal/budget"
	"github.com/54b3r/polai-go/internal/logging"
	"github.com/54b3r/polai-go/internal/rag"
	"github.com/54b3r/polai-go/internal/store"
	"github.com/54b3r/polai-go/internal/tools"
)

// NoAnswerReply is the fixed response returned when retrieval finds no
// policy text for the question. The composer is never invoked in that case.
const NoAnswerReply = "I could not find any policy text that answers that question."

// retrievalPrompt steers the retrieval stage. The agent must call the lookup
// tool exactly once and echo its output untouched, so the Go side can inspect
// the raw passages (and the NO_MATCH sentinel) before composing.
const retrievalPrompt = `You are a retrieval agent for company policies.
- Given the user's question, you MUST call the ` + "`policy_lookup`" + ` tool exactly once using the FULL user question as the query.
- After getting the tool result, you MUST return ONLY the raw tool output as your final answer (no extra commentary, no rephrasing).`

// composerPrompt steers the composer stage: answer strictly from the
// retrieved passages, in plain language, without inventing policy.
const composerPrompt = `You are a policy explainer assistant.
You summarize policy snippets into clear, human-friendly answers.
- Use only the information in the retrieved passages.
- Prefer giving a direct, affirmative answer when the passages contain at least some relevant details.
- Avoid over-stating that 'no details are provided' if there is any partial or contextual information in the passages.
- Only say that the passages do not answer the question when they contain no relevant policy content at all.`

// Config holds the dependencies required to construct an Agent.
type Config struct {
	// ChatModel is the LLM backend constructed by the provider factory.
	// It drives both the retrieval stage and the composer stage.
	ChatModel model.ToolCallingChatModel

	// Retriever performs similarity search over the policy index.
	Retriever rag.Retriever

	// History is the optional conversation store used to persist and replay
	// prior turns. If nil, each question is answered statelessly.
	History store.ConversationStore

	// HistoryDepth is the number of prior turns (user+assistant pairs) to
	// inject per question. Defaults to 10 if zero.
	HistoryDepth int

	// MaxContextTokens is the estimated token budget for the composer input
	// (system prompt + history + passages + question). History is trimmed
	// oldest-first to fit. Defaults to budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int
}

// passageFetcher runs the retrieval stage for a question and returns the raw
// lookup output. Factored as an interface so tests can substitute the LLM loop.
type passageFetcher interface {
	fetch(ctx context.Context, question string) (string, error)
}

// Agent answers policy questions in two stages: retrieve passages via the
// ReAct loop, then stream a composed plain-language answer.
type Agent struct {
	// fetcher runs the retrieval stage.
	fetcher passageFetcher

	// chatModel produces the composed answer from the retrieved passages.
	chatModel model.ToolCallingChatModel

	// history is the optional conversation store for multi-turn context.
	history store.ConversationStore

	// historyDepth is the number of recent messages to inject per question.
	historyDepth int

	// maxContextTokens is the estimated token budget for the composer input.
	maxContextTokens int
}

// New constructs an Agent from the provided Config.
func New(ctx context.Context, cfg *Config) (*Agent, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("agent: ChatModel must not be nil")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("agent: Retriever must not be nil")
	}

	lookup := tools.NewLookupTool(cfg.Retriever)
	reactAgent, err := react.NewAgent(ctx, &react.AgentConfig{
		ToolCallingModel: cfg.ChatModel,
		ToolsConfig: compose.ToolsNodeConfig{
			Tools: []tool.BaseTool{lookup},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("agent: failed to create ReAct agent: %w", err)
	}

	depth := cfg.HistoryDepth
	if depth <= 0 {
		depth = 10
	}

	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}

	return &Agent{
		fetcher:          &reactFetcher{agent: reactAgent},
		chatModel:        cfg.ChatModel,
		history:          cfg.History,
		historyDepth:     depth,
		maxContextTokens: maxCtx,
	}, nil
}

// Answer runs the two-stage pipeline for a question and streams the answer
// to w as it is produced. If a conversation store is configured, prior turns
// for the session are injected into the composer and the new turn is
// persisted after completion (persistence failures are logged, not fatal).
func (a *Agent) Answer(ctx context.Context, sessionID, question string, w io.Writer) error {
	passages, err := a.fetcher.fetch(ctx, question)
	if err != nil {
		return fmt.Errorf("agent: retrieval stage failed: %w", err)
	}

	var answer string
	if isNoMatch(passages) {
		answer = NoAnswerReply
		if _, err := fmt.Fprint(w, answer); err != nil {
			return fmt.Errorf("agent: write error: %w", err)
		}
	} else {
		answer, err = a.compose(ctx, sessionID, question, passages, w)
		if err != nil {
			return err
		}
	}

	a.persistTurn(ctx, sessionID, question, answer)
	return nil
}

// compose runs the composer stage: it streams the model's answer to w while
// accumulating it for history persistence, and returns the full answer text.
func (a *Agent) compose(ctx context.Context, sessionID, question, passages string, w io.Writer) (string, error) {
	messages := a.buildComposerMessages(ctx, sessionID, question, passages)

	sr, err := a.chatModel.Stream(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("agent: composer stream failed: %w", err)
	}
	defer sr.Close()

	var buf strings.Builder
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("agent: stream receive error: %w", err)
		}
		if msg != nil && msg.Content != "" {
			if _, err := fmt.Fprint(w, msg.Content); err != nil {
				return "", fmt.Errorf("agent: write error: %w", err)
			}
			buf.WriteString(msg.Content)
		}
	}

	return buf.String(), nil
}

// buildComposerMessages assembles the composer input: system prompt, trimmed
// session history, then the question paired with its retrieved passages.
func (a *Agent) buildComposerMessages(ctx context.Context, sessionID, question, passages string) []*schema.Message {
	system := schema.SystemMessage(composerPrompt)
	user := schema.UserMessage(composerUserMessage(question, passages))

	var historyMsgs []*schema.Message
	if a.history != nil {
		prior, err := a.history.Recent(ctx, sessionID, a.historyDepth*2)
		if err != nil {
			logging.FromContext(ctx).Warn("history: failed to load prior messages", slog.Any("error", err))
		} else {
			for _, m := range prior {
				switch m.Role {
				case store.RoleUser:
					historyMsgs = append(historyMsgs, schema.UserMessage(m.Content))
				case store.RoleAssistant:
					historyMsgs = append(historyMsgs, schema.AssistantMessage(m.Content, nil))
				}
			}
		}
	}

	// Trim history oldest-first so the total estimated token count fits
	// within the configured context budget.
	fixed := []*schema.Message{system, user}
	before := len(historyMsgs)
	historyMsgs = budget.TrimHistory(fixed, historyMsgs, a.maxContextTokens)
	if dropped := before - len(historyMsgs); dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(historyMsgs)),
			slog.Int("max_tokens", a.maxContextTokens),
		)
	}

	result := make([]*schema.Message, 0, 2+len(historyMsgs))
	result = append(result, system)
	result = append(result, historyMsgs...)
	result = append(result, user)
	return result
}

// persistTurn appends the question and answer to the conversation store.
// Failures are logged and swallowed: answering must not depend on history.
func (a *Agent) persistTurn(ctx context.Context, sessionID, question, answer string) {
	if a.history == nil {
		return
	}
	log := logging.FromContext(ctx)
	if err := a.history.Append(ctx, sessionID, store.RoleUser, question); err != nil {
		log.Warn("history: failed to persist user message", slog.Any("error", err))
	}
	if err := a.history.Append(ctx, sessionID, store.RoleAssistant, answer); err != nil {
		log.Warn("history: failed to persist assistant message", slog.Any("error", err))
	}
}

// composerUserMessage formats the question and its retrieved passages into
// the single user message the composer sees.
func composerUserMessage(question, passages string) string {
	return fmt.Sprintf("Employee question:\n%s\n\nRetrieved passages:\n%s", question, passages)
}

// isNoMatch reports whether the retrieval stage came back empty-handed.
// The check happens in Go rather than in a prompt so the short-circuit
// reply is deterministic.
func isNoMatch(passages string) bool {
	trimmed := strings.TrimSpace(passages)
	return trimmed == "" || trimmed == tools.NoMatch
}

// reactFetcher is the production passageFetcher backed by the Eino ReAct loop.
type reactFetcher struct {
	agent *react.Agent
}

// fetch asks the retrieval agent for the passages relevant to question.
// The question goes through verbatim; the lookup tool normalises it.
func (f *reactFetcher) fetch(ctx context.Context, question string) (string, error) {
	msg, err := f.agent.Generate(ctx, []*schema.Message{
		schema.SystemMessage(retrievalPrompt),
		schema.UserMessage(question),
	})
	if err != nil {
		return "", fmt.Errorf("retrieval agent: %w", err)
	}
	return msg.Content, nil
}
