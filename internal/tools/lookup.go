// Package tools defines the retrieval tools the polai agent can invoke
// during a conversation. Each tool satisfies Eino's tool.BaseTool interface
// so it can be registered directly with a ReAct agent.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/polai-go/internal/rag"
)

// NoMatch is the sentinel returned when retrieval yields no passages.
// The agent checks for it verbatim, so it must never be rephrased.
const NoMatch = "NO_MATCH"

// lookupTopK is the number of passages the lookup tool retrieves per call.
const lookupTopK = 3

// LookupTool is an Eino tool that searches the policy vector index and
// returns the most relevant passages for the agent to ground its answer on.
type LookupTool struct {
	// retriever performs similarity search over the policy index.
	retriever rag.Retriever
}

// lookupInput is the JSON-serialisable input schema for LookupTool.
type lookupInput struct {
	// Query is the natural-language question from the user.
	Query string `json:"query"`
}

// NewLookupTool constructs a LookupTool over the provided retriever.
func NewLookupTool(retriever rag.Retriever) *LookupTool {
	return &LookupTool{retriever: retriever}
}

// Name returns the tool name registered with the agent.
func (t *LookupTool) Name() string { return "policy_lookup" }

// Description returns the LLM-facing description of this tool.
func (t *LookupTool) Description() string {
	return "Fetches the most relevant passages from the company policy document. " +
		"The query is a natural-language question from the user. " +
		"Returns 'NO_MATCH' if nothing relevant is found."
}

// Info returns the Eino tool metadata including the JSON input schema.
func (t *LookupTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: t.Name(),
		Desc: t.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "The full user question, as asked.",
				Required: true,
			},
		}),
	}, nil
}

// InvokableRun executes the lookup given a JSON-encoded input string and
// returns the formatted passages (or the NO_MATCH sentinel) for the agent.
func (t *LookupTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	var input lookupInput
	if err := json.Unmarshal([]byte(argumentsInJSON), &input); err != nil {
		return "", fmt.Errorf("policy_lookup: invalid input: %w", err)
	}
	if strings.TrimSpace(input.Query) == "" {
		return "", fmt.Errorf("policy_lookup: query is required")
	}

	// Normalise here rather than trusting the model to pass clean text, so
	// the retriever always sees the same query shape for the same question.
	query := NormalizeQuery(input.Query)

	results, err := t.retriever.Query(ctx, query, lookupTopK)
	if err != nil {
		return "", fmt.Errorf("policy_lookup: retrieval failed: %w", err)
	}

	return FormatPassages(results), nil
}

// NormalizeQuery lowercases the query, replaces punctuation and other
// non-word characters with spaces, and collapses runs of whitespace.
// Underscores, letters, and digits survive untouched.
func NormalizeQuery(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for _, r := range strings.ToLower(query) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// FormatPassages renders scored chunks as numbered passages separated by
// blank lines, or the NO_MATCH sentinel when there are none.
func FormatPassages(results []rag.ScoredChunk) string {
	if len(results) == 0 {
		return NoMatch
	}

	lines := make([]string, 0, len(results))
	for i, r := range results {
		lines = append(lines, fmt.Sprintf("[Passage %d] %s", i+1, strings.TrimSpace(r.Chunk.Text)))
	}
	return strings.Join(lines, "\n\n")
}
