package budget

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func Test_Estimate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},        // < 4 chars → 1
		{"abcd", 1},     // exactly 4 chars → 1
		{"abcde", 1},    // 5 chars → 1
		{"Employees accrue 1.5 vacation days per month.", 11}, // 45 chars → 11
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		got := Estimate(tc.input)
		if got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func Test_EstimateMessages(t *testing.T) {
	t.Parallel()
	msgs := []*schema.Message{
		schema.UserMessage("How many vacation days do I get?"),
		schema.UserMessage("How many vacation days do I get?"),
	}
	got := EstimateMessages(msgs)
	// Each message: 4 overhead + Estimate("user")=1 + Estimate(32 chars)=8 = 13.
	// Two messages: 26.
	if got != 26 {
		t.Errorf("EstimateMessages = %d, want 26", got)
	}
}

func Test_TrimHistory_NoTrimNeeded(t *testing.T) {
	t.Parallel()
	fixed := []*schema.Message{schema.SystemMessage("You are a policy explainer.")}
	history := []*schema.Message{
		schema.UserMessage("What is the sick leave policy?"),
		schema.UserMessage("And how do I report an absence?"),
	}
	got := TrimHistory(fixed, history, DefaultMaxContextTokens)
	if len(got) != 2 {
		t.Errorf("want 2 history messages, got %d", len(got))
	}
}

func Test_TrimHistory_DropsOldest(t *testing.T) {
	t.Parallel()
	history := []*schema.Message{
		schema.UserMessage("How many vacation days do I get?"), // 4 + 1 + 8 = 13 tokens
		schema.UserMessage("Do unused days carry over?"),       // 4 + 1 + 6 = 11 tokens
	}
	// Both messages = 24 tokens. A budget of 11 fits exactly the newest
	// message (11 ≤ 11) but not both (24 > 11), so the oldest is dropped.
	fixed := []*schema.Message{}
	got := TrimHistory(fixed, history, 11)
	if len(got) != 1 {
		t.Errorf("want 1 history message after trim, got %d", len(got))
	}
	if got[0].Content != "Do unused days carry over?" {
		t.Errorf("want newest message retained, got %q", got[0].Content)
	}
}

func Test_TrimHistory_EmptyHistory(t *testing.T) {
	t.Parallel()
	fixed := []*schema.Message{schema.SystemMessage("You are a policy explainer.")}
	got := TrimHistory(fixed, nil, DefaultMaxContextTokens)
	if len(got) != 0 {
		t.Errorf("want empty, got %d", len(got))
	}
}

func Test_TrimHistory_AllDroppedWhenFixedExceedsBudget(t *testing.T) {
	t.Parallel()
	// Fixed alone exceeds budget — all history should be dropped.
	fixed := []*schema.Message{
		schema.SystemMessage(strings.Repeat("vacation ", 3500)), // ~7875 tokens
	}
	history := []*schema.Message{
		schema.UserMessage("a"),
		schema.UserMessage("b"),
	}
	got := TrimHistory(fixed, history, 6000)
	if len(got) != 0 {
		t.Errorf("want 0 history messages, got %d", len(got))
	}
}
