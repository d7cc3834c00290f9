// Package tokens estimates token counts for prompt budgeting and for
// synthesizing a token_count event when a provider response omits usage.
package tokens

import (
	"log"
	"sync"

	"github.com/forgecore/agentcore/internal/protocol"
	"github.com/pkoukk/tiktoken-go"
)

// FudgeFactor is a safety margin layered on top of the raw tiktoken count to
// absorb small differences between cl100k_base and whatever encoding the
// configured model actually uses.
const FudgeFactor = 1.05

var (
	tkm     *tiktoken.Tiktoken
	tkmOnce sync.Once
)

func tokenizer() *tiktoken.Tiktoken {
	tkmOnce.Do(func() {
		var err error
		tkm, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Printf("[Tokens] failed to load tiktoken encoding: %v, falling back to heuristic", err)
		}
	})
	return tkm
}

// Estimate counts text's tokens with tiktoken when available, falling back
// to a 1-token-per-4-characters heuristic otherwise.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	if tk := tokenizer(); tk != nil {
		return len(tk.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// EstimateBudgeted applies FudgeFactor on top of Estimate.
func EstimateBudgeted(text string) int {
	return int(float64(Estimate(text)) * FudgeFactor)
}

// EstimateMessage counts a message's content, tool calls, and tool results,
// plus a fixed per-message overhead for role/framing tokens.
func EstimateMessage(msg protocol.Message) int {
	total := Estimate(msg.Content) + Estimate(msg.ReasoningContent)
	for _, tc := range msg.ToolUse {
		total += Estimate(tc.Name)
		total += Estimate(string(tc.Input))
	}
	for _, tr := range msg.ToolResults {
		total += Estimate(tr.Content)
	}
	return total + 4
}

// EstimateTotal sums EstimateMessage over a full conversation history.
func EstimateTotal(messages []protocol.Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateMessage(msg)
	}
	return total
}
