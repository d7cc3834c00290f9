// Package contextwindow prunes conversation history to fit a model's context
// budget, adapted from the teacher's internal/context window manager but
// driven by real tiktoken counts instead of a len/4 heuristic.
package contextwindow

import (
	"fmt"
	"log"

	"github.com/forgecore/agentcore/internal/protocol"
	"github.com/forgecore/agentcore/internal/tokens"
)

// Settings controls pruning behavior.
type Settings struct {
	SlidingWindowSize int
	KeepIntact        int // most recent messages never evicted of large tool output
	EvictThreshold    int // tool result byte length above which old results are evicted
}

// DefaultSettings mirrors the teacher's defaults.
func DefaultSettings() Settings {
	return Settings{SlidingWindowSize: 20, KeepIntact: 8, EvictThreshold: 2000}
}

// Result is the outcome of one Manage call.
type Result struct {
	Messages     []protocol.Message
	WasTruncated bool
	TokensUsed   int
	TokensMax    int
	Percentage   float64
}

// Manager prunes message history to a token budget.
type Manager struct {
	MaxTokens int
	Settings  Settings
}

// New creates a Manager with the given budget and settings.
func New(maxTokens int, settings Settings) *Manager {
	return &Manager{MaxTokens: maxTokens, Settings: settings}
}

// Manage evicts large stale tool output, then slides the window if the
// history still exceeds MaxTokens or holds more than SlidingWindowSize
// messages.
func (m *Manager) Manage(messages []protocol.Message, systemPrompt string) Result {
	sysTokens := tokens.EstimateBudgeted(systemPrompt)
	messages = m.evictStaleToolOutput(messages)
	total := sysTokens + tokens.EstimateTotal(messages)

	result := Result{
		Messages:   messages,
		TokensMax:  m.MaxTokens,
		TokensUsed: total,
		Percentage: float64(total) / float64(m.MaxTokens) * 100,
	}

	if total > m.MaxTokens || len(messages) > m.Settings.SlidingWindowSize {
		pruned := m.prune(messages, sysTokens)
		if len(pruned) < len(messages) {
			newTotal := sysTokens + tokens.EstimateTotal(pruned)
			log.Printf("[ContextWindow] truncated %d -> %d msgs, %d -> %d tokens", len(messages), len(pruned), total, newTotal)
			result.Messages = pruned
			result.WasTruncated = true
			result.TokensUsed = newTotal
			result.Percentage = float64(newTotal) / float64(m.MaxTokens) * 100
		}
	}

	return result
}

// evictStaleToolOutput blanks large tool results older than KeepIntact
// messages from the end, leaving the most recent turns untouched.
func (m *Manager) evictStaleToolOutput(messages []protocol.Message) []protocol.Message {
	keepIntact := m.Settings.KeepIntact
	if len(messages) <= keepIntact {
		return messages
	}

	out := make([]protocol.Message, len(messages))
	copy(out, messages)

	for i := 1; i < len(out)-keepIntact; i++ {
		msg := &out[i]
		if len(msg.ToolResults) == 0 {
			continue
		}
		msg.ToolResults = append([]protocol.ToolResultBlock(nil), msg.ToolResults...)
		for j := range msg.ToolResults {
			if len(msg.ToolResults[j].Content) > m.Settings.EvictThreshold {
				msg.ToolResults[j].Content = "[earlier tool output evicted to save context]"
			}
		}
	}
	return out
}

// prune keeps the first message (the original task) plus a tail that fits
// the remaining budget, extending the cutoff backward as needed so no tool
// result is ever kept without its originating tool call.
func (m *Manager) prune(messages []protocol.Message, sysTokens int) []protocol.Message {
	if len(messages) <= 2 {
		return messages
	}

	available := m.MaxTokens - sysTokens - 1000

	first := messages[0]
	available -= tokens.EstimateMessage(first)

	cutoff := 1
	used := 0
	for i := len(messages) - 1; i >= 1; i-- {
		t := tokens.EstimateMessage(messages[i])
		if used+t > available && i != len(messages)-1 {
			cutoff = i + 1
			break
		}
		used += t
		cutoff = i
	}

	cutoff = extendForToolPairing(messages, cutoff)

	kept := messages[cutoff:]
	kept = dropOrphanResults(kept)

	out := make([]protocol.Message, 0, len(kept)+2)
	out = append(out, first)
	if cutoff > 1 {
		out = append(out, protocol.Message{
			Role:    "user",
			Content: fmt.Sprintf("[%d earlier messages hidden to stay within the context budget.]", cutoff-1),
		})
	}
	out = append(out, kept...)
	return out
}

// extendForToolPairing walks the cutoff backward while any kept tool result
// would otherwise be left without its originating tool call.
func extendForToolPairing(messages []protocol.Message, cutoff int) int {
	for cutoff > 1 {
		extended := false
		for i := cutoff; i < len(messages); i++ {
			if len(messages[i].ToolResults) == 0 {
				continue
			}
			for _, tr := range messages[i].ToolResults {
				for j := cutoff - 1; j >= 1; j-- {
					for _, tu := range messages[j].ToolUse {
						if tu.ID == tr.ToolUseID {
							cutoff = j
							extended = true
						}
					}
				}
			}
		}
		if !extended {
			break
		}
	}
	return cutoff
}

// dropOrphanResults strips tool results whose originating call fell outside
// the kept window, avoiding a dangling tool_use_id in the pruned history.
func dropOrphanResults(messages []protocol.Message) []protocol.Message {
	known := map[string]bool{}
	for _, msg := range messages {
		for _, tu := range msg.ToolUse {
			known[tu.ID] = true
		}
	}

	out := make([]protocol.Message, 0, len(messages))
	for _, msg := range messages {
		if len(msg.ToolResults) == 0 {
			out = append(out, msg)
			continue
		}
		var kept []protocol.ToolResultBlock
		for _, tr := range msg.ToolResults {
			if known[tr.ToolUseID] {
				kept = append(kept, tr)
			} else {
				log.Printf("[ContextWindow] dropping orphaned tool result %s", tr.ToolUseID)
			}
		}
		if len(kept) == 0 && msg.Content == "" {
			continue
		}
		msg.ToolResults = kept
		out = append(out, msg)
	}
	return out
}
