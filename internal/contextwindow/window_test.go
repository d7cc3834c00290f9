package contextwindow

import (
	"strings"
	"testing"

	"github.com/forgecore/agentcore/internal/protocol"
)

func TestManageKeepsSmallHistoryIntact(t *testing.T) {
	m := New(8000, DefaultSettings())
	msgs := []protocol.Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	}
	res := m.Manage(msgs, "system prompt")
	if res.WasTruncated {
		t.Error("expected no truncation for small history")
	}
	if len(res.Messages) != 2 {
		t.Errorf("Messages = %d, want 2", len(res.Messages))
	}
}

func TestManageTruncatesOversizedHistory(t *testing.T) {
	m := New(500, Settings{SlidingWindowSize: 3, KeepIntact: 2, EvictThreshold: 2000})
	big := strings.Repeat("x", 4000)

	msgs := []protocol.Message{{Role: "user", Content: "original task"}}
	for i := 0; i < 20; i++ {
		msgs = append(msgs,
			protocol.Message{Role: "assistant", Content: big},
			protocol.Message{Role: "user", Content: big},
		)
	}

	res := m.Manage(msgs, "system")
	if !res.WasTruncated {
		t.Fatal("expected truncation")
	}
	if res.Messages[0].Content != "original task" {
		t.Errorf("first message = %q, want pinned original task", res.Messages[0].Content)
	}
	if len(res.Messages) >= len(msgs) {
		t.Errorf("expected pruned history shorter than original, got %d vs %d", len(res.Messages), len(msgs))
	}
}

func TestPruneNeverOrphansToolResult(t *testing.T) {
	m := New(400, Settings{SlidingWindowSize: 2, KeepIntact: 1, EvictThreshold: 2000})
	big := strings.Repeat("y", 3000)

	msgs := []protocol.Message{
		{Role: "user", Content: "task"},
		{Role: "assistant", Content: big, ToolUse: []protocol.ToolUseBlock{{ID: "call_1", Name: "shell"}}},
		{Role: "user", ToolResults: []protocol.ToolResultBlock{{ToolUseID: "call_1", Content: big}}},
		{Role: "assistant", Content: "final answer"},
	}

	res := m.Manage(msgs, "sys")
	for _, msg := range res.Messages {
		for _, tr := range msg.ToolResults {
			found := false
			for _, other := range res.Messages {
				for _, tu := range other.ToolUse {
					if tu.ID == tr.ToolUseID {
						found = true
					}
				}
			}
			if !found {
				t.Errorf("tool result %s has no matching tool_use in kept history", tr.ToolUseID)
			}
		}
	}
}

func TestEvictStaleToolOutputBlanksOldLargeResults(t *testing.T) {
	m := New(100000, Settings{SlidingWindowSize: 20, KeepIntact: 1, EvictThreshold: 10})
	msgs := []protocol.Message{
		{Role: "user", Content: "task"},
		{Role: "user", ToolResults: []protocol.ToolResultBlock{{ToolUseID: "c1", Content: "this is a long result"}}},
		{Role: "assistant", Content: "recent"},
	}
	res := m.Manage(msgs, "sys")
	if res.Messages[1].ToolResults[0].Content == "this is a long result" {
		t.Error("expected stale large tool result to be evicted")
	}
}
