package rollout

import (
	"testing"

	"github.com/forgecore/agentcore/internal/protocol"
)

func TestReplayMessagesPreservesToolCallPairing(t *testing.T) {
	zero := 0
	events := []protocol.RecordedEvent{
		{Msg: protocol.EventMsg{Kind: protocol.MsgTaskStarted}},
		{Msg: protocol.EventMsg{Kind: protocol.MsgExecCommandBegin, CallID: "call-1", Command: []string{"ls"}}},
		{Msg: protocol.EventMsg{Kind: protocol.MsgExecCommandEnd, CallID: "call-1", ExitCode: &zero, Stdout: "a.go\n"}},
		{Msg: protocol.EventMsg{Kind: protocol.MsgAgentMessage, Message: "ok"}},
		{Msg: protocol.EventMsg{Kind: protocol.MsgTaskComplete}},
	}

	msgs := ReplayMessages(events)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages (tool call, tool result, assistant text), got %d: %+v", len(msgs), msgs)
	}
	if len(msgs[0].ToolUse) != 1 || msgs[0].ToolUse[0].ID != "call-1" {
		t.Fatalf("expected first message to carry the tool call, got %+v", msgs[0])
	}
	if len(msgs[1].ToolResults) != 1 || msgs[1].ToolResults[0].IsError {
		t.Fatalf("expected second message to carry a successful tool result, got %+v", msgs[1])
	}
	if msgs[2].Content != "ok" {
		t.Fatalf("expected final assistant message \"ok\", got %q", msgs[2].Content)
	}
}

func TestReplayMessagesSkipsEmptyFinalAssistantText(t *testing.T) {
	events := []protocol.RecordedEvent{
		{Msg: protocol.EventMsg{Kind: protocol.MsgAgentMessage, Message: ""}},
		{Msg: protocol.EventMsg{Kind: protocol.MsgTaskComplete}},
	}
	if msgs := ReplayMessages(events); len(msgs) != 0 {
		t.Fatalf("expected no messages for an empty finalized stream, got %+v", msgs)
	}
}
