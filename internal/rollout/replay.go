package rollout

import (
	"encoding/json"

	"github.com/forgecore/agentcore/internal/protocol"
)

// ReplayMessages reconstructs a best-effort model-facing transcript from a
// loaded rollout's recorded events, the way resume(path) is asked to convert
// Events back into items "preserving tool call/response pairing" (spec
// §4.7). Only assistant messages and exec begin/end pairs are turned back
// into messages (assistant deltas are never recorded), and no recorded event
// carries the text of a user turn, so a resumed transcript omits the
// literal wording of earlier user turns; it is
// sufficient to let the model see what it already did without re-executing
// anything.
func ReplayMessages(events []protocol.RecordedEvent) []protocol.Message {
	var out []protocol.Message
	var pendingCalls []protocol.ToolUseBlock
	var pendingResults []protocol.ToolResultBlock

	flush := func() {
		if len(pendingCalls) == 0 {
			return
		}
		out = append(out, protocol.Message{Role: "assistant", ToolUse: pendingCalls})
		if len(pendingResults) > 0 {
			out = append(out, protocol.Message{Role: "user", ToolResults: pendingResults})
		}
		pendingCalls = nil
		pendingResults = nil
	}

	for _, ev := range events {
		switch ev.Msg.Kind {
		case protocol.MsgAgentMessage:
			flush()
			if ev.Msg.Message != "" {
				out = append(out, protocol.Message{Role: "assistant", Content: ev.Msg.Message})
			}

		case protocol.MsgExecCommandBegin:
			pendingCalls = append(pendingCalls, protocol.ToolUseBlock{
				ID:    ev.Msg.CallID,
				Name:  "shell",
				Input: marshalExecInput(ev.Msg.Command),
			})

		case protocol.MsgExecCommandEnd:
			content := ev.Msg.Stdout
			isErr := ev.Msg.ExitCode != nil && *ev.Msg.ExitCode != 0
			if isErr && ev.Msg.Stderr != "" {
				content = ev.Msg.Stderr
			}
			pendingResults = append(pendingResults, protocol.ToolResultBlock{
				ToolUseID: ev.Msg.CallID,
				Content:   content,
				IsError:   isErr,
			})

		case protocol.MsgTaskComplete, protocol.MsgTurnAborted:
			flush()
		}
	}
	flush()
	return out
}

func marshalExecInput(command []string) json.RawMessage {
	b, err := json.Marshal(map[string]interface{}{"command": command})
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
