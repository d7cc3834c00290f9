package dispatch

import (
	"context"

	"github.com/forgecore/agentcore/internal/protocol"
)

func (d *Dispatcher) dispatchMcp(ctx context.Context, call Call, emit Emitter) (string, error) {
	emit.Emit(protocol.EventMsg{
		Kind:     protocol.MsgMcpToolCallBegin,
		CallID:   call.CallID,
		ToolName: call.McpTool,
	})

	if d.Mcp == nil {
		emit.Emit(protocol.EventMsg{
			Kind:         protocol.MsgMcpToolCallEnd,
			CallID:       call.CallID,
			ToolName:     call.McpTool,
			ErrorMessage: "no MCP client configured",
		})
		return "", nil
	}

	result, err := d.Mcp.CallTool(ctx, call.McpServer, call.McpTool, call.McpArgs)
	if err != nil {
		emit.Emit(protocol.EventMsg{
			Kind:         protocol.MsgMcpToolCallEnd,
			CallID:       call.CallID,
			ToolName:     call.McpTool,
			ErrorMessage: err.Error(),
		})
		return "", err
	}

	emit.Emit(protocol.EventMsg{
		Kind:     protocol.MsgMcpToolCallEnd,
		CallID:   call.CallID,
		ToolName: call.McpTool,
		Stdout:   result,
	})
	return result, nil
}
