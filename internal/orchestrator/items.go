package orchestrator

import (
	"encoding/json"
	"time"

	"github.com/forgecore/agentcore/internal/dispatch"
	"github.com/forgecore/agentcore/internal/protocol"
)

// itemWire is the subset of a Responses-style output item the orchestrator
// needs to turn an OutputItemDone into either a finalized assistant message
// or a dispatch.Call.
type itemWire struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`

	CallID    string          `json:"call_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
	Input     string          `json:"input,omitempty"`
	Action    *shellAction    `json:"action,omitempty"`
	Summary   []reasoningPart `json:"summary,omitempty"`
}

type shellAction struct {
	Command         []string          `json:"command"`
	WorkingDirectory string           `json:"working_directory,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
	TimeoutMs       int               `json:"timeout_ms,omitempty"`
}

type reasoningPart struct {
	Text string `json:"text"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// functionArgs is the generic {command, cwd, patch, server, tool, args}
// argument bag a "shell"/"apply_patch"/"mcp" function_call's Arguments JSON
// decodes into; only the fields relevant to Name are populated by the
// model.
type functionArgs struct {
	Command []string               `json:"command,omitempty"`
	Cwd     string                  `json:"cwd,omitempty"`
	Timeout int                     `json:"timeout_seconds,omitempty"`
	Patch   string                  `json:"patch,omitempty"`
	Server  string                  `json:"server,omitempty"`
	Tool    string                  `json:"tool,omitempty"`
	Args    map[string]interface{} `json:"args,omitempty"`
	Query   string                  `json:"query,omitempty"`
}

// parseItem decodes raw into an itemWire, tolerating any malformed or
// partial payload by returning the zero value rather than an error: a
// function call the orchestrator can't parse becomes a ToolFailed result
// fed back to the model, not a crash.
func parseItem(raw []byte) itemWire {
	var w itemWire
	_ = json.Unmarshal(raw, &w)
	return w
}

// assistantText extracts the plain text of a finalized "message" item's
// content blocks.
func (w itemWire) assistantText() string {
	var parts []contentPart
	_ = json.Unmarshal(w.Content, &parts)
	text := ""
	for _, p := range parts {
		if p.Type == "output_text" || p.Type == "text" {
			text += p.Text
		}
	}
	return text
}

// reasoningText joins a finalized "reasoning" item's summary parts.
func (w itemWire) reasoningText() string {
	text := ""
	for _, s := range w.Summary {
		text += s.Text
	}
	return text
}

// isToolCall reports whether w represents a tool invocation the dispatcher
// should run.
func (w itemWire) isToolCall() bool {
	switch w.Type {
	case "function_call", "local_shell_call", "custom_tool_call":
		return true
	default:
		return false
	}
}

// toCall converts a parsed tool-call item into a dispatch.Call, applying
// cfg's defaults for cwd/env when the model omitted them. A call that gives
// no timeout keeps a zero Timeout.
func (w itemWire) toCall(cfg Config) dispatch.Call {
	switch w.Type {
	case "local_shell_call":
		call := dispatch.Call{Kind: dispatch.CallLocalShell, CallID: w.CallID, Cwd: cfg.DefaultCwd, Env: cfg.DefaultEnv}
		if w.Action != nil {
			call.Command = w.Action.Command
			if w.Action.WorkingDirectory != "" {
				call.Cwd = w.Action.WorkingDirectory
			}
			if w.Action.TimeoutMs > 0 {
				call.Timeout = time.Duration(w.Action.TimeoutMs) * time.Millisecond
			}
			if len(w.Action.Env) > 0 {
				env := make([]string, 0, len(w.Action.Env))
				for k, v := range w.Action.Env {
					env = append(env, k+"="+v)
				}
				call.Env = env
			}
		}
		return call

	case "custom_tool_call":
		return dispatch.Call{Kind: dispatch.CallMcp, CallID: w.CallID, McpTool: w.Name, McpArgs: parseArgsBestEffort(w.Input)}

	default: // function_call
		var args functionArgs
		_ = json.Unmarshal([]byte(w.Arguments), &args)

		cwd := args.Cwd
		if cwd == "" {
			cwd = cfg.DefaultCwd
		}
		timeout := time.Duration(0)
		if args.Timeout > 0 {
			timeout = time.Duration(args.Timeout) * time.Second
		}

		switch w.Name {
		case "apply_patch":
			return dispatch.Call{Kind: dispatch.CallApplyPatch, CallID: w.CallID, Cwd: cwd, PatchText: args.Patch}
		case "mcp", "mcp_tool_call":
			return dispatch.Call{Kind: dispatch.CallMcp, CallID: w.CallID, McpServer: args.Server, McpTool: args.Tool, McpArgs: args.Args}
		case "web_search":
			return dispatch.Call{Kind: dispatch.CallWebSearch, CallID: w.CallID}
		default: // "shell"
			return dispatch.Call{Kind: dispatch.CallShell, CallID: w.CallID, Command: args.Command, Cwd: cwd, Env: cfg.DefaultEnv, Timeout: timeout}
		}
	}
}

func parseArgsBestEffort(raw string) map[string]interface{} {
	var m map[string]interface{}
	_ = json.Unmarshal([]byte(raw), &m)
	return m
}

// toolUseBlock renders w as the protocol.ToolUseBlock the transcript keeps
// for this model request, so a resumed/compacted conversation can still
// replay which tool the assistant invoked and with what arguments.
func (w itemWire) toolUseBlock() protocol.ToolUseBlock {
	name := w.Name
	var input []byte
	switch w.Type {
	case "function_call":
		input = []byte(w.Arguments)
	case "local_shell_call":
		name = "shell"
		if w.Action != nil {
			input, _ = json.Marshal(w.Action)
		}
	case "custom_tool_call":
		input = []byte(w.Input)
	}
	if len(input) == 0 {
		input = []byte("{}")
	}
	return protocol.ToolUseBlock{ID: w.CallID, Name: name, Input: input}
}
