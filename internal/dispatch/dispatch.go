// Package dispatch maps a model's tool calls onto concrete executors —
// sandboxed shell, patch application, MCP forwarding — the way the
// teacher's NativeExecutor switches on tool name, but keyed on the fixed
// {shell, apply_patch, mcp, web_search} vocabulary and gated by an approval
// policy instead of a single CheckPermission call.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/forgecore/agentcore/internal/approvalcache"
	"github.com/forgecore/agentcore/internal/protocol"
	"github.com/forgecore/agentcore/internal/sandbox"
)

// CallKind tags what kind of tool call a Call carries.
type CallKind string

const (
	CallShell      CallKind = "shell"
	CallLocalShell CallKind = "local_shell"
	CallApplyPatch CallKind = "apply_patch"
	CallMcp        CallKind = "mcp"
	CallWebSearch  CallKind = "web_search"
)

// Call is the normalized form of a ResponseItem the orchestrator hands to
// the dispatcher.
type Call struct {
	Kind    CallKind
	CallID  string
	Command []string
	Cwd     string
	Env     []string
	Stdin   string
	Timeout time.Duration

	PatchText string

	McpServer string
	McpTool   string
	McpArgs   map[string]interface{}
}

// Policy is the AskForApproval mode in effect for a session.
type Policy string

const (
	PolicyUnlessTrusted Policy = "unless_trusted"
	PolicyOnFailure     Policy = "on_failure"
	PolicyOnRequest     Policy = "on_request"
	PolicyNever         Policy = "never"
)

// ErrAwaitingApproval is returned when Dispatch has emitted an approval
// request and must be resumed later via Resume once the decision arrives.
var ErrAwaitingApproval = errors.New("dispatch: awaiting approval")

// Emitter receives the EventMsgs a dispatch produces (begin/end, approval
// requests, diffs). The orchestrator wires this to the event bus.
type Emitter interface {
	Emit(protocol.EventMsg)
}

// McpCaller forwards a tool invocation to an MCP server and returns its
// textual result.
type McpCaller interface {
	CallTool(ctx context.Context, server, tool string, args map[string]interface{}) (string, error)
}

// Dispatcher owns the policy, approval cache, and collaborators needed to
// run one session's tool calls.
type Dispatcher struct {
	Policy   Policy
	Profile  sandbox.Profile
	Cache    *approvalcache.Cache
	Mcp      McpCaller
	TrustedCommands map[string]bool
}

// New builds a Dispatcher with the teacher's safe-command allowlist as the
// UnlessTrusted trust set.
func New(policy Policy, profile sandbox.Profile, mcp McpCaller) *Dispatcher {
	return &Dispatcher{
		Policy:          policy,
		Profile:         profile,
		Cache:           approvalcache.New(),
		Mcp:             mcp,
		TrustedCommands: defaultTrustedCommands(),
	}
}

func defaultTrustedCommands() map[string]bool {
	names := []string{
		"ls", "cat", "head", "tail", "wc", "find", "grep", "awk", "sed",
		"sort", "pwd", "whoami", "date", "echo", "which", "type", "file",
		"stat", "git", "diff", "tree",
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// RegisterApprovedCommand seeds the session approval cache directly, for the
// register_approved_command submission op.
func (d *Dispatcher) RegisterApprovedCommand(op protocol.RegisterApprovedCommandOp) {
	d.Cache.Register(op)
}

func (d *Dispatcher) isTrusted(command []string) bool {
	if len(command) == 0 {
		return false
	}
	return d.TrustedCommands[command[0]]
}

// Dispatch runs one tool call, emitting the events the spec requires
// through emit, and returns the text to feed back to the model as the tool
// result. If the call needs user approval before it can proceed, Dispatch
// emits the approval request and returns ErrAwaitingApproval; the caller
// resumes with Resume once the decision arrives.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call, emit Emitter) (string, error) {
	switch call.Kind {
	case CallShell, CallLocalShell:
		return d.dispatchShell(ctx, call, emit)
	case CallApplyPatch:
		return d.dispatchApplyPatch(ctx, call, emit)
	case CallMcp:
		return d.dispatchMcp(ctx, call, emit)
	case CallWebSearch:
		// Web search begin/complete are synthesized by the SSE parser from
		// the model's own output items; there is nothing for the dispatcher
		// to run.
		return "", nil
	default:
		return "", errors.New("dispatch: unknown call kind " + string(call.Kind))
	}
}

// Resume re-enters Dispatch after ErrAwaitingApproval, given the user's
// decision. A denial is reported back as an ordinary (non-fatal) tool
// failure so the model sees it on the next turn.
func (d *Dispatcher) Resume(ctx context.Context, call Call, decision protocol.ApprovalDecision, emit Emitter) (string, error) {
	switch decision {
	case protocol.DecisionDenied:
		return "command not approved by user", nil
	case protocol.DecisionApprovedForSession:
		d.Cache.Register(protocol.RegisterApprovedCommandOp{
			Command:   call.Command,
			MatchKind: protocol.MatchExact,
		})
	}
	return d.runShellNow(ctx, call, emit)
}

func rawCommand(command []string) string {
	return strings.Join(command, " ")
}
