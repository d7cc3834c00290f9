package protocol

import "encoding/json"

// OpKind tags which client-issued submission a Submission carries.
type OpKind string

const (
	OpConfigureSession       OpKind = "configure_session"
	OpUserInput              OpKind = "user_input"
	OpQueueUserInput         OpKind = "queue_user_input"
	OpExecApproval           OpKind = "exec_approval"
	OpPatchApproval          OpKind = "patch_approval"
	OpRegisterApprovedCmd    OpKind = "register_approved_command"
	OpAddToHistory           OpKind = "add_to_history"
	OpGetHistoryEntryReq     OpKind = "get_history_entry_request"
	OpCompact                OpKind = "compact"
	OpReview                 OpKind = "review"
	OpShutdown               OpKind = "shutdown"
	OpInterrupt              OpKind = "interrupt"
)

// Submission is a single client-issued request to the agent. Payload holds
// the op-specific body, already typed by the caller (UserInputOp,
// ExecApprovalOp, ...); Op only tags which one it is.
type Submission struct {
	ID      string
	Op      OpKind
	Payload interface{}
}

// ConfigureSessionOp establishes or updates a session's model/instructions/
// working-directory defaults. The CLI collaborator issues one of these
// before its first UserInput.
type ConfigureSessionOp struct {
	Cwd             string
	Model           string
	Instructions    string
	ReasoningEffort string
	ApprovalPolicy  string
	SandboxPolicy   string
}

// UserInputOp carries the text/content items of a new user message.
type UserInputOp struct {
	Items []InputItem
}

// InputItem is one piece of user-submitted content (text today; the model
// client widens this to images/files without changing the orchestrator).
type InputItem struct {
	Text string
}

// ApprovalDecision is the user's answer to an approval request.
type ApprovalDecision string

const (
	DecisionApproved        ApprovalDecision = "approved"
	DecisionApprovedForSession ApprovalDecision = "approved_for_session"
	DecisionDenied           ApprovalDecision = "denied"
)

// ExecApprovalOp answers a pending ExecApprovalRequest.
type ExecApprovalOp struct {
	CallID   string
	Decision ApprovalDecision
}

// PatchApprovalOp answers a pending ApplyPatchApprovalRequest.
type PatchApprovalOp struct {
	CallID    string
	Decision  ApprovalDecision
	GrantRoot string
}

// MatchKind says how a RegisterApprovedCommandOp's Command is matched
// against later commands.
type MatchKind string

const (
	MatchExact  MatchKind = "exact"
	MatchPrefix MatchKind = "prefix"
)

// RegisterApprovedCommandOp seeds the per-session approved-command cache.
type RegisterApprovedCommandOp struct {
	Command        []string
	MatchKind      MatchKind
	SemanticPrefix string
}

// Event is a single agent-emitted notification. event_seq resets to 0 on
// TaskStarted and increments monotonically for the rest of the submission's
// turn.
type Event struct {
	ID       string     `json:"id"`
	EventSeq int        `json:"event_seq"`
	Order    *OrderMeta `json:"order,omitempty"`
	Msg      EventMsg   `json:"msg"`
}

// EventMsgKind tags the closed sum type of agent events.
type EventMsgKind string

const (
	MsgTaskStarted            EventMsgKind = "task_started"
	MsgTaskComplete           EventMsgKind = "task_complete"
	MsgTurnAborted            EventMsgKind = "turn_aborted"
	MsgAgentMessage           EventMsgKind = "agent_message"
	MsgAgentMessageDelta      EventMsgKind = "agent_message_delta"
	MsgReasoningDelta         EventMsgKind = "reasoning_delta"
	MsgExecCommandBegin       EventMsgKind = "exec_command_begin"
	MsgExecCommandOutputDelta EventMsgKind = "exec_command_output_delta"
	MsgExecCommandEnd         EventMsgKind = "exec_command_end"
	MsgExecApprovalRequest    EventMsgKind = "exec_approval_request"
	MsgPatchApplyBegin        EventMsgKind = "patch_apply_begin"
	MsgPatchApplyEnd          EventMsgKind = "patch_apply_end"
	MsgApplyPatchApproval     EventMsgKind = "apply_patch_approval_request"
	MsgTurnDiff               EventMsgKind = "turn_diff"
	MsgMcpToolCallBegin       EventMsgKind = "mcp_tool_call_begin"
	MsgMcpToolCallEnd         EventMsgKind = "mcp_tool_call_end"
	MsgWebSearchBegin         EventMsgKind = "web_search_begin"
	MsgWebSearchComplete      EventMsgKind = "web_search_complete"
	MsgTokenCount             EventMsgKind = "token_count"
	MsgError                  EventMsgKind = "error"
)

// EventMsg is the payload of an Event. Only the field matching Kind is set;
// callers switch on Kind before reading further.
type EventMsg struct {
	Kind EventMsgKind `json:"kind"`

	// AgentMessage / AgentMessageDelta
	Message      string `json:"message,omitempty"`
	Delta        string `json:"delta,omitempty"`

	// ReasoningDelta
	ReasoningDelta string `json:"reasoning_delta,omitempty"`

	// ExecCommandBegin / End / OutputDelta
	CallID     string   `json:"call_id,omitempty"`
	Command    []string `json:"command,omitempty"`
	WorkingDir string   `json:"working_dir,omitempty"`
	Stream     string   `json:"stream,omitempty"` // stdout|stderr
	Chunk      []byte   `json:"chunk,omitempty"`
	ExitCode   *int     `json:"exit_code,omitempty"`
	DurationMs int64    `json:"duration_ms,omitempty"`
	Stdout     string   `json:"stdout,omitempty"`
	Stderr     string   `json:"stderr,omitempty"`

	// ExecApprovalRequest / ApplyPatchApprovalRequest
	Reason    string   `json:"reason,omitempty"`
	Changes   []string `json:"changes,omitempty"`
	GrantRoot string   `json:"grant_root,omitempty"`

	// TurnDiff
	UnifiedDiff string `json:"unified_diff,omitempty"`

	// McpToolCall
	ToolName string `json:"tool_name,omitempty"`

	// WebSearch
	Query string `json:"query,omitempty"`

	// TokenCount
	Usage *Usage `json:"usage,omitempty"`

	// Error
	ErrorMessage string `json:"error_message,omitempty"`
	RequestID    string `json:"request_id,omitempty"`

	// TaskComplete
	LastAgentMessage *string `json:"last_agent_message,omitempty"`
}

// RPCMessage is a generic envelope used by external collaborators (the CLI,
// a future bridge) to talk to the core over a narrow boundary. Only Type and
// Payload are interpreted by the core; ID lets a caller correlate a response.
type RPCMessage struct {
	ID      *string         `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeRPC marshals v into an RPCMessage payload, swallowing marshal errors
// into an empty payload (mirrors the teacher's best-effort notification
// helpers, which never fail a turn over a malformed notification).
func EncodeRPC(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
