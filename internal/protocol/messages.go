// Package protocol holds the wire and in-process vocabulary shared by every
// core component: chat messages sent to a model, tool call/result blocks, and
// the small value types (Todo, Usage, OrderMeta) that travel between the
// orchestrator, the history store, and the rollout recorder.
package protocol

import "encoding/json"

// Message is one turn of model-facing conversation history. It carries either
// plain content, a set of tool calls the assistant made, or the results of a
// previous tool call — never more than one of ToolUse/ToolResults at a time.
type Message struct {
	Role             string            `json:"role"` // user, assistant, system
	Content          string            `json:"content"`
	ReasoningContent string            `json:"reasoning_content,omitempty"`
	ToolUse          []ToolUseBlock    `json:"tool_use,omitempty"`
	ToolResults      []ToolResultBlock `json:"tool_results,omitempty"`
}

// ToolUseBlock is a single tool call emitted by the assistant.
type ToolUseBlock struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResultBlock is the result of executing one ToolUseBlock.
type ToolResultBlock struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Tool is a tool definition offered to the model.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Usage carries model-reported token accounting for a single request.
type Usage struct {
	InputTokens          int `json:"input_tokens"`
	CachedInputTokens    int `json:"cached_input_tokens,omitempty"`
	OutputTokens         int `json:"output_tokens"`
	ReasoningOutputTokens int `json:"reasoning_output_tokens,omitempty"`
	TotalTokens          int `json:"total_tokens"`
}

// OrderMeta is model-provided ordering used to stabilize render position even
// when tool outputs race with the assistant message.
type OrderMeta struct {
	RequestOrdinal int `json:"request_ordinal"`
	OutputIndex    int `json:"output_index"`
	SequenceNumber int `json:"sequence_number"`
}

// TodoStatus is the state of a single unit of work in a session's task list.
type TodoStatus string

const (
	TodoPending   TodoStatus = "pending"
	TodoCurrent   TodoStatus = "current"
	TodoCompleted TodoStatus = "completed"
)

// Todo is one entry in a session's task list.
type Todo struct {
	Text   string     `json:"text"`
	Status TodoStatus `json:"status"`
}

// ContextStatus reports context-window usage for a turn.
type ContextStatus struct {
	TokensUsed   int     `json:"tokens_used"`
	TokensMax    int     `json:"tokens_max"`
	Percentage   float64 `json:"percentage"`
	WasCondensed bool    `json:"was_condensed,omitempty"`
	WasTruncated bool    `json:"was_truncated,omitempty"`
	Summary      string  `json:"summary,omitempty"`
}
