// Package sse decodes a model's Responses-style event stream into typed
// ResponseEvents, deduplicating and reordering deltas the way the teacher's
// Anthropic stream processor folds content_block_delta frames into
// StreamChunks, but keyed on the richer (item_id, output_index,
// sequence_number) tuple this wire format provides.
package sse

import "github.com/forgecore/agentcore/internal/protocol"

// ResponseEventKind tags the closed sum type ParseStream produces.
type ResponseEventKind string

const (
	EvCreated                ResponseEventKind = "created"
	EvOutputItemDone         ResponseEventKind = "output_item_done"
	EvOutputTextDelta        ResponseEventKind = "output_text_delta"
	EvReasoningSummaryDelta  ResponseEventKind = "reasoning_summary_delta"
	EvReasoningContentDelta  ResponseEventKind = "reasoning_content_delta"
	EvReasoningSummaryPartAdded ResponseEventKind = "reasoning_summary_part_added"
	EvWebSearchCallBegin     ResponseEventKind = "web_search_call_begin"
	EvWebSearchCallCompleted ResponseEventKind = "web_search_call_completed"
	EvCompleted              ResponseEventKind = "completed"
)

// ResponseEvent is one decoded, deduplicated unit handed to the model client.
// Only the fields relevant to Kind are populated.
type ResponseEvent struct {
	Kind ResponseEventKind

	// OutputItemDone
	ItemType string // e.g. "web_search_call", "message", "function_call"
	ItemJSON []byte

	// OutputTextDelta / ReasoningSummaryDelta / ReasoningContentDelta
	Delta          string
	ItemID         string
	OutputIndex    int
	SequenceNumber int
	HasSequence    bool
	SummaryIndex   int
	ContentIndex   int

	// WebSearchCallBegin / WebSearchCallCompleted
	CallID string
	Query  string

	// Completed
	ResponseID string
	Usage      *protocol.Usage

	// fatal-stream terminators surface through ParseStream's error return,
	// not through ResponseEvent; see StreamError.
}

// StreamErrorKind distinguishes the handful of ways a stream ends badly.
type StreamErrorKind string

const (
	ErrStreamClosed  StreamErrorKind = "stream_closed"
	ErrStreamProtocol StreamErrorKind = "stream_protocol"
)

// StreamError is returned by ParseStream when the stream ends without a
// clean response.completed, or the provider reports response.failed.
type StreamError struct {
	Kind       StreamErrorKind
	Message    string
	RetryAfter *int // seconds, when the provider supplied resets_in_seconds
}

func (e *StreamError) Error() string {
	return e.Message
}
