// Package history owns the id-keyed record store every render and rollout
// consumer reads from: an ordered list of tagged HistoryRecords plus the
// call_id/stream_id secondary indexes, generalized from the teacher's flat
// []protocol.Message session state and controller.go's processAssistantTurn
// (which derives tool-call/result pairing from adjacent messages — here that
// pairing is a first-class Exec record instead of a derived view).
package history

import "time"

// ID is a process-local monotonic handle assigned by State. Zero means
// unassigned.
type ID int64

// Zero is the sentinel "unassigned" id.
const Zero ID = 0

// Kind tags the closed sum type of HistoryRecord.
type Kind string

const (
	KindAssistantMessage Kind = "assistant_message"
	KindAssistantStream  Kind = "assistant_stream"
	KindReasoning        Kind = "reasoning"
	KindExec             Kind = "exec"
	KindMergedExec       Kind = "merged_exec"
	KindExplore          Kind = "explore"
	KindDiff             Kind = "diff"
	KindPlain            Kind = "plain"
)

// ExecAction classifies a command for display aggregation.
type ExecAction string

const (
	ActionRead   ExecAction = "read"
	ActionSearch ExecAction = "search"
	ActionList   ExecAction = "list"
	ActionRun    ExecAction = "run"
)

// ExecStatus is the lifecycle state of an Exec record.
type ExecStatus string

const (
	ExecRunning ExecStatus = "running"
	ExecSuccess ExecStatus = "success"
	ExecError   ExecStatus = "error"
)

// ExploreStatus is the lifecycle state of one Explore entry.
type ExploreStatus string

const (
	ExploreRunning  ExploreStatus = "running"
	ExploreSuccess  ExploreStatus = "success"
	ExploreNotFound ExploreStatus = "not_found"
	ExploreError    ExploreStatus = "error"
)

// OutputChunk is one offset-ordered slice of an Exec's stdout or stderr.
type OutputChunk struct {
	Offset int
	Bytes  []byte
}

// Exec is a single shell invocation, live or finished.
type Exec struct {
	CallID       string
	Command      []string
	Parsed       []string
	Action       ExecAction
	Status       ExecStatus
	StdoutChunks []OutputChunk
	StderrChunks []OutputChunk
	ExitCode     *int
	WaitTotal    *time.Duration
	WaitNotes    []string
	StartedAt    time.Time
	CompletedAt  *time.Time
	WorkingDir   string
}

// StdoutText concatenates StdoutChunks in offset order.
func (e Exec) StdoutText() string { return joinChunks(e.StdoutChunks) }

// StderrText concatenates StderrChunks in offset order.
func (e Exec) StderrText() string { return joinChunks(e.StderrChunks) }

func joinChunks(chunks []OutputChunk) string {
	total := 0
	for _, c := range chunks {
		total += len(c.Bytes)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c.Bytes...)
	}
	return string(out)
}

// MergedExec consolidates adjacent same-action Execs into one display unit.
type MergedExec struct {
	Action   ExecAction
	Segments []Exec
}

// ExploreEntry is one aggregated Read/Search/List run inside an Explore
// block.
type ExploreEntry struct {
	Action   ExecAction
	Summary  string
	Status   ExploreStatus
	ExitCode *int
}

// Explore groups adjacent Read/Search/List execs into one visual block.
type Explore struct {
	Entries []ExploreEntry
}

// ReasoningSection is one piece of a model's reasoning trace.
type ReasoningSection struct {
	Text string
}

// Reasoning is a record of the model's visible reasoning for one turn.
type Reasoning struct {
	Sections   []ReasoningSection
	Effort     string
	InProgress bool
}

// StreamDelta is one increment of a live AssistantStream, carrying a
// monotone sequence number (its position in the stream's Deltas).
type StreamDelta struct {
	Sequence int
	Text     string
}

// AssistantStream is a live, in-progress assistant message. It is replaced
// in place by further UpsertAssistantStream calls and removed entirely when
// finalized into an AssistantMessage.
type AssistantStream struct {
	StreamID        string
	PreviewMarkdown string
	InProgress      bool
	Deltas          []StreamDelta
}

// Citation is one source reference attached to an assistant message.
type Citation struct {
	Title string
	URL   string
}

// AssistantMessage is a finalized model response.
type AssistantMessage struct {
	StreamID    string // the stream_id it was finalized from, if any
	Markdown    string
	Citations   []Citation
	Metadata    map[string]string
	TokenUsage  *TokenUsage
	CreatedAt   time.Time
}

// TokenUsage mirrors protocol.Usage without importing it, so history stays
// free of a dependency on the wire protocol package.
type TokenUsage struct {
	InputTokens           int
	CachedInputTokens     int
	OutputTokens          int
	ReasoningOutputTokens int
	TotalTokens           int
}

// Diff is a single unified diff produced by a successful apply_patch.
type Diff struct {
	UnifiedDiff string
}

// SpanTone and SpanEmphasis are display hints a renderer maps to color/
// weight; history only carries the semantic tag.
type SpanTone string
type SpanEmphasis string

// Span is one styled run of text inside a Plain line.
type Span struct {
	Text     string
	Tone     SpanTone
	Emphasis SpanEmphasis
	Entity   string
}

// PlainLineKind distinguishes a Plain record's line roles (e.g. a header vs
// body line) for renderers that treat them differently.
type PlainLineKind string

// PlainLine is one line of a Plain record.
type PlainLine struct {
	Kind  PlainLineKind
	Spans []Span
}

// Plain is a catch-all record for notices, errors, and other content that
// doesn't warrant its own variant (system notices, approval prompts once
// resolved, token-count summaries).
type Plain struct {
	Role   string
	Kind   string
	Header string
	Lines  []PlainLine
}

// Record is one tagged HistoryRecord: exactly one of the embedded pointers
// is non-nil, matching Kind.
type Record struct {
	ID   ID
	Kind Kind

	AssistantMessage *AssistantMessage
	AssistantStream  *AssistantStream
	Reasoning        *Reasoning
	Exec             *Exec
	MergedExec       *MergedExec
	Explore          *Explore
	Diff             *Diff
	Plain            *Plain
}
