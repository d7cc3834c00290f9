// Package bus is the submission/event queue separating client-issued
// Submissions from agent-emitted Events, grounded in the teacher's
// Controller, which serializes user input and tool results through a single
// channel-driven Chat loop rather than exposing goroutine-shared state.
package bus

import (
	"sync"

	"github.com/forgecore/agentcore/internal/protocol"
)

// Bus is a single session's bidirectional queue: submissions flow in,
// events flow out.
type Bus struct {
	submissions chan protocol.Submission
	events      chan protocol.Event

	mu      sync.Mutex
	seq     map[string]int // submission id -> next event_seq
	cancels map[string]chan struct{}
}

// New creates a Bus with the given channel buffering.
func New(buffer int) *Bus {
	return &Bus{
		submissions: make(chan protocol.Submission, buffer),
		events:      make(chan protocol.Event, buffer),
		seq:         make(map[string]int),
		cancels:     make(map[string]chan struct{}),
	}
}

// Submit enqueues a client submission. Interrupt submissions are handled
// specially: they close the target submission's cancel channel instead of
// being queued for the orchestrator to pick up as ordinary work.
func (b *Bus) Submit(s protocol.Submission) {
	if s.Op == protocol.OpInterrupt {
		b.Cancel(s.ID)
		return
	}
	b.submissions <- s
}

// Submissions exposes the inbound channel for the orchestrator to range
// over.
func (b *Bus) Submissions() <-chan protocol.Submission {
	return b.submissions
}

// Events exposes the outbound channel for a client to range over.
func (b *Bus) Events() <-chan protocol.Event {
	return b.events
}

// StartTurn resets a submission's event_seq counter to 0 and registers a
// fresh cancellation channel, called once at TaskStarted.
func (b *Bus) StartTurn(submissionID string) <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq[submissionID] = 0
	cancel := make(chan struct{})
	b.cancels[submissionID] = cancel
	return cancel
}

// Emit publishes msg for submissionID, stamping it with the next
// monotonically increasing event_seq for that submission.
func (b *Bus) Emit(submissionID string, msg protocol.EventMsg, order *protocol.OrderMeta) {
	b.mu.Lock()
	seq := b.seq[submissionID]
	b.seq[submissionID] = seq + 1
	b.mu.Unlock()

	b.events <- protocol.Event{ID: submissionID, EventSeq: seq, Order: order, Msg: msg}
}

// EndTurn drops the bookkeeping for a finished submission.
func (b *Bus) EndTurn(submissionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.seq, submissionID)
	delete(b.cancels, submissionID)
}

// Cancel silently requests that the in-flight turn for submissionID stop;
// it is a no-op if the submission isn't running, matching the spec's
// "silent Interrupt" contract (no error event is emitted for an interrupt
// with no matching turn).
func (b *Bus) Cancel(submissionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cancel, ok := b.cancels[submissionID]; ok {
		select {
		case <-cancel:
			// already closed
		default:
			close(cancel)
		}
	}
}

// Emitter adapts a Bus + submission id to the dispatch.Emitter interface.
type Emitter struct {
	Bus          *Bus
	SubmissionID string
}

// Emit implements dispatch.Emitter.
func (e Emitter) Emit(msg protocol.EventMsg) {
	e.Bus.Emit(e.SubmissionID, msg, nil)
}
