// Package orchestrator runs the turn loop: build a prompt from history,
// stream the model's response, dispatch the tool calls it proposes, and
// loop until the turn completes or is interrupted. Grounded in the
// teacher's agent/controller.go Chat method (build request -> stream ->
// execute tools -> loop maxTurns), generalized into the explicit state
// machine the spec describes and split across BuildingPrompt/Streaming/
// AwaitingTools instead of one flat for loop, so transient stream errors
// can retry in place without losing already-dispatched tool output.
package orchestrator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgecore/agentcore/internal/bus"
	"github.com/forgecore/agentcore/internal/contextwindow"
	"github.com/forgecore/agentcore/internal/coreerr"
	"github.com/forgecore/agentcore/internal/dispatch"
	"github.com/forgecore/agentcore/internal/history"
	"github.com/forgecore/agentcore/internal/modelclient"
	"github.com/forgecore/agentcore/internal/protocol"
	"github.com/forgecore/agentcore/internal/render"
	"github.com/forgecore/agentcore/internal/rollout"
	"github.com/forgecore/agentcore/internal/sse"
)

// ModelStreamer is the subset of *modelclient.Client the orchestrator
// depends on, so tests can substitute a fake stream.
type ModelStreamer interface {
	Stream(ctx context.Context, p modelclient.Prompt) (*modelclient.ResponseStream, error)
}

// ToolDispatcher is the subset of *dispatch.Dispatcher the orchestrator
// depends on.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, call dispatch.Call, emit dispatch.Emitter) (string, error)
	Resume(ctx context.Context, call dispatch.Call, decision protocol.ApprovalDecision, emit dispatch.Emitter) (string, error)
	ResumePatch(call dispatch.Call, decision protocol.ApprovalDecision, emit dispatch.Emitter) (string, error)
	RegisterApprovedCommand(op protocol.RegisterApprovedCommandOp)
}

// Recorder is the subset of *rollout.Recorder the orchestrator depends on.
type Recorder interface {
	Append(ev protocol.Event) error
}

// Config is everything a session's Orchestrator needs to build prompts and
// drive the loop.
type Config struct {
	Instructions     string
	Tools            []protocol.Tool
	TextFormat       map[string]interface{}
	ReasoningEffort  string
	ReasoningSummary string
	TextVerbosity    string
	Store            bool
	ModelOverride    string
	MaxModelRequests int // per turn, before forcing TaskComplete; 0 means no cap beyond tool-output exhaustion
	DefaultCwd       string
	DefaultEnv       []string
}

// Orchestrator owns one session's turn loop. It is the sole mutator of
// History and transcript; the render/rollout consumers only ever read
// through immutable borrows taken between turns.
type Orchestrator struct {
	Bus        *bus.Bus
	Model      ModelStreamer
	Dispatcher ToolDispatcher
	History    *history.State
	Recorder   Recorder
	Context    *contextwindow.Manager
	Render     *render.Cache // optional; nil disables layout invalidation
	Cfg        Config

	mu                     sync.Mutex
	transcript             []protocol.Message
	additionalInstructions string

	pendingApprovals map[string]pendingApproval // call_id -> awaiting decision
}

// LoadTranscript seeds the orchestrator's transcript from a resumed
// session's recorded events, before Run starts consuming submissions. Not
// safe to call once a turn is active.
func (o *Orchestrator) LoadTranscript(msgs []protocol.Message) {
	o.mu.Lock()
	o.transcript = append([]protocol.Message(nil), msgs...)
	o.mu.Unlock()
}

// SetAdditionalInstructions replaces the text appended to the developer
// intro on every subsequent prompt build. An auto-coordinator observer pass
// calls this to inject drift-correction guidance without restarting the
// session.
func (o *Orchestrator) SetAdditionalInstructions(s string) {
	o.mu.Lock()
	o.additionalInstructions = s
	o.mu.Unlock()
}

type pendingApproval struct {
	call dispatch.Call
	kind pendingKind
}

type pendingKind string

const (
	pendingExec  pendingKind = "exec"
	pendingPatch pendingKind = "patch"
)

// New builds an Orchestrator for one session.
func New(b *bus.Bus, model ModelStreamer, dispatcher ToolDispatcher, h *history.State, rec Recorder, cw *contextwindow.Manager, cfg Config) *Orchestrator {
	return &Orchestrator{
		Bus:              b,
		Model:            model,
		Dispatcher:       dispatcher,
		History:          h,
		Recorder:         rec,
		Context:          cw,
		Cfg:              cfg,
		pendingApprovals: make(map[string]pendingApproval),
	}
}

// Run drains the bus's Submissions channel until ctx is canceled or a
// Shutdown op is received.
//
// Exactly one turn is active at a time, but the loop itself never blocks
// inside a turn: a single select multiplexes new submissions against the
// active turn's in-flight work (the model stream becoming ready, stream
// events, tool completions, a scheduled retry). A naive design that called
// into a blocking runTurn per submission would deadlock the moment a tool
// call paused for approval, since the only submission that can unblock it
// (ExecApproval/PatchApproval) arrives over the same channel the blocked
// call is waiting to drain. Nil-channel gating (the unused select cases
// below are nil when no turn is active) disables those cases instead of
// needing a second goroutine.
func (o *Orchestrator) Run(ctx context.Context) {
	var active *turnState
	var queued []protocol.Submission

	for {
		var toolDoneCh chan toolOutcome
		var streamEventsCh <-chan sse.ResponseEvent
		var streamReadyCh chan streamReadyMsg
		var retryReadyCh chan struct{}
		var cancelCh <-chan struct{}
		if active != nil {
			toolDoneCh = active.toolDone
			streamEventsCh = active.streamEvents
			streamReadyCh = active.streamReady
			retryReadyCh = active.retryReady
			cancelCh = active.cancelCh
		}

		select {
		case <-ctx.Done():
			return

		case sub, ok := <-o.Bus.Submissions():
			if !ok {
				return
			}
			if sub.Op == protocol.OpShutdown {
				return
			}
			active, queued = o.routeSubmission(ctx, active, queued, sub)

		case <-cancelCh:
			o.handleInterrupt(active)

		case msg := <-streamReadyCh:
			o.onStreamReady(active, msg)

		case ev, ok := <-streamEventsCh:
			if ok {
				o.onStreamEvent(active, ev)
			} else {
				active.streamEvents = nil
				o.onStreamClosed(ctx, active)
			}

		case out := <-toolDoneCh:
			o.onToolOutcome(ctx, active, out)

		case <-retryReadyCh:
			active.retryReady = nil
			o.beginModelRequest(ctx, active)
		}

		if active != nil && active.finished {
			active = nil
			if len(queued) > 0 {
				next := queued[0]
				queued = queued[1:]
				active = o.startTurn(ctx, next)
			}
		}
	}
}

// routeSubmission applies one non-Shutdown submission against the current
// active turn (nil if idle), returning the updated active turn and queue. A
// UserInput/QueueUserInput arriving while a turn is already running is
// queued rather than started immediately, so a second prompt typed ahead of
// the model's answer doesn't get silently dropped or interleaved.
func (o *Orchestrator) routeSubmission(ctx context.Context, active *turnState, queued []protocol.Submission, sub protocol.Submission) (*turnState, []protocol.Submission) {
	switch sub.Op {
	case protocol.OpConfigureSession:
		if op, ok := sub.Payload.(protocol.ConfigureSessionOp); ok && active == nil {
			o.applyConfigureSession(op)
		}
		return active, queued

	case protocol.OpUserInput, protocol.OpQueueUserInput:
		if active == nil {
			return o.startTurn(ctx, sub), queued
		}
		return active, append(queued, sub)

	case protocol.OpExecApproval:
		op, ok := sub.Payload.(protocol.ExecApprovalOp)
		if ok && active != nil {
			o.resumeApproval(active, op.CallID, op.Decision)
		}
		return active, queued

	case protocol.OpPatchApproval:
		op, ok := sub.Payload.(protocol.PatchApprovalOp)
		if ok && active != nil {
			o.resumeApproval(active, op.CallID, op.Decision)
		}
		return active, queued

	case protocol.OpRegisterApprovedCmd:
		if op, ok := sub.Payload.(protocol.RegisterApprovedCommandOp); ok {
			o.Dispatcher.RegisterApprovedCommand(op)
		}
		return active, queued

	case protocol.OpCompact:
		if active == nil {
			o.runCompact(sub.ID)
		}
		return active, queued

	case protocol.OpAddToHistory, protocol.OpGetHistoryEntryReq, protocol.OpReview:
		log.Printf("[Orchestrator] op %s has no core-side handling; left to an external collaborator", sub.Op)
		return active, queued

	default:
		log.Printf("[Orchestrator] unhandled op %s", sub.Op)
		return active, queued
	}
}

// applyConfigureSession folds a ConfigureSessionOp into Cfg; only the fields
// the caller actually set (non-empty) are overwritten, so a CLI invocation
// that only wants to change cwd doesn't clobber a previously configured
// model override.
func (o *Orchestrator) applyConfigureSession(op protocol.ConfigureSessionOp) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if op.Cwd != "" {
		o.Cfg.DefaultCwd = op.Cwd
	}
	if op.Model != "" {
		o.Cfg.ModelOverride = op.Model
	}
	if op.Instructions != "" {
		o.Cfg.Instructions = op.Instructions
	}
	if op.ReasoningEffort != "" {
		o.Cfg.ReasoningEffort = op.ReasoningEffort
	}
}

// runCompact eagerly re-runs the context-window manager over the current
// transcript and reports the resulting token usage, without starting a
// model request. Only meaningful between turns; Compact received mid-turn
// is dropped since the next BuildingPrompt phase will re-run Manage anyway.
func (o *Orchestrator) runCompact(submissionID string) {
	o.mu.Lock()
	msgs := append([]protocol.Message(nil), o.transcript...)
	o.mu.Unlock()

	result := o.Context.Manage(msgs, o.Cfg.Instructions)
	o.mu.Lock()
	o.transcript = result.Messages
	o.mu.Unlock()

	o.emit(submissionID, protocol.EventMsg{Kind: protocol.MsgTokenCount, Usage: &protocol.Usage{
		InputTokens: result.TokensUsed,
		TotalTokens: result.TokensUsed,
	}}, nil)
}

func (o *Orchestrator) emit(submissionID string, msg protocol.EventMsg, order *protocol.OrderMeta) {
	o.Bus.Emit(submissionID, msg, order)
	if o.Recorder != nil {
		if err := o.Recorder.Append(protocol.Event{ID: submissionID, Msg: msg, Order: order}); err != nil {
			log.Printf("[Orchestrator] rollout append failed: %v", err)
		}
	}
}

func newRequestID() string {
	return uuid.NewString()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// classify reclassifies a plain error into a *coreerr.CoreError, treating
// anything not already classified as a non-retryable client error so an
// unexpected failure still ends the turn instead of retrying forever.
func classify(err error) *coreerr.CoreError {
	if ce, ok := err.(*coreerr.CoreError); ok {
		return ce
	}
	if se, ok := err.(*sse.StreamError); ok {
		kind := coreerr.StreamClosed
		if se.Kind == sse.ErrStreamProtocol {
			kind = coreerr.StreamProtocol
		}
		retry := time.Duration(0)
		if se.RetryAfter != nil {
			retry = time.Duration(*se.RetryAfter) * time.Second
		}
		return &coreerr.CoreError{Kind: kind, Message: se.Message, RetryAfter: retry, Wrapped: err}
	}
	return &coreerr.CoreError{Kind: coreerr.ClientError, Message: err.Error(), Wrapped: err}
}
