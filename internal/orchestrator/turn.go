package orchestrator

import (
	"context"
	"log"
	"time"

	"github.com/forgecore/agentcore/internal/coreerr"
	"github.com/forgecore/agentcore/internal/dispatch"
	"github.com/forgecore/agentcore/internal/history"
	"github.com/forgecore/agentcore/internal/modelclient"
	"github.com/forgecore/agentcore/internal/protocol"
	"github.com/forgecore/agentcore/internal/sse"
)

// toolOutcome is what a dispatch goroutine reports back to the turn loop
// once a tool call (or its resumed approval) finishes.
type toolOutcome struct {
	callID string
	text   string
	err    error
}

// streamReadyMsg is what beginModelRequest's goroutine reports once the
// model's HTTP connection either opens (rs non-nil) or fails outright.
type streamReadyMsg struct {
	rs  *modelclient.ResponseStream
	err error
}

// turnState is the orchestrator's BuildingPrompt/Streaming/AwaitingTools
// state machine for a single submission, reset between model requests
// within the same turn but never shared across turns.
type turnState struct {
	submissionID   string
	requestOrdinal int

	execCtx    context.Context
	execCancel context.CancelFunc
	cancelCh   <-chan struct{}

	streamReady  chan streamReadyMsg
	streamEvents <-chan sse.ResponseEvent
	stream       *modelclient.ResponseStream
	streamDone   bool

	retryReady chan struct{}

	toolDone     chan toolOutcome
	pendingCount int

	assistantTextByItem map[string]string
	reasoningID         map[string]history.ID
	reasoningText       map[string]string
	assistantLastText   string
	lastAgentMessage    *string

	toolCallBlocks []protocol.ToolUseBlock
	toolResults    []protocol.ToolResultBlock

	finished bool
}

func newTurnState(submissionID string, parent context.Context, cancelCh <-chan struct{}) *turnState {
	execCtx, execCancel := context.WithCancel(parent)
	return &turnState{
		submissionID:        submissionID,
		requestOrdinal:      1,
		execCtx:             execCtx,
		execCancel:          execCancel,
		cancelCh:            cancelCh,
		toolDone:            make(chan toolOutcome, 64),
		assistantTextByItem: make(map[string]string),
		reasoningID:         make(map[string]history.ID),
		reasoningText:       make(map[string]string),
	}
}

// startTurn begins a new turn for sub, recording the user's input in both
// the transcript and History, and kicks off the first model request.
func (o *Orchestrator) startTurn(ctx context.Context, sub protocol.Submission) *turnState {
	input, _ := sub.Payload.(protocol.UserInputOp)

	cancelCh := o.Bus.StartTurn(sub.ID)
	active := newTurnState(sub.ID, ctx, cancelCh)

	o.appendUserInput(input.Items)
	o.emit(sub.ID, protocol.EventMsg{Kind: protocol.MsgTaskStarted}, nil)

	o.beginModelRequest(ctx, active)
	return active
}

// beginModelRequest builds a prompt from the current transcript and opens
// the model stream in a background goroutine, so the turn loop's select
// never blocks on the HTTP round trip that establishes it.
func (o *Orchestrator) beginModelRequest(ctx context.Context, active *turnState) {
	prompt := o.buildPrompt(active)
	active.streamReady = make(chan streamReadyMsg, 1)

	go func() {
		rs, err := o.Model.Stream(active.execCtx, prompt)
		active.streamReady <- streamReadyMsg{rs: rs, err: err}
	}()
}

func (o *Orchestrator) buildPrompt(active *turnState) modelclient.Prompt {
	o.mu.Lock()
	msgs := append([]protocol.Message(nil), o.transcript...)
	instructions := o.Cfg.Instructions
	if o.additionalInstructions != "" {
		instructions = instructions + "\n\n" + o.additionalInstructions
	}
	o.mu.Unlock()

	result := o.Context.Manage(msgs, instructions)
	o.emit(active.submissionID, protocol.EventMsg{Kind: protocol.MsgTokenCount, Usage: &protocol.Usage{
		InputTokens: result.TokensUsed,
		TotalTokens: result.TokensUsed,
	}}, nil)

	return modelclient.Prompt{
		Input:            result.Messages,
		Tools:            o.Cfg.Tools,
		TextFormat:       o.Cfg.TextFormat,
		ModelOverride:    o.Cfg.ModelOverride,
		ReasoningEffort:  o.Cfg.ReasoningEffort,
		ReasoningSummary: o.Cfg.ReasoningSummary,
		TextVerbosity:    o.Cfg.TextVerbosity,
		Store:            o.Cfg.Store,
		Instructions:     instructions,
	}
}

func (o *Orchestrator) onStreamReady(active *turnState, msg streamReadyMsg) {
	if msg.err != nil {
		o.handleRequestError(active, classify(msg.err))
		return
	}
	active.stream = msg.rs
	active.streamEvents = msg.rs.Events
	active.streamDone = false
}

// onStreamEvent folds one decoded sse.ResponseEvent into History and the
// live transcript, spawning a tool-dispatch goroutine for any completed
// tool-call item.
func (o *Orchestrator) onStreamEvent(active *turnState, ev sse.ResponseEvent) {
	order := &protocol.OrderMeta{RequestOrdinal: active.requestOrdinal, OutputIndex: ev.OutputIndex, SequenceNumber: ev.SequenceNumber}

	switch ev.Kind {
	case sse.EvCreated:
		// Nothing to do; response.created carries only the response id.

	case sse.EvOutputTextDelta:
		text := active.assistantTextByItem[ev.ItemID] + ev.Delta
		active.assistantTextByItem[ev.ItemID] = text
		delta := ev.Delta
		mut := o.History.UpsertAssistantStream(len(o.History.Records()), ev.ItemID, text, &delta)
		o.invalidate(mut)
		active.assistantLastText = text
		o.emit(active.submissionID, protocol.EventMsg{Kind: protocol.MsgAgentMessageDelta, Delta: ev.Delta}, order)

	case sse.EvReasoningSummaryDelta, sse.EvReasoningContentDelta:
		text := active.reasoningText[ev.ItemID] + ev.Delta
		active.reasoningText[ev.ItemID] = text
		o.upsertReasoning(active, ev.ItemID, text)
		o.emit(active.submissionID, protocol.EventMsg{Kind: protocol.MsgReasoningDelta, ReasoningDelta: ev.Delta}, order)

	case sse.EvReasoningSummaryPartAdded:
		// A new reasoning section starts; next deltas for this item append
		// to a fresh section rather than the prior one. The accumulated
		// text tracked in reasoningText is section-agnostic (joined), which
		// matches Reasoning.Sections holding one synthesized section per
		// item for now.

	case sse.EvWebSearchCallBegin:
		o.emit(active.submissionID, protocol.EventMsg{Kind: protocol.MsgWebSearchBegin, CallID: ev.CallID}, order)

	case sse.EvWebSearchCallCompleted:
		o.emit(active.submissionID, protocol.EventMsg{Kind: protocol.MsgWebSearchComplete, CallID: ev.CallID, Query: ev.Query}, order)

	case sse.EvOutputItemDone:
		o.onOutputItemDone(active, ev, order)

	case sse.EvCompleted:
		// The stream channel closes shortly after this event; the request's
		// transcript append and AwaitingTools transition happen in
		// onStreamClosed once that close is observed, not here, since
		// ev.Usage/the final item text may still be followed by more
		// frames for a stream with multiple response items.
		if ev.Usage != nil {
			o.emit(active.submissionID, protocol.EventMsg{Kind: protocol.MsgTokenCount, Usage: ev.Usage}, order)
		}
	}
}

func (o *Orchestrator) upsertReasoning(active *turnState, itemID, text string) {
	rec := history.Record{Kind: history.KindReasoning, Reasoning: &history.Reasoning{
		Sections:   []history.ReasoningSection{{Text: text}},
		InProgress: true,
	}}
	if id, ok := active.reasoningID[itemID]; ok {
		idx := o.History.IndexOf(id)
		mut := o.History.Replace(idx, rec)
		o.invalidate(mut)
		return
	}
	mut := o.History.Insert(len(o.History.Records()), rec)
	active.reasoningID[itemID] = mut.ID
	o.invalidate(mut)
}

func (o *Orchestrator) onOutputItemDone(active *turnState, ev sse.ResponseEvent, order *protocol.OrderMeta) {
	item := parseItem(ev.ItemJSON)

	switch item.Type {
	case "message":
		text := item.assistantText()
		if text == "" {
			text = active.assistantTextByItem[item.ID]
		}
		mut := o.History.FinalizeAssistantStream(item.ID, text, nil, nil, nil, nowUTC())
		o.invalidate(mut)
		active.assistantLastText = text

	case "reasoning":
		text := item.reasoningText()
		if text == "" {
			text = active.reasoningText[item.ID]
		}
		if id, ok := active.reasoningID[item.ID]; ok {
			idx := o.History.IndexOf(id)
			mut := o.History.Replace(idx, history.Record{Kind: history.KindReasoning, Reasoning: &history.Reasoning{
				Sections: []history.ReasoningSection{{Text: text}},
			}})
			o.invalidate(mut)
		}

	case "web_search_call":
		// Synthesized begin/complete events already covered this item;
		// nothing further to record.

	default:
		if item.isToolCall() {
			o.beginToolCall(active, item, order)
		}
	}
}

func (o *Orchestrator) beginToolCall(active *turnState, item itemWire, order *protocol.OrderMeta) {
	call := item.toCall(o.Cfg)
	active.toolCallBlocks = append(active.toolCallBlocks, item.toolUseBlock())
	active.pendingCount++

	action := classifyAction(call.Command)
	mut := o.History.StartExec(len(o.History.Records()), call.CallID, call.Command, nil, action, nowUTC(), call.Cwd)
	o.invalidate(mut)

	o.spawnTool(active, call, order)
}

func classifyAction(command []string) history.ExecAction {
	if len(command) == 0 {
		return history.ActionRun
	}
	switch command[0] {
	case "cat", "head", "tail", "less", "sed", "awk":
		return history.ActionRead
	case "grep", "rg", "ag", "find":
		return history.ActionSearch
	case "ls", "tree":
		return history.ActionList
	default:
		return history.ActionRun
	}
}

// turnEmitter adapts a turnState + Orchestrator into dispatch.Emitter,
// forwarding every EventMsg to the bus/recorder and, for the kinds that
// change a record's lifecycle (exec output, exec end, a produced diff),
// folding it into History too. dispatch never touches History directly,
// keeping the orchestrator the sole mutator.
type turnEmitter struct {
	o      *Orchestrator
	active *turnState
	order  *protocol.OrderMeta
}

// Emit drops anything a dispatch goroutine produces after its turn's execCtx
// is done (completed, fatally errored, or interrupted) instead of forwarding
// it to the bus/recorder. Without this, a tool goroutine that wakes from
// <-ctx.Done()/cmd.Wait() after handleInterrupt has already emitted
// TurnAborted and called Bus.EndTurn would push a stray ExecCommandEnd onto
// an already-ended submission, re-violating the "dropped pending tool
// outputs" contract and picking up a fresh, decreasing event_seq. execCtx.Err
// is safe to read concurrently with the orchestrator goroutine's execCancel.
func (e turnEmitter) Emit(msg protocol.EventMsg) {
	if e.active.execCtx.Err() != nil {
		return
	}
	e.o.emit(e.active.submissionID, msg, e.order)
	e.o.applyHistoryForMsg(msg)
}

func (o *Orchestrator) applyHistoryForMsg(msg protocol.EventMsg) {
	switch msg.Kind {
	case protocol.MsgExecCommandOutputDelta:
		var stdout, stderr []byte
		if msg.Stream == "stderr" {
			stderr = msg.Chunk
		} else {
			stdout = msg.Chunk
		}
		o.invalidate(o.History.UpdateExecStream(msg.CallID, stdout, stderr))

	case protocol.MsgExecCommandEnd:
		status := history.ExecSuccess
		if msg.ExitCode == nil || *msg.ExitCode != 0 {
			status = history.ExecError
		}
		completedAt := nowUTC()
		mut := o.History.FinishExec(history.FinishExecParams{
			CallID:      msg.CallID,
			Status:      status,
			ExitCode:    msg.ExitCode,
			CompletedAt: &completedAt,
			StdoutTail:  msg.Stdout,
			StderrTail:  msg.Stderr,
		})
		o.invalidate(mut)
		if mut.Kind != history.Noop {
			o.invalidate(o.History.AggregateExplore(mut.ID))
		}

	case protocol.MsgTurnDiff:
		o.invalidate(o.History.Insert(len(o.History.Records()), history.Record{
			Kind: history.KindDiff,
			Diff: &history.Diff{UnifiedDiff: msg.UnifiedDiff},
		}))
	}
}

func (o *Orchestrator) spawnTool(active *turnState, call dispatch.Call, order *protocol.OrderMeta) {
	emitter := turnEmitter{o: o, active: active, order: order}
	doneCh := active.toolDone

	go func() {
		text, err := o.Dispatcher.Dispatch(active.execCtx, call, emitter)
		if err == dispatch.ErrAwaitingApproval {
			kind := pendingExec
			if call.Kind == dispatch.CallApplyPatch {
				kind = pendingPatch
			}
			o.mu.Lock()
			o.pendingApprovals[call.CallID] = pendingApproval{call: call, kind: kind}
			o.mu.Unlock()
			return
		}
		doneCh <- toolOutcome{callID: call.CallID, text: text, err: err}
	}()
}

// resumeApproval re-enters a paused tool call once its ExecApproval or
// PatchApproval decision arrives, dispatched by call_id since the op kind
// alone doesn't say which dispatch path issued the pause.
func (o *Orchestrator) resumeApproval(active *turnState, callID string, decision protocol.ApprovalDecision) {
	o.mu.Lock()
	pa, ok := o.pendingApprovals[callID]
	if ok {
		delete(o.pendingApprovals, callID)
	}
	o.mu.Unlock()
	if !ok {
		log.Printf("[Orchestrator] approval decision for unknown call_id %s", callID)
		return
	}

	emitter := turnEmitter{o: o, active: active, order: &protocol.OrderMeta{RequestOrdinal: active.requestOrdinal}}
	doneCh := active.toolDone

	go func() {
		var text string
		var err error
		if pa.kind == pendingPatch {
			text, err = o.Dispatcher.ResumePatch(pa.call, decision, emitter)
		} else {
			text, err = o.Dispatcher.Resume(active.execCtx, pa.call, decision, emitter)
		}
		doneCh <- toolOutcome{callID: pa.call.CallID, text: text, err: err}
	}()
}

func (o *Orchestrator) onToolOutcome(ctx context.Context, active *turnState, out toolOutcome) {
	active.pendingCount--

	text := out.text
	isError := out.err != nil
	if isError {
		text = out.err.Error()
	}
	active.toolResults = append(active.toolResults, protocol.ToolResultBlock{ToolUseID: out.callID, Content: text, IsError: isError})

	o.checkAwaitingTools(ctx, active)
}

// onStreamClosed observes the Events channel closing, which always follows
// a response.completed (clean) or a fatal/transport failure surfaced
// through ResponseStream.Err.
func (o *Orchestrator) onStreamClosed(ctx context.Context, active *turnState) {
	err := active.stream.Err()
	if err != nil {
		o.handleRequestError(active, classify(err))
		return
	}

	o.finalizeRequestMessage(active)
	active.streamDone = true
	o.checkAwaitingTools(ctx, active)
}

func (o *Orchestrator) finalizeRequestMessage(active *turnState) {
	if active.assistantLastText == "" && len(active.toolCallBlocks) == 0 {
		return
	}
	o.appendTranscript(protocol.Message{Role: "assistant", Content: active.assistantLastText, ToolUse: active.toolCallBlocks})

	if active.assistantLastText != "" {
		text := active.assistantLastText
		active.lastAgentMessage = &text
		o.emit(active.submissionID, protocol.EventMsg{Kind: protocol.MsgAgentMessage, Message: text}, &protocol.OrderMeta{RequestOrdinal: active.requestOrdinal})
	}
}

// checkAwaitingTools advances Streaming -> AwaitingTools -> (BuildingPrompt
// | TaskComplete). It is a no-op until the stream has fully closed and
// every dispatched tool call for this request has reported back, so a tool
// finishing before the model stops streaming doesn't prematurely start the
// next request.
func (o *Orchestrator) checkAwaitingTools(ctx context.Context, active *turnState) {
	if !active.streamDone || active.pendingCount > 0 {
		return
	}

	if len(active.toolResults) == 0 {
		o.completeTurn(active)
		return
	}

	o.appendTranscript(protocol.Message{Role: "user", ToolResults: active.toolResults})

	active.toolResults = nil
	active.toolCallBlocks = nil
	active.assistantTextByItem = make(map[string]string)
	active.reasoningID = make(map[string]history.ID)
	active.reasoningText = make(map[string]string)
	active.assistantLastText = ""
	active.streamDone = false
	if o.Cfg.MaxModelRequests > 0 && active.requestOrdinal >= o.Cfg.MaxModelRequests {
		o.completeTurn(active)
		return
	}
	active.requestOrdinal++

	o.beginModelRequest(ctx, active)
}

func (o *Orchestrator) completeTurn(active *turnState) {
	o.emit(active.submissionID, protocol.EventMsg{Kind: protocol.MsgTaskComplete, LastAgentMessage: active.lastAgentMessage}, nil)
	o.Bus.EndTurn(active.submissionID)
	active.execCancel()
	active.finished = true
}

// handleRequestError classifies a model request/stream failure and either
// schedules a retry (same request, same transcript, no tool results lost)
// or ends the turn fatally with TaskComplete{last_agent_message: None}.
func (o *Orchestrator) handleRequestError(active *turnState, ce *coreerr.CoreError) {
	o.emit(active.submissionID, protocol.EventMsg{Kind: protocol.MsgError, ErrorMessage: ce.Message, RequestID: ce.RequestID}, nil)

	if ce.Retryable() {
		delay := ce.RetryAfter
		if delay <= 0 {
			delay = time.Second
		}
		active.retryReady = make(chan struct{}, 1)
		go func() {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-t.C:
			case <-active.execCtx.Done():
			}
			active.retryReady <- struct{}{}
		}()
		return
	}

	o.emit(active.submissionID, protocol.EventMsg{Kind: protocol.MsgTaskComplete, LastAgentMessage: nil}, nil)
	o.Bus.EndTurn(active.submissionID)
	active.execCancel()
	active.finished = true
}

// handleInterrupt fires once per turn: InterruptRunning marks any
// still-running exec records as cancelled and clears InProgress on live
// stream records, TurnAborted is emitted, and the turn ends. cancelCh is cleared so a second select iteration (the
// closed channel stays ready forever) doesn't re-run this.
func (o *Orchestrator) handleInterrupt(active *turnState) {
	if active == nil || active.finished {
		return
	}
	active.execCancel()

	for _, mut := range o.History.InterruptRunning(nowUTC()) {
		o.invalidate(mut)
	}

	o.emit(active.submissionID, protocol.EventMsg{Kind: protocol.MsgTurnAborted}, nil)
	o.Bus.EndTurn(active.submissionID)
	active.finished = true
	active.cancelCh = nil
}

func (o *Orchestrator) invalidate(mut history.Mutation) {
	if o.Render != nil && mut.Kind != history.Noop {
		o.Render.InvalidateHistoryID(mut.ID)
	}
}

func (o *Orchestrator) appendTranscript(msg protocol.Message) {
	o.mu.Lock()
	o.transcript = append(o.transcript, msg)
	o.mu.Unlock()
}

func (o *Orchestrator) appendUserInput(items []protocol.InputItem) {
	text := ""
	for i, it := range items {
		if i > 0 {
			text += "\n"
		}
		text += it.Text
	}
	o.appendTranscript(protocol.Message{Role: "user", Content: text})

	mut := o.History.Insert(len(o.History.Records()), history.Record{
		Kind: history.KindPlain,
		Plain: &history.Plain{
			Role: "user",
			Kind: "user_message",
			Lines: []history.PlainLine{{Spans: []history.Span{{Text: text}}}},
		},
	})
	o.invalidate(mut)
}
