package autocoordinator

import (
	"context"
	"testing"
	"time"

	"github.com/forgecore/agentcore/internal/bus"
	"github.com/forgecore/agentcore/internal/contextwindow"
	"github.com/forgecore/agentcore/internal/dispatch"
	"github.com/forgecore/agentcore/internal/history"
	"github.com/forgecore/agentcore/internal/modelclient"
	"github.com/forgecore/agentcore/internal/orchestrator"
	"github.com/forgecore/agentcore/internal/protocol"
	"github.com/forgecore/agentcore/internal/sse"
)

// scriptedDecider returns one decision per call, in order.
type scriptedDecider struct {
	decisions []Decision
	calls     int
}

func (s *scriptedDecider) Decide(ctx context.Context, req DecisionRequest) (Decision, error) {
	d := s.decisions[s.calls]
	s.calls++
	return d, nil
}

type noopRecorder struct{}

func (noopRecorder) Append(ev protocol.Event) error { return nil }

// echoModel answers every Stream call with a single finished assistant
// message and no tool calls, so each primary turn the coordinator submits
// reaches TaskComplete immediately.
type echoModel struct{}

func (echoModel) Stream(ctx context.Context, p modelclient.Prompt) (*modelclient.ResponseStream, error) {
	events := make(chan sse.ResponseEvent, 4)
	errc := make(chan error, 1)
	events <- sse.ResponseEvent{Kind: sse.EvCreated}
	events <- sse.ResponseEvent{Kind: sse.EvOutputTextDelta, ItemID: "msg-1", Delta: "ok"}
	events <- sse.ResponseEvent{Kind: sse.EvOutputItemDone, ItemType: "message", ItemJSON: []byte(`{"type":"message","id":"msg-1","role":"assistant","content":[{"type":"output_text","text":"ok"}]}`)}
	events <- sse.ResponseEvent{Kind: sse.EvCompleted}
	close(events)
	errc <- nil
	close(errc)
	return modelclient.NewResponseStream(events, errc), nil
}

// noopDispatcher is never exercised by these tests since echoModel never
// emits a tool call, but satisfies orchestrator.ToolDispatcher.
type noopDispatcher struct{}

func (noopDispatcher) Dispatch(ctx context.Context, call dispatch.Call, emit dispatch.Emitter) (string, error) {
	return "", nil
}
func (noopDispatcher) Resume(ctx context.Context, call dispatch.Call, decision protocol.ApprovalDecision, emit dispatch.Emitter) (string, error) {
	return "", nil
}
func (noopDispatcher) ResumePatch(call dispatch.Call, decision protocol.ApprovalDecision, emit dispatch.Emitter) (string, error) {
	return "", nil
}
func (noopDispatcher) RegisterApprovedCommand(op protocol.RegisterApprovedCommandOp) {}

func TestCoordinatorDrivesUntilFinishSuccess(t *testing.T) {
	b := bus.New(64)
	h := history.New()
	cw := contextwindow.New(100000, contextwindow.DefaultSettings())

	model := &echoModel{}
	o := orchestrator.New(b, model, &noopDispatcher{}, h, noopRecorder{}, cw, orchestrator.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	decider := &scriptedDecider{decisions: []Decision{
		{FinishStatus: Continue, CLIPrompt: "do step one", ProgressCurrent: "starting"},
		{FinishStatus: Continue, CLIPrompt: "do step two", ProgressCurrent: "halfway"},
		{FinishStatus: FinishSuccess, ProgressCurrent: "done"},
	}}

	coord := New(b, o, decider, nil, Config{MaxTurns: 10})

	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx, "finish the task") }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected coordinator to finish cleanly, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("coordinator did not finish in time")
	}
	if decider.calls != 3 {
		t.Fatalf("expected 3 decision calls, got %d", decider.calls)
	}
}

func TestCoordinatorStopsAtMaxTurns(t *testing.T) {
	b := bus.New(64)
	h := history.New()
	cw := contextwindow.New(100000, contextwindow.DefaultSettings())

	model := &echoModel{}
	o := orchestrator.New(b, model, &noopDispatcher{}, h, noopRecorder{}, cw, orchestrator.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	always := &alwaysContinueDecider{}
	coord := New(b, o, always, nil, Config{MaxTurns: 2})

	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx, "never finishes") }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected a max-turns error")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("coordinator did not stop in time")
	}
}

type alwaysContinueDecider struct{ n int }

func (a *alwaysContinueDecider) Decide(ctx context.Context, req DecisionRequest) (Decision, error) {
	a.n++
	return Decision{FinishStatus: Continue, CLIPrompt: "keep going"}, nil
}
