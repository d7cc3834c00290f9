package bus

import (
	"testing"
	"time"

	"github.com/forgecore/agentcore/internal/protocol"
)

func TestEventSeqResetsPerTurn(t *testing.T) {
	b := New(8)

	b.StartTurn("sub_1")
	b.Emit("sub_1", protocol.EventMsg{Kind: protocol.MsgTaskStarted}, nil)
	b.Emit("sub_1", protocol.EventMsg{Kind: protocol.MsgAgentMessageDelta, Delta: "a"}, nil)
	b.Emit("sub_1", protocol.EventMsg{Kind: protocol.MsgAgentMessage, Message: "a"}, nil)
	b.EndTurn("sub_1")

	b.StartTurn("sub_1")
	b.Emit("sub_1", protocol.EventMsg{Kind: protocol.MsgTaskStarted}, nil)
	b.EndTurn("sub_1")

	close(b.events)

	var seqs []int
	for ev := range b.events {
		seqs = append(seqs, ev.EventSeq)
	}
	want := []int{0, 1, 2, 0}
	if len(seqs) != len(want) {
		t.Fatalf("seqs = %v, want %v", seqs, want)
	}
	for i := range want {
		if seqs[i] != want[i] {
			t.Errorf("seqs[%d] = %d, want %d", i, seqs[i], want[i])
		}
	}
}

func TestSubmitRoutesInterruptToCancelNotQueue(t *testing.T) {
	b := New(8)
	cancel := b.StartTurn("sub_1")

	b.Submit(protocol.Submission{ID: "sub_1", Op: protocol.OpInterrupt})

	select {
	case <-cancel:
	case <-time.After(time.Second):
		t.Fatal("expected cancel channel to be closed by interrupt")
	}

	select {
	case <-b.Submissions():
		t.Fatal("interrupt must not be queued as an ordinary submission")
	default:
	}
}

func TestSubmitQueuesOrdinaryOps(t *testing.T) {
	b := New(8)
	b.Submit(protocol.Submission{ID: "sub_1", Op: protocol.OpUserInput, Payload: protocol.UserInputOp{
		Items: []protocol.InputItem{{Text: "hi"}},
	}})

	select {
	case s := <-b.Submissions():
		if s.Op != protocol.OpUserInput {
			t.Errorf("Op = %v, want OpUserInput", s.Op)
		}
	default:
		t.Fatal("expected queued submission")
	}
}

func TestCancelOnUnknownSubmissionIsANoop(t *testing.T) {
	b := New(8)
	b.Cancel("no_such_submission")
}

func TestCancelIsIdempotent(t *testing.T) {
	b := New(8)
	cancel := b.StartTurn("sub_1")
	b.Cancel("sub_1")
	b.Cancel("sub_1")

	select {
	case <-cancel:
	default:
		t.Fatal("expected cancel channel closed")
	}
}

func TestEmitterAdapterStampsSubmissionID(t *testing.T) {
	b := New(8)
	b.StartTurn("sub_1")
	e := Emitter{Bus: b, SubmissionID: "sub_1"}
	e.Emit(protocol.EventMsg{Kind: protocol.MsgAgentMessage, Message: "hi"})

	ev := <-b.Events()
	if ev.ID != "sub_1" || ev.Msg.Message != "hi" {
		t.Errorf("ev = %+v", ev)
	}
}
