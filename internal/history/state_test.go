package history

import (
	"testing"
	"time"
)

func TestStartExecThenFinishExec(t *testing.T) {
	s := New()
	mut := s.StartExec(0, "call1", []string{"echo", "hi"}, nil, ActionRun, time.Now(), "/repo")
	if mut.Kind != Inserted {
		t.Fatalf("expected Inserted, got %v", mut.Kind)
	}

	rec, ok := s.Get(mut.ID)
	if !ok || rec.Exec.Status != ExecRunning {
		t.Fatalf("expected running exec, got %+v", rec)
	}

	code := 0
	now := time.Now()
	finish := s.FinishExec(FinishExecParams{CallID: "call1", Status: ExecSuccess, ExitCode: &code, CompletedAt: &now})
	if finish.Kind != Replaced {
		t.Fatalf("expected Replaced, got %v", finish.Kind)
	}
	rec, _ = s.Get(mut.ID)
	if rec.Exec.Status != ExecSuccess || rec.Exec.ExitCode == nil || *rec.Exec.ExitCode != 0 {
		t.Fatalf("exec not finalized: %+v", rec.Exec)
	}
	if rec.Exec.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
}

func TestFinishExecIsIdempotent(t *testing.T) {
	s := New()
	s.StartExec(0, "call1", []string{"ls"}, nil, ActionList, time.Now(), "/repo")

	code1, code2 := 0, 1
	first := s.FinishExec(FinishExecParams{CallID: "call1", Status: ExecSuccess, ExitCode: &code1})
	if first.Kind != Replaced {
		t.Fatalf("first finish should replace, got %v", first.Kind)
	}

	second := s.FinishExec(FinishExecParams{CallID: "call1", Status: ExecError, ExitCode: &code2})
	if second.Kind != Noop {
		t.Fatalf("second finish should be a no-op, got %v", second.Kind)
	}

	rec, _ := s.Get(first.ID)
	if rec.Exec.Status != ExecSuccess {
		t.Fatalf("terminal record was overwritten: %+v", rec.Exec)
	}
}

func TestStartExecNeverDowngradesTerminalRecord(t *testing.T) {
	s := New()
	mut := s.StartExec(0, "call1", []string{"ls"}, nil, ActionList, time.Now(), "/repo")
	code := 0
	s.FinishExec(FinishExecParams{CallID: "call1", Status: ExecSuccess, ExitCode: &code})

	again := s.StartExec(0, "call1", []string{"ls"}, nil, ActionList, time.Now(), "/repo")
	if again.Kind != Noop {
		t.Fatalf("expected Noop re-start of a terminal call_id, got %v", again.Kind)
	}
	rec, _ := s.Get(mut.ID)
	if rec.Exec.Status != ExecSuccess {
		t.Fatalf("terminal record downgraded: %+v", rec.Exec)
	}
}

func TestUpdateExecStreamOrdersChunksByOffset(t *testing.T) {
	s := New()
	s.StartExec(0, "call1", []string{"cat", "f"}, nil, ActionRead, time.Now(), "/repo")

	s.UpdateExecStream("call1", []byte("hello "), nil)
	s.UpdateExecStream("call1", []byte("world"), nil)

	rec, _ := s.Get(ID(1))
	if got := rec.Exec.StdoutText(); got != "hello world" {
		t.Fatalf("expected concatenated chunks, got %q", got)
	}
	if rec.Exec.StdoutChunks[0].Offset != 0 || rec.Exec.StdoutChunks[1].Offset != len("hello ") {
		t.Fatalf("chunks not offset-ordered: %+v", rec.Exec.StdoutChunks)
	}
}

func TestUpsertAssistantStreamReplacesInPlace(t *testing.T) {
	s := New()
	d1 := "hello"
	mut1 := s.UpsertAssistantStream(0, "stream1", "hello", &d1)
	if mut1.Kind != Inserted {
		t.Fatalf("expected Inserted, got %v", mut1.Kind)
	}

	d2 := " world"
	mut2 := s.UpsertAssistantStream(0, "stream1", "hello world", &d2)
	if mut2.Kind != Replaced {
		t.Fatalf("expected Replaced, got %v", mut2.Kind)
	}
	if mut2.ID != mut1.ID {
		t.Fatalf("stream id changed across upserts: %v -> %v", mut1.ID, mut2.ID)
	}

	if len(s.Records()) != 1 {
		t.Fatalf("expected a single record for one stream_id, got %d", len(s.Records()))
	}
	rec, _ := s.Get(mut1.ID)
	if len(rec.AssistantStream.Deltas) != 2 {
		t.Fatalf("expected 2 accumulated deltas, got %d", len(rec.AssistantStream.Deltas))
	}
}

func TestFinalizeAssistantStreamRemovesStreamAndAppendsMessage(t *testing.T) {
	s := New()
	d1 := "hi"
	s.UpsertAssistantStream(0, "stream1", "hi", &d1)

	mut := s.FinalizeAssistantStream("stream1", "hi", nil, nil, nil, time.Now())
	if mut.Kind != Replaced {
		t.Fatalf("expected Replaced (same slot), got %v", mut.Kind)
	}

	records := s.Records()
	if len(records) != 1 {
		t.Fatalf("expected exactly 1 record after finalize, got %d", len(records))
	}
	if records[0].Kind != KindAssistantMessage || records[0].AssistantMessage.Markdown != "hi" {
		t.Fatalf("expected finalized assistant message, got %+v", records[0])
	}
}

func TestFinalizeEmptyAssistantStreamIsStillRecorded(t *testing.T) {
	s := New()
	mut := s.FinalizeAssistantStream("nonexistent", "", nil, nil, nil, time.Now())
	if mut.Kind != Inserted {
		t.Fatalf("expected Inserted for an empty/no-op stream finalize, got %v", mut.Kind)
	}
	rec, _ := s.Get(mut.ID)
	if rec.Kind != KindAssistantMessage || rec.AssistantMessage.Markdown != "" {
		t.Fatalf("expected an empty finalized message, got %+v", rec)
	}
}

func TestInterruptRunningFinalizesExecAndStreams(t *testing.T) {
	s := New()
	execMut := s.StartExec(0, "call1", []string{"sleep", "30"}, nil, ActionRun, time.Now(), "/repo")
	d1 := "partial"
	streamMut := s.UpsertAssistantStream(1, "stream1", "partial", &d1)

	muts := s.InterruptRunning(time.Now())
	if len(muts) != 2 {
		t.Fatalf("expected 2 mutations (exec + stream), got %d", len(muts))
	}

	execRec, _ := s.Get(execMut.ID)
	if execRec.Exec.Status != ExecError || execRec.Exec.ExitCode == nil || *execRec.Exec.ExitCode != 130 {
		t.Fatalf("exec not finalized as interrupted: %+v", execRec.Exec)
	}
	if execRec.Exec.StderrText() != "Cancelled by user." {
		t.Fatalf("unexpected stderr: %q", execRec.Exec.StderrText())
	}

	streamRec, _ := s.Get(streamMut.ID)
	if streamRec.AssistantStream.InProgress {
		t.Fatal("stream still marked in-progress after interrupt")
	}
}

func TestExploreShouldHoldTitle(t *testing.T) {
	s := New()
	exploreMut := s.Insert(0, Record{Kind: KindExplore, Explore: &Explore{}})
	s.Insert(1, Record{Kind: KindReasoning, Reasoning: &Reasoning{}})

	if !s.ExploreShouldHoldTitle(exploreMut.ID) {
		t.Fatal("expected title hold while only reasoning trails the explore block")
	}

	s.Insert(2, Record{Kind: KindPlain, Plain: &Plain{}})
	if s.ExploreShouldHoldTitle(exploreMut.ID) {
		t.Fatal("expected title hold to break once a non-reasoning record follows")
	}
}

func TestInsertAtIndexPreservesOrder(t *testing.T) {
	s := New()
	a := s.Insert(0, Record{Kind: KindPlain, Plain: &Plain{Header: "a"}})
	c := s.Insert(1, Record{Kind: KindPlain, Plain: &Plain{Header: "c"}})
	s.Insert(1, Record{Kind: KindPlain, Plain: &Plain{Header: "b"}})

	records := s.Records()
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].ID != a.ID || records[2].ID != c.ID {
		t.Fatalf("insert at index did not preserve surrounding order: %+v", records)
	}
	if records[1].Plain.Header != "b" {
		t.Fatalf("expected middle record 'b', got %q", records[1].Plain.Header)
	}
}
