package history

import "testing"

func finishedExec(action ExecAction, command ...string) Record {
	zero := 0
	return Record{Kind: KindExec, Exec: &Exec{Command: command, Action: action, Status: ExecSuccess, ExitCode: &zero}}
}

func TestAggregateExploreMergesSameActionIntoMergedExec(t *testing.T) {
	s := New()
	s.Insert(0, finishedExec(ActionRead, "cat", "a.go"))
	mut := s.Insert(1, finishedExec(ActionRead, "cat", "b.go"))

	result := s.AggregateExplore(mut.ID)
	if result.Kind != Replaced {
		t.Fatalf("expected a merge, got %v", result.Kind)
	}
	if len(s.Records()) != 1 {
		t.Fatalf("expected the two execs to collapse into one record, got %d", len(s.Records()))
	}
	if s.Records()[0].Kind != KindMergedExec || len(s.Records()[0].MergedExec.Segments) != 2 {
		t.Fatalf("expected a 2-segment MergedExec, got %+v", s.Records()[0])
	}
}

func TestAggregateExploreGroupsMixedActionsIntoExplore(t *testing.T) {
	s := New()
	s.Insert(0, finishedExec(ActionRead, "cat", "a.go"))
	mut := s.Insert(1, finishedExec(ActionSearch, "grep", "-r", "foo"))

	result := s.AggregateExplore(mut.ID)
	if result.Kind != Replaced {
		t.Fatalf("expected a merge into Explore, got %v", result.Kind)
	}
	rec := s.Records()[0]
	if rec.Kind != KindExplore || len(rec.Explore.Entries) != 2 {
		t.Fatalf("expected a 2-entry Explore block, got %+v", rec)
	}
}

func TestAggregateExploreSkipsRunAction(t *testing.T) {
	s := New()
	s.Insert(0, finishedExec(ActionRead, "cat", "a.go"))
	mut := s.Insert(1, finishedExec(ActionRun, "npm", "test"))

	result := s.AggregateExplore(mut.ID)
	if result.Kind != Noop {
		t.Fatalf("expected a Run exec to never aggregate, got %v", result.Kind)
	}
	if len(s.Records()) != 2 {
		t.Fatalf("expected both records to remain standalone, got %d", len(s.Records()))
	}
}

func TestAggregateExploreExtendsExistingBlock(t *testing.T) {
	s := New()
	s.Insert(0, finishedExec(ActionRead, "cat", "a.go"))
	m1 := s.Insert(1, finishedExec(ActionSearch, "grep", "foo"))
	s.AggregateExplore(m1.ID)

	m2 := s.Insert(1, finishedExec(ActionList, "ls", "-la"))
	result := s.AggregateExplore(m2.ID)
	if result.Kind != Replaced {
		t.Fatalf("expected extension of the existing Explore block, got %v", result.Kind)
	}
	if len(s.Records()) != 1 || len(s.Records()[0].Explore.Entries) != 3 {
		t.Fatalf("expected a single 3-entry Explore block, got %+v", s.Records())
	}
}
