package history

// AggregateExplore is the UI-level grouping step the glossary calls Explore
// aggregation: adjacent Read/Search/List execs collapse into one display
// block instead of one row per command. It is called after FinishExec for
// any non-Run action, id being the just-finished Exec's id. A Run exec, or
// one with nothing eligible immediately before it, is left standing alone.
func (s *State) AggregateExplore(id ID) Mutation {
	idx := s.indexOf(id)
	if idx <= 0 {
		return Mutation{Kind: Noop}
	}
	cur := s.records[idx]
	if cur.Kind != KindExec || cur.Exec == nil || cur.Exec.Status == ExecRunning || cur.Exec.Action == ActionRun {
		return Mutation{Kind: Noop}
	}
	entry := execToEntry(*cur.Exec)

	prev := s.records[idx-1]
	switch {
	case prev.Kind == KindExplore && prev.Explore != nil:
		updated := *prev.Explore
		updated.Entries = append(append([]ExploreEntry(nil), updated.Entries...), entry)
		s.Remove(idx)
		return s.Replace(idx-1, Record{Kind: KindExplore, Explore: &updated})

	case prev.Kind == KindMergedExec && prev.MergedExec != nil && prev.MergedExec.Action == cur.Exec.Action:
		updated := *prev.MergedExec
		updated.Segments = append(append([]Exec(nil), updated.Segments...), *cur.Exec)
		s.Remove(idx)
		return s.Replace(idx-1, Record{Kind: KindMergedExec, MergedExec: &updated})

	case prev.Kind == KindExec && prev.Exec != nil && prev.Exec.Status != ExecRunning && prev.Exec.Action == cur.Exec.Action:
		merged := MergedExec{Action: cur.Exec.Action, Segments: []Exec{*prev.Exec, *cur.Exec}}
		s.Remove(idx)
		return s.Replace(idx-1, Record{Kind: KindMergedExec, MergedExec: &merged})

	case prev.Kind == KindExec && prev.Exec != nil && prev.Exec.Status != ExecRunning && prev.Exec.Action != ActionRun:
		explore := Explore{Entries: []ExploreEntry{execToEntry(*prev.Exec), entry}}
		s.Remove(idx)
		return s.Replace(idx-1, Record{Kind: KindExplore, Explore: &explore})

	default:
		return Mutation{Kind: Noop}
	}
}

func execToEntry(e Exec) ExploreEntry {
	return ExploreEntry{Action: e.Action, Summary: summarizeExec(e), Status: execEntryStatus(e), ExitCode: e.ExitCode}
}

func summarizeExec(e Exec) string {
	out := ""
	for i, c := range e.Command {
		if i > 0 {
			out += " "
		}
		out += c
	}
	return out
}

func execEntryStatus(e Exec) ExploreStatus {
	switch e.Status {
	case ExecSuccess:
		return ExploreSuccess
	case ExecError:
		if e.ExitCode != nil && *e.ExitCode == 127 {
			return ExploreNotFound
		}
		return ExploreError
	default:
		return ExploreRunning
	}
}
