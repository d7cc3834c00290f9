package history

import (
	"log"
	"time"
)

// MutationKind tags what applying a DomainEvent did to the store.
type MutationKind string

const (
	Inserted MutationKind = "inserted"
	Replaced MutationKind = "replaced"
	Removed  MutationKind = "removed"
	Noop     MutationKind = "noop"
)

// Mutation is the result of applying one DomainEvent: the affected id and
// kind, letting a render cache invalidate precisely instead of rebuilding
// everything on every turn.
type Mutation struct {
	Kind   MutationKind
	ID     ID
	Record *Record // nil for Removed and Noop
}

// State is the id-keyed record store: an ordered list of records plus
// secondary indexes from exec call_id and assistant stream_id to the slot
// holding them. It is owned by a single orchestrator task; all reads and
// writes must be serialized there (see package docs in §5 of the spec this
// implements).
type State struct {
	records  []Record
	byCallID map[string]int // call_id -> index into records
	byStream map[string]int // stream_id -> index into records
	nextID   ID
}

// New returns an empty History state.
func New() *State {
	return &State{
		byCallID: make(map[string]int),
		byStream: make(map[string]int),
	}
}

// Records returns an immutable snapshot of the current record order. Callers
// must not mutate the returned slice's contents.
func (s *State) Records() []Record {
	return s.records
}

// Get returns the record with the given id, if present.
func (s *State) Get(id ID) (Record, bool) {
	for _, r := range s.records {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// IndexOf returns the current slot of id, or -1 if it isn't present. Used by
// callers (the orchestrator's reasoning-section bookkeeping) that hold onto
// an ID returned from Insert and need to Replace it later without a second
// index of their own.
func (s *State) IndexOf(id ID) int {
	return s.indexOf(id)
}

func (s *State) indexOf(id ID) int {
	for i, r := range s.records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (s *State) allocID() ID {
	s.nextID++
	return s.nextID
}

// Insert adds record at index, assigning it a fresh ID.
func (s *State) Insert(index int, record Record) Mutation {
	id := s.allocID()
	record.ID = id
	index = clamp(index, 0, len(s.records))

	s.records = append(s.records, Record{})
	copy(s.records[index+1:], s.records[index:])
	s.records[index] = record

	return Mutation{Kind: Inserted, ID: id, Record: &s.records[index]}
}

// Replace overwrites the record at index in place, preserving its ID.
func (s *State) Replace(index int, record Record) Mutation {
	if index < 0 || index >= len(s.records) {
		return Mutation{Kind: Noop}
	}
	id := s.records[index].ID
	record.ID = id
	s.records[index] = record
	return Mutation{Kind: Replaced, ID: id, Record: &s.records[index]}
}

// Remove deletes the record at index.
func (s *State) Remove(index int) Mutation {
	if index < 0 || index >= len(s.records) {
		return Mutation{Kind: Noop}
	}
	id := s.records[index].ID
	s.records = append(s.records[:index], s.records[index+1:]...)
	return Mutation{Kind: Removed, ID: id}
}

// StartExec inserts a new Running Exec record at index and indexes it by
// call_id, so FinishExec/UpdateExecStream can find it later without a
// linear scan.
func (s *State) StartExec(index int, callID string, command, parsed []string, action ExecAction, startedAt time.Time, workingDir string) Mutation {
	if callID != "" {
		if idx, ok := s.byCallID[callID]; ok && idx < len(s.records) {
			if s.records[idx].Kind == KindExec && s.records[idx].Exec != nil && s.records[idx].Exec.Status != ExecRunning {
				// A terminal record must never be downgraded by a later
				// StartExec for the same call_id.
				return Mutation{Kind: Noop}
			}
		}
	}

	rec := Record{
		Kind: KindExec,
		Exec: &Exec{
			CallID:     callID,
			Command:    command,
			Parsed:     parsed,
			Action:     action,
			Status:     ExecRunning,
			StartedAt:  startedAt,
			WorkingDir: workingDir,
		},
	}
	mut := s.Insert(index, rec)
	if callID != "" {
		s.byCallID[callID] = s.indexOf(mut.ID)
	}
	return mut
}

// UpdateExecStream appends a stdout/stderr chunk to the Exec identified by
// callID, in place.
func (s *State) UpdateExecStream(callID string, stdoutChunk, stderrChunk []byte) Mutation {
	idx, ok := s.byCallID[callID]
	if !ok || idx >= len(s.records) || s.records[idx].Kind != KindExec {
		return Mutation{Kind: Noop}
	}
	exec := s.records[idx].Exec
	if len(stdoutChunk) > 0 {
		exec.StdoutChunks = append(exec.StdoutChunks, OutputChunk{Offset: len(exec.StdoutText()), Bytes: append([]byte(nil), stdoutChunk...)})
	}
	if len(stderrChunk) > 0 {
		exec.StderrChunks = append(exec.StderrChunks, OutputChunk{Offset: len(exec.StderrText()), Bytes: append([]byte(nil), stderrChunk...)})
	}
	return Mutation{Kind: Replaced, ID: s.records[idx].ID, Record: &s.records[idx]}
}

// FinishExecParams carries FinishExec's optional fields.
type FinishExecParams struct {
	CallID      string
	ID          ID
	Status      ExecStatus
	ExitCode    *int
	CompletedAt *time.Time
	WaitTotal   *time.Duration
	WaitNotes   []string
	StdoutTail  string
	StderrTail  string
}

// FinishExec transitions a Running exec to a terminal status. It is
// idempotent: finishing an already-terminal record is a Noop, satisfying
// the invariant that a terminal record is never overwritten by a race
// between a late chunk, a duplicate ExecCommandEnd, and cancellation.
func (s *State) FinishExec(p FinishExecParams) Mutation {
	idx := -1
	if p.CallID != "" {
		if i, ok := s.byCallID[p.CallID]; ok {
			idx = i
		}
	} else if p.ID != Zero {
		idx = s.indexOf(p.ID)
	}
	if idx < 0 || idx >= len(s.records) || s.records[idx].Kind != KindExec {
		return Mutation{Kind: Noop}
	}

	exec := s.records[idx].Exec
	if exec.Status != ExecRunning {
		return Mutation{Kind: Noop}
	}

	exec.Status = p.Status
	exec.ExitCode = p.ExitCode
	exec.CompletedAt = p.CompletedAt
	exec.WaitTotal = p.WaitTotal
	exec.WaitNotes = p.WaitNotes
	if p.StdoutTail != "" && len(exec.StdoutChunks) == 0 {
		exec.StdoutChunks = []OutputChunk{{Offset: 0, Bytes: []byte(p.StdoutTail)}}
	}
	if p.StderrTail != "" && len(exec.StderrChunks) == 0 {
		exec.StderrChunks = []OutputChunk{{Offset: 0, Bytes: []byte(p.StderrTail)}}
	}
	return Mutation{Kind: Replaced, ID: s.records[idx].ID, Record: &s.records[idx]}
}

// UpsertAssistantStream inserts a new AssistantStream at index or, if
// stream_id is already indexed, replaces it in place with an appended
// delta.
func (s *State) UpsertAssistantStream(index int, streamID, previewMarkdown string, delta *string) Mutation {
	if idx, ok := s.byStream[streamID]; ok && idx < len(s.records) && s.records[idx].Kind == KindAssistantStream {
		stream := s.records[idx].AssistantStream
		stream.PreviewMarkdown = previewMarkdown
		stream.InProgress = true
		if delta != nil {
			stream.Deltas = append(stream.Deltas, StreamDelta{Sequence: len(stream.Deltas), Text: *delta})
		}
		return Mutation{Kind: Replaced, ID: s.records[idx].ID, Record: &s.records[idx]}
	}

	stream := &AssistantStream{StreamID: streamID, PreviewMarkdown: previewMarkdown, InProgress: true}
	if delta != nil {
		stream.Deltas = append(stream.Deltas, StreamDelta{Sequence: 0, Text: *delta})
	}
	mut := s.Insert(index, Record{Kind: KindAssistantStream, AssistantStream: stream})
	s.byStream[streamID] = s.indexOf(mut.ID)
	return mut
}

// FinalizeAssistantStream replaces the live stream record indexed under
// streamID with one finalized AssistantMessage in the same slot, keeping the
// record's ID; the message is not moved to the end of history. If no live stream
// exists for streamID (e.g. an empty turn with no deltas), the message is
// still appended at the end, matching the spec's "empty stream finalization
// is still recorded" boundary case.
func (s *State) FinalizeAssistantStream(streamID, markdown string, citations []Citation, metadata map[string]string, usage *TokenUsage, createdAt time.Time) Mutation {
	msg := &AssistantMessage{StreamID: streamID, Markdown: markdown, Citations: citations, Metadata: metadata, TokenUsage: usage, CreatedAt: createdAt}

	idx, ok := s.byStream[streamID]
	if !ok || idx >= len(s.records) || s.records[idx].Kind != KindAssistantStream {
		mut := s.Insert(len(s.records), Record{Kind: KindAssistantMessage, AssistantMessage: msg})
		delete(s.byStream, streamID)
		return mut
	}

	delete(s.byStream, streamID)
	return s.Replace(idx, Record{Kind: KindAssistantMessage, AssistantMessage: msg})
}

// InterruptRunning finalizes every still-Running Exec record as interrupted
// (exit code 130, stderr "Cancelled by user.") and clears InProgress on every
// still-InProgress AssistantStream. A stream record stays in place as an
// AssistantStream: it is not converted into an AssistantMessage and carries
// no failure marker.
func (s *State) InterruptRunning(at time.Time) []Mutation {
	var muts []Mutation
	code := 130

	for i := range s.records {
		r := &s.records[i]
		switch r.Kind {
		case KindExec:
			if r.Exec.Status == ExecRunning {
				r.Exec.Status = ExecError
				r.Exec.ExitCode = &code
				r.Exec.CompletedAt = &at
				r.Exec.StderrChunks = append(r.Exec.StderrChunks, OutputChunk{
					Offset: len(r.Exec.StderrText()),
					Bytes:  []byte("Cancelled by user."),
				})
				muts = append(muts, Mutation{Kind: Replaced, ID: r.ID, Record: r})
			}
		case KindAssistantStream:
			if r.AssistantStream.InProgress {
				r.AssistantStream.InProgress = false
				muts = append(muts, Mutation{Kind: Replaced, ID: r.ID, Record: r})
			}
		}
	}
	return muts
}

// ExploreShouldHoldTitle reports whether an Explore record at id should
// keep its "held" title hint: true only while every record after it (to the
// end of history) is Reasoning — any non-reasoning record interrupts the
// hold. Time-based alternatives are explicitly unspecified (§9(b)); this is
// the ordering rule the spec requires.
func (s *State) ExploreShouldHoldTitle(id ID) bool {
	idx := s.indexOf(id)
	if idx < 0 || s.records[idx].Kind != KindExplore {
		return false
	}
	for i := idx + 1; i < len(s.records); i++ {
		if s.records[i].Kind != KindReasoning {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		log.Printf("[History] insert index %d below 0, clamping", v)
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
