// Package rollout persists a session as an append-only JSONL file, the
// durable-log counterpart to the teacher's SessionManager, which instead
// rewrote a single whole-session JSON file on every save. Appending with a
// file lock lets a resumed session keep writing to the same path a replay
// reader is concurrently tailing.
package rollout

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/forgecore/agentcore/internal/protocol"
)

// Recorder appends lines to one session's rollout file.
type Recorder struct {
	path string
	lock *flock.Flock
	file *os.File
	w    *bufio.Writer
}

// PathFor builds the session file path the spec requires:
// <home>/sessions/YYYY/MM/DD/rollout-<timestamp>-<uuid>.jsonl.
func PathFor(home string, id uuid.UUID, at time.Time) string {
	day := at.Format("2006/01/02")
	stamp := at.Format("2006-01-02T15-04-05")
	return filepath.Join(home, "sessions", day, fmt.Sprintf("rollout-%s-%s.jsonl", stamp, id.String()))
}

// Create starts a new rollout file and writes its SessionMeta header line.
func Create(path string, meta protocol.SessionMeta) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock session file: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("session file %s is already open elsewhere", path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	r := &Recorder{path: path, lock: lock, file: f, w: bufio.NewWriter(f)}
	if err := r.writeLine(protocol.RolloutLine{
		Timestamp: meta.Timestamp,
		ItemType:  protocol.RolloutSessionMeta,
		Meta:      &meta,
	}); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// Append writes one Event as a RolloutLine, skipping AssistantMessageDelta
// events: only the finalized message is persisted, never the live deltas.
func (r *Recorder) Append(ev protocol.Event) error {
	if ev.Msg.Kind == protocol.MsgAgentMessageDelta {
		return nil
	}
	return r.writeLine(protocol.RolloutLine{
		Timestamp: time.Now(),
		ItemType:  protocol.RolloutEvent,
		Event: &protocol.RecordedEvent{
			ID:       ev.ID,
			EventSeq: ev.EventSeq,
			Order:    ev.Order,
			Msg:      ev.Msg,
		},
	})
}

func (r *Recorder) writeLine(line protocol.RolloutLine) error {
	b, err := json.Marshal(line)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := r.w.Write(b); err != nil {
		return err
	}
	return r.w.Flush()
}

// Close flushes, fsyncs, and releases the session file lock. The fsync is
// what makes append(line) durable rather than merely buffered: without it a
// crash right after Close can lose writes the OS still held in its page
// cache.
func (r *Recorder) Close() error {
	_ = r.w.Flush()
	_ = r.file.Sync()
	err := r.file.Close()
	_ = r.lock.Unlock()
	return err
}

// Load reads every line of a rollout file, warning and skipping any that
// fail to parse rather than aborting the whole replay.
func Load(path string) (*protocol.SessionMeta, []protocol.RecordedEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var meta *protocol.SessionMeta
	var events []protocol.RecordedEvent

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := scanner.Text()
		if text == "" {
			continue
		}
		var line protocol.RolloutLine
		if err := json.Unmarshal([]byte(text), &line); err != nil {
			log.Printf("[Rollout] skipping malformed line %d in %s: %v", lineNo, path, err)
			continue
		}
		switch line.ItemType {
		case protocol.RolloutSessionMeta:
			meta = line.Meta
		case protocol.RolloutEvent:
			if line.Event != nil {
				events = append(events, *line.Event)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return meta, events, err
	}
	return meta, events, nil
}
