package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// RolloutItemKind tags what a RolloutLine's Item holds.
type RolloutItemKind string

const (
	RolloutSessionMeta RolloutItemKind = "session_meta"
	RolloutEvent       RolloutItemKind = "event"
)

// RolloutSource names what originated the session.
type RolloutSource string

const (
	SourceCli  RolloutSource = "cli"
	SourceMcp  RolloutSource = "mcp"
	SourceExec RolloutSource = "exec"
)

// SessionMeta is the first line of every rollout file.
type SessionMeta struct {
	ID           string        `json:"id"`
	Timestamp    time.Time     `json:"timestamp"`
	CWD          string        `json:"cwd"`
	Originator   string        `json:"originator"`
	CLIVersion   string        `json:"cli_version"`
	Instructions string        `json:"instructions,omitempty"`
	Source       RolloutSource `json:"source"`
}

// RecordedEvent is the persisted form of an Event: identical fields, but
// AssistantStream deltas are never written (only the finalized message is).
type RecordedEvent struct {
	ID       string     `json:"id"`
	EventSeq int        `json:"event_seq"`
	Order    *OrderMeta `json:"order,omitempty"`
	Msg      EventMsg   `json:"msg"`
}

// RolloutLine is one line of a session's JSONL file.
type RolloutLine struct {
	Timestamp time.Time       `json:"timestamp"`
	ItemType  RolloutItemKind `json:"-"`
	Meta      *SessionMeta    `json:"-"`
	Event     *RecordedEvent  `json:"-"`
}

type rolloutWireItem struct {
	Type RolloutItemKind `json:"type"`

	// session_meta
	Meta *SessionMeta `json:"meta,omitempty"`
	Git  interface{}  `json:"git,omitempty"`

	// event
	ID       string     `json:"id,omitempty"`
	EventSeq int        `json:"event_seq,omitempty"`
	Order    *OrderMeta `json:"order,omitempty"`
	Msg      *EventMsg  `json:"msg,omitempty"`
}

type rolloutWire struct {
	Timestamp time.Time       `json:"timestamp"`
	Item      rolloutWireItem `json:"item"`
}

// MarshalJSON renders the on-disk rollout shape: a flat "item" object tagged
// by "type", not a Go-style {ItemType,Meta,Event} struct.
func (l RolloutLine) MarshalJSON() ([]byte, error) {
	w := rolloutWire{Timestamp: l.Timestamp}
	switch l.ItemType {
	case RolloutSessionMeta:
		w.Item = rolloutWireItem{Type: RolloutSessionMeta, Meta: l.Meta}
	case RolloutEvent:
		if l.Event == nil {
			return nil, fmt.Errorf("rollout line tagged event has nil Event")
		}
		w.Item = rolloutWireItem{
			Type:     RolloutEvent,
			ID:       l.Event.ID,
			EventSeq: l.Event.EventSeq,
			Order:    l.Event.Order,
			Msg:      &l.Event.Msg,
		}
	default:
		return nil, fmt.Errorf("unknown rollout item type %q", l.ItemType)
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the wire shape back into a tagged RolloutLine.
func (l *RolloutLine) UnmarshalJSON(data []byte) error {
	var w rolloutWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	l.Timestamp = w.Timestamp
	l.ItemType = w.Item.Type
	switch w.Item.Type {
	case RolloutSessionMeta:
		l.Meta = w.Item.Meta
	case RolloutEvent:
		ev := &RecordedEvent{ID: w.Item.ID, EventSeq: w.Item.EventSeq, Order: w.Item.Order}
		if w.Item.Msg != nil {
			ev.Msg = *w.Item.Msg
		}
		l.Event = ev
	default:
		return fmt.Errorf("unknown rollout item type %q", w.Item.Type)
	}
	return nil
}
