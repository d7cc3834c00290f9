package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/forgecore/agentcore/internal/protocol"
)

// EventHandler receives each deduplicated ResponseEvent in arrival order.
type EventHandler func(ResponseEvent)

type wireResponse struct {
	ID    string     `json:"id,omitempty"`
	Usage *wireUsage `json:"usage,omitempty"`
	Error *wireError `json:"error,omitempty"`
}

type wireError struct {
	Message          string `json:"message,omitempty"`
	RetryAfterSeconds *int  `json:"resets_in_seconds,omitempty"`
}

type wireUsage struct {
	InputTokens           int `json:"input_tokens"`
	CachedInputTokens     int `json:"cached_input_tokens,omitempty"`
	OutputTokens          int `json:"output_tokens"`
	ReasoningOutputTokens int `json:"reasoning_output_tokens,omitempty"`
	TotalTokens           int `json:"total_tokens"`
}

type wireItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Action *struct {
		Query string `json:"query,omitempty"`
	} `json:"action,omitempty"`
}

type wireFrame struct {
	Type           string          `json:"type"`
	Response       *wireResponse   `json:"response,omitempty"`
	Item           json.RawMessage `json:"item,omitempty"`
	Delta          string          `json:"delta,omitempty"`
	ItemID         string          `json:"item_id,omitempty"`
	SequenceNumber *int            `json:"sequence_number,omitempty"`
	OutputIndex    int             `json:"output_index,omitempty"`
	ContentIndex   int             `json:"content_index,omitempty"`
	SummaryIndex   int             `json:"summary_index,omitempty"`
}

// dedup namespaces: the same (item_id, output_index, sub_index) tuple can be
// in flight for output text, reasoning summary text, and reasoning content
// text at once, so each gets its own key prefix.
const (
	nsOutputText  = "text"
	nsReasonSumm  = "rsum"
	nsReasonCont  = "rcont"
)

type dedupTables struct {
	lastSeq  map[string]int
	lastText map[string]string
}

func newDedupTables() *dedupTables {
	return &dedupTables{lastSeq: map[string]int{}, lastText: map[string]string{}}
}

// seen reports whether this delta should be dropped, and records it if not.
func (d *dedupTables) seen(ns, itemID string, outputIndex, sub int, seq *int, text string) bool {
	key := fmt.Sprintf("%s:%s:%d:%d", ns, itemID, outputIndex, sub)
	if seq != nil {
		if last, ok := d.lastSeq[key]; ok && *seq <= last {
			return true
		}
		d.lastSeq[key] = *seq
		return false
	}
	if last, ok := d.lastText[key]; ok && last == text {
		return true
	}
	d.lastText[key] = text
	return false
}

// ParseStream decodes frames from r, deduplicating deltas, and invokes emit
// for each surviving ResponseEvent. It returns nil after response.completed,
// or a *StreamError if the provider reported response.failed, the stream
// closed early, or no frame arrived within idleTimeout.
func ParseStream(ctx context.Context, r io.Reader, idleTimeout time.Duration, emit EventHandler) error {
	tr := &timedReader{r: r, timeout: idleTimeout}
	scanner := bufio.NewScanner(tr)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	dedup := newDedupTables()
	var currentEventType string
	completed := false

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if line == "" {
			currentEventType = ""
			continue
		}
		if strings.HasPrefix(line, "event: ") {
			currentEventType = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var frame wireFrame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			log.Printf("[SSE] skipping malformed frame (event=%s): %v", currentEventType, err)
			currentEventType = ""
			continue
		}
		kind := frame.Type
		if kind == "" {
			kind = currentEventType
		}

		if fatal := handleFrame(kind, &frame, dedup, emit); fatal != nil {
			if fatal.Kind == ErrStreamProtocol {
				return fatal
			}
		}
		if kind == "response.completed" {
			completed = true
		}

		currentEventType = ""
	}

	if err := scanner.Err(); err != nil {
		if isIdleTimeoutErr(err) {
			return &StreamError{Kind: ErrStreamClosed, Message: fmt.Sprintf("SSE idle timeout: no frame within %v", idleTimeout)}
		}
		return &StreamError{Kind: ErrStreamClosed, Message: fmt.Sprintf("SSE read error: %v", err)}
	}

	if !completed {
		return &StreamError{Kind: ErrStreamClosed, Message: "stream closed before response.completed"}
	}
	return nil
}

// handleFrame turns one decoded frame into zero or one ResponseEvent. A
// non-nil return with Kind StreamProtocol means the caller must abort the
// stream (response.failed); any other return value is informational only.
func handleFrame(kind string, f *wireFrame, dedup *dedupTables, emit EventHandler) *StreamError {
	switch kind {
	case "response.created":
		emit(ResponseEvent{Kind: EvCreated})

	case "response.output_item.added":
		var item wireItem
		if len(f.Item) > 0 {
			_ = json.Unmarshal(f.Item, &item)
		}
		if item.Type == "web_search_call" {
			emit(ResponseEvent{Kind: EvWebSearchCallBegin, CallID: item.CallID})
		}

	case "response.output_item.done":
		var item wireItem
		if len(f.Item) > 0 {
			_ = json.Unmarshal(f.Item, &item)
		}
		if item.Type == "web_search_call" {
			query := ""
			if item.Action != nil {
				query = item.Action.Query
			}
			emit(ResponseEvent{Kind: EvWebSearchCallCompleted, CallID: item.CallID, Query: query})
			return nil
		}
		emit(ResponseEvent{
			Kind:           EvOutputItemDone,
			ItemType:       item.Type,
			ItemJSON:       f.Item,
			OutputIndex:    f.OutputIndex,
			SequenceNumber: seqOrZero(f.SequenceNumber),
			HasSequence:    f.SequenceNumber != nil,
		})

	case "response.output_text.delta":
		if dedup.seen(nsOutputText, f.ItemID, f.OutputIndex, f.ContentIndex, f.SequenceNumber, f.Delta) {
			return nil
		}
		emit(ResponseEvent{
			Kind:           EvOutputTextDelta,
			Delta:          f.Delta,
			ItemID:         f.ItemID,
			OutputIndex:    f.OutputIndex,
			ContentIndex:   f.ContentIndex,
			SequenceNumber: seqOrZero(f.SequenceNumber),
			HasSequence:    f.SequenceNumber != nil,
		})

	case "response.reasoning_summary_text.delta":
		if dedup.seen(nsReasonSumm, f.ItemID, f.OutputIndex, f.SummaryIndex, f.SequenceNumber, f.Delta) {
			return nil
		}
		emit(ResponseEvent{
			Kind:           EvReasoningSummaryDelta,
			Delta:          f.Delta,
			ItemID:         f.ItemID,
			OutputIndex:    f.OutputIndex,
			SummaryIndex:   f.SummaryIndex,
			SequenceNumber: seqOrZero(f.SequenceNumber),
			HasSequence:    f.SequenceNumber != nil,
		})

	case "response.reasoning_text.delta":
		if dedup.seen(nsReasonCont, f.ItemID, f.OutputIndex, f.ContentIndex, f.SequenceNumber, f.Delta) {
			return nil
		}
		emit(ResponseEvent{
			Kind:           EvReasoningContentDelta,
			Delta:          f.Delta,
			ItemID:         f.ItemID,
			OutputIndex:    f.OutputIndex,
			ContentIndex:   f.ContentIndex,
			SequenceNumber: seqOrZero(f.SequenceNumber),
			HasSequence:    f.SequenceNumber != nil,
		})

	case "response.reasoning_summary_part.added":
		emit(ResponseEvent{
			Kind:         EvReasoningSummaryPartAdded,
			ItemID:       f.ItemID,
			OutputIndex:  f.OutputIndex,
			SummaryIndex: f.SummaryIndex,
		})

	case "response.output_text.done",
		"response.content_part.done",
		"response.function_call_arguments.delta",
		"response.function_call_arguments.done",
		"response.custom_tool_call_input.delta",
		"response.custom_tool_call_input.done":
		// Final state for these arrives through the enclosing item's
		// response.output_item.done; the intermediate frame carries nothing
		// ParseStream's callers need.

	case "response.failed":
		msg := "response.failed"
		var retryAfter *int
		if f.Response != nil && f.Response.Error != nil {
			if f.Response.Error.Message != "" {
				msg = f.Response.Error.Message
			}
			retryAfter = f.Response.Error.RetryAfterSeconds
		}
		return &StreamError{Kind: ErrStreamProtocol, Message: msg, RetryAfter: retryAfter}

	case "response.completed":
		var usage *protocol.Usage
		var responseID string
		if f.Response != nil {
			responseID = f.Response.ID
			if f.Response.Usage != nil {
				usage = &protocol.Usage{
					InputTokens:           f.Response.Usage.InputTokens,
					CachedInputTokens:     f.Response.Usage.CachedInputTokens,
					OutputTokens:          f.Response.Usage.OutputTokens,
					ReasoningOutputTokens: f.Response.Usage.ReasoningOutputTokens,
					TotalTokens:           f.Response.Usage.TotalTokens,
				}
			}
		}
		emit(ResponseEvent{Kind: EvCompleted, ResponseID: responseID, Usage: usage})

	default:
		// Unrecognized event kinds are ignored by contract.
	}
	return nil
}

func seqOrZero(seq *int) int {
	if seq == nil {
		return 0
	}
	return *seq
}

// timedReader fails a Read that produces no bytes within timeout, the same
// pattern used to guard against a stalled provider connection.
type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

var errIdleTimeout = fmt.Errorf("SSE read idle timeout")

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()
	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, errIdleTimeout
	}
}

func isIdleTimeoutErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SSE read idle timeout")
}
