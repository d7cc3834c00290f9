package sse

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"
)

func frames(parts ...string) string {
	return strings.Join(parts, "")
}

func dataFrame(eventType, jsonBody string) string {
	return "event: " + eventType + "\ndata: " + jsonBody + "\n\n"
}

func TestParseStreamTextDeltaAndCompleted(t *testing.T) {
	body := frames(
		dataFrame("response.created", `{"type":"response.created"}`),
		dataFrame("response.output_text.delta", `{"type":"response.output_text.delta","item_id":"msg_1","output_index":1,"content_index":0,"sequence_number":1,"delta":"Hel"}`),
		dataFrame("response.output_text.delta", `{"type":"response.output_text.delta","item_id":"msg_1","output_index":1,"content_index":0,"sequence_number":2,"delta":"lo"}`),
		dataFrame("response.completed", `{"type":"response.completed","response":{"id":"resp_1","usage":{"input_tokens":10,"output_tokens":2,"total_tokens":12}}}`),
	)

	var got []ResponseEvent
	err := ParseStream(context.Background(), strings.NewReader(body), time.Second, func(e ResponseEvent) {
		got = append(got, e)
	})
	if err != nil {
		t.Fatalf("ParseStream() error = %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d events, want 4: %+v", len(got), got)
	}
	if got[0].Kind != EvCreated {
		t.Errorf("event 0 kind = %v, want Created", got[0].Kind)
	}
	if got[1].Delta != "Hel" || got[2].Delta != "lo" {
		t.Errorf("deltas = %q, %q, want Hel, lo", got[1].Delta, got[2].Delta)
	}
	last := got[3]
	if last.Kind != EvCompleted || last.ResponseID != "resp_1" || last.Usage == nil || last.Usage.TotalTokens != 12 {
		t.Errorf("completed event = %+v", last)
	}
}

func TestParseStreamDropsOutOfOrderReasoningDelta(t *testing.T) {
	reasoningFrame := func(seq int, delta string) string {
		return dataFrame("response.reasoning_summary_text.delta",
			`{"type":"response.reasoning_summary_text.delta","item_id":"r1","output_index":0,"summary_index":0,"sequence_number":`+strconv.Itoa(seq)+`,"delta":"`+delta+`"}`)
	}
	body := frames(
		reasoningFrame(1, "a"),
		reasoningFrame(3, "b"),
		reasoningFrame(2, "c"), // arrives after seq 3, must be dropped
		dataFrame("response.completed", `{"type":"response.completed","response":{"id":"resp_1"}}`),
	)

	var deltas []string
	err := ParseStream(context.Background(), strings.NewReader(body), time.Second, func(e ResponseEvent) {
		if e.Kind == EvReasoningSummaryDelta {
			deltas = append(deltas, e.Delta)
		}
	})
	if err != nil {
		t.Fatalf("ParseStream() error = %v", err)
	}
	if len(deltas) != 2 || deltas[0] != "a" || deltas[1] != "b" {
		t.Fatalf("deltas = %v, want [a b]", deltas)
	}
}

func TestParseStreamDedupWithoutSequenceNumber(t *testing.T) {
	body := frames(
		dataFrame("response.output_text.delta", `{"type":"response.output_text.delta","item_id":"msg_1","output_index":1,"content_index":0,"delta":"same"}`),
		dataFrame("response.output_text.delta", `{"type":"response.output_text.delta","item_id":"msg_1","output_index":1,"content_index":0,"delta":"same"}`),
		dataFrame("response.output_text.delta", `{"type":"response.output_text.delta","item_id":"msg_1","output_index":1,"content_index":0,"delta":"different"}`),
		dataFrame("response.completed", `{"type":"response.completed","response":{"id":"resp_1"}}`),
	)

	var deltas []string
	err := ParseStream(context.Background(), strings.NewReader(body), time.Second, func(e ResponseEvent) {
		if e.Kind == EvOutputTextDelta {
			deltas = append(deltas, e.Delta)
		}
	})
	if err != nil {
		t.Fatalf("ParseStream() error = %v", err)
	}
	if len(deltas) != 2 || deltas[0] != "same" || deltas[1] != "different" {
		t.Fatalf("deltas = %v, want [same different]", deltas)
	}
}

func TestParseStreamWebSearchSynthesized(t *testing.T) {
	body := frames(
		dataFrame("response.output_item.added", `{"type":"response.output_item.added","item":{"type":"web_search_call","call_id":"call_1"}}`),
		dataFrame("response.output_item.done", `{"type":"response.output_item.done","item":{"type":"web_search_call","call_id":"call_1","action":{"query":"weather today"}}}`),
		dataFrame("response.completed", `{"type":"response.completed","response":{"id":"resp_1"}}`),
	)

	var got []ResponseEvent
	err := ParseStream(context.Background(), strings.NewReader(body), time.Second, func(e ResponseEvent) {
		got = append(got, e)
	})
	if err != nil {
		t.Fatalf("ParseStream() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(got), got)
	}
	if got[0].Kind != EvWebSearchCallBegin || got[0].CallID != "call_1" {
		t.Errorf("event 0 = %+v", got[0])
	}
	if got[1].Kind != EvWebSearchCallCompleted || got[1].Query != "weather today" {
		t.Errorf("event 1 = %+v", got[1])
	}
}

func TestParseStreamResponseFailedIsFatal(t *testing.T) {
	body := dataFrame("response.failed", `{"type":"response.failed","response":{"error":{"message":"overloaded","resets_in_seconds":30}}}`)

	err := ParseStream(context.Background(), strings.NewReader(body), time.Second, func(ResponseEvent) {})
	if err == nil {
		t.Fatal("ParseStream() error = nil, want non-nil")
	}
	se, ok := err.(*StreamError)
	if !ok {
		t.Fatalf("error type = %T, want *StreamError", err)
	}
	if se.Kind != ErrStreamProtocol || se.Message != "overloaded" || se.RetryAfter == nil || *se.RetryAfter != 30 {
		t.Errorf("StreamError = %+v", se)
	}
}

func TestParseStreamClosesBeforeCompleted(t *testing.T) {
	body := dataFrame("response.created", `{"type":"response.created"}`)

	err := ParseStream(context.Background(), strings.NewReader(body), time.Second, func(ResponseEvent) {})
	if err == nil {
		t.Fatal("ParseStream() error = nil, want non-nil")
	}
	se, ok := err.(*StreamError)
	if !ok || se.Kind != ErrStreamClosed {
		t.Fatalf("error = %+v, want StreamClosed", err)
	}
}
