package modelclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/forgecore/agentcore/internal/sse"
)

func sseServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}))
}

func TestClientStreamHappyPath(t *testing.T) {
	srv := sseServer(t, "event: response.created\ndata: {\"type\":\"response.created\"}\n\n"+
		"event: response.completed\ndata: {\"type\":\"response.completed\",\"response\":{\"id\":\"resp_1\"}}\n\n")
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Model: "test-model", IdleTimeout: time.Second})
	stream, err := c.Stream(context.Background(), Prompt{Instructions: "hi"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var kinds []sse.ResponseEventKind
	for ev := range stream.Events {
		kinds = append(kinds, ev.Kind)
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream.Err() = %v", err)
	}
	if len(kinds) != 2 || kinds[0] != sse.EvCreated || kinds[1] != sse.EvCompleted {
		t.Fatalf("kinds = %v", kinds)
	}
}

func TestClientStreamRetriesOn500(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("overloaded"))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("event: response.completed\ndata: {\"type\":\"response.completed\",\"response\":{\"id\":\"resp_1\"}}\n\n"))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Model: "test-model", IdleTimeout: time.Second})
	stream, err := c.Stream(context.Background(), Prompt{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	for range stream.Events {
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream.Err() = %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestClientStreamNonRetryable400(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Model: "test-model", IdleTimeout: time.Second})
	_, err := c.Stream(context.Background(), Prompt{})
	if err == nil {
		t.Fatal("Stream() error = nil, want non-nil")
	}
}
