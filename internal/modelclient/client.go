// Package modelclient turns a Prompt into a ResponseStream: it builds the
// Responses-style request body, drives the HTTP POST with the same
// retry/backoff shape the teacher's provider layer uses for chat completions,
// and wraps the response body in the sse package's frame parser.
package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/forgecore/agentcore/internal/coreerr"
	"github.com/forgecore/agentcore/internal/protocol"
	"github.com/forgecore/agentcore/internal/sse"
)

// AuthSource supplies the bearer credential for each request and refreshes
// it after a 401, mirroring the core's auth-manager collaborator.
type AuthSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

// Prompt is everything the orchestrator hands to Stream for a single model
// request.
type Prompt struct {
	Input               []protocol.Message
	Tools               []protocol.Tool
	TextFormat          map[string]interface{} // JSON schema, nil for none
	ModelOverride       string
	ModelFamilyOverride string
	ReasoningEffort     string
	ReasoningSummary    string
	TextVerbosity       string
	Store               bool
	Instructions        string
	PromptCacheKey      string
}

// Config configures a Client.
type Config struct {
	BaseURL     string
	Model       string
	Auth        AuthSource
	MaxRetries  int
	IdleTimeout time.Duration
	AzureCompat bool
	Include     []string
}

// Client issues streaming Responses-API requests.
type Client struct {
	cfg  Config
	http *http.Client
}

// newHTTPClient mirrors the teacher's long-timeout, keep-alive-tuned transport,
// since a single streaming turn can run for minutes.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Minute,
		Transport: &http.Transport{
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}
}

// New builds a Client. MaxRetries and IdleTimeout default to 3 and 60s.
func New(cfg Config) *Client {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	return &Client{cfg: cfg, http: newHTTPClient()}
}

type requestBody struct {
	Model             string                 `json:"model"`
	Instructions      string                 `json:"instructions,omitempty"`
	Input             []protocol.Message     `json:"input"`
	Tools             []protocol.Tool        `json:"tools,omitempty"`
	ToolChoice        string                 `json:"tool_choice"`
	ParallelToolCalls bool                   `json:"parallel_tool_calls"`
	Reasoning         map[string]interface{} `json:"reasoning,omitempty"`
	Text              map[string]interface{} `json:"text,omitempty"`
	Store             bool                   `json:"store"`
	Stream            bool                   `json:"stream"`
	Include           []string               `json:"include,omitempty"`
	PromptCacheKey    string                 `json:"prompt_cache_key,omitempty"`
}

func (c *Client) buildBody(p Prompt) requestBody {
	model := p.ModelOverride
	if model == "" {
		model = c.cfg.Model
	}

	body := requestBody{
		Model:             model,
		Instructions:      p.Instructions,
		Input:             p.Input,
		Tools:             p.Tools,
		ToolChoice:        "auto",
		ParallelToolCalls: true,
		Store:             p.Store,
		Stream:            true,
		Include:           c.cfg.Include,
		PromptCacheKey:    p.PromptCacheKey,
	}

	if p.ReasoningEffort != "" || p.ReasoningSummary != "" {
		body.Reasoning = map[string]interface{}{}
		if p.ReasoningEffort != "" {
			body.Reasoning["effort"] = p.ReasoningEffort
		}
		if p.ReasoningSummary != "" {
			body.Reasoning["summary"] = p.ReasoningSummary
		}
	}
	if p.TextFormat != nil || p.TextVerbosity != "" {
		body.Text = map[string]interface{}{}
		if p.TextFormat != nil {
			body.Text["format"] = p.TextFormat
		}
		if p.TextVerbosity != "" {
			body.Text["verbosity"] = p.TextVerbosity
		}
	}

	if c.cfg.AzureCompat {
		body.Store = true
	}
	return body
}

// ResponseStream carries deduplicated ResponseEvents to the orchestrator. Err
// is set exactly once, on the final receive, and is nil on a clean
// response.completed.
type ResponseStream struct {
	Events <-chan sse.ResponseEvent
	errc    <-chan error
}

// Err blocks until the stream's goroutine has finished and returns its
// terminal error, or nil.
func (s *ResponseStream) Err() error {
	return <-s.errc
}

// NewResponseStream builds a ResponseStream directly from a pair of
// channels, letting tests outside this package substitute a canned event
// sequence for a real HTTP-backed stream.
func NewResponseStream(events <-chan sse.ResponseEvent, errc <-chan error) *ResponseStream {
	return &ResponseStream{Events: events, errc: errc}
}

// Stream posts prompt and, once a streaming response begins, parses it in a
// background goroutine. The returned error is only about establishing the
// connection; mid-stream failures surface from ResponseStream.Err after the
// Events channel closes.
func (c *Client) Stream(ctx context.Context, p Prompt) (*ResponseStream, error) {
	body := c.buildBody(p)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.doWithRetry(ctx, payload)
	if err != nil {
		return nil, err
	}

	events := make(chan sse.ResponseEvent, 64)
	errc := make(chan error, 1)

	go func() {
		defer resp.Body.Close()
		defer close(events)
		err := sse.ParseStream(ctx, resp.Body, c.cfg.IdleTimeout, func(e sse.ResponseEvent) {
			events <- e
		})
		errc <- err
		close(errc)
	}()

	return &ResponseStream{Events: events, errc: errc}, nil
}

type rateLimitBody struct {
	Error *struct {
		Type            string `json:"type"`
		Message         string `json:"message"`
		ResetsInSeconds *int   `json:"resets_in_seconds,omitempty"`
		PlanType        string `json:"plan_type,omitempty"`
	} `json:"error,omitempty"`
}

const (
	rateLimitSafetyBuffer = 120 * time.Second
	rateLimitMaxJitter    = 30 * time.Second
)

// doWithRetry performs the POST, retrying on the statuses the spec marks
// retryable and honoring rate-limit/auth-refresh hints between attempts. Once
// the attempt budget is spent on a retryable error, it returns a fatal
// RetryLimit instead of the original kind: the original kind is still
// Retryable(), and returning it verbatim would let the orchestrator schedule
// a whole new beginModelRequest (and a whole new MaxRetries budget) forever
// against a persistently-failing provider.
func (c *Client) doWithRetry(ctx context.Context, payload []byte) (*http.Response, error) {
	var lastErr error
	delay := time.Second

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		resp, err := c.doOnce(ctx, payload)
		if err != nil {
			lastErr = &coreerr.CoreError{Kind: coreerr.Transport, Message: err.Error(), Wrapped: err}
			if attempt < c.cfg.MaxRetries {
				log.Printf("[ModelClient] request failed: %v, retrying in %v", err, delay)
				if !sleep(ctx, delay) {
					return nil, ctx.Err()
				}
				delay *= 2
				continue
			}
			return nil, exhausted(lastErr)
		}

		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		excerpt, requestID := readExcerpt(resp)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			if c.cfg.Auth != nil {
				if rerr := c.cfg.Auth.Refresh(ctx); rerr != nil {
					return nil, &coreerr.CoreError{Kind: coreerr.AuthRequired, Message: "refresh failed: " + rerr.Error(), StatusCode: resp.StatusCode, RequestID: requestID}
				}
			}
			lastErr = &coreerr.CoreError{Kind: coreerr.AuthRequired, Message: excerpt, StatusCode: resp.StatusCode, RequestID: requestID}
			if attempt < c.cfg.MaxRetries {
				continue
			}
			return nil, lastErr

		case resp.StatusCode == http.StatusTooManyRequests:
			wait := rateLimitWait(excerpt, resp.Header.Get("Retry-After"))
			lastErr = &coreerr.CoreError{Kind: coreerr.RateLimited, Message: excerpt, StatusCode: resp.StatusCode, RequestID: requestID, RetryAfter: wait}
			if attempt < c.cfg.MaxRetries {
				log.Printf("[ModelClient] rate limited, retrying in %v", wait)
				if !sleep(ctx, wait) {
					return nil, ctx.Err()
				}
				continue
			}
			return nil, exhausted(lastErr)

		case coreerr.IsRetryableStatus(resp.StatusCode):
			lastErr = &coreerr.CoreError{Kind: coreerr.Transport, Message: excerpt, StatusCode: resp.StatusCode, RequestID: requestID}
			if attempt < c.cfg.MaxRetries {
				log.Printf("[ModelClient] status %d, retrying in %v", resp.StatusCode, delay)
				if !sleep(ctx, delay) {
					return nil, ctx.Err()
				}
				delay *= 2
				continue
			}
			return nil, exhausted(lastErr)

		default:
			return nil, &coreerr.CoreError{Kind: coreerr.ClientError, Message: excerpt, StatusCode: resp.StatusCode, RequestID: requestID}
		}
	}
	return nil, exhausted(lastErr)
}

// exhausted downgrades a retryable CoreError to a fatal RetryLimit once the
// attempt budget is spent, so the orchestrator ends the turn instead of
// retrying indefinitely. Non-retryable kinds (already fatal) pass through.
func exhausted(err error) error {
	ce, ok := err.(*coreerr.CoreError)
	if !ok || !ce.Retryable() {
		return err
	}
	return &coreerr.CoreError{
		Kind:       coreerr.RetryLimit,
		Message:    ce.Message,
		StatusCode: ce.StatusCode,
		RequestID:  ce.RequestID,
		RetryAfter: ce.RetryAfter,
		Wrapped:    ce,
	}
}

func (c *Client) doOnce(ctx context.Context, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.cfg.Auth != nil {
		tok, err := c.cfg.Auth.Token(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return c.http.Do(req)
}

// rateLimitWait picks the retry delay per the spec: Retry-After or a
// structured usage_limit_reached body's resets_in_seconds, plus a fixed
// safety buffer and random jitter. The structured body wins when both are
// present, since resets_in_seconds is the more precise of the two hints.
func rateLimitWait(body, retryAfterHeader string) time.Duration {
	base := time.Duration(0)
	var rl rateLimitBody
	if err := json.Unmarshal([]byte(body), &rl); err == nil && rl.Error != nil && rl.Error.Type == "usage_limit_reached" && rl.Error.ResetsInSeconds != nil {
		base = time.Duration(*rl.Error.ResetsInSeconds) * time.Second
	} else if d, ok := RetryAfterHeader(retryAfterHeader); ok {
		base = d
	}
	jitter := time.Duration(rand.Int63n(int64(rateLimitMaxJitter)))
	return base + rateLimitSafetyBuffer + jitter
}

// readExcerpt reads up to 600 bytes of the error body and the request id
// header, which the spec requires in non-retryable error messages.
func readExcerpt(resp *http.Response) (body, requestID string) {
	const maxExcerpt = 600
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxExcerpt))
	return string(b), resp.Header.Get("x-request-id")
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// RetryAfterHeader parses an HTTP Retry-After header given as seconds.
func RetryAfterHeader(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
