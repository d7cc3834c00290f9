package autocoordinator

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgecore/agentcore/internal/modelclient"
	"github.com/forgecore/agentcore/internal/protocol"
	"github.com/forgecore/agentcore/internal/sse"
)

// DecisionModel is the subset of a model client the coordinator's main loop
// needs: one non-streaming round trip that returns the next structured
// Decision.
type DecisionModel interface {
	Decide(ctx context.Context, req DecisionRequest) (Decision, error)
}

// DecisionRequest is everything the coordinator model needs to judge
// progress toward goal.
type DecisionRequest struct {
	Goal             string
	ProgressPast     string
	LastAgentMessage string
	TurnsCompleted   int
}

// ObserverModel is the every-K-turns drift check; it returns additional
// developer instructions to inject, or "" when no correction is needed.
type ObserverModel interface {
	Observe(ctx context.Context, req ObserverRequest) (string, error)
}

// ObserverRequest summarizes recent primary-loop activity for the observer
// pass.
type ObserverRequest struct {
	Goal                string
	ProgressPast        string
	RecentAgentMessages []string
	TurnsCompleted      int
}

// ModelDecider implements both DecisionModel and ObserverModel on top of the
// same streaming model client the primary orchestrator uses (C2), so the
// coordinator inherits its retry/backoff/rate-limit handling for free
// instead of re-deriving it.
type ModelDecider struct {
	Client *modelclient.Client
}

func NewModelDecider(client *modelclient.Client) *ModelDecider {
	return &ModelDecider{Client: client}
}

func (m *ModelDecider) Decide(ctx context.Context, req DecisionRequest) (Decision, error) {
	prompt := modelclient.Prompt{
		Instructions: coordinatorSystemPrompt,
		Input: []protocol.Message{
			{Role: "user", Content: decisionPromptText(req)},
		},
		TextFormat: decisionSchema,
	}
	text, err := m.runToText(ctx, prompt)
	if err != nil {
		return Decision{}, err
	}
	return parseDecision(text)
}

func (m *ModelDecider) Observe(ctx context.Context, req ObserverRequest) (string, error) {
	prompt := modelclient.Prompt{
		Instructions: observerSystemPrompt,
		Input: []protocol.Message{
			{Role: "user", Content: observerPromptText(req)},
		},
	}
	return m.runToText(ctx, prompt)
}

// runToText drives one non-streaming round trip over the streaming client:
// it concatenates every output_text delta and returns the finished text, the
// way the orchestrator's own finalizeRequestMessage does for one item, just
// without history bookkeeping.
func (m *ModelDecider) runToText(ctx context.Context, prompt modelclient.Prompt) (string, error) {
	stream, err := m.Client.Stream(ctx, prompt)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for ev := range stream.Events {
		if ev.Kind == sse.EvOutputTextDelta {
			sb.WriteString(ev.Delta)
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("coordinator model stream: %w", err)
	}
	return sb.String(), nil
}

const coordinatorSystemPrompt = `You are the auto-coordinator for an autonomous coding session. Given a goal and a running summary of progress, decide whether to continue, and if so what prompt to hand the primary coding agent next. Respond with the required structured JSON only.`

const observerSystemPrompt = `You are a drift-check pass over an autonomous coding session. Given the goal, past progress, and the agent's most recent messages, decide whether the session needs corrective guidance. If none is needed, respond with an empty string. Otherwise respond with the additional developer instructions to inject.`

func decisionPromptText(req DecisionRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Goal: %s\n", req.Goal)
	fmt.Fprintf(&sb, "Turns completed: %d\n", req.TurnsCompleted)
	if req.ProgressPast != "" {
		fmt.Fprintf(&sb, "Progress so far: %s\n", req.ProgressPast)
	}
	if req.LastAgentMessage != "" {
		fmt.Fprintf(&sb, "Agent's last message: %s\n", req.LastAgentMessage)
	}
	return sb.String()
}

func observerPromptText(req ObserverRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Goal: %s\n", req.Goal)
	fmt.Fprintf(&sb, "Turns completed: %d\n", req.TurnsCompleted)
	if req.ProgressPast != "" {
		fmt.Fprintf(&sb, "Progress so far: %s\n", req.ProgressPast)
	}
	for i, msg := range req.RecentAgentMessages {
		fmt.Fprintf(&sb, "Recent message %d: %s\n", i+1, msg)
	}
	return sb.String()
}
