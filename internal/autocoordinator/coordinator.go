package autocoordinator

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/forgecore/agentcore/internal/bus"
	"github.com/forgecore/agentcore/internal/orchestrator"
	"github.com/forgecore/agentcore/internal/protocol"
)

// Config bounds one goal-driven run, mirroring the teacher's
// AutonomousController.maxIterations guard against a runaway loop, plus the
// every-K-turns observer cadence spec §4.10 adds on top of it.
type Config struct {
	MaxTurns      int // 0 means unbounded
	ObserverEvery int // run the observer pass every N completed primary turns; 0 disables it
}

// DefaultConfig mirrors the teacher's AutonomousController default of 50
// iterations, with the observer pass disabled unless requested.
func DefaultConfig() Config {
	return Config{MaxTurns: 50}
}

// Coordinator drives a primary orchestrator toward a goal by repeatedly
// asking a DecisionModel what to do next, submitting its cli_prompt as the
// next turn's user input, and waiting for that turn to complete before
// asking again. It is the sole Submissions producer and Events consumer for
// the session while a Run is in progress.
type Coordinator struct {
	Bus          *bus.Bus
	Orchestrator *orchestrator.Orchestrator
	Decider      DecisionModel
	Observer     ObserverModel      // optional; nil disables the drift check
	OnEvent      func(protocol.Event) // optional; called for every event of the turn currently in flight
	Cfg          Config
}

func New(b *bus.Bus, o *orchestrator.Orchestrator, decider DecisionModel, observer ObserverModel, cfg Config) *Coordinator {
	return &Coordinator{Bus: b, Orchestrator: o, Decider: decider, Observer: observer, Cfg: cfg}
}

// Run drives submissions until the coordinator model reports
// finish_success/finish_failed, ctx is canceled, or MaxTurns turns have
// completed.
func (c *Coordinator) Run(ctx context.Context, goal string) error {
	var progressPast, lastAgentMessage string
	var recent []string
	turnsCompleted := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		decision, err := c.decideWithRetry(ctx, DecisionRequest{
			Goal:             goal,
			ProgressPast:     progressPast,
			LastAgentMessage: lastAgentMessage,
			TurnsCompleted:   turnsCompleted,
		})
		if err != nil {
			return err
		}

		switch decision.FinishStatus {
		case FinishSuccess:
			log.Printf("[autocoordinator] goal reached after %d turns: %s", turnsCompleted, decision.ProgressCurrent)
			return nil
		case FinishFailed:
			return fmt.Errorf("autocoordinator: goal failed after %d turns: %s", turnsCompleted, decision.ProgressCurrent)
		}
		if decision.ProgressCurrent != "" {
			progressPast = decision.ProgressCurrent
		}
		if decision.TurnConfig != nil {
			c.applyTurnConfig(*decision.TurnConfig)
		}
		if decision.CLIPrompt == "" {
			return fmt.Errorf("autocoordinator: decision requested continue with an empty cli_prompt")
		}

		subID := uuid.New().String()
		c.Bus.Submit(protocol.Submission{
			ID:  subID,
			Op:  protocol.OpUserInput,
			Payload: protocol.UserInputOp{Items: []protocol.InputItem{{Text: decision.CLIPrompt}}},
		})

		msg, err := c.awaitTaskComplete(ctx, subID)
		if err != nil {
			return err
		}
		lastAgentMessage = msg
		recent = append(recent, msg)
		if len(recent) > 5 {
			recent = recent[len(recent)-5:]
		}
		turnsCompleted++

		if c.Cfg.MaxTurns > 0 && turnsCompleted >= c.Cfg.MaxTurns {
			return fmt.Errorf("autocoordinator reached max turns (%d) without completing the goal", c.Cfg.MaxTurns)
		}

		if c.Observer != nil && c.Cfg.ObserverEvery > 0 && turnsCompleted%c.Cfg.ObserverEvery == 0 {
			c.runObserverPass(ctx, goal, progressPast, recent, turnsCompleted)
		}
	}
}

// awaitTaskComplete blocks on the bus's event stream for the TaskComplete
// (or TurnAborted) belonging to subID, returning the turn's last agent
// message.
func (c *Coordinator) awaitTaskComplete(ctx context.Context, subID string) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev := <-c.Bus.Events():
			if ev.ID != subID {
				continue
			}
			if c.OnEvent != nil {
				c.OnEvent(ev)
			}
			switch ev.Msg.Kind {
			case protocol.MsgTaskComplete:
				if ev.Msg.LastAgentMessage != nil {
					return *ev.Msg.LastAgentMessage, nil
				}
				return "", nil
			case protocol.MsgTurnAborted:
				return "", fmt.Errorf("autocoordinator: primary turn %s was aborted", subID)
			}
		}
	}
}

// runObserverPass checks for drift and, if the observer model returns
// non-empty guidance, injects it as the orchestrator's additional
// instructions for every subsequent prompt build.
func (c *Coordinator) runObserverPass(ctx context.Context, goal, progressPast string, recent []string, turnsCompleted int) {
	instructions, err := c.Observer.Observe(ctx, ObserverRequest{
		Goal:                goal,
		ProgressPast:        progressPast,
		RecentAgentMessages: append([]string(nil), recent...),
		TurnsCompleted:      turnsCompleted,
	})
	if err != nil {
		log.Printf("[autocoordinator] observer pass failed: %v", err)
		return
	}
	if instructions == "" {
		return
	}
	log.Printf("[autocoordinator] observer pass injecting additional instructions at turn %d", turnsCompleted)
	c.Orchestrator.SetAdditionalInstructions(instructions)
}

func (c *Coordinator) applyTurnConfig(tc TurnConfig) {
	if tc.Model != "" {
		c.Orchestrator.Cfg.ModelOverride = tc.Model
	}
	if tc.ReasoningEffort != "" {
		c.Orchestrator.Cfg.ReasoningEffort = tc.ReasoningEffort
	}
}

// decideWithRetry applies the same doubling backoff from 1s that the model
// client uses for transport failures, plus up to 500ms of jitter, since the coordinator model call is just
// another Stream round trip and can hit the same transient errors.
func (c *Coordinator) decideWithRetry(ctx context.Context, req DecisionRequest) (Decision, error) {
	const maxAttempts = 3
	delay := time.Second
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		decision, err := c.Decider.Decide(ctx, req)
		if err == nil {
			return decision, nil
		}
		lastErr = err
		if attempt == maxAttempts-1 {
			break
		}
		jitter := time.Duration(rand.Int63n(int64(500 * time.Millisecond)))
		t := time.NewTimer(delay + jitter)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return Decision{}, ctx.Err()
		}
		delay *= 2
	}
	return Decision{}, fmt.Errorf("autocoordinator: decision call failed after %d attempts: %w", maxAttempts, lastErr)
}
