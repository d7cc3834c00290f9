// Package autocoordinator is the optional secondary model loop: given an
// end-user goal, it drives the primary orchestrator by emitting prompts
// until the goal is reached, the way the teacher's agent.AutonomousController
// drives Controller.Chat in a generate-plan/check-complete loop, but with the
// loop's decision made by the model itself (a structured JSON verdict)
// instead of a hardcoded "- [ ]" checklist scan.
package autocoordinator

import (
	"encoding/json"
	"fmt"
)

// FinishStatus is the coordinator model's verdict on the goal.
type FinishStatus string

const (
	Continue      FinishStatus = "continue"
	FinishSuccess FinishStatus = "finish_success"
	FinishFailed  FinishStatus = "finish_failed"
)

// TurnConfig lets the coordinator model steer the next primary turn's
// model/reasoning settings, e.g. stepping up effort for a harder subtask.
type TurnConfig struct {
	Model           string `json:"model,omitempty"`
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
}

// Decision is the structured verdict the coordinator model must emit each
// round.
type Decision struct {
	FinishStatus    FinishStatus `json:"finish_status"`
	ProgressPast    string       `json:"progress_past,omitempty"`
	ProgressCurrent string       `json:"progress_current,omitempty"`
	CLIContext      string       `json:"cli_context,omitempty"`
	CLIPrompt       string       `json:"cli_prompt,omitempty"`
	TurnConfig      *TurnConfig  `json:"turn_config,omitempty"`
}

// decisionSchema is the JSON schema handed to the model client's TextFormat,
// constraining the structured-output call to exactly Decision's shape.
var decisionSchema = map[string]interface{}{
	"type": "json_schema",
	"name": "auto_coordinator_decision",
	"schema": map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"finish_status":    map[string]interface{}{"type": "string", "enum": []string{"continue", "finish_success", "finish_failed"}},
			"progress_past":    map[string]interface{}{"type": "string"},
			"progress_current": map[string]interface{}{"type": "string"},
			"cli_context":      map[string]interface{}{"type": "string"},
			"cli_prompt":       map[string]interface{}{"type": "string"},
			"turn_config": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"model":            map[string]interface{}{"type": "string"},
					"reasoning_effort": map[string]interface{}{"type": "string"},
				},
			},
		},
		"required": []string{"finish_status"},
	},
}

func parseDecision(text string) (Decision, error) {
	var d Decision
	if err := json.Unmarshal([]byte(text), &d); err != nil {
		return Decision{}, fmt.Errorf("parse coordinator decision: %w", err)
	}
	switch d.FinishStatus {
	case Continue, FinishSuccess, FinishFailed:
	default:
		return Decision{}, fmt.Errorf("coordinator decision has unknown finish_status %q", d.FinishStatus)
	}
	return d, nil
}
