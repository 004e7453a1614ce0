// Package reflector audits a finished mission: did the executed steps
// actually achieve the goal, or did the loop merely run out of things to do.
package reflector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"crmpilot/internal/config"
	"crmpilot/internal/mission"
	"crmpilot/internal/oracle"
)

// Suggested follow-up actions.
const (
	ActionProceed  = "PROCEED"
	ActionRetry    = "RETRY_FAILED_STEPS"
	ActionEscalate = "ESCALATE_TO_USER"
)

// Reflection is the audit verdict.
type Reflection struct {
	GoalAchieved    bool     `json:"goalAchieved"`
	Confidence      float64  `json:"confidence"`
	Discrepancies   []string `json:"discrepancies"`
	SuggestedAction string   `json:"suggestedAction"`
	Note            string   `json:"reflectionNote"`
}

// Reflector runs after the execution loop, before reporting.
type Reflector struct {
	oracle oracle.Completer
	models config.StageModels
	log    *zap.Logger
}

func New(o oracle.Completer, models config.StageModels, log *zap.Logger) *Reflector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reflector{oracle: o, models: models, log: log}
}

// Reflect audits the manifest. Short all-success missions skip the oracle
// entirely, and an unreadable verdict degrades to an optimistic PROCEED so
// reflection can delay a report but never block one.
func (r *Reflector) Reflect(ctx context.Context, m mission.Manifest) Reflection {
	if m.TotalSteps <= 2 && m.FailCount == 0 {
		return Reflection{GoalAchieved: true, Confidence: 1.0, SuggestedAction: ActionProceed}
	}

	optimistic := Reflection{GoalAchieved: true, Confidence: 0.5, SuggestedAction: ActionProceed}

	raw, err := r.oracle.CompleteJSON(ctx, oracle.Request{
		Stage:  oracle.StageReflector,
		Model:  r.models.Reflector,
		System: "You are a precise auditor of AI agents. You analyze facts, not promises. Respond ONLY with JSON.",
		Prompt: buildReflectionPrompt(m),
	})
	if err != nil {
		r.log.Warn("reflector oracle failed, proceeding", zap.Error(err))
		return optimistic
	}

	var out Reflection
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		r.log.Warn("reflector returned malformed verdict, proceeding", zap.Error(err))
		return optimistic
	}
	switch out.SuggestedAction {
	case ActionProceed, ActionRetry, ActionEscalate:
	default:
		out.SuggestedAction = ActionProceed
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		out.Confidence = 0.5
	}

	r.log.Info("reflection complete",
		zap.Bool("goal_achieved", out.GoalAchieved),
		zap.Float64("confidence", out.Confidence),
		zap.String("suggested_action", out.SuggestedAction))
	return out
}

func buildReflectionPrompt(m mission.Manifest) string {
	var sb strings.Builder

	sb.WriteString("You are the reviewer of a CRM agent. Judge whether the agent actually fulfilled the user's goal based on the executed steps.\n\n")
	fmt.Fprintf(&sb, "ORIGINAL GOAL: %q\n\n", m.Goal)
	sb.WriteString("EXECUTED STEPS:\n")
	sb.WriteString(m.PromptPart())
	sb.WriteString("\n")

	sb.WriteString("QUESTIONS TO ANSWER:\n")
	sb.WriteString("1. Are the successful results sufficient to meet the goal?\n")
	sb.WriteString("2. If a step failed, was it critical to the mission?\n")
	sb.WriteString("3. Are any results suspiciously empty (e.g. a successful search with 0 records)?\n\n")

	sb.WriteString("Respond ONLY with JSON:\n")
	sb.WriteString("{\"goalAchieved\": <bool>, \"confidence\": <0.0-1.0>, \"discrepancies\": [\"<missing or mismatched items>\"], \"suggestedAction\": \"PROCEED\" | \"RETRY_FAILED_STEPS\" | \"ESCALATE_TO_USER\", \"reflectionNote\": \"<short note for the user, optional>\"}\n")
	return sb.String()
}
