// Package corrector diagnoses failed tool calls and decides whether they
// get retried with fixed arguments, skipped, or escalated to the user.
package corrector

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

// Action is the corrector's verdict on one failure.
type Action string

const (
	ActionRetry    Action = "RETRY"
	ActionSkip     Action = "SKIP"
	ActionEscalate Action = "ESCALATE"
)

// Decision carries the verdict plus the material the loop needs to act on it.
type Decision struct {
	Action        Action
	CorrectedArgs map[string]any
	Diagnosis     string
}

// Corrector sits between a failed execution and the next loop iteration.
type Corrector struct {
	oracle         oracle.Completer
	models         config.StageModels
	maxCorrections int
	log            *zap.Logger
}

func New(o oracle.Completer, models config.StageModels, maxCorrections int, log *zap.Logger) *Corrector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Corrector{oracle: o, models: models, maxCorrections: maxCorrections, log: log}
}

// Decide handles one failed result. The budget guard runs before any oracle
// call: non-retryable failures and exhausted tools escalate immediately.
// The attempt number passed in is 1-based.
func (c *Corrector) Decide(ctx context.Context, failed mission.Result, state *mission.State, attempt int) Decision {
	if !failed.Retryable || attempt > c.maxCorrections {
		c.log.Info("escalating without diagnosis",
			zap.String("tool", failed.Tool),
			zap.Bool("retryable", failed.Retryable),
			zap.Int("attempt", attempt))
		return Decision{Action: ActionEscalate}
	}

	raw, err := c.oracle.CompleteJSON(ctx, oracle.Request{
		Stage:  oracle.StageCorrector,
		Model:  c.models.Corrector,
		System: "You are a diagnostic specialist for a CRM agent. Analyze failures and suggest fixes. Respond ONLY with JSON.",
		Prompt: c.buildDiagnosisPrompt(failed, state, attempt),
	})
	if err != nil {
		c.log.Warn("corrector oracle failed", zap.String("tool", failed.Tool), zap.Error(err))
		return Decision{Action: ActionEscalate, Diagnosis: fmt.Sprintf("corrector failed: %v", err)}
	}

	var verdict struct {
		Diagnosis     string         `json:"diagnosis"`
		Action        string         `json:"action"`
		CorrectedArgs map[string]any `json:"correctedArgs"`
	}
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		c.log.Warn("corrector returned malformed verdict", zap.Error(err))
		return Decision{Action: ActionEscalate, Diagnosis: "diagnosis unreadable"}
	}

	c.log.Info("correction decided",
		zap.String("tool", failed.Tool),
		zap.String("action", verdict.Action),
		zap.String("diagnosis", verdict.Diagnosis))

	switch verdict.Action {
	case "RETRY_WITH_FIXED_ARGS":
		args := verdict.CorrectedArgs
		if len(args) == 0 {
			args = failed.OriginalArgs
		}
		return Decision{Action: ActionRetry, CorrectedArgs: args, Diagnosis: verdict.Diagnosis}
	case "SKIP_STEP":
		return Decision{Action: ActionSkip, Diagnosis: verdict.Diagnosis}
	default:
		return Decision{Action: ActionEscalate, Diagnosis: verdict.Diagnosis}
	}
}

func (c *Corrector) buildDiagnosisPrompt(failed mission.Result, state *mission.State, attempt int) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Tool %q failed with error: %q\n\n", failed.Tool, failed.Error)

	entities, _ := json.Marshal(state.EntitySnapshot())
	fmt.Fprintf(&sb, "Resolved entities available: %s\n", entities)
	args, _ := json.Marshal(failed.OriginalArgs)
	fmt.Fprintf(&sb, "Args that were used: %s\n", args)
	fmt.Fprintf(&sb, "Iteration: %d\n", state.Iteration)
	fmt.Fprintf(&sb, "Correction attempt: %d / %d\n\n", attempt, c.maxCorrections)

	sb.WriteString("Diagnose the failure and suggest corrected args.\n\n")
	sb.WriteString("Common root causes to check:\n")
	sb.WriteString("1. Wrong id format (UUID string vs integer), compare with the resolved entities\n")
	sb.WriteString("2. Missing field that IS available in the resolved entities (e.g. contact_id in last_id)\n")
	sb.WriteString("3. Null field that should have a value\n")
	sb.WriteString("4. Wrong field name (e.g. sent \"id\" but the tool expects \"contact_id\")\n")
	sb.WriteString("5. Date format mismatch\n\n")

	sb.WriteString("Rules:\n")
	sb.WriteString("- If you can fix it with values from the resolved entities, answer RETRY_WITH_FIXED_ARGS\n")
	sb.WriteString("- If the step is non-critical and can be skipped, answer SKIP_STEP\n")
	sb.WriteString("- If it is fundamentally broken and unrecoverable, answer ESCALATE\n\n")

	sb.WriteString("Respond ONLY with valid JSON:\n")
	sb.WriteString("{\"diagnosis\": \"<concise explanation>\", \"action\": \"RETRY_WITH_FIXED_ARGS\" | \"SKIP_STEP\" | \"ESCALATE\", \"correctedArgs\": {}}\n")
	return sb.String()
}
