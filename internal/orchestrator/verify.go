package orchestrator

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

// VerifyReport is the verifier's judgment of a finished execution.
type VerifyReport struct {
	Success  bool   `json:"success"`
	Analysis string `json:"analysis"`
}

// Verifier cross-checks executed steps against the goal when something
// failed. Missions with zero failures pass without an oracle call.
type Verifier struct {
	oracle oracle.Completer
	models config.StageModels
	log    *zap.Logger
}

func NewVerifier(o oracle.Completer, models config.StageModels, log *zap.Logger) *Verifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Verifier{oracle: o, models: models, log: log}
}

// Verify audits the manifest. An unreachable oracle degrades to a judgment
// based on the fail count alone, with a generic analysis for the report.
func (v *Verifier) Verify(ctx context.Context, m mission.Manifest) VerifyReport {
	if m.FailCount == 0 {
		return VerifyReport{Success: true}
	}

	degraded := VerifyReport{
		Success:  false,
		Analysis: fmt.Sprintf("%d of %d step(s) failed", m.FailCount, m.TotalSteps),
	}

	raw, err := v.oracle.CompleteJSON(ctx, oracle.Request{
		Stage:  oracle.StageVerifier,
		Model:  v.models.Verifier,
		System: "You verify whether an agent's executed steps satisfied the user's goal. Judge only what actually happened. Respond ONLY with JSON.",
		Prompt: buildVerifyPrompt(m),
	})
	if err != nil {
		v.log.Warn("verifier oracle failed", zap.Error(err))
		return degraded
	}

	var out VerifyReport
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		v.log.Warn("verifier returned malformed verdict", zap.Error(err))
		return degraded
	}
	out.Analysis = strings.TrimSpace(out.Analysis)

	v.log.Info("verification complete",
		zap.Bool("success", out.Success),
		zap.String("analysis", out.Analysis))
	return out
}

func buildVerifyPrompt(m mission.Manifest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "USER GOAL: %q\n\n", m.Goal)
	sb.WriteString("EXECUTED STEPS:\n")
	sb.WriteString(m.PromptPart())
	sb.WriteString("\n")
	sb.WriteString("Did the successful steps satisfy the goal despite the failures?\n")
	sb.WriteString("Respond ONLY with JSON: {\"success\": <bool>, \"analysis\": \"<one sentence for the user about what is missing, empty when success>\"}\n")
	return sb.String()
}
