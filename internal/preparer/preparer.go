package preparer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"crmpilot/internal/catalog"
	"crmpilot/internal/config"
	"crmpilot/internal/mission"
	"crmpilot/internal/oracle"
)

const genericQuestion = "Sorry, I did not fully understand the request. Could you give me a bit more detail?"

// Preparer validates proposed steps before execution.
type Preparer struct {
	oracle   oracle.Completer
	registry *catalog.Registry
	models   config.StageModels
	log      *zap.Logger
}

func New(o oracle.Completer, registry *catalog.Registry, models config.StageModels, log *zap.Logger) *Preparer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Preparer{oracle: o, registry: registry, models: models, log: log}
}

// Prepare checks a batch. The order matters: the deterministic guard runs
// first so prerequisite violations become silent replans, never user
// questions. Only genuinely missing information reaches the healer.
func (p *Preparer) Prepare(ctx context.Context, intent string, steps []mission.PlanStep, state *mission.State) Validation {
	filled, violation := guard(p.registry, steps, state)
	if violation != "" {
		p.log.Info("prerequisite violation, replanning", zap.String("violation", violation))
		return Validation{Valid: false, PrereqViolation: violation, Steps: steps}
	}

	if p.clean(filled) {
		return Validation{Valid: true, Steps: filled}
	}

	healed, questions, err := p.heal(ctx, intent, filled, state)
	if err != nil {
		p.log.Warn("healer failed", zap.Error(err))
		return Validation{Valid: false, Questions: []string{genericQuestion}, Steps: filled}
	}

	questions = p.filterTrusted(healed, questions)
	if len(questions) > 0 {
		return Validation{Valid: false, Questions: questions, Steps: healed}
	}
	if !p.clean(healed) {
		// The healer claimed success but left holes. Ask rather than run a
		// write with a placeholder.
		return Validation{Valid: false, Questions: []string{genericQuestion}, Steps: healed}
	}
	return Validation{Valid: true, Steps: healed}
}

// clean reports whether every step passes catalog validation with no
// placeholder values.
func (p *Preparer) clean(steps []mission.PlanStep) bool {
	for _, s := range steps {
		if err := p.registry.ValidateArgs(s.Tool, s.Args); err != nil {
			return false
		}
		for _, v := range s.Args {
			if placeholder(v) {
				return false
			}
		}
	}
	return true
}

// filterTrusted drops questions about read-only lookups that already carry a
// usable query: searching is cheap, so ambiguity there resolves by running
// the search, not by interrogating the user.
func (p *Preparer) filterTrusted(steps []mission.PlanStep, questions []string) []string {
	if len(questions) == 0 {
		return nil
	}
	allReadOnlySearches := len(steps) > 0
	for _, s := range steps {
		d, ok := p.registry.Get(s.Tool)
		if !ok || !d.ReadOnly || placeholder(s.Args["query"]) {
			allReadOnlySearches = false
			break
		}
	}
	if allReadOnlySearches {
		p.log.Debug("dropping healer questions for trusted read-only batch",
			zap.Strings("questions", questions))
		return nil
	}
	return questions
}

type healVerdict struct {
	Valid     bool               `json:"valid"`
	Questions []string           `json:"questions"`
	Steps     []mission.PlanStep `json:"validated_steps"`
}

func (p *Preparer) heal(ctx context.Context, intent string, steps []mission.PlanStep, state *mission.State) ([]mission.PlanStep, []string, error) {
	raw, err := p.oracle.CompleteJSON(ctx, oracle.Request{
		Stage:  oracle.StageHealer,
		Model:  p.models.Healer,
		System: buildHealerSystem(),
		Prompt: p.buildHealerPrompt(intent, steps, state),
	})
	if err != nil {
		return nil, nil, err
	}

	var verdict healVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return nil, nil, fmt.Errorf("parse healer verdict: %w", err)
	}

	healed := verdict.Steps
	if len(healed) != len(steps) {
		// Never let the healer add or drop steps, only fix arguments.
		healed = steps
	}
	for i := range healed {
		if healed[i].Tool != steps[i].Tool {
			healed[i] = steps[i]
		}
		if healed[i].Args == nil {
			healed[i].Args = map[string]any{}
		}
	}
	if verdict.Valid {
		return healed, nil, nil
	}
	questions := verdict.Questions
	if len(questions) == 0 {
		questions = []string{genericQuestion}
	}
	return healed, questions, nil
}

func buildHealerSystem() string {
	var sb strings.Builder
	sb.WriteString("You are the validator of a CRM agent. Check whether the proposed steps have enough information to execute.\n")
	sb.WriteString("Respond ONLY with JSON. No extra text.\n\n")
	sb.WriteString("VALIDATION RULES:\n")
	sb.WriteString("1. Look ONLY at the proposed steps. Ignore unrelated requests from the history.\n")
	sb.WriteString("2. Check every argument of every step.\n")
	sb.WriteString("3. An argument that is \"???\" or null, or a missing required argument, is a problem.\n")
	sb.WriteString("4. EXCEPTION: for ai_generate_email a missing 'context' is fine when 'instruction' is present.\n")
	sb.WriteString("5. EXCEPTION: for mail_fetch_list, when the query is missing but the intent makes the target obvious, derive the query (e.g. \"from:novak\") and return it in validated_steps. Only ask when you cannot derive it.\n")
	sb.WriteString("6. When the history or resolved entities contain the missing value, fill it in instead of asking.\n\n")
	sb.WriteString("OUTPUT JSON SCHEMA:\n")
	sb.WriteString("{\"valid\": <bool>, \"questions\": [\"<question for the user>\"], \"validated_steps\": [{\"tool\": \"<name>\", \"args\": {}}]}\n\n")
	sb.WriteString("Be strict but proactive: derive what you can, ask only about what you cannot.\n")
	return sb.String()
}

func (p *Preparer) buildHealerPrompt(intent string, steps []mission.PlanStep, state *mission.State) string {
	var sb strings.Builder

	sb.WriteString("TOOL DEFINITIONS:\n")
	sb.WriteString(p.registry.PromptPart())
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "INTENT:\n%s\n\n", intent)

	stepsJSON, _ := json.Marshal(steps)
	fmt.Fprintf(&sb, "PROPOSED STEPS:\n%s\n\n", stepsJSON)

	if snapshot := state.EntitySnapshot(); len(snapshot) > 0 {
		data, _ := json.Marshal(snapshot)
		fmt.Fprintf(&sb, "RESOLVED ENTITIES:\n%s\n\n", data)
	}
	if len(state.AllResults) > 0 {
		fmt.Fprintf(&sb, "MISSION HISTORY:\n%s\n", compressResults(state.AllResults))
	}
	return sb.String()
}
