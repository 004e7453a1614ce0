package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"crmpilot/internal/catalog"
	"crmpilot/internal/config"
	"crmpilot/internal/mission"
	"crmpilot/internal/oracle"
)

// Plan is one proposed batch of steps. An empty Steps slice means the
// planner considers the goal complete.
type Plan struct {
	Intent  string             `json:"intent"`
	Thought string             `json:"thought"`
	Steps   []mission.PlanStep `json:"steps"`
}

// Done reports whether the planner proposed no further work.
func (p *Plan) Done() bool { return len(p.Steps) == 0 }

// Planner builds tool batches from the goal and the mission so far.
type Planner struct {
	oracle   oracle.Completer
	registry *catalog.Registry
	models   config.StageModels
	log      *zap.Logger
}

func New(o oracle.Completer, registry *catalog.Registry, models config.StageModels, log *zap.Logger) *Planner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Planner{oracle: o, registry: registry, models: models, log: log}
}

func (p *Planner) buildPlanPrompt(state *mission.State) string {
	var sb strings.Builder

	sb.WriteString("You are the planner of a CRM agent. Break the user's goal into a batch of atomic tool steps.\n")
	sb.WriteString("Respond ONLY with JSON. No extra text.\n\n")

	sb.WriteString(p.registry.PromptPart())
	sb.WriteString("\n")

	if snapshot := state.EntitySnapshot(); len(snapshot) > 0 {
		data, _ := json.Marshal(snapshot)
		sb.WriteString("RESOLVED ENTITIES (ids and values already discovered, use them directly):\n")
		sb.Write(data)
		sb.WriteString("\n\n")
	}
	if results := state.SuccessResults(); len(results) > 0 {
		sb.WriteString("COMPLETED STEPS SO FAR:\n")
		for _, r := range results {
			fmt.Fprintf(&sb, "- %s succeeded\n", r.Tool)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("RULES:\n")
	sb.WriteString("1. ALWAYS check the resolved entities first. If an id or email is already known, USE IT instead of \"???\".\n")
	sb.WriteString("2. Prefer ITERATIVE planning. When an id is missing, plan only the lookup step (db_search_contacts); the next iteration plans the rest with the real id.\n")
	sb.WriteString("3. To find emails from a person: first db_search_contacts for their address, then mail_fetch_list with query 'from:<email>'. Only search the mailbox by name when the contact is not in the CRM.\n")
	sb.WriteString("4. If the goal is already DONE, return an empty \"steps\" array.\n")
	sb.WriteString("5. NEVER repeat a step with the same arguments that already succeeded. Move on or return empty steps.\n")
	sb.WriteString("6. If you know a name but not an id, plan db_search_contacts first. Never emit \"???\" when a lookup can resolve it.\n\n")

	sb.WriteString("OUTPUT JSON SCHEMA:\n")
	sb.WriteString("{\"intent\": \"<short_intent_slug>\", \"thought\": \"<why these steps>\", \"steps\": [{\"tool\": \"<name>\", \"args\": {}}]}\n\n")

	fmt.Fprintf(&sb, "Iteration: %d\n", state.Iteration)
	fmt.Fprintf(&sb, "User Goal: %q\n", state.Goal)
	sb.WriteString("Assistant: ")
	return sb.String()
}

// bare ??? tokens are not valid JSON; quote them before decoding.
var bareUnknownRe = regexp.MustCompile(`:\s*\?\?\?`)

// GeneratePlan asks the oracle for the next batch. A parse failure is an
// error: the loop counts it against the attempt budget instead of looping on
// garbage.
func (p *Planner) GeneratePlan(ctx context.Context, state *mission.State) (*Plan, error) {
	raw, err := p.oracle.CompleteJSON(ctx, oracle.Request{
		Stage:  oracle.StagePlanner,
		Model:  p.models.Planner,
		Prompt: p.buildPlanPrompt(state),
	})
	if err != nil {
		return nil, fmt.Errorf("generate plan: %w", err)
	}

	raw = bareUnknownRe.ReplaceAllString(raw, `: "???"`)

	var plan Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("parse plan JSON: %w", err)
	}
	if err := p.validate(&plan); err != nil {
		return nil, fmt.Errorf("generated plan invalid: %w", err)
	}

	p.log.Info("plan generated",
		zap.String("intent", plan.Intent),
		zap.Int("steps", len(plan.Steps)),
		zap.Int("iteration", state.Iteration))
	return &plan, nil
}

// validate rejects plans referencing tools outside the catalog and fills in
// empty args maps so later stages never see nil.
func (p *Planner) validate(plan *Plan) error {
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.Tool == "" {
			return fmt.Errorf("step %d has no tool name", i+1)
		}
		if _, ok := p.registry.Get(step.Tool); !ok {
			return fmt.Errorf("step %d uses unknown tool %q", i+1, step.Tool)
		}
		if step.Args == nil {
			step.Args = map[string]any{}
		}
	}
	return nil
}

// Risky reports whether any step is a destructive operation that needs user
// confirmation before execution.
func (p *Planner) Risky(steps []mission.PlanStep) bool {
	for _, s := range steps {
		if d, ok := p.registry.Get(s.Tool); ok && d.Risky {
			return true
		}
	}
	return false
}
