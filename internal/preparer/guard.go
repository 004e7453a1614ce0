// Package preparer validates a proposed batch before execution: a
// deterministic prerequisite guard first, then an oracle healing pass for
// arguments the guard cannot fill itself.
package preparer

import (
	"fmt"
	"strings"

	"crmpilot/internal/catalog"
	"crmpilot/internal/mission"
)

// Validation is the preparer's verdict on a batch.
type Validation struct {
	// Valid means the steps may run as returned.
	Valid bool
	// Questions for the user when information is genuinely missing.
	Questions []string
	// PrereqViolation is set when a step ignored its prerequisite chain.
	// The loop replans silently instead of asking the user.
	PrereqViolation string
	// Steps are the (possibly filled-in) steps to execute.
	Steps []mission.PlanStep
}

// placeholder reports argument values the planner emits when it does not
// know the real value.
func placeholder(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	s = strings.TrimSpace(s)
	return s == "" || s == "???" || strings.EqualFold(s, "null") || strings.EqualFold(s, "unknown")
}

// guard enforces the catalog prerequisite chains without an oracle call.
// It fills required-entity arguments from resolved entities where it can,
// and reports a violation when a dependent tool is planned before any of
// its prerequisites ran or before its required entity exists.
func guard(registry *catalog.Registry, steps []mission.PlanStep, state *mission.State) (filled []mission.PlanStep, violation string) {
	filled = make([]mission.PlanStep, len(steps))
	// Tools earlier in this same batch count as satisfied prerequisites:
	// the batch executes sequentially.
	inBatch := map[string]bool{}
	entities := state.EntitySnapshot()

	for i, step := range steps {
		out := mission.PlanStep{Tool: step.Tool, Args: make(map[string]any, len(step.Args))}
		for k, v := range step.Args {
			out.Args[k] = v
		}
		filled[i] = out

		d, ok := registry.Get(step.Tool)
		if !ok {
			continue
		}

		if len(d.Prerequisites) > 0 && !prereqMet(d.Prerequisites, state, inBatch) && !entityOnHand(d, entities) {
			return nil, fmt.Sprintf(
				"step %q requires one of %v to have completed first",
				step.Tool, d.Prerequisites)
		}

		if d.RequiredEntity != "" && placeholder(out.Args[d.RequiredEntity]) {
			if v, ok := lookupEntity(entities, d.RequiredEntity); ok {
				out.Args[d.RequiredEntity] = v
			} else if !prereqProvides(d, inBatch) {
				return nil, fmt.Sprintf(
					"step %q needs entity %q, which is not resolved yet",
					step.Tool, d.RequiredEntity)
			}
		}

		inBatch[step.Tool] = true
	}
	return filled, ""
}

// lookupEntity resolves a required entity. Lookup results store their
// record id under last_id, so *_id entities fall back to it when the exact
// key is absent.
func lookupEntity(entities map[string]string, key string) (string, bool) {
	if v, ok := entities[key]; ok {
		return v, true
	}
	if strings.HasSuffix(key, "_id") {
		if v, ok := entities[mission.EntityLastID]; ok {
			return v, true
		}
	}
	return "", false
}

// entityOnHand reports that the step's required entity is already resolved.
// A resolved entity satisfies the prerequisite chain without a prior tool
// run: the lookup the chain exists to force has effectively happened.
func entityOnHand(d catalog.Descriptor, entities map[string]string) bool {
	if d.RequiredEntity == "" {
		return false
	}
	_, ok := lookupEntity(entities, d.RequiredEntity)
	return ok
}

func prereqMet(prereqs []string, state *mission.State, inBatch map[string]bool) bool {
	for _, p := range prereqs {
		if state.CompletedTools[p] || inBatch[p] {
			return true
		}
	}
	return false
}

// prereqProvides reports whether an earlier step in this batch can still
// produce the required entity before this step runs.
func prereqProvides(d catalog.Descriptor, inBatch map[string]bool) bool {
	for _, p := range d.Prerequisites {
		if inBatch[p] {
			return true
		}
	}
	return false
}
