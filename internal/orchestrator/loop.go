// Package orchestrator drives missions end to end: the gatekeeper decides
// whether tools run at all, the loop plans and executes bounded batches, and
// the pipeline turns the outcome into the message the user reads.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"crmpilot/internal/catalog"
	"crmpilot/internal/corrector"
	"crmpilot/internal/mission"
	"crmpilot/internal/planner"
	"crmpilot/internal/preparer"
	"crmpilot/internal/reporter"
	"crmpilot/internal/tool"
)

// maxSameTool caps how often one tool may execute within a mission. A planner
// that keeps emitting the same step burns this instead of the user's time.
const maxSameTool = 4

const riskyConfirmQuestion = "This plan modifies or deletes existing records. Say it again with an explicit confirmation and I will proceed."

// ConfirmFunc approves a risky batch before it executes. A nil func rejects,
// so destructive steps never run without an explicit yes from somewhere.
type ConfirmFunc func(ctx context.Context, steps []mission.PlanStep) bool

type runStatus int

const (
	runDone runStatus = iota
	runNeedsInput
	runEscalated
	runCanceled
)

type loopResult struct {
	status     runStatus
	questions  []string
	escalation *reporter.Escalation
}

// Loop owns the plan / prepare / execute / correct cycle. It is the only
// writer of mission state.
type Loop struct {
	planner     *planner.Planner
	preparer    *preparer.Preparer
	corrector   *corrector.Corrector
	executor    tool.Executor
	registry    *catalog.Registry
	maxAttempts int
	confirm     ConfirmFunc
	log         *zap.Logger
}

func NewLoop(p *planner.Planner, prep *preparer.Preparer, c *corrector.Corrector,
	exec tool.Executor, registry *catalog.Registry, maxAttempts int,
	confirm ConfirmFunc, log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Loop{
		planner:     p,
		preparer:    prep,
		corrector:   c,
		executor:    exec,
		registry:    registry,
		maxAttempts: maxAttempts,
		confirm:     confirm,
		log:         log,
	}
}

// run iterates until the planner declares the goal complete or a budget runs
// out. It continues from state.Iteration, so a caller may resume a mission
// that still has attempts left.
//
// Planning failures consume an attempt: a model emitting garbage must not buy
// itself extra rounds.
func (l *Loop) run(ctx context.Context, state *mission.State) loopResult {
	var lastPlanErr error

	for state.Iteration < l.maxAttempts {
		state.Iteration++

		if ctx.Err() != nil {
			return loopResult{status: runCanceled}
		}

		plan, err := l.planner.GeneratePlan(ctx, state)
		if err != nil {
			lastPlanErr = err
			l.log.Warn("planning failed, attempt consumed",
				zap.Int("iteration", state.Iteration), zap.Error(err))
			continue
		}
		if plan.Done() {
			return loopResult{status: runDone}
		}

		if name, n := l.overusedTool(plan.Steps, state); name != "" {
			return loopResult{status: runEscalated, escalation: &reporter.Escalation{
				FailedTool:       name,
				AttemptsMade:     n,
				PartialSuccesses: state.AllResults,
				Diagnosis:        fmt.Sprintf("the plan kept repeating %q without making progress", name),
			}}
		}

		v := l.preparer.Prepare(ctx, plan.Intent, plan.Steps, state)
		if !v.Valid {
			if v.PrereqViolation != "" {
				continue
			}
			return loopResult{status: runNeedsInput, questions: v.Questions}
		}

		if l.planner.Risky(v.Steps) && !l.approved(ctx, v.Steps) {
			return loopResult{status: runNeedsInput, questions: []string{riskyConfirmQuestion}}
		}

		if res := l.executeBatch(ctx, v.Steps, state); res != nil {
			return *res
		}
	}

	return loopResult{status: runEscalated, escalation: l.exhausted(state, lastPlanErr)}
}

// runFixed executes one caller-supplied batch without consulting the
// planner. Prerequisite violations are hard failures here: there is no
// replanning oracle to route around a badly ordered canned plan.
func (l *Loop) runFixed(ctx context.Context, steps []mission.PlanStep, state *mission.State) loopResult {
	state.Iteration++

	if ctx.Err() != nil {
		return loopResult{status: runCanceled}
	}

	v := l.preparer.Prepare(ctx, "canned plan", steps, state)
	if !v.Valid {
		if v.PrereqViolation != "" {
			return loopResult{status: runEscalated, escalation: &reporter.Escalation{
				FailedTool:       steps[0].Tool,
				AttemptsMade:     1,
				PartialSuccesses: state.AllResults,
				Diagnosis:        v.PrereqViolation,
			}}
		}
		return loopResult{status: runNeedsInput, questions: v.Questions}
	}

	if l.planner.Risky(v.Steps) && !l.approved(ctx, v.Steps) {
		return loopResult{status: runNeedsInput, questions: []string{riskyConfirmQuestion}}
	}

	if res := l.executeBatch(ctx, v.Steps, state); res != nil {
		return *res
	}
	return loopResult{status: runDone}
}

func (l *Loop) approved(ctx context.Context, steps []mission.PlanStep) bool {
	if l.confirm == nil {
		return false
	}
	return l.confirm(ctx, steps)
}

// overusedTool reports the first planned tool already past its repeat cap.
func (l *Loop) overusedTool(steps []mission.PlanStep, state *mission.State) (string, int) {
	for _, s := range steps {
		if n := state.ToolCallCounts[s.Tool]; n >= maxSameTool {
			return s.Tool, n
		}
	}
	return "", 0
}

// executeBatch runs one validated batch sequentially. A non-nil return ends
// the mission; nil means the batch finished and the loop should replan.
func (l *Loop) executeBatch(ctx context.Context, steps []mission.PlanStep, state *mission.State) *loopResult {
	for _, step := range steps {
		if ctx.Err() != nil {
			return &loopResult{status: runCanceled}
		}
		if state.AlreadySucceeded(step) {
			continue
		}

		step.Args = resolveArgs(step.Args, state.ResolvedEntities)
		res := l.executor.Run(ctx, step)
		state.Record(res)

	correction:
		for !res.Success {
			attempt := state.BeginCorrection(res.Tool)
			decision := l.corrector.Decide(ctx, res, state, attempt)

			switch decision.Action {
			case corrector.ActionRetry:
				retry := mission.PlanStep{
					Tool: step.Tool,
					Args: resolveArgs(decision.CorrectedArgs, state.ResolvedEntities),
				}
				l.log.Info("retrying corrected step",
					zap.String("tool", step.Tool), zap.Int("attempt", attempt))
				res = l.executor.Run(ctx, retry)
				state.Record(res)

			case corrector.ActionSkip:
				l.log.Info("skipping failed step",
					zap.String("tool", step.Tool),
					zap.String("diagnosis", decision.Diagnosis))
				state.Record(mission.Result{
					Tool:         step.Tool,
					Skipped:      true,
					OriginalArgs: step.Args,
				})
				break correction

			default:
				return &loopResult{status: runEscalated, escalation: &reporter.Escalation{
					FailedTool:       res.Tool,
					AttemptsMade:     attempt,
					PartialSuccesses: state.AllResults,
					Diagnosis:        decision.Diagnosis,
				}}
			}
		}
	}
	return nil
}

// exhausted builds the give-up escalation after all attempts are spent.
func (l *Loop) exhausted(state *mission.State, planErr error) *reporter.Escalation {
	esc := &reporter.Escalation{
		AttemptsMade:     l.maxAttempts,
		PartialSuccesses: state.AllResults,
	}
	for i := len(state.AllResults) - 1; i >= 0; i-- {
		r := state.AllResults[i]
		if !r.Success && !r.Skipped {
			esc.FailedTool = r.Tool
			esc.Diagnosis = r.Error
			return esc
		}
	}
	if planErr != nil {
		esc.Diagnosis = "could not produce a usable plan for this request"
	} else {
		esc.Diagnosis = "ran out of attempts before the goal was reached"
	}
	return esc
}

// resolveArgs substitutes placeholder values with resolved entities right
// before execution. This covers batches where a lookup earlier in the same
// batch produced the id a later step needs.
func resolveArgs(args map[string]any, entities map[string]string) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
		if !placeholderArg(v) {
			continue
		}
		if val, ok := entities[k]; ok {
			out[k] = val
			continue
		}
		if strings.HasSuffix(k, "_id") {
			if val, ok := entities[mission.EntityLastID]; ok {
				out[k] = val
			}
		}
	}
	return out
}

func placeholderArg(v any) bool {
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
