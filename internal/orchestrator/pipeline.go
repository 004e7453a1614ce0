package orchestrator

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"crmpilot/internal/catalog"
	"crmpilot/internal/config"
	"crmpilot/internal/corrector"
	"crmpilot/internal/costs"
	"crmpilot/internal/mission"
	"crmpilot/internal/oracle"
	"crmpilot/internal/planner"
	"crmpilot/internal/preparer"
	"crmpilot/internal/reflector"
	"crmpilot/internal/reporter"
	"crmpilot/internal/tool"
)

// Outcome kinds.
const (
	OutcomeInfo         = "INFO"
	OutcomeAccomplished = "ACCOMPLISHED"
	OutcomeNeedsInput   = "NEEDS_INPUT"
	OutcomeAborted      = "ABORTED"
)

// Outcome is what one processed request amounts to. Message is always set
// and always safe to show the user.
type Outcome struct {
	Kind      string
	Message   string
	Questions []string
	Manifest  mission.Manifest
	Costs     costs.Summary
}

// Deps wires a pipeline. Oracle, Executor, Registry and Config are required;
// the rest are optional.
type Deps struct {
	Oracle   oracle.Completer
	Executor tool.Executor
	Registry *catalog.Registry
	Config   *config.Config

	// Router, when set, binds a cost session around every request.
	Router *costs.Router
	// Tracker, when set, persists each finished session's spend.
	Tracker *costs.Tracker
	// Confirm approves risky batches. Nil rejects them.
	Confirm ConfirmFunc

	Log *zap.Logger
}

// Pipeline is the full request path: gatekeeper, mission loop, verifier,
// reflector, reporter.
type Pipeline struct {
	planner   *planner.Planner
	loop      *Loop
	verifier  *Verifier
	reflector *reflector.Reflector
	reporter  *reporter.Reporter
	registry  *catalog.Registry
	router    *costs.Router
	tracker   *costs.Tracker
	log       *zap.Logger
}

func NewPipeline(d Deps) *Pipeline {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	models := d.Config.LLM.Models

	pl := planner.New(d.Oracle, d.Registry, models, log)
	prep := preparer.New(d.Oracle, d.Registry, models, log)
	corr := corrector.New(d.Oracle, models, d.Config.Budgets.MaxCorrections, log)

	return &Pipeline{
		planner:   pl,
		loop:      NewLoop(pl, prep, corr, d.Executor, d.Registry, d.Config.Budgets.MaxAttempts, d.Confirm, log),
		verifier:  NewVerifier(d.Oracle, models, log),
		reflector: reflector.New(d.Oracle, models, log),
		reporter:  reporter.New(d.Oracle, d.Registry, models, log),
		registry:  d.Registry,
		router:    d.Router,
		tracker:   d.Tracker,
		log:       log,
	}
}

// Process handles one user request. The gatekeeper decides whether tools run
// at all; only ACTION requests enter the mission loop.
func (p *Pipeline) Process(ctx context.Context, messages []mission.Message) Outcome {
	session := costs.NewSession()
	if p.router != nil {
		p.router.Bind(session)
		defer p.router.Unbind()
	}
	finish := func(o Outcome) Outcome {
		o.Costs = session.End()
		if p.tracker != nil {
			if err := p.tracker.Add(o.Costs); err != nil {
				p.log.Warn("cost totals not persisted", zap.Error(err))
			}
		}
		return o
	}

	verdict, err := p.planner.ClassifyIntent(ctx, messages)
	if err != nil {
		p.log.Error("mission not started, intent unclassifiable", zap.Error(err))
		return finish(Outcome{
			Kind:    OutcomeAborted,
			Message: "I could not safely work out what that request needs, so I have not touched anything. Please rephrase it and try again.",
		})
	}
	if !verdict.IsAction() {
		return finish(Outcome{
			Kind:    OutcomeInfo,
			Message: p.reporter.InfoReply(ctx, messages),
		})
	}

	goal := lastUserMessage(messages)
	if goal == "" {
		return finish(Outcome{
			Kind:    OutcomeNeedsInput,
			Message: "I did not catch a request in that. What should I do?",
		})
	}

	state := mission.NewState(goal)
	res := p.loop.run(ctx, state)
	manifest := mission.BuildManifest(state, p.registry)

	switch res.status {
	case runCanceled:
		return finish(Outcome{
			Kind:     OutcomeAborted,
			Message:  "The mission was cancelled before it finished.",
			Manifest: manifest,
		})

	case runNeedsInput:
		questions := res.questions
		if len(questions) == 0 {
			questions = []string{"Could you give me a bit more detail?"}
		}
		return finish(Outcome{
			Kind:      OutcomeNeedsInput,
			Message:   strings.Join(questions, "\n"),
			Questions: questions,
			Manifest:  manifest,
		})

	case runEscalated:
		return finish(Outcome{
			Kind:     OutcomeAborted,
			Message:  reporter.EscalationMessage(*res.escalation, p.registry),
			Manifest: manifest,
		})
	}

	return finish(p.conclude(ctx, state, manifest))
}

// RunSteps executes a fixed batch of steps, bypassing the gatekeeper and
// the planning oracle. Validation, risky confirmation, correction and
// reporting all still apply.
func (p *Pipeline) RunSteps(ctx context.Context, goal string, steps []mission.PlanStep) Outcome {
	session := costs.NewSession()
	if p.router != nil {
		p.router.Bind(session)
		defer p.router.Unbind()
	}
	finish := func(o Outcome) Outcome {
		o.Costs = session.End()
		if p.tracker != nil {
			if err := p.tracker.Add(o.Costs); err != nil {
				p.log.Warn("cost totals not persisted", zap.Error(err))
			}
		}
		return o
	}

	state := mission.NewState(goal)
	res := p.loop.runFixed(ctx, steps, state)
	manifest := mission.BuildManifest(state, p.registry)

	switch res.status {
	case runCanceled:
		return finish(Outcome{
			Kind:     OutcomeAborted,
			Message:  "The mission was cancelled before it finished.",
			Manifest: manifest,
		})
	case runNeedsInput:
		return finish(Outcome{
			Kind:      OutcomeNeedsInput,
			Message:   strings.Join(res.questions, "\n"),
			Questions: res.questions,
			Manifest:  manifest,
		})
	case runEscalated:
		return finish(Outcome{
			Kind:     OutcomeAborted,
			Message:  reporter.EscalationMessage(*res.escalation, p.registry),
			Manifest: manifest,
		})
	}
	return finish(p.conclude(ctx, state, manifest))
}

// conclude runs the audit stages on a loop that finished cleanly and builds
// the final report. A reflection that asks for another round gets one only
// while attempt budget remains.
func (p *Pipeline) conclude(ctx context.Context, state *mission.State, manifest mission.Manifest) Outcome {
	vr := p.verifier.Verify(ctx, manifest)
	refl := p.reflector.Reflect(ctx, manifest)

	if refl.SuggestedAction == reflector.ActionRetry {
		res := p.loop.run(ctx, state)
		manifest = mission.BuildManifest(state, p.registry)
		switch res.status {
		case runCanceled:
			return Outcome{Kind: OutcomeAborted, Message: "The mission was cancelled before it finished.", Manifest: manifest}
		case runNeedsInput:
			return Outcome{Kind: OutcomeNeedsInput, Message: strings.Join(res.questions, "\n"), Questions: res.questions, Manifest: manifest}
		case runEscalated:
			return Outcome{Kind: OutcomeAborted, Message: reporter.EscalationMessage(*res.escalation, p.registry), Manifest: manifest}
		}
		vr = p.verifier.Verify(ctx, manifest)
		refl = p.reflector.Reflect(ctx, manifest)
	}

	if refl.SuggestedAction == reflector.ActionEscalate {
		esc := reporter.Escalation{
			AttemptsMade:     state.Iteration,
			PartialSuccesses: state.AllResults,
			Diagnosis:        refl.Note,
		}
		if name := firstFailedTool(state); name != "" {
			esc.FailedTool = name
			return Outcome{
				Kind:     OutcomeAborted,
				Message:  reporter.EscalationMessage(esc, p.registry),
				Manifest: manifest,
			}
		}
	}

	note := concludeNote(vr, refl)
	return Outcome{
		Kind:     OutcomeAccomplished,
		Message:  p.reporter.Report(ctx, manifest, state.AllResults, note),
		Manifest: manifest,
	}
}

// concludeNote merges the verifier and reflector caveats into the single
// note the reporter weaves into its prose.
func concludeNote(vr VerifyReport, refl reflector.Reflection) string {
	var parts []string
	if !vr.Success && vr.Analysis != "" {
		parts = append(parts, vr.Analysis)
	}
	if refl.Note != "" {
		parts = append(parts, refl.Note)
	}
	for _, d := range refl.Discrepancies {
		if d != "" {
			parts = append(parts, d)
		}
	}
	return strings.Join(parts, " ")
}

func firstFailedTool(state *mission.State) string {
	for _, r := range state.AllResults {
		if !r.Success && !r.Skipped {
			return r.Tool
		}
	}
	return ""
}

func lastUserMessage(messages []mission.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}
