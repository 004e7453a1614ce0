package orchestrator

import (
	"context"
	"strings"
	"testing"

	"crmpilot/internal/catalog"
	"crmpilot/internal/config"
	"crmpilot/internal/costs"
	"crmpilot/internal/mission"
	"crmpilot/internal/oracle"
	"crmpilot/internal/reflector"
)

const (
	actionVerdict   = `{"intent":"ACTION","entities":["ana"],"action_type":"search"}`
	infoOnlyVerdict = `{"intent":"INFO_ONLY","entities":[],"action_type":""}`
)

func newTestPipeline(t *testing.T, fo *fakeOracle, fe *fakeExecutor, confirm ConfirmFunc) *Pipeline {
	t.Helper()
	reg, err := catalog.Load()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return NewPipeline(Deps{
		Oracle:   fo,
		Executor: fe,
		Registry: reg,
		Config:   config.Default(),
		Router:   costs.NewRouter(),
		Confirm:  confirm,
	})
}

func userSays(text string) []mission.Message {
	return []mission.Message{{Role: "user", Content: text}}
}

func TestPipelineInfoOnlySkipsTools(t *testing.T) {
	fo := newFakeOracle()
	fo.script(oracle.StageGatekeeper, infoOnlyVerdict)
	fo.script(oracle.StageConversational, "I can manage your CRM and your mailbox.")
	fe := &fakeExecutor{}

	p := newTestPipeline(t, fo, fe, nil)
	out := p.Process(context.Background(), userSays("what can you do?"))

	if out.Kind != OutcomeInfo {
		t.Fatalf("kind = %q, want INFO", out.Kind)
	}
	if out.Message != "I can manage your CRM and your mailbox." {
		t.Errorf("message = %q", out.Message)
	}
	if got := fo.count(oracle.StagePlanner); got != 0 {
		t.Errorf("planner consulted %d time(s) on an info request", got)
	}
	if len(fe.runs()) != 0 {
		t.Errorf("tools ran on an info request")
	}
}

func TestPipelineBrokenGatekeeperStopsMissionStart(t *testing.T) {
	// No gatekeeper script: the oracle fails. No default intent is safe to
	// assume, so the request must fail before any planning or tool use.
	fo := newFakeOracle()
	fe := &fakeExecutor{}

	p := newTestPipeline(t, fo, fe, nil)
	out := p.Process(context.Background(), userSays("delete every contact"))

	if out.Kind != OutcomeAborted {
		t.Fatalf("kind = %q, want ABORTED", out.Kind)
	}
	if out.Message == "" || strings.Contains(out.Message, "oracle") {
		t.Errorf("message must be user-safe, got %q", out.Message)
	}
	if got := fo.count(oracle.StagePlanner); got != 0 {
		t.Errorf("planner consulted %d time(s) with a broken gatekeeper", got)
	}
	if len(fe.runs()) != 0 {
		t.Errorf("tools ran with a broken gatekeeper")
	}
}

func TestPipelineActionHappyPath(t *testing.T) {
	fo := newFakeOracle()
	fo.script(oracle.StageGatekeeper, actionVerdict)
	fo.script(oracle.StagePlanner, searchPlan, emptyPlan)
	fo.script(oracle.StageReporter, "Found Ana Novak in the CRM.")
	fe := &fakeExecutor{results: []mission.Result{searchSuccess()}}

	p := newTestPipeline(t, fo, fe, nil)
	out := p.Process(context.Background(), userSays("find ana"))

	if out.Kind != OutcomeAccomplished {
		t.Fatalf("kind = %q, want ACCOMPLISHED (message: %s)", out.Kind, out.Message)
	}
	if out.Message != "Found Ana Novak in the CRM." {
		t.Errorf("message = %q", out.Message)
	}
	if out.Manifest.TotalSteps != 1 || out.Manifest.SuccessCount != 1 {
		t.Errorf("manifest = %+v", out.Manifest)
	}
	// A short clean mission must not pay for audit oracles.
	if got := fo.count(oracle.StageVerifier); got != 0 {
		t.Errorf("verifier consulted %d time(s), want 0", got)
	}
	if got := fo.count(oracle.StageReflector); got != 0 {
		t.Errorf("reflector consulted %d time(s), want 0", got)
	}
}

func TestPipelineEscalationIsUserSafe(t *testing.T) {
	fo := newFakeOracle()
	fo.script(oracle.StageGatekeeper, actionVerdict)
	fo.script(oracle.StagePlanner, searchPlan)
	fe := &fakeExecutor{results: []mission.Result{
		{Error: "401 unauthorized for c3d4e5f6-0000-1111-2222-333344445555", Retryable: false},
	}}

	p := newTestPipeline(t, fo, fe, nil)
	out := p.Process(context.Background(), userSays("find ana"))

	if out.Kind != OutcomeAborted {
		t.Fatalf("kind = %q, want ABORTED", out.Kind)
	}
	if !strings.Contains(out.Message, "Contact search") {
		t.Errorf("message lacks human label:\n%s", out.Message)
	}
	if strings.Contains(out.Message, "db_search_contacts") {
		t.Errorf("raw tool name leaked:\n%s", out.Message)
	}
	if strings.Contains(out.Message, "c3d4e5f6") {
		t.Errorf("identifier leaked:\n%s", out.Message)
	}
}

func TestPipelineAsksForMissingInformation(t *testing.T) {
	vaguePlan := `{"intent":"find","thought":"","steps":[{"tool":"db_search_contacts","args":{"query":"???"}}]}`
	fo := newFakeOracle()
	fo.script(oracle.StageGatekeeper, actionVerdict)
	fo.script(oracle.StagePlanner, vaguePlan)
	fo.script(oracle.StageHealer,
		`{"valid":false,"questions":["Which contact do you mean?"],"validated_steps":[{"tool":"db_search_contacts","args":{"query":"???"}}]}`)
	fe := &fakeExecutor{}

	p := newTestPipeline(t, fo, fe, nil)
	out := p.Process(context.Background(), userSays("find the contact"))

	if out.Kind != OutcomeNeedsInput {
		t.Fatalf("kind = %q, want NEEDS_INPUT", out.Kind)
	}
	if len(out.Questions) != 1 || out.Questions[0] != "Which contact do you mean?" {
		t.Errorf("questions = %v", out.Questions)
	}
	if !strings.Contains(out.Message, "Which contact do you mean?") {
		t.Errorf("message = %q", out.Message)
	}
}

func TestPipelineActionWithoutUserMessage(t *testing.T) {
	fo := newFakeOracle()
	fo.script(oracle.StageGatekeeper, actionVerdict)

	p := newTestPipeline(t, fo, &fakeExecutor{}, nil)
	out := p.Process(context.Background(), []mission.Message{{Role: "assistant", Content: "hello"}})

	if out.Kind != OutcomeNeedsInput {
		t.Fatalf("kind = %q, want NEEDS_INPUT", out.Kind)
	}
}

func TestPipelineRunStepsBypassesGatekeeperAndPlanner(t *testing.T) {
	fo := newFakeOracle()
	fo.script(oracle.StageReporter, "Looked up Ana for you.")
	fe := &fakeExecutor{results: []mission.Result{searchSuccess()}}

	p := newTestPipeline(t, fo, fe, nil)
	steps := []mission.PlanStep{{Tool: "db_search_contacts", Args: map[string]any{"query": "ana"}}}
	out := p.RunSteps(context.Background(), "canned lookup", steps)

	if out.Kind != OutcomeAccomplished {
		t.Fatalf("kind = %q, want ACCOMPLISHED (message: %s)", out.Kind, out.Message)
	}
	if got := fo.count(oracle.StageGatekeeper); got != 0 {
		t.Errorf("gatekeeper consulted %d time(s), want 0", got)
	}
	if got := fo.count(oracle.StagePlanner); got != 0 {
		t.Errorf("planner consulted %d time(s), want 0", got)
	}
	if len(fe.runs()) != 1 {
		t.Errorf("executor ran %d step(s), want 1", len(fe.runs()))
	}
}

func TestPipelineRunStepsRejectsBadOrdering(t *testing.T) {
	fo := newFakeOracle()
	fe := &fakeExecutor{}

	p := newTestPipeline(t, fo, fe, nil)
	steps := []mission.PlanStep{{Tool: "db_create_deal", Args: map[string]any{
		"name":       "Big deal",
		"contact_id": "???",
	}}}
	out := p.RunSteps(context.Background(), "bad plan", steps)

	if out.Kind != OutcomeAborted {
		t.Fatalf("kind = %q, want ABORTED", out.Kind)
	}
	if !strings.Contains(out.Message, "Deal creation") {
		t.Errorf("message lacks human label:\n%s", out.Message)
	}
	if len(fe.runs()) != 0 {
		t.Errorf("steps executed despite missing prerequisite")
	}
}

func TestConcludeNoteMergesCaveats(t *testing.T) {
	note := concludeNote(
		VerifyReport{Success: false, Analysis: "the email never went out"},
		reflector.Reflection{
			Note:          "the deal amount is unconfirmed",
			Discrepancies: []string{"no deal value recorded"},
		},
	)
	for _, want := range []string{"the email never went out", "the deal amount is unconfirmed", "no deal value recorded"} {
		if !strings.Contains(note, want) {
			t.Errorf("note missing %q: %s", want, note)
		}
	}
}
