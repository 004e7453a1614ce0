package corrector

import (
	"context"
	"errors"
	"testing"

	"crmpilot/internal/config"
	"crmpilot/internal/mission"
	"crmpilot/internal/oracle"
)

type fakeOracle struct {
	response string
	err      error
	calls    int
}

func (f *fakeOracle) Complete(context.Context, oracle.Request) (string, error) {
	f.calls++
	return f.response, f.err
}

func (f *fakeOracle) CompleteJSON(ctx context.Context, req oracle.Request) (string, error) {
	return f.Complete(ctx, req)
}

func failedResult(retryable bool) mission.Result {
	return mission.Result{
		Tool:         "db_create_deal",
		Error:        "missing contact_id",
		Retryable:    retryable,
		OriginalArgs: map[string]any{"name": "Big deal"},
	}
}

func TestDecideNonRetryableEscalatesWithoutOracle(t *testing.T) {
	fo := &fakeOracle{}
	c := New(fo, config.StageModels{}, 2, nil)

	d := c.Decide(context.Background(), failedResult(false), mission.NewState("goal"), 1)
	if d.Action != ActionEscalate {
		t.Errorf("action = %q", d.Action)
	}
	if fo.calls != 0 {
		t.Errorf("oracle must not be consulted, got %d calls", fo.calls)
	}
}

func TestDecideBudgetExhaustedEscalatesWithoutOracle(t *testing.T) {
	fo := &fakeOracle{}
	c := New(fo, config.StageModels{}, 2, nil)

	d := c.Decide(context.Background(), failedResult(true), mission.NewState("goal"), 3)
	if d.Action != ActionEscalate {
		t.Errorf("action = %q", d.Action)
	}
	if fo.calls != 0 {
		t.Errorf("oracle must not be consulted, got %d calls", fo.calls)
	}
}

func TestDecideRetryWithFixedArgs(t *testing.T) {
	fo := &fakeOracle{response: `{"diagnosis": "contact_id was missing but resolved as c-7", "action": "RETRY_WITH_FIXED_ARGS", "correctedArgs": {"name": "Big deal", "contact_id": "c-7"}}`}
	c := New(fo, config.StageModels{}, 2, nil)

	d := c.Decide(context.Background(), failedResult(true), mission.NewState("goal"), 1)
	if d.Action != ActionRetry {
		t.Fatalf("action = %q", d.Action)
	}
	if d.CorrectedArgs["contact_id"] != "c-7" {
		t.Errorf("corrected args = %v", d.CorrectedArgs)
	}
	if d.Diagnosis == "" {
		t.Error("diagnosis lost")
	}
}

func TestDecideRetryWithoutArgsKeepsOriginals(t *testing.T) {
	fo := &fakeOracle{response: `{"diagnosis": "transient", "action": "RETRY_WITH_FIXED_ARGS"}`}
	c := New(fo, config.StageModels{}, 2, nil)

	d := c.Decide(context.Background(), failedResult(true), mission.NewState("goal"), 1)
	if d.Action != ActionRetry {
		t.Fatalf("action = %q", d.Action)
	}
	if d.CorrectedArgs["name"] != "Big deal" {
		t.Errorf("corrected args = %v", d.CorrectedArgs)
	}
}

func TestDecideSkip(t *testing.T) {
	fo := &fakeOracle{response: `{"diagnosis": "optional step", "action": "SKIP_STEP"}`}
	c := New(fo, config.StageModels{}, 2, nil)

	if d := c.Decide(context.Background(), failedResult(true), mission.NewState("goal"), 2); d.Action != ActionSkip {
		t.Errorf("action = %q", d.Action)
	}
}

func TestDecideOracleFailureEscalates(t *testing.T) {
	fo := &fakeOracle{err: errors.New("oracle down")}
	c := New(fo, config.StageModels{}, 2, nil)

	if d := c.Decide(context.Background(), failedResult(true), mission.NewState("goal"), 1); d.Action != ActionEscalate {
		t.Errorf("action = %q", d.Action)
	}
}

func TestDecideMalformedVerdictEscalates(t *testing.T) {
	fo := &fakeOracle{response: "I think you should retry"}
	c := New(fo, config.StageModels{}, 2, nil)

	if d := c.Decide(context.Background(), failedResult(true), mission.NewState("goal"), 1); d.Action != ActionEscalate {
		t.Errorf("action = %q", d.Action)
	}
}

func TestDecideUnknownActionEscalates(t *testing.T) {
	fo := &fakeOracle{response: `{"diagnosis": "odd", "action": "REBOOT_UNIVERSE"}`}
	c := New(fo, config.StageModels{}, 2, nil)

	if d := c.Decide(context.Background(), failedResult(true), mission.NewState("goal"), 1); d.Action != ActionEscalate {
		t.Errorf("action = %q", d.Action)
	}
}
