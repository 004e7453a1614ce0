package reflector

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

func manifestWith(total, failed int) mission.Manifest {
	m := mission.Manifest{Goal: "test goal", TotalSteps: total, FailCount: failed, SuccessCount: total - failed}
	for i := 0; i < total; i++ {
		status := mission.StatusSuccess
		if i < failed {
			status = mission.StatusFailed
		}
		m.Entries = append(m.Entries, mission.ManifestEntry{
			Step: i + 1, Tool: "db_search_contacts", Label: "Contact search", Status: status,
		})
	}
	return m
}

func TestReflectShortSuccessSkipsOracle(t *testing.T) {
	fo := &fakeOracle{}
	r := New(fo, config.StageModels{}, nil)

	out := r.Reflect(context.Background(), manifestWith(2, 0))
	if !out.GoalAchieved || out.Confidence != 1.0 || out.SuggestedAction != ActionProceed {
		t.Errorf("verdict = %+v", out)
	}
	if fo.calls != 0 {
		t.Errorf("short success chain must skip the oracle, got %d calls", fo.calls)
	}
}

func TestReflectShortMissionWithFailureConsultsOracle(t *testing.T) {
	fo := &fakeOracle{response: `{"goalAchieved": false, "confidence": 0.9, "discrepancies": ["send failed"], "suggestedAction": "ESCALATE_TO_USER"}`}
	r := New(fo, config.StageModels{}, nil)

	out := r.Reflect(context.Background(), manifestWith(2, 1))
	if fo.calls != 1 {
		t.Fatalf("oracle calls = %d, want 1", fo.calls)
	}
	if out.GoalAchieved || out.SuggestedAction != ActionEscalate {
		t.Errorf("verdict = %+v", out)
	}
}

func TestReflectParsesVerdict(t *testing.T) {
	fo := &fakeOracle{response: `{"goalAchieved": true, "confidence": 0.8, "discrepancies": [], "suggestedAction": "PROCEED", "reflectionNote": "all good"}`}
	r := New(fo, config.StageModels{}, nil)

	out := r.Reflect(context.Background(), manifestWith(4, 0))
	if !out.GoalAchieved || out.Confidence != 0.8 || out.Note != "all good" {
		t.Errorf("verdict = %+v", out)
	}
}

func TestReflectFailuresDegradeToOptimisticProceed(t *testing.T) {
	testCases := []struct {
		name string
		fo   *fakeOracle
	}{
		{"oracle error", &fakeOracle{err: errors.New("down")}},
		{"garbage output", &fakeOracle{response: "looks fine to me"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := New(tc.fo, config.StageModels{}, nil)
			out := r.Reflect(context.Background(), manifestWith(5, 1))
			if !out.GoalAchieved || out.Confidence != 0.5 || out.SuggestedAction != ActionProceed {
				t.Errorf("verdict = %+v", out)
			}
		})
	}
}

func TestReflectSanitizesOutOfRangeFields(t *testing.T) {
	fo := &fakeOracle{response: `{"goalAchieved": true, "confidence": 7.5, "suggestedAction": "DANCE"}`}
	r := New(fo, config.StageModels{}, nil)

	out := r.Reflect(context.Background(), manifestWith(4, 0))
	if out.SuggestedAction != ActionProceed {
		t.Errorf("action = %q", out.SuggestedAction)
	}
	if out.Confidence != 0.5 {
		t.Errorf("confidence = %v", out.Confidence)
	}
}
