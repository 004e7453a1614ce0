package display

import (
	"strings"
	"testing"

	"crmpilot/internal/catalog"
	"crmpilot/internal/costs"
	"crmpilot/internal/mission"
	"crmpilot/internal/planner"
)

func TestFormatSteps(t *testing.T) {
	reg, err := catalog.Load()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	steps := []mission.PlanStep{
		{Tool: "db_search_contacts", Args: map[string]any{"query": "ana"}},
		{Tool: "mail_send_email", Args: map[string]any{
			"recipient": "ana@example.com",
			"subject":   "Offer",
			"body":      "line one\nline two",
		}},
	}

	out := FormatSteps(steps, reg)

	for _, want := range []string{
		"Proposed steps:",
		"1. Contact search (db_search_contacts)",
		"query: ana",
		"2. Email sending (mail_send_email)",
		"subject: Offer",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "line one\nline two") {
		t.Error("multi-line value not flattened")
	}
}

func TestFormatStepsTruncatesLongValues(t *testing.T) {
	reg, err := catalog.Load()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	long := strings.Repeat("a", 200)
	steps := []mission.PlanStep{
		{Tool: "sys_write_file", Args: map[string]any{"path": "out.txt", "content": long}},
	}

	out := FormatSteps(steps, reg)

	if !strings.Contains(out, "...") {
		t.Error("long value not truncated")
	}
	if strings.Contains(out, long) {
		t.Error("full long value leaked into display")
	}
}

func TestFormatManifest(t *testing.T) {
	m := mission.Manifest{
		TotalSteps:   2,
		SuccessCount: 1,
		FailCount:    1,
		Entries: []mission.ManifestEntry{
			{Step: 1, Label: "Contact search", Status: mission.StatusSuccess, Summary: "Found 1 record(s).", DurationMs: 120},
			{Step: 2, Label: "Email sending", Status: mission.StatusFailed, Summary: "Failed: timeout"},
		},
	}
	out := FormatManifest(m)

	for _, want := range []string{"2 total, 1 succeeded, 1 failed", "Contact search", "(120ms)", "Email sending", "Failed: timeout"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if got := FormatManifest(mission.Manifest{}); got != "No steps were executed." {
		t.Errorf("empty manifest = %q", got)
	}
}

func TestFormatCostsEmptySession(t *testing.T) {
	if got := FormatCosts(costs.Summary{}); got != "" {
		t.Errorf("empty summary = %q, want empty string", got)
	}
}

func TestFormatPlanCatalog(t *testing.T) {
	plans := []planner.NamedPlan{
		{Name: "onboard", Goal: "create contact and deal", Steps: make([]mission.PlanStep, 2)},
		{Name: "manual:plans.json#2", Steps: make([]mission.PlanStep, 1)},
	}
	out := FormatPlanCatalog("plans.json", plans)

	for _, want := range []string{"Found 2 plan(s) in plans.json", "onboard", "steps=2", "(no goal given)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
