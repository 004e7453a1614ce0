package display

import (
	"fmt"
	"strings"

	"crmpilot/internal/costs"
	"crmpilot/internal/mission"
)

// FormatManifest renders the executed steps of a finished mission.
func FormatManifest(m mission.Manifest) string {
	if m.TotalSteps == 0 {
		return "No steps were executed."
	}
	var sb strings.Builder
	sb.WriteString("Execution summary:\n")
	fmt.Fprintf(&sb, "- Steps: %d total, %d succeeded, %d failed\n",
		m.TotalSteps, m.SuccessCount, m.FailCount)
	for _, e := range m.Entries {
		fmt.Fprintf(&sb, "  %2d. %-20s %-8s %s", e.Step, e.Label, e.Status, e.Summary)
		if e.DurationMs > 0 {
			fmt.Fprintf(&sb, " (%dms)", e.DurationMs)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatCosts renders one mission's oracle spend on a single line.
func FormatCosts(s costs.Summary) string {
	if s.Calls == 0 {
		return ""
	}
	return fmt.Sprintf("Oracle usage: %d call(s), %d tokens, %s",
		s.Calls, s.InputTokens+s.OutputTokens, costs.FormatUSD(s.TotalUSD))
}

// FormatTotals renders the persisted all-time spend.
func FormatTotals(t costs.Totals) string {
	if t.Sessions == 0 {
		return "No usage recorded yet."
	}
	return fmt.Sprintf("All-time usage: %d session(s), %d call(s), %d tokens in, %d tokens out, %s",
		t.Sessions, t.Calls, t.InputTokens, t.OutputTokens, costs.FormatUSD(t.TotalUSD))
}
