package display

import (
	"fmt"
	"strings"

	"crmpilot/internal/planner"
)

// FormatPlanCatalog lists the canned plans found in a plan file.
func FormatPlanCatalog(file string, plans []planner.NamedPlan) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d plan(s) in %s:\n", len(plans), file)
	for i, p := range plans {
		goal := p.Goal
		if goal == "" {
			goal = "(no goal given)"
		}
		fmt.Fprintf(&sb, "  %2d. %-24s steps=%d  %s\n", i+1, p.Name, len(p.Steps), formatValue(goal, 60))
	}
	return strings.TrimRight(sb.String(), "\n")
}
