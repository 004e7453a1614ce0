// Package display renders plans, manifests and cost summaries for the
// terminal. Everything returns a string; the listener decides how it reaches
// the screen.
package display

import (
	"fmt"
	"sort"
	"strings"

	"crmpilot/internal/mission"
)

const maxArgValueLength = 100

const rule = "--------------------------------------------------"

// FormatSteps renders a proposed batch for user review, typically before a
// risky plan is confirmed.
func FormatSteps(steps []mission.PlanStep, labels mission.Labeler) string {
	var sb strings.Builder
	sb.WriteString("Proposed steps:\n")
	sb.WriteString(rule + "\n")
	for i, s := range steps {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, labels.Label(s.Tool), s.Tool)
		for _, k := range sortedKeys(s.Args) {
			fmt.Fprintf(&sb, "     %s: %s\n", k, formatValue(s.Args[k], maxArgValueLength))
		}
	}
	sb.WriteString(rule)
	return sb.String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatValue keeps one argument on one line and truncates long values
// (limit < 0 disables truncation).
func formatValue(value any, limit int) string {
	s := fmt.Sprintf("%v", value)
	s = strings.ReplaceAll(s, "\n", "\\n")
	if limit >= 0 && len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
