package reporter

import (
	"fmt"
	"strings"

	"crmpilot/internal/catalog"
	"crmpilot/internal/mission"
	"crmpilot/internal/tools"
)

// Escalation describes why the mission gave up. Message rendering is pure:
// no oracle call can fail between the decision to escalate and the user
// hearing about it.
type Escalation struct {
	FailedTool       string
	AttemptsMade     int
	PartialSuccesses []mission.Result
	Diagnosis        string
}

// mailTokenExpired detects an expired mailbox credential anywhere in the
// escalation context.
func (e Escalation) mailTokenExpired() bool {
	sentinel := tools.ErrMailTokenExpired.Error()
	if strings.Contains(e.Diagnosis, sentinel) {
		return true
	}
	for _, r := range e.PartialSuccesses {
		if strings.Contains(r.Error, sentinel) {
			return true
		}
	}
	return false
}

// EscalationMessage builds the user-facing failure message. Tool names map
// to human labels, hints come from the catalog, and every identifier from
// the failed call is scrubbed.
func EscalationMessage(e Escalation, registry *catalog.Registry) string {
	if e.mailTokenExpired() {
		return strings.TrimSpace(`
Your mailbox connection has expired.

To keep sending or reading email I need the account reconnected, which only takes a few seconds: open Settings -> Integrations and reconnect the mailbox.

Once it is connected, just tell me "try again".`)
	}

	var succeeded []string
	var failedArgs map[string]any
	for _, r := range e.PartialSuccesses {
		if r.Success && !r.Skipped {
			succeeded = append(succeeded, "- "+registry.Label(r.Tool)+": done")
		}
		if r.Tool == e.FailedTool {
			failedArgs = r.OriginalArgs
		}
	}

	var sb strings.Builder
	if len(succeeded) > 0 {
		sb.WriteString("I could only partly finish the task.\n\nCompleted steps:\n")
		sb.WriteString(strings.Join(succeeded, "\n"))
		sb.WriteString("\n\n")
	} else {
		sb.WriteString("I was not able to finish the task.\n\n")
	}

	fmt.Fprintf(&sb, "%s failed even after %d attempt(s).\n\n", registry.Label(e.FailedTool), e.AttemptsMade)

	sb.WriteString("What you can do:\n")
	sb.WriteString(registry.Hint(e.FailedTool))
	sb.WriteString("\n")

	if e.Diagnosis != "" {
		fmt.Fprintf(&sb, "\nTechnical detail: %s\n", e.Diagnosis)
	}
	sb.WriteString("\nWant me to try a different approach?")

	return ScrubIdentifiers(sb.String(), failedArgs)
}
