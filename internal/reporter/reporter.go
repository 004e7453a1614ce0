package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"crmpilot/internal/catalog"
	"crmpilot/internal/config"
	"crmpilot/internal/mission"
	"crmpilot/internal/oracle"
)

// Reporter turns mission outcomes into short user-facing prose.
type Reporter struct {
	oracle   oracle.Completer
	registry *catalog.Registry
	models   config.StageModels
	log      *zap.Logger
}

func New(o oracle.Completer, registry *catalog.Registry, models config.StageModels, log *zap.Logger) *Reporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reporter{oracle: o, registry: registry, models: models, log: log}
}

// Report summarizes a finished mission in at most a couple of sentences.
// Results are redacted before the oracle sees them, and an oracle failure
// falls back to a deterministic summary so the user always gets an answer.
func (r *Reporter) Report(ctx context.Context, m mission.Manifest, results []mission.Result, note string) string {
	redacted, _ := json.Marshal(RedactedResults(results))

	var sb strings.Builder
	sb.WriteString("STYLE: extremely short report, two sentences maximum. Say exactly what was done and what the result is. No filler.\n")
	if note != "" {
		fmt.Fprintf(&sb, "INCLUDE THIS CAVEAT: %s\n", note)
	}
	fmt.Fprintf(&sb, "USER GOAL: %q\n", m.Goal)
	fmt.Fprintf(&sb, "ACTION RESULTS:\n%s\n", redacted)

	text, err := r.oracle.Complete(ctx, oracle.Request{
		Stage:  oracle.StageReporter,
		Model:  r.models.Reporter,
		Prompt: sb.String(),
	})
	if err != nil || strings.TrimSpace(text) == "" {
		r.log.Warn("reporter oracle failed, using fallback", zap.Error(err))
		return r.fallback(m, note)
	}
	return strings.TrimSpace(text)
}

// fallback is the deterministic report used when the prose oracle is
// unavailable.
func (r *Reporter) fallback(m mission.Manifest, note string) string {
	var sb strings.Builder
	switch {
	case m.TotalSteps == 0:
		sb.WriteString("Nothing needed doing, the request was already satisfied.")
	case m.FailCount == 0:
		fmt.Fprintf(&sb, "Done. Completed %d step(s):\n", m.SuccessCount)
		for _, e := range m.Entries {
			if e.Status == mission.StatusSuccess {
				fmt.Fprintf(&sb, "- %s\n", e.Label)
			}
		}
	default:
		fmt.Fprintf(&sb, "Finished with problems: %d of %d step(s) succeeded.\n", m.SuccessCount, m.TotalSteps)
		for _, e := range m.Entries {
			fmt.Fprintf(&sb, "- %s: %s\n", e.Label, e.Status)
		}
	}
	if note != "" {
		fmt.Fprintf(&sb, "\nNote: %s", note)
	}
	return strings.TrimSpace(sb.String())
}

// InfoReply answers a conversational or capability question without running
// any tools.
func (r *Reporter) InfoReply(ctx context.Context, messages []mission.Message) string {
	var user strings.Builder
	for _, m := range messages {
		if m.Role == "user" {
			user.WriteString(m.Content)
			user.WriteString("\n")
		}
	}

	var sb strings.Builder
	sb.WriteString("You are a CRM assistant. STYLE: brief and direct, one or two sentences.\n")
	sb.WriteString("CAPABILITIES: search and scrape the web, manage CRM contacts, projects, deals and tasks, read and send email, draft emails, read and write workspace files, and run multi-step actions.\n")
	fmt.Fprintf(&sb, "QUESTION:\n%s", user.String())
	sb.WriteString("Answer directly. For capability questions answer yes/no plus one short explanation.")

	text, err := r.oracle.Complete(ctx, oracle.Request{
		Stage:  oracle.StageConversational,
		Model:  r.models.Reporter,
		Prompt: sb.String(),
	})
	if err != nil || strings.TrimSpace(text) == "" {
		r.log.Warn("info reply oracle failed, using fallback", zap.Error(err))
		return "I can search the web, manage CRM contacts, projects, deals and tasks, and read or send email. Ask me for something concrete and I will get to work."
	}
	return strings.TrimSpace(text)
}
