// Package planner turns a user goal into tool batches via the oracle: the
// gatekeeper classifies the request, the planner proposes the next steps of
// the running mission.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"crmpilot/internal/mission"
	"crmpilot/internal/oracle"
)

// Intent classes produced by the gatekeeper.
const (
	IntentAction   = "ACTION"
	IntentInfoOnly = "INFO_ONLY"
)

// Verdict is the gatekeeper's classification of one user message.
type Verdict struct {
	Intent     string   `json:"intent"`
	Entities   []string `json:"entities"`
	ActionType string   `json:"action_type"`
}

// IsAction reports whether the mission pipeline should run.
func (v Verdict) IsAction() bool { return v.Intent == IntentAction }

func buildGatekeeperPrompt() string {
	var sb strings.Builder
	sb.WriteString("You are the gatekeeper of a CRM agent. Classify the user's message as INFO_ONLY or ACTION.\n")
	sb.WriteString("Respond ONLY with JSON. No extra text.\n\n")
	sb.WriteString("KEY RULE: does the message contain a CONCRETE task with a target?\n")
	sb.WriteString("- Yes (a specific goal, person or object) -> ACTION\n")
	sb.WriteString("- No (general question, no concrete target) -> INFO_ONLY\n\n")
	sb.WriteString("INFO_ONLY: general questions about the agent's abilities, greetings, small talk.\n")
	sb.WriteString("ACTION: a request to perform a concrete operation, even when phrased as a question.\n\n")
	sb.WriteString("Examples:\n")
	sb.WriteString("- \"Can you search the web?\" -> INFO_ONLY (general, no target)\n")
	sb.WriteString("- \"What can you do?\" -> INFO_ONLY\n")
	sb.WriteString("- \"Hi, how are you?\" -> INFO_ONLY\n")
	sb.WriteString("- \"Can you send an email to Martin?\" -> ACTION (email + person)\n")
	sb.WriteString("- \"Could you find the contact for Petra Novak?\" -> ACTION (find + name)\n")
	sb.WriteString("- \"Create a note about today's meeting\" -> ACTION\n\n")
	sb.WriteString("Respond ONLY with JSON: {\"intent\": \"INFO_ONLY\" or \"ACTION\", \"entities\": [], \"action_type\": \"\"}\n")
	return sb.String()
}

// ClassifyIntent runs the gatekeeper. An oracle or parse failure is a hard
// error: no default intent is safe to assume, so the mission must not start
// at all rather than guess.
func (p *Planner) ClassifyIntent(ctx context.Context, messages []mission.Message) (Verdict, error) {
	raw, err := p.oracle.CompleteJSON(ctx, oracle.Request{
		Stage:  oracle.StageGatekeeper,
		Model:  p.models.Gatekeeper,
		System: buildGatekeeperPrompt(),
		Prompt: renderHistory(messages, 3),
	})
	if err != nil {
		p.log.Warn("gatekeeper failed", zap.Error(err))
		return Verdict{}, fmt.Errorf("classify intent: %w", err)
	}

	var v Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		p.log.Warn("gatekeeper returned malformed verdict", zap.Error(err))
		return Verdict{}, fmt.Errorf("classify intent: malformed verdict: %w", err)
	}
	if v.Intent != IntentAction {
		v.Intent = IntentInfoOnly
	}
	return v, nil
}

func renderHistory(messages []mission.Message, last int) string {
	if len(messages) > last {
		messages = messages[len(messages)-last:]
	}
	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", strings.ToUpper(m.Role), m.Content)
	}
	return sb.String()
}
