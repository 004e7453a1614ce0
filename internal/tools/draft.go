package tools

import (
	"context"
	"fmt"
	"strings"

	"crmpilot/internal/oracle"
	"crmpilot/internal/tool"
)

// Drafter backs ai_generate_email with a prose oracle call. It only produces
// text; sending is a separate capability behind its own prerequisites.
type Drafter struct {
	oracle oracle.Completer
	model  string
}

func NewDrafter(o oracle.Completer, model string) *Drafter {
	return &Drafter{oracle: o, model: model}
}

// RegisterDraft wires ai_generate_email.
func RegisterDraft(r *tool.Runner, d *Drafter) error {
	return r.Register("ai_generate_email", d.generateEmail)
}

func (d *Drafter) generateEmail(ctx context.Context, args map[string]any) (any, error) {
	instruction, err := tool.StringArg(args, "instruction")
	if err != nil {
		return nil, err
	}
	extra := tool.OptionalStringArg(args, "context")

	var sb strings.Builder
	sb.WriteString("Write a short, professional email following this instruction:\n")
	sb.WriteString(instruction)
	if extra != "" {
		sb.WriteString("\n\nContext:\n")
		sb.WriteString(extra)
	}
	sb.WriteString("\n\nReturn only the email body text, no subject line, no commentary.")

	text, err := d.oracle.Complete(ctx, oracle.Request{
		Stage:  oracle.StageTool,
		Model:  d.model,
		Prompt: sb.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("draft email: %w", err)
	}
	return map[string]any{"generated_content": strings.TrimSpace(text)}, nil
}
