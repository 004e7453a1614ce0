package mission

import (
	"fmt"
	"strings"
)

// Manifest is the compact, human-legible projection of a mission used in
// downstream oracle prompts. It keeps those prompts short enough to avoid
// lost-in-the-middle failures on long missions.
type Manifest struct {
	Goal         string
	TotalSteps   int
	SuccessCount int
	FailCount    int
	Entries      []ManifestEntry

	// ResolvedEntities is a copy, never the live map.
	ResolvedEntities map[string]string
}

// Step status values in a manifest entry.
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
	StatusSkipped = "SKIPPED"
)

// ManifestEntry summarizes one executed step.
type ManifestEntry struct {
	Step       int
	Tool       string
	Label      string
	Status     string
	Summary    string
	KeyOutputs map[string]string
	DurationMs int64
}

// Labeler maps tool names to human labels; the capability catalog satisfies
// this.
type Labeler interface {
	Label(name string) string
}

// BuildManifest derives the read-only manifest from mission state.
func BuildManifest(state *State, labels Labeler) Manifest {
	m := Manifest{
		Goal:             state.Goal,
		ResolvedEntities: state.EntitySnapshot(),
	}
	for i, r := range state.AllResults {
		status := StatusFailed
		switch {
		case r.Skipped:
			status = StatusSkipped
		case r.Success:
			status = StatusSuccess
		}
		m.Entries = append(m.Entries, ManifestEntry{
			Step:       i + 1,
			Tool:       r.Tool,
			Label:      labels.Label(r.Tool),
			Status:     status,
			Summary:    summarizeResult(r),
			KeyOutputs: keyOutputs(r),
			DurationMs: r.DurationMs,
		})
	}
	m.TotalSteps = len(m.Entries)
	for _, e := range m.Entries {
		switch e.Status {
		case StatusSuccess:
			m.SuccessCount++
		case StatusFailed:
			m.FailCount++
		}
	}
	return m
}

// PromptPart renders the manifest for inclusion in an oracle prompt.
func (m Manifest) PromptPart() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("MISSION: %s\n", m.Goal))
	sb.WriteString(fmt.Sprintf("Steps: %d total, %d succeeded, %d failed.\n", m.TotalSteps, m.SuccessCount, m.FailCount))
	for _, e := range m.Entries {
		sb.WriteString(fmt.Sprintf("%d. %s [%s] — %s\n", e.Step, e.Label, e.Status, e.Summary))
	}
	return sb.String()
}

// summarizeResult produces a one-line gloss of a result without dumping raw
// JSON into prompts.
func summarizeResult(r Result) string {
	if r.Skipped {
		return "Step skipped."
	}
	if !r.Success {
		if r.Error == "" {
			return "Failed: unknown error."
		}
		return "Failed: " + r.Error
	}

	if arr, ok := r.Data.([]any); ok {
		if len(arr) == 0 {
			return "No records found."
		}
		gloss := fmt.Sprintf("Found %d record(s)", len(arr))
		if name := firstName(arr[0]); name != "" {
			gloss += ", first: " + name
		}
		return gloss + "."
	}

	item := r.DataMap()
	if item == nil {
		return "Completed without returned data."
	}
	if first, ok := item["first_name"].(string); ok {
		return "Contact: " + strings.TrimSpace(first+" "+str(item["last_name"])) + "."
	}
	if name := str(item["name"]); name != "" {
		return fmt.Sprintf("Item %q created or found.", name)
	}
	if title := str(item["title"]); title != "" {
		return fmt.Sprintf("Record %q created or found.", title)
	}
	if subject := str(item["subject"]); subject != "" {
		return fmt.Sprintf("Email %q.", subject)
	}
	if _, ok := item["id"]; ok {
		return "Record created or found."
	}
	return "Operation succeeded."
}

// keyOutputs extracts the handful of fields the verifier actually needs.
func keyOutputs(r Result) map[string]string {
	item := r.DataMap()
	if item == nil {
		return nil
	}
	out := make(map[string]string)
	if v := str(item["id"]); v != "" {
		out["id"] = v
	}
	if v := str(item["email"]); v != "" {
		out["email"] = v
	}
	if name := firstName(item); name != "" {
		out["name"] = name
	}
	if v := str(item["title"]); v != "" {
		out["title"] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func firstName(v any) string {
	item, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	if first, ok := item["first_name"].(string); ok {
		return strings.TrimSpace(first + " " + str(item["last_name"]))
	}
	for _, k := range []string{"name", "title", "label", "subject"} {
		if s := str(item[k]); s != "" {
			return s
		}
	}
	return str(item["id"])
}

func str(v any) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(stringify(v))
}
