package preparer

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"crmpilot/internal/mission"
)

const freeTextCap = 120

// keyFields are carried through compression verbatim; they are what the
// healer needs to fill missing arguments.
var keyFields = map[string]bool{
	"id":         true,
	"contact_id": true,
	"project_id": true,
	"deal_id":    true,
	"task_id":    true,
	"thread_id":  true,
	"email":      true,
	"first_name": true,
	"last_name":  true,
	"name":       true,
	"title":      true,
	"status":     true,
	"stage":      true,
}

// compressResults renders mission results for the healer prompt. Identifier
// fields survive intact; free text is capped so one verbose page scrape
// cannot crowd out the data that matters.
func compressResults(results []mission.Result) string {
	var sb strings.Builder
	for _, r := range results {
		sb.WriteString("- ")
		sb.WriteString(r.Tool)
		if !r.Success {
			sb.WriteString(" FAILED: ")
			sb.WriteString(clip(r.Error))
			sb.WriteString("\n")
			continue
		}
		sb.WriteString(" OK")
		if m := r.DataMap(); len(m) > 0 {
			data, _ := json.Marshal(compressMap(m))
			sb.WriteString(" ")
			sb.Write(data)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func compressMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case string:
			if keyFields[k] {
				out[k] = t
			} else {
				out[k] = clip(t)
			}
		case map[string]any, []any:
			// Nested structures rarely hold argument material; summarize.
			data, _ := json.Marshal(t)
			out[k] = clip(string(data))
		default:
			out[k] = v
		}
	}
	return out
}

func clip(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= freeTextCap {
		return s
	}
	// Back up to a rune boundary so the cut never leaves a mangled
	// multi-byte character in the prompt.
	cut := freeTextCap
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
