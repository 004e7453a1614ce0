// Package reporter produces everything the user reads at the end of a
// mission: the final prose report, info-only answers, and the escalation
// message when the agent gives up. Internal identifiers never leak into any
// of it.
package reporter

import (
	"regexp"
	"strings"

	"crmpilot/internal/mission"
)

var (
	uuidRe      = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	longDigitRe = regexp.MustCompile(`\d{6,}`)
	tokenRe     = regexp.MustCompile(`(?i)(bearer\s+\S+|ey[A-Za-z0-9_-]{20,})`)
)

// tokenLikeKey reports result fields that must never reach a prose prompt.
func tokenLikeKey(key string) bool {
	k := strings.ToLower(key)
	if k == "id" || strings.HasSuffix(k, "_id") {
		return true
	}
	for _, marker := range []string{"token", "secret", "password", "api_key", "apikey", "authorization"} {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}

// RedactMap returns a copy of a result payload safe to show a prose oracle:
// identifier and credential fields are dropped, nested values recursively.
func RedactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if tokenLikeKey(k) {
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return RedactMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = redactValue(e)
		}
		return out
	case string:
		return tokenRe.ReplaceAllString(t, "[redacted]")
	default:
		return v
	}
}

// ScrubIdentifiers removes raw identifiers from user-facing text: every
// string value from args, plus anything shaped like a UUID, long number or
// credential. Short human words from args (names, subjects) stay readable.
func ScrubIdentifiers(text string, args map[string]any) string {
	for _, v := range args {
		s, ok := v.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" || !identifierShaped(s) {
			continue
		}
		text = strings.ReplaceAll(text, s, "[redacted]")
	}
	text = uuidRe.ReplaceAllString(text, "[redacted]")
	text = longDigitRe.ReplaceAllString(text, "[redacted]")
	text = tokenRe.ReplaceAllString(text, "[redacted]")
	return text
}

// identifierShaped reports strings that look like machine identifiers
// rather than words a user typed. Any all-digit argument counts: datastores
// hand out integer record ids of every length.
func identifierShaped(s string) bool {
	if uuidRe.MatchString(s) || longDigitRe.MatchString(s) {
		return true
	}
	if len(s) >= 3 && allDigits(s) {
		return true
	}
	if len(s) >= 16 && !strings.ContainsAny(s, " \t") {
		digits := 0
		for _, r := range s {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		return digits >= len(s)/3
	}
	return false
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// RedactedResults renders results for a prose prompt with identifiers and
// credentials stripped.
func RedactedResults(results []mission.Result) []map[string]any {
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		entry := map[string]any{
			"tool":    r.Tool,
			"success": r.Success,
		}
		if r.Skipped {
			entry["skipped"] = true
		}
		if r.Error != "" {
			entry["error"] = ScrubIdentifiers(r.Error, r.OriginalArgs)
		}
		if m := r.DataMap(); m != nil {
			entry["data"] = RedactMap(m)
		}
		out = append(out, entry)
	}
	return out
}
