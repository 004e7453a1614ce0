package oracle

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrNoJSON is returned when a response contains no JSON object at all.
var ErrNoJSON = errors.New("no JSON object in oracle response")

// ExtractJSON recovers the first balanced {...} span from raw oracle output.
// Models fence JSON in markdown, surround it with prose and leave bare
// newlines inside string values; all of that is repaired here so callers can
// hand the result straight to encoding/json.
func ExtractJSON(raw string) (string, error) {
	s := stripFences(raw)

	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", ErrNoJSON
	}
	end, ok := matchBrace(s, start)
	if !ok {
		return "", fmt.Errorf("unbalanced JSON object in oracle response")
	}
	return escapeControlChars(s[start : end+1]), nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}
	return strings.TrimSpace(s)
}

// matchBrace returns the index of the brace closing the object opened at
// start. String literals and escapes are honored so braces inside values do
// not confuse the scan.
func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// escapeControlChars rewrites bare control characters that appear inside
// string literals into their \uXXXX (or short) escape forms. Control bytes
// outside strings are structural whitespace and pass through.
func escapeControlChars(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	inString := false
	escaped := false
	for _, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
				sb.WriteRune(r)
				continue
			case r == '\\':
				escaped = true
				sb.WriteRune(r)
				continue
			case r == '"':
				inString = false
				sb.WriteRune(r)
				continue
			case r < 0x20:
				switch r {
				case '\n':
					sb.WriteString(`\n`)
				case '\r':
					sb.WriteString(`\r`)
				case '\t':
					sb.WriteString(`\t`)
				default:
					sb.WriteString(fmt.Sprintf(`\u%04x`, r))
				}
				continue
			}
			sb.WriteRune(r)
			continue
		}
		if r == '"' {
			inString = true
		}
		sb.WriteRune(r)
	}
	out := sb.String()
	if !utf8.ValidString(out) {
		return s
	}
	return out
}
