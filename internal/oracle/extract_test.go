package oracle

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	testCases := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{
			name: "bare object",
			raw:  `{"intent":"TASK"}`,
			want: `{"intent":"TASK"}`,
		},
		{
			name: "fenced with language tag",
			raw:  "```json\n{\"intent\":\"TASK\"}\n```",
			want: `{"intent":"TASK"}`,
		},
		{
			name: "prose around object",
			raw:  "Sure, here is the plan:\n{\"plan\":[]}\nLet me know!",
			want: `{"plan":[]}`,
		},
		{
			name: "brace inside string value",
			raw:  `{"note":"use {curly} braces"}`,
			want: `{"note":"use {curly} braces"}`,
		},
		{
			name: "bare newline inside string is escaped",
			raw:  "{\"body\":\"line one\nline two\"}",
			want: `{"body":"line one\nline two"}`,
		},
		{
			name:    "no object at all",
			raw:     "I could not produce a plan.",
			wantErr: true,
		},
		{
			name:    "unbalanced object",
			raw:     `{"plan":[{"tool":"db_search_contacts"`,
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractJSON(tc.raw)
			if tc.wantErr {
				require.Error(t, err, "got %q", got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.True(t, json.Valid([]byte(got)), "result is not valid JSON: %q", got)
		})
	}
}

func TestExtractJSONEscapesTabs(t *testing.T) {
	got, err := ExtractJSON("{\"a\":\"x\ty\"}")
	require.NoError(t, err)

	var parsed map[string]string
	require.NoError(t, json.Unmarshal([]byte(got), &parsed))
	assert.Equal(t, "x\ty", parsed["a"], "round trip lost the tab")
}
