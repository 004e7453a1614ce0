package mission

import (
	"reflect"
	"testing"
)

func TestExtractEntities(t *testing.T) {
	testCases := []struct {
		name     string
		result   Result
		expected map[string]string
	}{
		{
			name: "Object with generic id",
			result: Result{
				Tool:    "db_create_deal",
				Success: true,
				Data:    map[string]any{"id": "d-77", "name": "Website redesign"},
			},
			expected: map[string]string{
				"last_id":                  "d-77",
				"db_create_deal_result_id": "d-77",
				"last_entity_name":         "Website redesign",
			},
		},
		{
			name: "Numeric id is stringified without float artifacts",
			result: Result{
				Tool:    "db_create_task",
				Success: true,
				Data:    map[string]any{"id": float64(42)},
			},
			expected: map[string]string{
				"last_id":                  "42",
				"db_create_task_result_id": "42",
			},
		},
		{
			name: "Contact with semantic fields",
			result: Result{
				Tool:    "db_search_contacts",
				Success: true,
				Data: map[string]any{
					"id":         "c-1",
					"contact_id": "c-1",
					"email":      "petra@example.com",
					"first_name": "Petra",
					"last_name":  "Kovac",
				},
			},
			expected: map[string]string{
				"last_id":                      "c-1",
				"db_search_contacts_result_id": "c-1",
				"contact_id":                   "c-1",
				"contact_email":                "petra@example.com",
				"last_name":                    "Petra Kovac",
			},
		},
		{
			name: "Array result uses first element only",
			result: Result{
				Tool:    "db_search_contacts",
				Success: true,
				Data: []any{
					map[string]any{"id": "c-1", "email": "a@example.com"},
					map[string]any{"id": "c-2", "email": "b@example.com"},
				},
			},
			expected: map[string]string{
				"last_id":                      "c-1",
				"db_search_contacts_result_id": "c-1",
				"contact_email":                "a@example.com",
			},
		},
		{
			name:     "Failed result contributes nothing",
			result:   Result{Tool: "db_create_deal", Success: false, Error: "boom", Data: map[string]any{"id": "x"}},
			expected: nil,
		},
		{
			name:     "Success without data contributes nothing",
			result:   Result{Tool: "mail_send_email", Success: true},
			expected: nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractEntities(tc.result)
			if !reflect.DeepEqual(got, tc.expected) {
				t.Errorf("mismatched entities:\n got:  %v\n want: %v", got, tc.expected)
			}
		})
	}
}

func TestStateRecordTracksEntitiesAndCompletion(t *testing.T) {
	s := NewState("create a deal for Petra")

	s.Record(Result{
		Tool:    "db_search_contacts",
		Success: true,
		Data:    map[string]any{"id": "c-9", "email": "petra@example.com"},
	})
	s.Record(Result{Tool: "db_create_deal", Success: false, Error: "missing contact_id", Retryable: true})

	if got := s.ResolvedEntities[EntityLastID]; got != "c-9" {
		t.Errorf("last_id = %q, want c-9", got)
	}
	if !s.CompletedTools["db_search_contacts"] {
		t.Error("db_search_contacts should be in completed tools")
	}
	if s.CompletedTools["db_create_deal"] {
		t.Error("failed tool must not be marked completed")
	}
	if s.ToolCallCounts["db_create_deal"] != 1 {
		t.Errorf("tool call count = %d, want 1", s.ToolCallCounts["db_create_deal"])
	}
}

func TestBeginCorrectionResetsPerTool(t *testing.T) {
	s := NewState("goal")

	if n := s.BeginCorrection("db_create_deal"); n != 1 {
		t.Fatalf("first correction attempt = %d, want 1", n)
	}
	if n := s.BeginCorrection("db_create_deal"); n != 2 {
		t.Fatalf("second correction attempt = %d, want 2", n)
	}
	// A different failing tool starts over.
	if n := s.BeginCorrection("mail_send_email"); n != 1 {
		t.Fatalf("new tool correction attempt = %d, want 1", n)
	}
	if got := s.CorrectionsFor("db_create_deal"); got != 0 {
		t.Fatalf("CorrectionsFor(db_create_deal) = %d after switch, want 0", got)
	}
}

func TestAlreadySucceeded(t *testing.T) {
	s := NewState("goal")
	s.Record(Result{
		Tool:         "db_create_contact",
		Success:      true,
		OriginalArgs: map[string]any{"first_name": "Petra"},
		Data:         map[string]any{"id": "c-1"},
	})

	if !s.AlreadySucceeded(PlanStep{Tool: "db_create_contact", Args: map[string]any{"first_name": "Petra"}}) {
		t.Error("identical step should be recognized as already done")
	}
	if s.AlreadySucceeded(PlanStep{Tool: "db_create_contact", Args: map[string]any{"first_name": "Jan"}}) {
		t.Error("different args must not match")
	}
}
