package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	"crmpilot/internal/catalog"
	"crmpilot/internal/mission"
)

func testRegistry(t *testing.T) *catalog.Registry {
	t.Helper()
	reg, err := catalog.Load()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return reg
}

func TestRunnerDispatch(t *testing.T) {
	reg := testRegistry(t)
	r := NewRunner(reg, nil)
	err := r.Register("db_search_contacts", func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"id": "c-1", "email": "ana@example.com"}, nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	res := r.Run(context.Background(), mission.PlanStep{
		Tool: "db_search_contacts",
		Args: map[string]any{"query": "ana"},
	})
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	data := res.DataMap()
	if data["id"] != "c-1" {
		t.Errorf("data = %v", data)
	}
	if res.Tool != "db_search_contacts" {
		t.Errorf("tool = %q", res.Tool)
	}
}

func TestRunnerUnknownTool(t *testing.T) {
	r := NewRunner(testRegistry(t), nil)
	res := r.Run(context.Background(), mission.PlanStep{Tool: "db_explode"})
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Retryable {
		t.Error("unknown tool must not be retryable")
	}
}

func TestRunnerValidatesArgsBeforeCalling(t *testing.T) {
	r := NewRunner(testRegistry(t), nil)
	called := false
	if err := r.Register("db_create_contact", func(ctx context.Context, args map[string]any) (any, error) {
		called = true
		return nil, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	res := r.Run(context.Background(), mission.PlanStep{
		Tool: "db_create_contact",
		Args: map[string]any{}, // missing required name
	})
	if res.Success {
		t.Fatal("expected validation failure")
	}
	if called {
		t.Error("handler must not run when args are invalid")
	}
}

func TestRunnerRecoversPanic(t *testing.T) {
	r := NewRunner(testRegistry(t), nil)
	if err := r.Register("db_fetch_deals", func(ctx context.Context, args map[string]any) (any, error) {
		panic("boom")
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	res := r.Run(context.Background(), mission.PlanStep{Tool: "db_fetch_deals", Args: map[string]any{}})
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error == "" {
		t.Error("panic must surface as an error message")
	}
}

func TestRunnerTimeout(t *testing.T) {
	r := NewRunner(testRegistry(t), nil)
	if err := r.Register("db_fetch_tasks", func(ctx context.Context, args map[string]any) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return nil, nil
		}
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	r.SetTimeout("db_fetch_tasks", 20*time.Millisecond)

	res := r.Run(context.Background(), mission.PlanStep{Tool: "db_fetch_tasks", Args: map[string]any{}})
	if res.Success {
		t.Fatal("expected timeout failure")
	}
	if !res.Retryable {
		t.Error("timeouts should be retryable")
	}
}

func TestRunnerRegisterRejectsUncataloged(t *testing.T) {
	r := NewRunner(testRegistry(t), nil)
	if err := r.Register("made_up_tool", nil); err == nil {
		t.Fatal("expected error for uncataloged tool")
	}
}

func TestIsRetryable(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"marked non-retryable", NonRetryable(errors.New("bad args")), false},
		{"auth failure", errors.New("datastore: 401 unauthorized"), false},
		{"expired mail token", errors.New("MAIL_TOKEN_EXPIRED"), false},
		{"server error", errors.New("datastore: 502 bad gateway"), true},
		{"timeout", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"generic", errors.New("connection reset by peer"), true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestArgAccessors(t *testing.T) {
	args := map[string]any{
		"name":  "Ana",
		"limit": float64(25),
		"page":  "3",
		"flag":  true,
	}

	if s, err := StringArg(args, "name"); err != nil || s != "Ana" {
		t.Errorf("StringArg = %q, %v", s, err)
	}
	if _, err := StringArg(args, "missing"); err == nil {
		t.Error("expected error for missing key")
	} else if IsRetryable(err) {
		t.Error("missing arg error must be non-retryable")
	}
	if n, err := IntArg(args, "limit"); err != nil || n != 25 {
		t.Errorf("IntArg(limit) = %d, %v", n, err)
	}
	if n, err := IntArg(args, "page"); err != nil || n != 3 {
		t.Errorf("IntArg(page) = %d, %v", n, err)
	}
	if n := OptionalIntArg(args, "absent", 7); n != 7 {
		t.Errorf("OptionalIntArg fallback = %d", n)
	}
	if !BoolArg(args, "flag", false) {
		t.Error("BoolArg(flag) = false")
	}
}
