package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crmpilot/internal/tool"
)

func TestDatastoreSearchContacts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/contacts/search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "ana" {
			t.Errorf("q = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("auth = %q", got)
		}
		json.NewEncoder(w).Encode([]map[string]any{{"id": "c-1", "email": "ana@example.com"}})
	}))
	defer srv.Close()

	d := NewDatastore(srv.URL, "secret", time.Second)
	out, err := d.searchContacts(context.Background(), map[string]any{"query": "ana"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	rows, ok := out.([]any)
	if !ok || len(rows) != 1 {
		t.Fatalf("out = %#v", out)
	}
}

func TestDatastoreCreateContactPostsBody(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/contacts" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": "c-9", "first_name": body["first_name"]})
	}))
	defer srv.Close()

	d := NewDatastore(srv.URL, "", time.Second)
	out, err := d.createContact(context.Background(), map[string]any{"first_name": "Petra", "email": "petra@example.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if body["email"] != "petra@example.com" {
		t.Errorf("posted body = %v", body)
	}
	if m := out.(map[string]any); m["id"] != "c-9" {
		t.Errorf("out = %v", out)
	}
}

func TestDatastoreUpdateStripsIDFromBody(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/contacts/c-1" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]any{"id": "c-1"})
	}))
	defer srv.Close()

	d := NewDatastore(srv.URL, "", time.Second)
	_, err := d.updateContact(context.Background(), map[string]any{"contact_id": "c-1", "phone": "123"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, present := body["contact_id"]; present {
		t.Errorf("contact_id leaked into body: %v", body)
	}
	if body["phone"] != "123" {
		t.Errorf("body = %v", body)
	}
}

func TestDatastoreErrorClassification(t *testing.T) {
	testCases := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, false},
		{"not found", http.StatusNotFound, false},
		{"server error", http.StatusBadGateway, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			d := NewDatastore(srv.URL, "", time.Second)
			_, err := d.fetchDeals(context.Background(), map[string]any{})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := tool.IsRetryable(err); got != tc.retryable {
				t.Errorf("retryable = %v, want %v (err %v)", got, tc.retryable, err)
			}
		})
	}
}

func TestDatastoreEmptyBodyIsNilData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDatastore(srv.URL, "", time.Second)
	out, err := d.deleteContact(context.Background(), map[string]any{"contact_id": "c-1"})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if out != nil {
		t.Errorf("out = %#v, want nil", out)
	}
}
