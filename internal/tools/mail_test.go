package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crmpilot/internal/tool"
)

func TestMailboxMissingTokenIsExpired(t *testing.T) {
	m := NewMailbox("http://unused", "", time.Second)
	_, err := m.fetchList(context.Background(), map[string]any{"query": "is:unread"})
	if !errors.Is(err, ErrMailTokenExpired) {
		t.Fatalf("err = %v, want ErrMailTokenExpired", err)
	}
	if tool.IsRetryable(err) {
		t.Error("expired token must be non-retryable")
	}
}

func TestMailboxUnauthorizedMapsToExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := NewMailbox(srv.URL, "stale-token", time.Second)
	_, err := m.fetchList(context.Background(), map[string]any{"query": "is:unread"})
	if !errors.Is(err, ErrMailTokenExpired) {
		t.Fatalf("err = %v, want ErrMailTokenExpired", err)
	}
}

func TestMailboxSendEmail(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/messages/send" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]any{"id": "m-1", "status": "sent"})
	}))
	defer srv.Close()

	m := NewMailbox(srv.URL, "tok", time.Second)
	out, err := m.sendEmail(context.Background(), map[string]any{
		"recipient": "ana@example.com",
		"subject":   "Offer",
		"body":      "Hello Ana",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if body["recipient"] != "ana@example.com" {
		t.Errorf("posted body = %v", body)
	}
	if res := out.(map[string]any); res["status"] != "sent" {
		t.Errorf("out = %v", out)
	}
}

func TestMailboxReplyTargetsThread(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/threads/t-42/drafts" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "d-1"})
	}))
	defer srv.Close()

	m := NewMailbox(srv.URL, "tok", time.Second)
	if _, err := m.reply(context.Background(), map[string]any{"thread_id": "t-42", "body": "Thanks!"}); err != nil {
		t.Fatalf("reply: %v", err)
	}
}
