package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"crmpilot/internal/tool"
)

// ErrMailTokenExpired is the sentinel for an expired mailbox credential.
// The escalator matches on its text to produce a reconnect instruction
// instead of a generic failure message.
var ErrMailTokenExpired = errors.New("MAIL_TOKEN_EXPIRED")

// Mailbox talks to the mail gateway. Send and reply are the only writes the
// system performs outside the CRM datastore.
type Mailbox struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewMailbox(baseURL, token string, timeout time.Duration) *Mailbox {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Mailbox{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// RegisterMail wires the mail_* capabilities to the mailbox.
func RegisterMail(r *tool.Runner, m *Mailbox) error {
	handlers := map[string]tool.Handler{
		"mail_fetch_list": m.fetchList,
		"mail_send_email": m.sendEmail,
		"mail_reply":      m.reply,
	}
	for name, h := range handlers {
		if err := r.Register(name, h); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mailbox) do(ctx context.Context, method, path string, query url.Values, body any) (any, error) {
	if m.token == "" {
		return nil, tool.NonRetryable(ErrMailTokenExpired)
	}

	u := m.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, tool.NonRetryable(fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, tool.NonRetryable(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+m.token)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mail %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("mail read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		// The gateway reports expired OAuth credentials as 401.
		return nil, tool.NonRetryable(ErrMailTokenExpired)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, tool.NonRetryable(fmt.Errorf("mail %s %s: %d %s", method, path, resp.StatusCode, trim(data)))
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("mail %s %s: %d %s", method, path, resp.StatusCode, trim(data))
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("mail decode response: %w", err)
	}
	return decoded, nil
}

func (m *Mailbox) fetchList(ctx context.Context, args map[string]any) (any, error) {
	q, err := tool.StringArg(args, "query")
	if err != nil {
		return nil, err
	}
	query := url.Values{"q": {q}}
	if n := tool.OptionalIntArg(args, "max_results", 5); n > 0 {
		query.Set("max_results", strconv.Itoa(n))
	}
	return m.do(ctx, http.MethodGet, "/messages", query, nil)
}

func (m *Mailbox) sendEmail(ctx context.Context, args map[string]any) (any, error) {
	recipient, err := tool.StringArg(args, "recipient")
	if err != nil {
		return nil, err
	}
	subject, err := tool.StringArg(args, "subject")
	if err != nil {
		return nil, err
	}
	body, err := tool.StringArg(args, "body")
	if err != nil {
		return nil, err
	}
	return m.do(ctx, http.MethodPost, "/messages/send", nil, map[string]any{
		"recipient": recipient,
		"subject":   subject,
		"body":      body,
	})
}

// reply creates a draft on the thread, it never sends directly.
func (m *Mailbox) reply(ctx context.Context, args map[string]any) (any, error) {
	threadID, err := tool.StringArg(args, "thread_id")
	if err != nil {
		return nil, err
	}
	body, err := tool.StringArg(args, "body")
	if err != nil {
		return nil, err
	}
	return m.do(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/drafts", nil, map[string]any{
		"body": body,
	})
}
