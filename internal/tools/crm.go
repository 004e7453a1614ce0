// Package tools implements the capability handlers behind the catalog:
// CRM datastore records, mailbox operations, web retrieval, workspace files
// and oracle-backed drafting.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"crmpilot/internal/tool"
)

// Datastore talks to the CRM backend over its JSON REST API.
type Datastore struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewDatastore(baseURL, token string, timeout time.Duration) *Datastore {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Datastore{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (d *Datastore) do(ctx context.Context, method, path string, query url.Values, body any) (any, error) {
	u := d.baseURL + path
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
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("datastore %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("datastore read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, tool.NonRetryable(fmt.Errorf("datastore %s %s: %d %s", method, path, resp.StatusCode, trim(data)))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, tool.NonRetryable(fmt.Errorf("datastore %s %s: %d %s", method, path, resp.StatusCode, trim(data)))
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("datastore %s %s: %d %s", method, path, resp.StatusCode, trim(data))
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("datastore decode response: %w", err)
	}
	return decoded, nil
}

func trim(data []byte) string {
	s := string(bytes.TrimSpace(data))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// RegisterCRM wires the db_* capabilities to the datastore.
func RegisterCRM(r *tool.Runner, d *Datastore) error {
	handlers := map[string]tool.Handler{
		"db_search_contacts":     d.searchContacts,
		"db_get_all_contacts":    d.allContacts,
		"db_create_contact":      d.createContact,
		"db_update_contact":      d.updateContact,
		"db_delete_contact":      d.deleteContact,
		"db_add_contact_comment": d.addContactComment,
		"db_fetch_projects":      d.fetchProjects,
		"db_create_project":      d.createProject,
		"db_fetch_deals":         d.fetchDeals,
		"db_create_deal":         d.createDeal,
		"db_fetch_tasks":         d.fetchTasks,
		"db_create_task":         d.createTask,
	}
	for name, h := range handlers {
		if err := r.Register(name, h); err != nil {
			return err
		}
	}
	return nil
}

func (d *Datastore) searchContacts(ctx context.Context, args map[string]any) (any, error) {
	q, err := tool.StringArg(args, "query")
	if err != nil {
		return nil, err
	}
	query := url.Values{"q": {q}}
	if limit := tool.OptionalIntArg(args, "limit", 5); limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	return d.do(ctx, http.MethodGet, "/contacts/search", query, nil)
}

func (d *Datastore) allContacts(ctx context.Context, args map[string]any) (any, error) {
	query := url.Values{}
	if limit := tool.OptionalIntArg(args, "limit", 50); limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	return d.do(ctx, http.MethodGet, "/contacts", query, nil)
}

func (d *Datastore) createContact(ctx context.Context, args map[string]any) (any, error) {
	return d.do(ctx, http.MethodPost, "/contacts", nil, args)
}

func (d *Datastore) updateContact(ctx context.Context, args map[string]any) (any, error) {
	id, err := tool.StringArg(args, "contact_id")
	if err != nil {
		return nil, err
	}
	fields := make(map[string]any, len(args))
	for k, v := range args {
		if k != "contact_id" {
			fields[k] = v
		}
	}
	return d.do(ctx, http.MethodPatch, "/contacts/"+url.PathEscape(id), nil, fields)
}

func (d *Datastore) deleteContact(ctx context.Context, args map[string]any) (any, error) {
	id, err := tool.StringArg(args, "contact_id")
	if err != nil {
		return nil, err
	}
	return d.do(ctx, http.MethodDelete, "/contacts/"+url.PathEscape(id), nil, nil)
}

func (d *Datastore) addContactComment(ctx context.Context, args map[string]any) (any, error) {
	id, err := tool.StringArg(args, "contact_id")
	if err != nil {
		return nil, err
	}
	comment, err := tool.StringArg(args, "comment")
	if err != nil {
		return nil, err
	}
	return d.do(ctx, http.MethodPost, "/contacts/"+url.PathEscape(id)+"/comments", nil, map[string]any{"comment": comment})
}

func (d *Datastore) fetchProjects(ctx context.Context, args map[string]any) (any, error) {
	query := url.Values{}
	if q := tool.OptionalStringArg(args, "query"); q != "" {
		query.Set("q", q)
	}
	if id := tool.OptionalStringArg(args, "contact_id"); id != "" {
		query.Set("contact_id", id)
	}
	return d.do(ctx, http.MethodGet, "/projects", query, nil)
}

func (d *Datastore) createProject(ctx context.Context, args map[string]any) (any, error) {
	return d.do(ctx, http.MethodPost, "/projects", nil, args)
}

func (d *Datastore) fetchDeals(ctx context.Context, args map[string]any) (any, error) {
	query := url.Values{}
	if q := tool.OptionalStringArg(args, "query"); q != "" {
		query.Set("q", q)
	}
	if id := tool.OptionalStringArg(args, "contact_id"); id != "" {
		query.Set("contact_id", id)
	}
	if stage := tool.OptionalStringArg(args, "stage"); stage != "" {
		query.Set("stage", stage)
	}
	return d.do(ctx, http.MethodGet, "/deals", query, nil)
}

func (d *Datastore) createDeal(ctx context.Context, args map[string]any) (any, error) {
	return d.do(ctx, http.MethodPost, "/deals", nil, args)
}

func (d *Datastore) fetchTasks(ctx context.Context, args map[string]any) (any, error) {
	query := url.Values{}
	if id := tool.OptionalStringArg(args, "contact_id"); id != "" {
		query.Set("contact_id", id)
	}
	return d.do(ctx, http.MethodGet, "/tasks", query, nil)
}

func (d *Datastore) createTask(ctx context.Context, args map[string]any) (any, error) {
	return d.do(ctx, http.MethodPost, "/tasks", nil, args)
}
