package mission

import (
	"fmt"
	"strings"
)

// Resolved-entity keys form a closed set so that prerequisite and healing
// logic stays exhaustively testable. The one dynamic pattern is
// ToolResultKey.
const (
	EntityLastID     = "last_id"
	EntityContactID  = "contact_id"
	EntityProjectID  = "project_id"
	EntityDealID     = "deal_id"
	EntityTaskID     = "task_id"
	EntityEmail      = "contact_email"
	EntityThreadID   = "thread_id"
	EntityLastName   = "last_name"
	EntityEntityName = "last_entity_name"
)

// ToolResultKey names the per-tool id slot, e.g. "db_create_deal_result_id".
func ToolResultKey(tool string) string {
	return tool + "_result_id"
}

// ExtractEntities pulls ids, emails and names out of a successful result.
// Array payloads contribute their first element only. The returned map uses
// only keys from the closed set above.
func ExtractEntities(r Result) map[string]string {
	if !r.Success {
		return nil
	}
	item := r.DataMap()
	if item == nil {
		return nil
	}

	updates := make(map[string]string)
	put := func(key string, v any) {
		if v == nil {
			return
		}
		s := strings.TrimSpace(stringify(v))
		if s != "" {
			updates[key] = s
		}
	}

	if id, ok := item["id"]; ok {
		put(EntityLastID, id)
		put(ToolResultKey(r.Tool), id)
	}
	if v, ok := item["contact_id"]; ok {
		put(EntityContactID, v)
	}
	if v, ok := item["project_id"]; ok {
		put(EntityProjectID, v)
	}
	if v, ok := item["deal_id"]; ok {
		put(EntityDealID, v)
	}
	if v, ok := item["task_id"]; ok {
		put(EntityTaskID, v)
	}
	if v, ok := item["email"]; ok {
		put(EntityEmail, v)
	}
	if v, ok := item["thread_id"]; ok {
		put(EntityThreadID, v)
	}

	first, _ := item["first_name"].(string)
	last, _ := item["last_name"].(string)
	if full := strings.TrimSpace(first + " " + last); full != "" {
		updates[EntityLastName] = full
	}
	if v, ok := item["name"]; ok {
		put(EntityEntityName, v)
	}

	if len(updates) == 0 {
		return nil
	}
	return updates
}

// stringify renders scalar JSON values without the float artifacts of
// fmt.Sprintf("%v") on whole numbers (9 instead of 9.000000).
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
