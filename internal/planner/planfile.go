package planner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"crmpilot/internal/mission"
)

// NamedPlan is a canned plan loaded from a local JSON file, bypassing the
// oracle. Useful for rehearsed workflows and debugging.
type NamedPlan struct {
	Name  string             `json:"name"`
	Goal  string             `json:"goal"`
	Steps []mission.PlanStep `json:"steps"`
}

/*
LoadPlanFile loads one or many canned plans from a JSON file and always
returns a slice. Supported shapes:

 1. Multi-plan (preferred):
    {"plans": [{"name": "alpha", "goal": "...", "steps": [...]}, ...]}

 2. Bare array of plans:
    [{"name": "alpha", "steps": [...]}, ...]

 3. Single plan:
    {"name": "alpha", "steps": [...]}

Unnamed plans are auto-named "manual:<base>#<index>".
*/
func LoadPlanFile(path string) ([]NamedPlan, error) {
	clean := filepath.Clean(path)
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("plan file not found: %s", clean)
	}
	base := filepath.Base(clean)

	var obj struct {
		Plans []NamedPlan `json:"plans"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && len(obj.Plans) > 0 {
		return finishPlans(obj.Plans, base)
	}

	var arr []NamedPlan
	if err := json.Unmarshal(data, &arr); err == nil && len(arr) > 0 && arr[0].Steps != nil {
		return finishPlans(arr, base)
	}

	var one NamedPlan
	if err := json.Unmarshal(data, &one); err == nil && len(one.Steps) > 0 {
		return finishPlans([]NamedPlan{one}, base)
	}

	return nil, fmt.Errorf("unrecognized plan format in %s", clean)
}

func finishPlans(plans []NamedPlan, base string) ([]NamedPlan, error) {
	for i := range plans {
		if strings.TrimSpace(plans[i].Name) == "" {
			plans[i].Name = fmt.Sprintf("manual:%s#%d", base, i+1)
		}
		if len(plans[i].Steps) == 0 {
			return nil, fmt.Errorf("plan %q has no steps", plans[i].Name)
		}
		for j := range plans[i].Steps {
			if plans[i].Steps[j].Tool == "" {
				return nil, fmt.Errorf("plan %q step %d has no tool name", plans[i].Name, j+1)
			}
			if plans[i].Steps[j].Args == nil {
				plans[i].Steps[j].Args = map[string]any{}
			}
		}
	}
	return plans, nil
}

// SelectPlansByNames returns plans matching the given names in order
// (case-insensitive) plus the names that matched nothing. Empty names
// selects everything.
func SelectPlansByNames(plans []NamedPlan, names []string) ([]NamedPlan, []string) {
	if len(names) == 0 {
		return plans, nil
	}
	var selected []NamedPlan
	var missing []string
	for _, want := range names {
		w := strings.TrimSpace(want)
		if w == "" {
			continue
		}
		found := false
		for i := range plans {
			if strings.EqualFold(plans[i].Name, w) {
				selected = append(selected, plans[i])
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, want)
		}
	}
	return selected, missing
}
