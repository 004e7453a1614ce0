package tool

import (
	"fmt"
	"strconv"
	"strings"
)

// Typed accessors for plan-step arguments. Plans arrive from JSON, so
// numbers are float64 and everything else needs a checked assertion.

func StringArg(args map[string]any, key string) (string, error) {
	value, ok := args[key]
	if !ok {
		return "", NonRetryable(fmt.Errorf("args missing required key %q", key))
	}
	s, ok := value.(string)
	if !ok {
		return "", NonRetryable(fmt.Errorf("args key %q has invalid type %T (expected string)", key, value))
	}
	return s, nil
}

func OptionalStringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func IntArg(args map[string]any, key string) (int, error) {
	v, ok := args[key]
	if !ok {
		return 0, NonRetryable(fmt.Errorf("args missing required key %q", key))
	}
	switch t := v.(type) {
	case float64:
		return int(t), nil
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, NonRetryable(fmt.Errorf("args key %q is not an integer: %v", key, err))
		}
		return i, nil
	default:
		return 0, NonRetryable(fmt.Errorf("args key %q has unsupported type %T", key, v))
	}
}

func OptionalIntArg(args map[string]any, key string, fallback int) int {
	if _, ok := args[key]; !ok {
		return fallback
	}
	i, err := IntArg(args, key)
	if err != nil {
		return fallback
	}
	return i
}

func BoolArg(args map[string]any, key string, fallback bool) bool {
	v, ok := args[key]
	if !ok {
		return fallback
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return fallback
		}
		return b
	default:
		return fallback
	}
}
