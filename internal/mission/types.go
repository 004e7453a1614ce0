// Package mission holds the per-mission data model: plan steps, tool
// results, the mutable mission state and the derived execution manifest.
//
// Ownership rule: only the orchestrator loop writes State. Every other
// component receives either a snapshot (Manifest, EntitySnapshot) or returns
// a decision for the loop to apply.
package mission

// Message is one turn of the user conversation fed into the classifying and
// planning oracles.
type Message struct {
	Role    string `json:"role"` // user, assistant, system
	Content string `json:"content"`
}

// PlanStep is one proposed tool invocation. Args are untyped at this layer;
// the catalog and the tool runner reject unknown or missing fields.
type PlanStep struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// Result is the immutable record of one tool execution.
type Result struct {
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped,omitempty"`

	// Data is the structured payload on success (object or array).
	Data any `json:"data,omitempty"`

	// Error is present only on failure. Retryable decides whether the
	// self-corrector may attempt a fix.
	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`

	// OriginalArgs are the args actually sent, kept for diagnosis. After a
	// corrected retry this holds the corrected args.
	OriginalArgs map[string]any `json:"original_args,omitempty"`

	DurationMs int64 `json:"duration_ms,omitempty"`
}

// DataMap returns the payload as an object. Array payloads yield their first
// element; anything else yields nil.
func (r Result) DataMap() map[string]any {
	switch d := r.Data.(type) {
	case map[string]any:
		return d
	case []any:
		if len(d) > 0 {
			if m, ok := d[0].(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}
