package mission

import "fmt"

// State is the mutable accumulator for one mission. It is created at mission
// start, mutated only by the orchestrator loop, and discarded at the end.
// No two missions ever share a State.
type State struct {
	Goal string

	// AllResults is append-only; results are immutable once recorded.
	AllResults []Result

	// ResolvedEntities is the agent's flat memory between oracle calls:
	// ids, emails and names learned from earlier results, used to heal
	// later steps.
	ResolvedEntities map[string]string

	// CompletedTools holds tools that have succeeded at least once, for
	// prerequisite checks.
	CompletedTools map[string]bool

	Iteration int

	// CorrectionAttempts counts self-correction rounds for the tool that is
	// currently failing. Reset when a different tool fails.
	CorrectionAttempts int
	correctingTool     string

	// ToolCallCounts guards against the planner looping on one tool.
	ToolCallCounts map[string]int
}

// NewState returns an empty mission state for the given goal.
func NewState(goal string) *State {
	return &State{
		Goal:             goal,
		ResolvedEntities: make(map[string]string),
		CompletedTools:   make(map[string]bool),
		ToolCallCounts:   make(map[string]int),
	}
}

// Record appends a result and folds its entities into the resolved set.
// Entity extraction runs for every execution, success or not (failed results
// simply contribute nothing).
func (s *State) Record(r Result) {
	s.AllResults = append(s.AllResults, r)
	s.ToolCallCounts[r.Tool]++
	if r.Success && !r.Skipped {
		s.CompletedTools[r.Tool] = true
	}
	for k, v := range ExtractEntities(r) {
		s.ResolvedEntities[k] = v
	}
}

// BeginCorrection bumps the correction counter for a failing tool and
// reports the attempt number (1-based). Switching to a different tool resets
// the counter.
func (s *State) BeginCorrection(tool string) int {
	if s.correctingTool != tool {
		s.correctingTool = tool
		s.CorrectionAttempts = 0
	}
	s.CorrectionAttempts++
	return s.CorrectionAttempts
}

// CorrectionsFor returns correction attempts already spent on a tool.
func (s *State) CorrectionsFor(tool string) int {
	if s.correctingTool != tool {
		return 0
	}
	return s.CorrectionAttempts
}

// EntitySnapshot returns a copy of the resolved entities so downstream
// components cannot mutate live state.
func (s *State) EntitySnapshot() map[string]string {
	out := make(map[string]string, len(s.ResolvedEntities))
	for k, v := range s.ResolvedEntities {
		out[k] = v
	}
	return out
}

// AlreadySucceeded reports whether a step with this tool and identical args
// already succeeded, so the loop can skip planner repeats.
func (s *State) AlreadySucceeded(step PlanStep) bool {
	for _, r := range s.AllResults {
		if r.Tool == step.Tool && r.Success && !r.Skipped && sameArgs(r.OriginalArgs, step.Args) {
			return true
		}
	}
	return false
}

// SuccessResults returns the successful, non-skipped results in order.
func (s *State) SuccessResults() []Result {
	var out []Result
	for _, r := range s.AllResults {
		if r.Success && !r.Skipped {
			out = append(out, r)
		}
	}
	return out
}

func sameArgs(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || fmt.Sprintf("%v", av) != fmt.Sprintf("%v", bv) {
			return false
		}
	}
	return true
}
