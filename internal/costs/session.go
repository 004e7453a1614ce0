package costs

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Call records one oracle invocation.
type Call struct {
	ID           string        `json:"id"`
	Timestamp    time.Time     `json:"timestamp"`
	Stage        string        `json:"stage"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	CostUSD      float64       `json:"cost_usd"`
	Latency      time.Duration `json:"latency_ns"`
}

// Summary is the aggregate of a finished session.
type Summary struct {
	SessionID    string    `json:"session_id"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Calls        int       `json:"calls"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalUSD     float64   `json:"total_usd"`

	byStage map[string]stageTotal
}

type stageTotal struct {
	calls  int
	tokens int
	usd    float64
}

// Session accumulates oracle call costs for one mission. It implements the
// oracle call recorder and is safe for concurrent use.
type Session struct {
	mu    sync.Mutex
	id    string
	start time.Time
	calls []Call
}

// NewSession starts an empty session.
func NewSession() *Session {
	return &Session{
		id:    uuid.NewString()[:8],
		start: time.Now(),
	}
}

// RecordCall estimates tokens from the prompt and output text and appends
// one call record.
func (s *Session) RecordCall(stage, provider, model, prompt, output string, latency time.Duration) {
	in := EstimateTokens(prompt)
	out := EstimateTokens(output)
	call := Call{
		ID:           uuid.NewString()[:8],
		Timestamp:    time.Now(),
		Stage:        stage,
		Provider:     provider,
		Model:        model,
		InputTokens:  in,
		OutputTokens: out,
		CostUSD:      Cost(provider, model, in, out),
		Latency:      latency,
	}
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

// End closes the session and returns its summary.
func (s *Session) End() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		SessionID: s.id,
		StartTime: s.start,
		EndTime:   time.Now(),
		Calls:     len(s.calls),
		byStage:   make(map[string]stageTotal),
	}
	for _, c := range s.calls {
		sum.InputTokens += c.InputTokens
		sum.OutputTokens += c.OutputTokens
		sum.TotalUSD += c.CostUSD
		st := sum.byStage[c.Stage]
		st.calls++
		st.tokens += c.InputTokens + c.OutputTokens
		st.usd += c.CostUSD
		sum.byStage[c.Stage] = st
	}
	return sum
}

// Report renders a human-readable breakdown of the session.
func (s Summary) Report() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session %s: %d oracle call(s), %d tokens in, %d tokens out, %s total\n",
		s.SessionID, s.Calls, s.InputTokens, s.OutputTokens, FormatUSD(s.TotalUSD))

	stages := make([]string, 0, len(s.byStage))
	for name := range s.byStage {
		stages = append(stages, name)
	}
	sort.Strings(stages)
	for _, name := range stages {
		st := s.byStage[name]
		fmt.Fprintf(&sb, "  %-14s %d call(s), %d tokens, %s\n", name, st.calls, st.tokens, FormatUSD(st.usd))
	}
	return sb.String()
}
