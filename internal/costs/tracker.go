package costs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Totals is the on-disk aggregate across all sessions.
type Totals struct {
	Sessions     int       `json:"sessions"`
	Calls        int       `json:"calls"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalUSD     float64   `json:"total_usd"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Tracker persists running cost totals to a JSON file so spend survives
// restarts. All methods are safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	path   string
	totals Totals
}

// NewTracker loads existing totals from path. A missing file starts fresh;
// a corrupt file is an error so totals are never silently reset.
func NewTracker(path string) (*Tracker, error) {
	t := &Tracker{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("read cost totals: %w", err)
	}
	if err := json.Unmarshal(data, &t.totals); err != nil {
		return nil, fmt.Errorf("parse cost totals %s: %w", path, err)
	}
	return t, nil
}

// Add folds a finished session into the totals and saves them.
func (t *Tracker) Add(s Summary) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totals.Sessions++
	t.totals.Calls += s.Calls
	t.totals.InputTokens += s.InputTokens
	t.totals.OutputTokens += s.OutputTokens
	t.totals.TotalUSD += s.TotalUSD
	t.totals.UpdatedAt = time.Now()
	return t.save()
}

// Totals returns a copy of the current aggregate.
func (t *Tracker) Totals() Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totals
}

func (t *Tracker) save() error {
	if t.path == "" {
		return nil
	}
	if dir := filepath.Dir(t.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cost totals dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(t.totals, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cost totals: %w", err)
	}
	if err := os.WriteFile(t.path, data, 0o644); err != nil {
		return fmt.Errorf("write cost totals: %w", err)
	}
	return nil
}
