package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crmpilot/internal/mission"
)

// Mission lifecycle states.
const (
	MissionQueued    = "QUEUED"
	MissionRunning   = "RUNNING"
	MissionCompleted = "COMPLETED"
	MissionCancelled = "CANCELLED"
)

// Mission is one queued request. Steps, when set, is a canned plan that
// runs as-is instead of going through the gatekeeper and planner.
type Mission struct {
	ID       string
	Goal     string
	Messages []mission.Message
	Steps    []mission.PlanStep
	Queued   time.Time
}

// MissionResult is pushed to the results channel when a mission finishes,
// whatever the outcome.
type MissionResult struct {
	ID      string
	Goal    string
	Status  string
	Outcome Outcome
	Elapsed time.Duration
}

// Supervisor serializes missions: one runs at a time, the rest wait in the
// queue. Cancellation reaches both the running mission and queued ones.
type Supervisor struct {
	pipeline *Pipeline
	queue    chan *Mission
	results  chan MissionResult
	log      *zap.Logger

	mu        sync.Mutex
	curID     string
	curCancel context.CancelFunc
	queued    map[string]bool
	cancelled map[string]bool
}

func NewSupervisor(p *Pipeline, log *zap.Logger) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{
		pipeline:  p,
		queue:     make(chan *Mission, 100),
		results:   make(chan MissionResult, 100),
		log:       log,
		queued:    make(map[string]bool),
		cancelled: make(map[string]bool),
	}
}

// Start launches the worker goroutine. It drains the queue until ctx ends.
func (s *Supervisor) Start(ctx context.Context) {
	go func() {
		s.log.Info("supervisor started")
		for {
			select {
			case <-ctx.Done():
				s.log.Info("supervisor stopped")
				return
			case m := <-s.queue:
				s.runMission(ctx, m)
			}
		}
	}()
}

// Submit queues a mission and returns its id immediately.
func (s *Supervisor) Submit(goal string, messages []mission.Message) string {
	return s.enqueue(&Mission{Goal: goal, Messages: messages})
}

// SubmitPlan queues a canned plan for execution under the given name.
func (s *Supervisor) SubmitPlan(name string, steps []mission.PlanStep) string {
	return s.enqueue(&Mission{Goal: name, Steps: steps})
}

func (s *Supervisor) enqueue(m *Mission) string {
	m.ID = uuid.NewString()[:8]
	m.Queued = time.Now()

	s.mu.Lock()
	s.queued[strings.ToLower(m.ID)] = true
	s.mu.Unlock()

	s.queue <- m
	s.log.Info("mission queued", zap.String("id", m.ID), zap.String("goal", m.Goal))
	return m.ID
}

// Results is the channel mission outcomes arrive on.
func (s *Supervisor) Results() <-chan MissionResult {
	return s.results
}

// Cancel stops the mission with the given id, whether it is running or still
// queued. It reports whether the id was known.
func (s *Supervisor) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.EqualFold(id, s.curID) && s.curCancel != nil {
		s.curCancel()
		s.log.Info("running mission cancelled", zap.String("id", s.curID))
		return true
	}
	if s.queued[strings.ToLower(id)] {
		s.cancelled[strings.ToLower(id)] = true
		s.log.Info("queued mission cancelled", zap.String("id", id))
		return true
	}
	return false
}

// CancelCurrent stops whichever mission is executing right now.
func (s *Supervisor) CancelCurrent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curCancel == nil {
		return false
	}
	s.curCancel()
	s.log.Info("running mission cancelled", zap.String("id", s.curID))
	return true
}

func (s *Supervisor) runMission(ctx context.Context, m *Mission) {
	key := strings.ToLower(m.ID)
	s.mu.Lock()
	delete(s.queued, key)
	if s.cancelled[key] {
		delete(s.cancelled, key)
		s.mu.Unlock()
		s.push(MissionResult{ID: m.ID, Goal: m.Goal, Status: MissionCancelled})
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.curID = m.ID
	s.curCancel = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.curID = ""
		s.curCancel = nil
		s.mu.Unlock()
	}()

	s.log.Info("mission started", zap.String("id", m.ID), zap.String("goal", m.Goal))
	start := time.Now()
	var outcome Outcome
	if len(m.Steps) > 0 {
		outcome = s.pipeline.RunSteps(runCtx, m.Goal, m.Steps)
	} else {
		outcome = s.pipeline.Process(runCtx, m.Messages)
	}
	elapsed := time.Since(start)

	status := MissionCompleted
	if runCtx.Err() != nil {
		status = MissionCancelled
	}
	s.log.Info("mission finished",
		zap.String("id", m.ID),
		zap.String("status", status),
		zap.String("outcome", outcome.Kind),
		zap.Duration("elapsed", elapsed))

	s.push(MissionResult{
		ID:      m.ID,
		Goal:    m.Goal,
		Status:  status,
		Outcome: outcome,
		Elapsed: elapsed,
	})
}

// push never blocks the worker; if nobody is reading results, the oldest
// unread result is dropped.
func (s *Supervisor) push(r MissionResult) {
	for {
		select {
		case s.results <- r:
			return
		default:
			select {
			case <-s.results:
			default:
			}
		}
	}
}
