// Package tool executes single plan steps: argument validation at the
// boundary, a per-tool timeout, panic recovery and a normalized result the
// rest of the pipeline can reason about.
package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"crmpilot/internal/catalog"
	"crmpilot/internal/mission"
)

const defaultTimeout = 30 * time.Second

// Handler implements one capability. Data is whatever decoded payload the
// backend returned; nil is fine for operations with no output.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Executor runs one plan step to a normalized result.
type Executor interface {
	Run(ctx context.Context, step mission.PlanStep) mission.Result
}

// Runner dispatches steps to registered handlers. Registration happens at
// startup; Run may then be called concurrently.
type Runner struct {
	registry *catalog.Registry
	handlers map[string]Handler
	timeouts map[string]time.Duration
	log      *zap.Logger
}

func NewRunner(registry *catalog.Registry, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		registry: registry,
		handlers: make(map[string]Handler),
		timeouts: make(map[string]time.Duration),
		log:      log,
	}
}

// Register binds a handler to a capability name. The name must exist in the
// catalog so every runnable tool carries a descriptor.
func (r *Runner) Register(name string, h Handler) error {
	if _, ok := r.registry.Get(name); !ok {
		return fmt.Errorf("register %q: not in catalog", name)
	}
	if _, dup := r.handlers[name]; dup {
		return fmt.Errorf("register %q: duplicate handler", name)
	}
	r.handlers[name] = h
	return nil
}

// SetTimeout overrides the default per-call timeout for one tool.
func (r *Runner) SetTimeout(name string, d time.Duration) {
	r.timeouts[name] = d
}

// Known reports whether a handler is registered for name.
func (r *Runner) Known(name string) bool {
	_, ok := r.handlers[name]
	return ok
}

// Run executes one step. It never panics and never returns an error: every
// failure mode is folded into the result so the control loop has one shape
// to inspect.
func (r *Runner) Run(ctx context.Context, step mission.PlanStep) mission.Result {
	res := mission.Result{
		Tool:         step.Tool,
		OriginalArgs: step.Args,
	}
	start := time.Now()
	defer func() {
		res.DurationMs = time.Since(start).Milliseconds()
	}()

	h, ok := r.handlers[step.Tool]
	if !ok {
		res.Error = fmt.Sprintf("unknown tool %q", step.Tool)
		return res
	}
	if err := r.registry.ValidateArgs(step.Tool, step.Args); err != nil {
		res.Error = err.Error()
		return res
	}

	timeout := defaultTimeout
	if d, ok := r.timeouts[step.Tool]; ok && d > 0 {
		timeout = d
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := r.invoke(callCtx, h, step.Args)
	if err != nil {
		res.Error = err.Error()
		res.Retryable = IsRetryable(err)
		r.log.Warn("tool failed",
			zap.String("tool", step.Tool),
			zap.Bool("retryable", res.Retryable),
			zap.Error(err))
		return res
	}

	res.Success = true
	res.Data = data
	r.log.Debug("tool succeeded",
		zap.String("tool", step.Tool),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	return res
}

func (r *Runner) invoke(ctx context.Context, h Handler, args map[string]any) (data any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool panicked: %v", rec)
		}
	}()
	return h(ctx, args)
}

type nonRetryableError struct{ err error }

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable marks an error as pointless to retry with the same or fixed
// arguments, such as auth failures or malformed input.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsRetryable classifies a tool failure. Marked errors and auth-shaped
// failures are final; everything else, including timeouts, is worth another
// attempt under the correction budget.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var nr *nonRetryableError
	if errors.As(err, &nr) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"401",
		"403",
		"unauthorized",
		"forbidden",
		"token_expired",
		"invalid credentials",
	} {
		if strings.Contains(msg, marker) {
			return false
		}
	}
	return true
}
