package oracle

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Pipeline stage names, used for observability and per-stage model routing.
const (
	StageGatekeeper     = "gatekeeper"
	StagePlanner        = "planner"
	StageHealer         = "healer"
	StageCorrector      = "corrector"
	StageVerifier       = "verifier"
	StageReflector      = "reflector"
	StageReporter       = "reporter"
	StageConversational = "conversational"
	StageTool           = "tool"
)

// Request is one oracle call. System and Prompt are joined for providers
// that take a single prompt string.
type Request struct {
	Stage  string
	Model  string
	System string
	Prompt string
}

// Completer is the narrow interface pipeline components depend on, so tests
// can substitute fakes.
type Completer interface {
	// Complete returns raw prose.
	Complete(ctx context.Context, req Request) (string, error)
	// CompleteJSON returns one extracted, repaired JSON object.
	CompleteJSON(ctx context.Context, req Request) (string, error)
}

// Recorder receives one record per oracle call for cost/latency accounting.
type Recorder interface {
	RecordCall(stage, provider, model, prompt, output string, latency time.Duration)
}

// Client is the single retry-with-timeout wrapper shared by every pipeline
// stage. A timeout surfaces to the caller as an error after retries; the
// caller decides whether that is retryable in mission terms.
type Client struct {
	provider Provider
	timeout  time.Duration
	retries  int
	backoff  time.Duration
	recorder Recorder
	log      *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRecorder attaches a cost recorder.
func WithRecorder(r Recorder) Option { return func(c *Client) { c.recorder = r } }

// WithTimeout bounds each individual provider call.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// WithRetries sets how many extra attempts transient failures get.
func WithRetries(n int) Option { return func(c *Client) { c.retries = n } }

// WithBackoff sets the initial backoff delay (doubled per attempt). Zero
// disables sleeping, which keeps tests fast.
func WithBackoff(d time.Duration) Option { return func(c *Client) { c.backoff = d } }

// NewClient wraps a provider.
func NewClient(p Provider, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		provider: p,
		timeout:  45 * time.Second,
		retries:  2,
		backoff:  500 * time.Millisecond,
		log:      log,
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete runs a prose request through the retry wrapper.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	return c.call(ctx, req, c.provider.Generate)
}

// CompleteJSON runs a structured request and extracts the JSON object.
// Extraction failures are not retried here; they are recoverable errors the
// caller maps to its stage-specific fallback.
func (c *Client) CompleteJSON(ctx context.Context, req Request) (string, error) {
	raw, err := c.call(ctx, req, c.provider.GenerateJSON)
	if err != nil {
		return "", err
	}
	return ExtractJSON(raw)
}

func (c *Client) call(ctx context.Context, req Request, gen func(context.Context, string, string) (string, error)) (string, error) {
	prompt := req.Prompt
	if req.System != "" {
		prompt = req.System + "\n\n" + req.Prompt
	}
	model := c.provider.AllowedModelOrDefault(req.Model)

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		start := time.Now()
		out, err := gen(callCtx, prompt, model)
		latency := time.Since(start)
		cancel()

		if c.recorder != nil {
			c.recorder.RecordCall(req.Stage, c.provider.Name(), model, prompt, out, latency)
		}
		c.log.Debug("oracle call",
			zap.String("stage", req.Stage),
			zap.String("provider", c.provider.Name()),
			zap.String("model", model),
			zap.Duration("latency", latency),
			zap.Bool("ok", err == nil))

		if err == nil {
			return out, nil
		}
		lastErr = err
		if !isTransient(err) || attempt == c.retries {
			break
		}
		c.sleep(ctx, attempt)
	}
	return "", lastErr
}

func (c *Client) sleep(ctx context.Context, attempt int) {
	if c.backoff <= 0 {
		return
	}
	delay := c.backoff << attempt
	delay += time.Duration(rand.Int63n(int64(c.backoff)))
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

// isTransient classifies provider failures worth a retry: rate limits,
// server-side errors and timeouts. Caller cancellation is never retried.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429",
		"resource exhausted",
		"rate limit",
		"500",
		"502",
		"503",
		"overloaded",
		"connection refused",
		"connection reset",
		"fetch failed",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
