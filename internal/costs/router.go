package costs

import (
	"sync"
	"time"
)

// Router is the oracle call recorder wired into the shared client at
// startup. Missions run one at a time, so Bind points it at the current
// mission's session and Unbind detaches it; calls made with no session
// bound are dropped.
type Router struct {
	mu      sync.Mutex
	session *Session
}

func NewRouter() *Router { return &Router{} }

func (r *Router) Bind(s *Session) {
	r.mu.Lock()
	r.session = s
	r.mu.Unlock()
}

func (r *Router) Unbind() {
	r.mu.Lock()
	r.session = nil
	r.mu.Unlock()
}

func (r *Router) RecordCall(stage, provider, model, prompt, output string, latency time.Duration) {
	r.mu.Lock()
	s := r.session
	r.mu.Unlock()
	if s != nil {
		s.RecordCall(stage, provider, model, prompt, output, latency)
	}
}
