package bridge

import (
	"sync"

	"github.com/theblixguy/xcode-copilot-server-sub001/internal/logging"
)

// Session gates the validity window of a conversation's ToolRouter. It
// guarantees that no pending tool call outlives the conversation: every path
// that ends the session rejects all pending entries before the session reads
// inactive, and end observers fire at most once per activation cycle.
type Session struct {
	mu       sync.Mutex
	active   bool
	errored  bool
	notified bool
	onEnd    []func()
	router   *ToolRouter
	logger   *logging.Leveled
}

// NewSession binds a lifecycle to the router it must drain on teardown.
func NewSession(router *ToolRouter, logger *logging.Leveled) *Session {
	return &Session{router: router, logger: logger}
}

// Active reports whether the session is between start and end.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Errored reports whether the errored flag is set.
func (s *Session) Errored() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errored
}

// OnEnd appends an end observer. Observers run exactly once per activation
// cycle, on whichever teardown path fires first.
func (s *Session) OnEnd(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.onEnd = append(s.onEnd, fn)
	s.mu.Unlock()
}

// MarkActive transitions inactive -> active and re-arms the end notification.
func (s *Session) MarkActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	s.notified = false
	s.logger.Debugf("session active")
}

// MarkErrored sets the errored flag without changing phase. The flag stays
// set until Cleanup.
func (s *Session) MarkErrored() {
	s.mu.Lock()
	s.errored = true
	s.mu.Unlock()
	s.logger.Warnf("session marked errored")
}

// MarkInactive ends an active session: pending tool calls are rejected and
// the end notification fires before the call returns.
func (s *Session) MarkInactive() {
	s.teardown("session ended", false)
}

// Cleanup forces the session inactive from any phase with the same rejection
// and notification side effects as MarkInactive. It is idempotent: a second
// call does not re-fire observers. Cleanup also clears the errored flag.
func (s *Session) Cleanup() {
	s.teardown("session cleanup", true)
}

func (s *Session) teardown(reason string, clearErrored bool) {
	// Reject pending entries before anything else so a suspended caller is
	// resumed with a failure even if an observer misbehaves.
	s.router.RejectAll(reason)

	s.mu.Lock()
	s.active = false
	if clearErrored {
		s.errored = false
	}
	var observers []func()
	if !s.notified {
		s.notified = true
		observers = s.onEnd
		s.onEnd = nil
	}
	s.mu.Unlock()

	for _, fn := range observers {
		s.fireObserver(fn)
	}
}

func (s *Session) fireObserver(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Warnf("session end observer panicked: %v", rec)
		}
	}()
	fn()
}
