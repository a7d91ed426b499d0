package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/theblixguy/xcode-copilot-server-sub001/internal/logging"
)

var (
	// ErrDuplicateCallID is returned when a call id already has a pending entry.
	ErrDuplicateCallID = errors.New("bridge: duplicate call id")
	// ErrNoPending is returned when a result arrives for an unknown, already
	// resolved, or expired call id.
	ErrNoPending = errors.New("bridge: no pending entry for call id")
)

// RejectedError is delivered to a waiting caller when its pending call is
// bulk-cancelled, carrying the teardown reason.
type RejectedError struct {
	CallID string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("bridge: call %s rejected: %s", e.CallID, e.Reason)
}

type callResult struct {
	output string
	err    error
}

// PendingCall is the handle a caller suspends on until the tool result comes
// back or the session tears down. Each handle is completed exactly once.
type PendingCall struct {
	callID string
	ch     chan callResult
}

// CallID returns the opaque identifier this handle correlates on.
func (p *PendingCall) CallID() string { return p.callID }

// Await blocks until the call is resolved, rejected, or ctx expires. A ctx
// expiry does not remove the table entry; only Resolve or RejectAll do.
func (p *PendingCall) Await(ctx context.Context) (string, error) {
	select {
	case res := <-p.ch:
		return res.output, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ToolRouter correlates a tool-call identifier with the code path awaiting
// its result. It holds at most one pending entry per call id; an entry leaves
// the table exactly once, via Resolve or RejectAll.
type ToolRouter struct {
	mu      sync.Mutex
	pending map[string]*PendingCall
	logger  *logging.Leveled
}

// NewToolRouter creates an empty correlation table.
func NewToolRouter(logger *logging.Leveled) *ToolRouter {
	return &ToolRouter{
		pending: make(map[string]*PendingCall),
		logger:  logger,
	}
}

// Register creates a new pending entry for callID and returns the handle the
// caller suspends on. Registering an id that is already pending fails with
// ErrDuplicateCallID rather than silently overwriting the earlier waiter.
func (r *ToolRouter) Register(callID string) (*PendingCall, error) {
	if callID == "" {
		return nil, errors.New("bridge: call id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pending[callID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCallID, callID)
	}
	call := &PendingCall{
		callID: callID,
		// Buffered so completion never blocks on a caller that has not yet
		// reached Await (or whose Await context already expired).
		ch: make(chan callResult, 1),
	}
	r.pending[callID] = call
	r.logger.Debugf("tool call registered call_id=%s pending=%d", callID, len(r.pending))
	return call, nil
}

// Resolve completes the pending entry for callID with output and removes it
// from the table. A missing entry returns ErrNoPending with no mutation; the
// caller logs that as a non-fatal anomaly.
func (r *ToolRouter) Resolve(callID, output string) error {
	r.mu.Lock()
	call, ok := r.pending[callID]
	if ok {
		delete(r.pending, callID)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPending, callID)
	}
	call.ch <- callResult{output: output}
	r.logger.Debugf("tool call resolved call_id=%s output_len=%d", callID, len(output))
	return nil
}

// RejectAll completes every currently-pending entry with a failure carrying
// reason, then clears the table. Calling it with an empty table is a no-op.
func (r *ToolRouter) RejectAll(reason string) {
	r.mu.Lock()
	rejected := r.pending
	r.pending = make(map[string]*PendingCall)
	r.mu.Unlock()
	if len(rejected) == 0 {
		return
	}
	for id, call := range rejected {
		call.ch <- callResult{err: &RejectedError{CallID: id, Reason: reason}}
	}
	r.logger.Debugf("rejected %d pending tool call(s): %s", len(rejected), reason)
}

// Len reports the number of pending entries.
func (r *ToolRouter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// PendingIDs returns the call ids currently awaiting a result, in no
// particular order.
func (r *ToolRouter) PendingIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	return ids
}
