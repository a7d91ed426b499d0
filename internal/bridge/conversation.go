// Package bridge implements the tool-call bridging core: the correlation
// table mapping opaque call identifiers to suspended callers, the session
// lifecycle that bounds the table's validity window, and the tool cache that
// reconciles abbreviated tool names against their namespaced registrations.
package bridge

import (
	"sync"

	"github.com/theblixguy/xcode-copilot-server-sub001/internal/logging"
)

// Conversation bundles the per-conversation mutable state: one session
// lifecycle, one tool router, one tool cache. It is owned exclusively by the
// Manager for its lifetime and never reused across unrelated client sessions.
type Conversation struct {
	id      string
	session *Session
	router  *ToolRouter
	cache   *ToolCache
}

// NewConversation builds a conversation with fresh, empty state.
func NewConversation(id string, logger *logging.Leveled) *Conversation {
	router := NewToolRouter(logger)
	return &Conversation{
		id:      id,
		session: NewSession(router, logger),
		router:  router,
		cache:   NewToolCache(logger),
	}
}

// ID returns the stable conversation key the HTTP layer addresses this state by.
func (c *Conversation) ID() string { return c.id }

// StartSession delegates to the lifecycle.
func (c *Conversation) StartSession() { c.session.MarkActive() }

// EndSession ends the session, rejecting all pending tool calls first.
func (c *Conversation) EndSession() { c.session.MarkInactive() }

// Cleanup forces teardown from any phase; idempotent.
func (c *Conversation) Cleanup() { c.session.Cleanup() }

// MarkErrored flags the session without changing phase.
func (c *Conversation) MarkErrored() { c.session.MarkErrored() }

// Active reports whether the session is live.
func (c *Conversation) Active() bool { return c.session.Active() }

// Errored reports the session errored flag.
func (c *Conversation) Errored() bool { return c.session.Errored() }

// OnSessionEnd registers an at-most-once end observer.
func (c *Conversation) OnSessionEnd(fn func()) { c.session.OnEnd(fn) }

// RegisterCall delegates to the router.
func (c *Conversation) RegisterCall(callID string) (*PendingCall, error) {
	return c.router.Register(callID)
}

// ResolveToolCall delegates to the router. ErrNoPending is recoverable: the
// caller logs a warning and the surrounding request still succeeds.
func (c *Conversation) ResolveToolCall(callID, output string) error {
	return c.router.Resolve(callID, output)
}

// PendingCalls reports the number of outstanding tool calls.
func (c *Conversation) PendingCalls() int { return c.router.Len() }

// PendingCallIDs lists the call ids currently awaiting a result.
func (c *Conversation) PendingCallIDs() []string { return c.router.PendingIDs() }

// CacheTools delegates to the tool cache.
func (c *Conversation) CacheTools(tools []ToolDefinition) { c.cache.CacheTools(tools) }

// CachedTools delegates to the tool cache.
func (c *Conversation) CachedTools() []ToolDefinition { return c.cache.CachedTools() }

// ResolveToolName delegates to the tool cache.
func (c *Conversation) ResolveToolName(name string) string { return c.cache.ResolveToolName(name) }

// Manager owns the live conversations, keyed by conversation id. It is the
// facade the HTTP handlers and provider adapters talk to.
type Manager struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	logger        *logging.Leveled
}

// NewManager creates an empty conversation registry.
func NewManager(logger *logging.Leveled) *Manager {
	return &Manager{
		conversations: make(map[string]*Conversation),
		logger:        logger,
	}
}

// Conversation returns the conversation for id, creating and activating a
// fresh one (empty correlation table, empty cache) if none exists.
func (m *Manager) Conversation(id string) *Conversation {
	m.mu.Lock()
	conv, ok := m.conversations[id]
	if !ok {
		conv = NewConversation(id, m.logger)
		m.conversations[id] = conv
		m.logger.Debugf("conversation created id=%s total=%d", id, len(m.conversations))
	}
	m.mu.Unlock()
	if !ok {
		conv.StartSession()
	}
	return conv
}

// Lookup returns the conversation for id without creating one.
func (m *Manager) Lookup(id string) (*Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[id]
	return conv, ok
}

// Remove tears the conversation down and drops it from the registry.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	conv, ok := m.conversations[id]
	if ok {
		delete(m.conversations, id)
	}
	m.mu.Unlock()
	if ok {
		conv.Cleanup()
		m.logger.Debugf("conversation removed id=%s", id)
	}
}

// CleanupAll tears down every live conversation. Used on shutdown.
func (m *Manager) CleanupAll() {
	m.mu.Lock()
	convs := m.conversations
	m.conversations = make(map[string]*Conversation)
	m.mu.Unlock()
	for _, conv := range convs {
		conv.Cleanup()
	}
	if len(convs) > 0 {
		m.logger.Debugf("cleaned up %d conversation(s)", len(convs))
	}
}

// Len reports the number of live conversations.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conversations)
}
