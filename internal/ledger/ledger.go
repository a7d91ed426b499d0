// Package ledger records the tool-call bridge's lifecycle events for audit.
package ledger

import (
	"context"
	"time"
)

// Event classifies a bridge lifecycle record.
type Event string

const (
	// EventIssued marks a tool call forwarded to the client.
	EventIssued Event = "issued"
	// EventResolved marks a tool result correlated with its pending call.
	EventResolved Event = "resolved"
	// EventRejected marks a pending call cancelled by session teardown.
	EventRejected Event = "rejected"
	// EventUnresolved marks a result that arrived with no pending entry.
	EventUnresolved Event = "unresolved"
)

// Entry is a single bridge event written to the audit ledger.
type Entry struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	CallID         string    `json:"call_id"`
	ToolName       string    `json:"tool_name,omitempty"`
	Event          Event     `json:"event"`
	Detail         string    `json:"detail,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Summary aggregates event counts for a conversation.
type Summary struct {
	Issued     int64 `json:"issued"`
	Resolved   int64 `json:"resolved"`
	Rejected   int64 `json:"rejected"`
	Unresolved int64 `json:"unresolved"`
}

// Store defines persistence behaviour for the audit ledger.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	ListRecent(ctx context.Context, conversationID string, limit int) ([]Entry, error)
	Summary(ctx context.Context, conversationID string) (Summary, error)
	Close() error
}

// ValidEvent reports whether e is a known event kind.
func ValidEvent(e Event) bool {
	switch e {
	case EventIssued, EventResolved, EventRejected, EventUnresolved:
		return true
	}
	return false
}
