package audit

import (
	"context"
	"time"
)

// Entry is one append-only audit record of a status change
type Entry struct {
	EntityType string    `json:"entity_type"` // "order" or "claim"
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	Detail     string    `json:"detail,omitempty"`
	ActorID    string    `json:"actor_id,omitempty"`
	At         time.Time `json:"at"`
}

// Log records audit entries. Recording is best-effort: callers log failures
// and never roll back the operation that produced the entry.
type Log interface {
	Record(ctx context.Context, e Entry) error
}

// Nop discards all entries
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }
