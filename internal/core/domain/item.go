package domain

import "time"

// ItemStatus is the lifecycle state of a batch item. Exactly one status holds
// at any time.
type ItemStatus string

const (
	StatusQueued      ItemStatus = "queued"
	StatusInProgress  ItemStatus = "in_progress"
	StatusNeedsReview ItemStatus = "needs_review"
	StatusComplete    ItemStatus = "complete"
	StatusFailed      ItemStatus = "failed"
)

// Terminal reports whether the status counts toward session completion.
// Only Failed items can be re-queued by an operator.
func (s ItemStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Item is one unit of a batch. The engine tracks its lifecycle and retry
// history; the result payload is opaque and attached by the operation.
type Item struct {
	Key         string     `json:"key"`
	Position    int        `json:"position"`
	Status      ItemStatus `json:"status"`
	RetryCount  int        `json:"retry_count"`
	QueuedAt    time.Time  `json:"queued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ErrorMsg    string     `json:"error_msg,omitempty"`
	Payload     any        `json:"-"`

	// Params carries the caller-supplied input for the operation, opaque to
	// the engine.
	Params map[string]string `json:"-"`
}
