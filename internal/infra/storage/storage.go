// Package storage defines the progress journal: the queryable record of
// per-item progress an operator can audit after a long batch. The journal
// stores engine-visible state only; result payloads stay opaque to it.
package storage

import (
	"context"
	"time"

	"github.com/mbergkamp/ratchet/internal/core/domain"
)

// AttemptRecord is one operation attempt against one item.
type AttemptRecord struct {
	ID             string        `db:"id"             json:"id"`
	SessionID      string        `db:"session_id"     json:"session_id"`
	ItemKey        string        `db:"item_key"       json:"item_key"`
	Attempt        int           `db:"attempt"        json:"attempt"`
	Duration       time.Duration `db:"duration_ns"    json:"duration"`
	Success        bool          `db:"success"        json:"success"`
	Classification string        `db:"classification" json:"classification,omitempty"`
	Error          string        `db:"error_msg"      json:"error,omitempty"`
	At             time.Time     `db:"at"             json:"at"`
}

// TransitionRecord is one item lifecycle transition.
type TransitionRecord struct {
	ID        string            `db:"id"         json:"id"`
	SessionID string            `db:"session_id" json:"session_id"`
	ItemKey   string            `db:"item_key"   json:"item_key"`
	From      domain.ItemStatus `db:"from_state" json:"from"`
	To        domain.ItemStatus `db:"to_state"   json:"to"`
	Error     string            `db:"error_msg"  json:"error,omitempty"`
	At        time.Time         `db:"at"         json:"at"`
}

// Journal records attempts and transitions for operator audit.
type Journal interface {
	RecordAttempt(ctx context.Context, rec *AttemptRecord) error
	RecordTransition(ctx context.Context, rec *TransitionRecord) error

	// ItemHistory returns the transitions of one item, oldest first.
	ItemHistory(ctx context.Context, sessionID, itemKey string) ([]TransitionRecord, error)

	// SessionAttempts returns all attempts of a session, oldest first.
	SessionAttempts(ctx context.Context, sessionID string) ([]AttemptRecord, error)
}
