// Package control wires configuration into running batch sessions and
// exposes the operator surface: one coordinator per configured session,
// a shared attempt journal, optional Redis progress publishing, and the
// HTTP status server.
package control

import (
	"github.com/mbergkamp/ratchet/internal/engine/session"
	"github.com/mbergkamp/ratchet/internal/engine/timeout"
)

// SessionView is the operator-facing state of one session: the item
// snapshot plus the adaptive timing statistics backing it.
type SessionView struct {
	Session  session.Snapshot `json:"session"`
	Finished bool             `json:"finished"`
	Timing   timeout.Stats    `json:"timing"`
}

// SessionSummary is the list-endpoint row: enough to see batch progress
// without the per-item detail.
type SessionSummary struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Counts           session.Counts `json:"counts"`
	Finished         bool           `json:"finished"`
	ResourceUnusable bool           `json:"resource_unusable"`
}
