// Package engine defines the contracts between the batch engine and its
// collaborators. The engine drives opaque work items against a single
// stateful remote automation session; everything content-specific (what an
// operation extracts, how results are rendered or stored) lives behind these
// interfaces.
package engine

import (
	"context"
	"errors"

	"github.com/mbergkamp/ratchet/internal/core/domain"
)

// Handle is the engine's reference to the remote automation session. Ping
// must be the cheapest possible liveness round-trip and must not mutate
// session state observable to a subsequent operation.
type Handle interface {
	Ping(ctx context.Context) error
}

// Operation performs the caller's work for one item against a handle. The
// engine applies its adaptive timeout through ctx; implementations must
// honor cancellation. A non-nil error means the attempt failed.
type Operation interface {
	Perform(ctx context.Context, item domain.WorkItem, handle Handle) (domain.Outcome, error)
}

// ResourceProvider produces and replaces handles. Reachable checks the
// process or connection hosting handles, not any individual handle.
type ResourceProvider interface {
	GetHandle(ctx context.Context) (Handle, error)
	Reachable(ctx context.Context) bool
}

// Validator decides whether a successful outcome still needs operator input.
// A nil validator means every success is complete.
type Validator interface {
	IsComplete(payload any) bool
}

// Progress is the snapshot handed to a progress sink after every item
// transition. Completed counts both Complete and Failed items.
type Progress struct {
	SessionID string
	ItemKey   string
	Status    domain.ItemStatus
	Completed int
	Total     int
}

// ProgressSink is notified after every item transition, including failures,
// so a long batch never appears to silently stall.
type ProgressSink interface {
	OnTransition(ctx context.Context, p Progress)
}

var (
	// ErrRecoveryExhausted means the resource could not be revived within
	// the recovery budget. This is fatal for the current item and usually
	// means the whole session needs operator attention.
	ErrRecoveryExhausted = errors.New("resource recovery attempts exhausted")

	// ErrResourceUnusable means the session latched its resource as dead
	// and will not dequeue further items.
	ErrResourceUnusable = errors.New("session resource is unusable")
)
