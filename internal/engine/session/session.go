// Package session holds the ordered batch of items and enforces their
// lifecycle transitions.
//
// Derived counters are always recomputed by scanning the item list; no
// incremental counter is a source of truth. That keeps the session immune
// to update-ordering bugs and trivially checkable in tests.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbergkamp/ratchet/internal/core/domain"
)

// Counts are the derived per-status counters of a session.
type Counts struct {
	Total       int `json:"total"`
	Queued      int `json:"queued"`
	InProgress  int `json:"in_progress"`
	NeedsReview int `json:"needs_review"`
	Complete    int `json:"complete"`
	Failed      int `json:"failed"`
}

// Done counts terminal items: both Complete and Failed count toward done.
func (c Counts) Done() int {
	return c.Complete + c.Failed
}

// Progress is the completed fraction of the batch, in [0, 1].
func (c Counts) Progress() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Complete) / float64(c.Total)
}

// Snapshot is a read-only copy of session state for operators.
type Snapshot struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Cursor           int           `json:"cursor"`
	ResourceUnusable bool          `json:"resource_unusable"`
	Counts           Counts        `json:"counts"`
	Items            []domain.Item `json:"items"`
}

// Session owns the ordered collection of batch items, a cursor, and the
// session-level resource latch. Items are created once from the caller's
// work list and never deleted, only marked terminal.
type Session struct {
	mu sync.RWMutex

	id     string
	name   string
	items  []domain.Item
	cursor int

	// resourceUnusable latches once recovery is exhausted. The
	// coordinator checks it before dequeuing further items so a
	// confirmed-dead resource does not burn backoff budget on every
	// remaining item.
	resourceUnusable bool
}

// New builds a session from the caller-supplied work list, in order. Every
// item starts Queued.
func New(name string, work []domain.WorkItem) (*Session, error) {
	if len(work) == 0 {
		return nil, fmt.Errorf("session %q: empty work list", name)
	}

	now := time.Now()
	items := make([]domain.Item, len(work))
	for i, w := range work {
		if w.Key == "" {
			return nil, fmt.Errorf("session %q: item %d has no key", name, i)
		}
		items[i] = domain.Item{
			Key:      w.Key,
			Position: i,
			Status:   domain.StatusQueued,
			QueuedAt: now,
			Params:   w.Params,
		}
	}

	return &Session{
		id:    uuid.New().String(),
		name:  name,
		items: items,
	}, nil
}

// ID returns the session's generated identity.
func (s *Session) ID() string { return s.id }

// Name returns the caller-supplied session name.
func (s *Session) Name() string { return s.name }

// Len returns the number of items.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// -----------------------------------------------------------------------------
// Transitions
// -----------------------------------------------------------------------------

// Start moves the item at index from Queued to InProgress. StartedAt is set
// on the first start only, so a re-queued item keeps its original start for
// audit.
func (s *Session) Start(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, err := s.itemAt(index)
	if err != nil {
		return err
	}
	if it.Status != domain.StatusQueued {
		return transitionErr(it, domain.StatusInProgress)
	}

	it.Status = domain.StatusInProgress
	if it.StartedAt == nil {
		now := time.Now()
		it.StartedAt = &now
	}
	return nil
}

// Complete moves an InProgress item to Complete and attaches the opaque
// result payload.
func (s *Session) Complete(index int, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, err := s.itemAt(index)
	if err != nil {
		return err
	}
	if it.Status != domain.StatusInProgress {
		return transitionErr(it, domain.StatusComplete)
	}

	it.Status = domain.StatusComplete
	it.Payload = payload
	it.ErrorMsg = ""
	now := time.Now()
	it.CompletedAt = &now
	return nil
}

// MarkNeedsReview moves an InProgress item to NeedsReview: the operation
// succeeded but the result was flagged incomplete. The partial payload is
// kept so an operator can finish it.
func (s *Session) MarkNeedsReview(index int, payload any, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, err := s.itemAt(index)
	if err != nil {
		return err
	}
	if it.Status != domain.StatusInProgress {
		return transitionErr(it, domain.StatusNeedsReview)
	}

	it.Status = domain.StatusNeedsReview
	it.Payload = payload
	it.ErrorMsg = reason
	return nil
}

// Fail moves an InProgress or NeedsReview item to Failed, preserving the
// last error text verbatim so an operator can tell a timeout from a
// missing record.
func (s *Session) Fail(index int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, err := s.itemAt(index)
	if err != nil {
		return err
	}
	if it.Status != domain.StatusInProgress && it.Status != domain.StatusNeedsReview {
		return transitionErr(it, domain.StatusFailed)
	}

	it.Status = domain.StatusFailed
	it.ErrorMsg = errMsg
	now := time.Now()
	it.CompletedAt = &now
	return nil
}

// IncrementRetry bumps the item's retry counter. The counter only grows;
// nothing short of dropping the item resets it.
func (s *Session) IncrementRetry(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, err := s.itemAt(index)
	if err != nil {
		return err
	}
	it.RetryCount++
	return nil
}

// Resolve is the operator supplying the missing input for a NeedsReview
// item, completing it.
func (s *Session) Resolve(key string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, err := s.itemByKey(key)
	if err != nil {
		return err
	}
	if it.Status != domain.StatusNeedsReview {
		return transitionErr(it, domain.StatusComplete)
	}

	it.Status = domain.StatusComplete
	if payload != nil {
		it.Payload = payload
	}
	it.ErrorMsg = ""
	now := time.Now()
	it.CompletedAt = &now
	return nil
}

// Abandon is the operator giving up on a NeedsReview item.
func (s *Session) Abandon(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, err := s.itemByKey(key)
	if err != nil {
		return err
	}
	if it.Status != domain.StatusNeedsReview {
		return transitionErr(it, domain.StatusFailed)
	}

	it.Status = domain.StatusFailed
	if it.ErrorMsg == "" {
		it.ErrorMsg = "abandoned by operator"
	}
	now := time.Now()
	it.CompletedAt = &now
	return nil
}

// Requeue puts a Failed item back in the queue at its original position.
// Retry history is preserved for audit; only the terminal marks are
// cleared.
func (s *Session) Requeue(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, err := s.itemByKey(key)
	if err != nil {
		return err
	}
	if it.Status != domain.StatusFailed {
		return transitionErr(it, domain.StatusQueued)
	}

	it.Status = domain.StatusQueued
	it.ErrorMsg = ""
	it.CompletedAt = nil
	return nil
}

// -----------------------------------------------------------------------------
// Dequeue and navigation
// -----------------------------------------------------------------------------

// NextQueued returns the index of the first Queued item in session order.
// Re-queued items sit at their original position, so a re-run preserves the
// original audit order.
func (s *Session) NextQueued() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.items {
		if s.items[i].Status == domain.StatusQueued {
			return i, true
		}
	}
	return 0, false
}

// Current returns a copy of the item under the cursor.
func (s *Session) Current() (domain.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.items) == 0 {
		return domain.Item{}, false
	}
	return s.items[s.cursor], true
}

// MoveNext advances the cursor, bounded at the end. No wraparound.
func (s *Session) MoveNext() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cursor >= len(s.items)-1 {
		return false
	}
	s.cursor++
	return true
}

// MovePrevious steps the cursor back, bounded at the start. No wraparound.
func (s *Session) MovePrevious() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cursor <= 0 {
		return false
	}
	s.cursor--
	return true
}

// MoveTo positions the cursor on the item with the given caller key,
// scanning linearly.
func (s *Session) MoveTo(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].Key == key {
			s.cursor = i
			return true
		}
	}
	return false
}

// SetCursor points the cursor at an index, used by the coordinator to keep
// the cursor on the item being driven.
func (s *Session) SetCursor(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.items) {
		return fmt.Errorf("cursor index %d out of range [0, %d)", index, len(s.items))
	}
	s.cursor = index
	return nil
}

// -----------------------------------------------------------------------------
// Aggregates
// -----------------------------------------------------------------------------

// Counts recomputes the per-status counters by a full scan.
func (s *Session) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countsLocked()
}

func (s *Session) countsLocked() Counts {
	c := Counts{Total: len(s.items)}
	for i := range s.items {
		switch s.items[i].Status {
		case domain.StatusQueued:
			c.Queued++
		case domain.StatusInProgress:
			c.InProgress++
		case domain.StatusNeedsReview:
			c.NeedsReview++
		case domain.StatusComplete:
			c.Complete++
		case domain.StatusFailed:
			c.Failed++
		}
	}
	return c
}

// Finished reports whether the session has logically ended: nothing is
// Queued or InProgress. NeedsReview items wait on an operator but do not
// keep the run loop alive.
func (s *Session) Finished() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.items {
		st := s.items[i].Status
		if st == domain.StatusQueued || st == domain.StatusInProgress {
			return false
		}
	}
	return true
}

// MarkResourceUnusable latches the session-level dead-resource flag.
func (s *Session) MarkResourceUnusable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resourceUnusable = true
}

// ResourceUnusable reports whether the resource latch is set.
func (s *Session) ResourceUnusable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resourceUnusable
}

// Item returns a copy of the item at index.
func (s *Session) Item(index int) (domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, err := s.itemAt(index)
	if err != nil {
		return domain.Item{}, err
	}
	return *it, nil
}

// ItemByKey returns a copy of the first item with the given key.
func (s *Session) ItemByKey(key string) (domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, err := s.itemByKey(key)
	if err != nil {
		return domain.Item{}, err
	}
	return *it, nil
}

// Snapshot copies the full session state for operator display.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, len(s.items))
	copy(items, s.items)

	return Snapshot{
		ID:               s.id,
		Name:             s.name,
		Cursor:           s.cursor,
		ResourceUnusable: s.resourceUnusable,
		Counts:           s.countsLocked(),
		Items:            items,
	}
}

func (s *Session) itemAt(index int) (*domain.Item, error) {
	if index < 0 || index >= len(s.items) {
		return nil, fmt.Errorf("item index %d out of range [0, %d)", index, len(s.items))
	}
	return &s.items[index], nil
}

func (s *Session) itemByKey(key string) (*domain.Item, error) {
	for i := range s.items {
		if s.items[i].Key == key {
			return &s.items[i], nil
		}
	}
	return nil, fmt.Errorf("no item with key %q", key)
}

func transitionErr(it *domain.Item, to domain.ItemStatus) error {
	return fmt.Errorf("item %q: invalid transition %s -> %s", it.Key, it.Status, to)
}
