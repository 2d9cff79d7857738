// Package memory is the in-memory journal, used when no database is
// configured and as the reference implementation for tests.
package memory

import (
	"context"
	"sync"

	"github.com/mbergkamp/ratchet/internal/infra/storage"
)

type Journal struct {
	mu          sync.RWMutex
	attempts    []storage.AttemptRecord
	transitions []storage.TransitionRecord
}

func NewJournal() *Journal {
	return &Journal{}
}

func (j *Journal) RecordAttempt(ctx context.Context, rec *storage.AttemptRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts = append(j.attempts, *rec)
	return nil
}

func (j *Journal) RecordTransition(ctx context.Context, rec *storage.TransitionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.transitions = append(j.transitions, *rec)
	return nil
}

func (j *Journal) ItemHistory(ctx context.Context, sessionID, itemKey string) ([]storage.TransitionRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []storage.TransitionRecord
	for _, rec := range j.transitions {
		if rec.SessionID == sessionID && rec.ItemKey == itemKey {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (j *Journal) SessionAttempts(ctx context.Context, sessionID string) ([]storage.AttemptRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []storage.AttemptRecord
	for _, rec := range j.attempts {
		if rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	return out, nil
}
