// Package lock implements the process-wide repository lock table: the
// only coordination primitive serializing opens of the same repository
// within one process, grounded on the teacher's closed-channel stop
// broadcast idiom (internal/ha/orchestrator.go's stopChan).
package lock

import (
	"sync"

	"github.com/google/uuid"

	coldkeep "github.com/coldkeep/coldkeep"
)

// Strategy selects how Acquire behaves when the id is already held.
type Strategy int

const (
	// Abort fails immediately if the id is already held.
	Abort Strategy = iota
	// Wait blocks until the current holder releases.
	Wait
)

type entry struct {
	released chan struct{}
}

// Table is a process-global registry of repo_id -> lock state.
type Table struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry
}

// NewTable builds an empty lock table.
func NewTable() *Table {
	return &Table{entries: make(map[uuid.UUID]*entry)}
}

// Handle represents a held lock; Release must be called exactly once.
type Handle struct {
	table *Table
	id    uuid.UUID
	e     *entry
}

// Acquire takes the lock for id using strategy. Under Abort, a
// contended id fails immediately with KindLocked. Under Wait, Acquire
// blocks until the current holder releases, then retries.
func (t *Table) Acquire(id uuid.UUID, strategy Strategy) (*Handle, error) {
	for {
		t.mu.Lock()
		existing, held := t.entries[id]
		if !held {
			e := &entry{released: make(chan struct{})}
			t.entries[id] = e
			t.mu.Unlock()
			return &Handle{table: t, id: id, e: e}, nil
		}
		t.mu.Unlock()

		if strategy == Abort {
			return nil, coldkeep.E("lock.Acquire", coldkeep.KindLocked, errHeld(id))
		}
		<-existing.released
	}
}

// Release frees the lock, unblocking any Wait-strategy waiters.
func (h *Handle) Release() {
	h.table.mu.Lock()
	if cur, ok := h.table.entries[h.id]; ok && cur == h.e {
		delete(h.table.entries, h.id)
	}
	h.table.mu.Unlock()
	close(h.e.released)
}

func errHeld(id uuid.UUID) error {
	return &lockedError{id: id}
}

type lockedError struct{ id uuid.UUID }

func (e *lockedError) Error() string { return "repository " + e.id.String() + " is already locked" }
