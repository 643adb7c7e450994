// Package state persists the last-applied record of every managed
// resource. All mutation flows through a Manager holding the backend
// lock; records are never touched outside a locked commit.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/loomctl/loom/internal/ir"
	"github.com/loomctl/loom/internal/logging"
)

// ErrNotLocked is returned when a state operation requires the lock and
// the manager does not hold it.
var ErrNotLocked = errors.New("state is not locked: acquire the lock before reading or committing")

// Manager mediates every read and commit against one state backend.
// It holds at most one lock for the duration of a run and serializes
// per-resource commits, each of which rewrites the document atomically.
type Manager struct {
	backend Backend

	mu    sync.Mutex
	state *ir.State
	lock  *LockInfo
}

func NewManager(backend Backend) *Manager {
	return &Manager{backend: backend}
}

// Lock acquires the backend lock for the named operation and loads a
// consistent snapshot of the document. It fails fast on contention with
// *LockContentionError.
func (m *Manager) Lock(ctx context.Context, operation string) (*LockInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lock != nil {
		return nil, fmt.Errorf("lock already held by this manager for %q", m.lock.Operation)
	}

	info := NewLockInfo(operation)
	if err := m.backend.Lock(ctx, info); err != nil {
		return nil, err
	}

	st, err := m.backend.Load(ctx)
	if err != nil {
		// Verified acquisition, failed load: release before bailing.
		_ = m.backend.Unlock(ctx, info.ID)
		return nil, err
	}
	if st.Lineage == "" {
		st.Lineage = uuid.New().String()
	}

	m.lock = info
	m.state = st
	logging.Debug().Str("operation", operation).Str("lock_id", info.ID).Msg("state lock acquired")
	return info, nil
}

// Unlock releases the held lock. Calling it without a held lock, or
// after the lock was force-removed elsewhere, is a no-op.
func (m *Manager) Unlock(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lock == nil {
		return nil
	}
	id := m.lock.ID
	m.lock = nil
	m.state = nil
	return m.backend.Unlock(ctx, id)
}

// ForceUnlock removes the backend lock regardless of holder. For
// operator use when a crashed run left its lock behind.
func (m *Manager) ForceUnlock(ctx context.Context, id string) error {
	return m.backend.ForceUnlock(ctx, id)
}

// Read returns an independent snapshot of the state. Requires the lock,
// so the snapshot is consistent with subsequent commits.
func (m *Manager) Read(ctx context.Context) (*ir.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lock == nil {
		return nil, ErrNotLocked
	}
	return m.state.Copy(), nil
}

// CommitResource durably records one resource, bumping the document
// serial. The write is atomic: on failure the previous document remains.
func (m *Manager) CommitResource(ctx context.Context, rec *ir.ResourceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lock == nil {
		return ErrNotLocked
	}

	next := m.state.Copy()
	next.SetResource(rec.Copy())
	next.Serial++

	if err := m.backend.Store(ctx, next); err != nil {
		return fmt.Errorf("failed to commit %s: %w", rec.Address(), err)
	}
	m.state = next
	return nil
}

// RemoveResource durably removes one resource record.
func (m *Manager) RemoveResource(ctx context.Context, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lock == nil {
		return ErrNotLocked
	}

	next := m.state.Copy()
	if !next.RemoveResource(addr) {
		return nil
	}
	next.Serial++

	if err := m.backend.Store(ctx, next); err != nil {
		return fmt.Errorf("failed to commit removal of %s: %w", addr, err)
	}
	m.state = next
	return nil
}

// WriteState replaces the whole document, for state surgery operations
// (mv, rm, import) that edit records wholesale.
func (m *Manager) WriteState(ctx context.Context, st *ir.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lock == nil {
		return ErrNotLocked
	}

	next := st.Copy()
	if next.Lineage == "" {
		next.Lineage = m.state.Lineage
	}
	next.Version = ir.StateVersion
	next.Serial = m.state.Serial + 1

	if err := m.backend.Store(ctx, next); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	m.state = next
	return nil
}
