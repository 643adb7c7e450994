package state

import (
	"context"
	"sync"

	"github.com/loomctl/loom/internal/ir"
)

// MemBackend keeps state in process memory. It exists for tests and for
// throwaway runs; nothing survives the process.
type MemBackend struct {
	mu    sync.Mutex
	state *ir.State
	lock  *LockInfo
}

func NewMemBackend() *MemBackend {
	return &MemBackend{}
}

func (b *MemBackend) Load(ctx context.Context) (*ir.State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == nil {
		return ir.NewState(), nil
	}
	return b.state.Copy(), nil
}

func (b *MemBackend) Store(ctx context.Context, st *ir.State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = st.Copy()
	return nil
}

func (b *MemBackend) Lock(ctx context.Context, info *LockInfo) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lock != nil {
		holder := *b.lock
		return &LockContentionError{Holder: &holder}
	}
	b.lock = info
	return nil
}

func (b *MemBackend) Unlock(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lock != nil && b.lock.ID == id {
		b.lock = nil
	}
	return nil
}

func (b *MemBackend) ForceUnlock(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lock = nil
	return nil
}

// HeldLock returns the current lock, for tests.
func (b *MemBackend) HeldLock() *LockInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lock
}
