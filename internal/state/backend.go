package state

import (
	"context"
	"fmt"

	"github.com/loomctl/loom/internal/ir"
)

// Backend is a durable store for the state document plus its locking
// protocol. Lock acquisition must be verified by the backing medium (an
// exclusive file create, a conditional write), never assumed: two
// uncoordinated holders committing concurrently would corrupt state.
type Backend interface {
	// Load reads the state document. A missing document is an empty
	// state, not an error.
	Load(ctx context.Context) (*ir.State, error)

	// Store writes the full state document atomically: either the new
	// document is durable or the old one is untouched.
	Store(ctx context.Context, st *ir.State) error

	// Lock acquires the exclusive lock. If the lock is held it fails
	// fast with *LockContentionError carrying the holder.
	Lock(ctx context.Context, info *LockInfo) error

	// Unlock releases the lock identified by id. Releasing a stale or
	// already released lock is a no-op.
	Unlock(ctx context.Context, id string) error

	// ForceUnlock removes the lock regardless of holder. Administrative
	// escape hatch for stale locks; never invoked automatically.
	ForceUnlock(ctx context.Context, id string) error
}

// Config selects and parameterizes a backend.
type Config struct {
	Type    string            `yaml:"type"` // "local", "mem", "s3"
	Path    string            `yaml:"path,omitempty"`
	Options map[string]string `yaml:"options,omitempty"`
}

// NewBackend creates a state backend from configuration.
func NewBackend(cfg Config) (Backend, error) {
	switch cfg.Type {
	case "local", "":
		path := cfg.Path
		if path == "" {
			path = DefaultLocalPath
		}
		return NewLocalBackend(path), nil
	case "mem":
		return NewMemBackend(), nil
	case "s3":
		return newS3Backend(cfg.Options)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
