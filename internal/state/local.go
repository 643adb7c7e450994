package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/loomctl/loom/internal/ir"
)

// DefaultLocalPath is where the local backend keeps state relative to
// the working directory.
const DefaultLocalPath = ".loom/state.json"

// LocalBackend stores state as a JSON document on the local filesystem.
// Locking uses an exclusively created lock file next to the document;
// a leftover lock is never reclaimed automatically, only by force-unlock.
type LocalBackend struct {
	path string
}

func NewLocalBackend(path string) *LocalBackend {
	return &LocalBackend{path: path}
}

func (b *LocalBackend) Load(ctx context.Context) (*ir.State, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return ir.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", b.path, err)
	}
	return decodeDocument(data)
}

// Store writes the document to a temp file and renames it into place, so
// a crash mid-write leaves the previous document intact.
func (b *LocalBackend) Store(ctx context.Context, st *ir.State) error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := encodeDocument(st)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Lock creates the lock file with O_EXCL so exactly one process wins,
// even when several race for it.
func (b *LocalBackend) Lock(ctx context.Context, info *LockInfo) error {
	lockPath := b.lockPath()
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	content, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to serialize lock: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return &LockContentionError{Holder: b.readLock()}
	}
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		os.Remove(lockPath)
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	return nil
}

func (b *LocalBackend) Unlock(ctx context.Context, id string) error {
	holder := b.readLock()
	if holder == nil || holder.ID != id {
		return nil
	}
	if err := os.Remove(b.lockPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func (b *LocalBackend) ForceUnlock(ctx context.Context, id string) error {
	if err := os.Remove(b.lockPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func (b *LocalBackend) readLock() *LockInfo {
	data, err := os.ReadFile(b.lockPath())
	if err != nil {
		return nil
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil
	}
	return &info
}

func (b *LocalBackend) lockPath() string {
	return b.path + ".lock"
}
