package state

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// LockInfo identifies one holder of the state lock.
type LockInfo struct {
	// ID is the unique lock token.
	ID string `json:"id"`

	// Holder identifies who acquired the lock (user@host, pid).
	Holder string `json:"holder"`

	// Operation names the run the lock guards ("plan", "apply", ...).
	Operation string `json:"operation"`

	// Created is the acquisition timestamp.
	Created time.Time `json:"created"`
}

// NewLockInfo builds a lock token for the current process.
func NewLockInfo(operation string) *LockInfo {
	holder := fmt.Sprintf("pid-%d", os.Getpid())
	if user := os.Getenv("USER"); user != "" {
		host, _ := os.Hostname()
		holder = fmt.Sprintf("%s@%s (pid %d)", user, host, os.Getpid())
	}
	return &LockInfo{
		ID:        uuid.New().String(),
		Holder:    holder,
		Operation: operation,
		Created:   time.Now().UTC(),
	}
}

// LockContentionError is returned when the state is already locked.
// It is recoverable: the caller may retry, or surface the holder so an
// operator can decide whether to force-unlock.
type LockContentionError struct {
	Holder *LockInfo
}

func (e *LockContentionError) Error() string {
	if e.Holder == nil {
		return "state is locked by another process"
	}
	return fmt.Sprintf("state is locked by %s for %q since %s (lock ID %s); use force-unlock if the holder is gone",
		e.Holder.Holder, e.Holder.Operation, e.Holder.Created.Format(time.RFC3339), e.Holder.ID)
}
