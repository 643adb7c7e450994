package engine

import (
	"fmt"
	"strings"
)

// ConfigError is a fatal pre-plan configuration problem: a dependency
// cycle or a reference to an undeclared resource. Nothing has been
// mutated when it is returned.
type ConfigError struct {
	Message   string
	Resources []string // addresses involved, sorted
}

func (e *ConfigError) Error() string {
	if len(e.Resources) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Resources, ", "))
}

// ProviderError wraps a failed provider call. It is localized to one
// change; independent branches of an apply continue past it.
type ProviderError struct {
	Address   string
	Operation string // "read", "create", "update", "delete"
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Operation, e.Address, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// StateCorruptionError indicates an unreadable or inconsistent state
// document. It halts the run; state is never auto-repaired.
type StateCorruptionError struct {
	Detail string
	Err    error
}

func (e *StateCorruptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("state corruption: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("state corruption: %s", e.Detail)
}

func (e *StateCorruptionError) Unwrap() error { return e.Err }
