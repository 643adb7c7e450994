package state

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/loomctl/loom/internal/engine"
	"github.com/loomctl/loom/internal/ir"
)

// decodeDocument parses a serialized state document, migrating older
// schema versions forward. Unreadable documents and documents from a
// newer schema are corruption: the run halts rather than guessing.
func decodeDocument(data []byte) (*ir.State, error) {
	plain, err := Decrypt(data)
	if err != nil {
		return nil, &engine.StateCorruptionError{Detail: "cannot decrypt state document", Err: err}
	}

	var st ir.State
	if err := json.Unmarshal(plain, &st); err != nil {
		return nil, &engine.StateCorruptionError{Detail: "cannot parse state document", Err: err}
	}

	switch {
	case st.Version == ir.StateVersion:
		return &st, nil
	case st.Version > ir.StateVersion:
		return nil, &engine.StateCorruptionError{
			Detail: fmt.Sprintf("state document version %d is newer than supported version %d", st.Version, ir.StateVersion),
		}
	default:
		return migrateDocument(&st)
	}
}

// migrateDocument upgrades a state document from an older schema version.
// Version 0 documents predate the lineage field.
func migrateDocument(st *ir.State) (*ir.State, error) {
	if st.Version == 0 {
		if st.Lineage == "" {
			st.Lineage = uuid.New().String()
		}
		st.Version = 1
	}
	if st.Version != ir.StateVersion {
		return nil, &engine.StateCorruptionError{
			Detail: fmt.Sprintf("no migration path from state version %d", st.Version),
		}
	}
	return st, nil
}

// encodeDocument serializes a state document, encrypting it when a key
// is configured.
func encodeDocument(st *ir.State) ([]byte, error) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize state: %w", err)
	}
	data = append(data, '\n')
	return Encrypt(data)
}
