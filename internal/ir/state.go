package ir

// StateVersion is the current state document schema version. Loaders
// migrate older documents forward; newer documents are rejected.
const StateVersion = 1

// State is the persisted record set of everything under management.
type State struct {
	Version   int               `json:"version"`
	Serial    uint64            `json:"serial"`
	Lineage   string            `json:"lineage"`
	Resources []*ResourceRecord `json:"resources"`
	Outputs   map[string]any    `json:"outputs,omitempty"`
}

// ResourceRecord is the last-applied view of one managed resource.
// Records are owned by the state store and only mutated inside a locked
// commit.
type ResourceRecord struct {
	Type          string   `json:"type"`
	Name          string   `json:"name"`
	Provider      string   `json:"provider"`
	ID            string   `json:"id"` // provider-assigned external identifier
	Attributes    Attrs    `json:"attributes"`
	Dependencies  []string `json:"dependencies,omitempty"`
	SchemaVersion int      `json:"schemaVersion"`

	// Tainted marks the record for forced replacement on the next
	// apply, set by the operator rather than by a diff.
	Tainted bool `json:"tainted,omitempty"`
}

// Address returns the unique address of the record (type.name).
func (r *ResourceRecord) Address() string {
	return Address(r.Type, r.Name)
}

// Copy returns an independent copy of the record.
func (r *ResourceRecord) Copy() *ResourceRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Attributes = r.Attributes.Copy()
	out.Dependencies = append([]string(nil), r.Dependencies...)
	return &out
}

// NewState returns an empty state document at the current schema version.
func NewState() *State {
	return &State{Version: StateVersion}
}

// Resource returns the record at the given address, or nil.
func (s *State) Resource(addr string) *ResourceRecord {
	for _, res := range s.Resources {
		if res.Address() == addr {
			return res
		}
	}
	return nil
}

// SetResource inserts or replaces the record for its address.
func (s *State) SetResource(rec *ResourceRecord) {
	addr := rec.Address()
	for i, res := range s.Resources {
		if res.Address() == addr {
			s.Resources[i] = rec
			return
		}
	}
	s.Resources = append(s.Resources, rec)
}

// RemoveResource deletes the record at the given address. It reports
// whether a record was present.
func (s *State) RemoveResource(addr string) bool {
	for i, res := range s.Resources {
		if res.Address() == addr {
			s.Resources = append(s.Resources[:i], s.Resources[i+1:]...)
			return true
		}
	}
	return false
}

// Copy returns an independent snapshot of the whole state.
func (s *State) Copy() *State {
	out := &State{
		Version: s.Version,
		Serial:  s.Serial,
		Lineage: s.Lineage,
	}
	if s.Resources != nil {
		out.Resources = make([]*ResourceRecord, len(s.Resources))
		for i, res := range s.Resources {
			out.Resources[i] = res.Copy()
		}
	}
	if s.Outputs != nil {
		out.Outputs = make(map[string]any, len(s.Outputs))
		for k, v := range s.Outputs {
			out.Outputs[k] = v
		}
	}
	return out
}
