package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loomctl/loom/internal/ir"
	"github.com/loomctl/loom/internal/provider"
)

// fakeProvider is a scriptable in-memory provider for engine tests. It
// records every operation in call order and can be told to fail or stall
// specific resources.
type fakeProvider struct {
	mu      sync.Mutex
	schema  provider.Schema
	nextID  int
	objects map[string]ir.Attrs // id -> live attributes

	failCreate map[string]error         // keyed by resource name
	failUpdate map[string]error         // keyed by object id
	failDelete map[string]error         // keyed by object id
	delay      map[string]time.Duration // keyed by resource name, applied on create

	calls []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		schema: provider.Schema{
			Name: "fake",
			Resources: map[string]provider.ResourceSchema{
				"fake_thing": {
					ImmutableFields: []string{"zone"},
					Version:         1,
				},
				"fake_service": {
					ImmutableFields:     []string{"image"},
					CreateBeforeDestroy: true,
					Version:             1,
				},
			},
		},
		objects:    make(map[string]ir.Attrs),
		failCreate: make(map[string]error),
		failUpdate: make(map[string]error),
		failDelete: make(map[string]error),
		delay:      make(map[string]time.Duration),
	}
}

// registryWith returns a registry with the fake provider registered
// under the name "fake".
func registryWith(p *fakeProvider) *provider.Registry {
	reg := provider.NewRegistry()
	reg.Register("fake", func() provider.Provider { return p })
	return reg
}

func (p *fakeProvider) Schema() provider.Schema { return p.schema }

func (p *fakeProvider) Configure(ctx context.Context, settings map[string]string) error {
	return nil
}

func (p *fakeProvider) Read(ctx context.Context, typ, id string, prior ir.Attrs) (*provider.ReadResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "read:"+id)

	attrs, ok := p.objects[id]
	if !ok {
		return &provider.ReadResult{Exists: false}, nil
	}
	return &provider.ReadResult{Exists: true, ID: id, Attributes: attrs.Copy()}, nil
}

func (p *fakeProvider) Create(ctx context.Context, typ, name string, desired ir.Attrs) (string, ir.Attrs, error) {
	p.mu.Lock()
	d := p.delay[name]
	p.mu.Unlock()
	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "create:"+name)

	if err := p.failCreate[name]; err != nil {
		return "", nil, err
	}
	p.nextID++
	id := fmt.Sprintf("%s-%d", name, p.nextID)
	p.objects[id] = desired.Copy()
	return id, desired.Copy(), nil
}

func (p *fakeProvider) Update(ctx context.Context, typ, id string, prior, desired ir.Attrs) (ir.Attrs, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "update:"+id)

	if err := p.failUpdate[id]; err != nil {
		return nil, err
	}
	p.objects[id] = desired.Copy()
	return desired.Copy(), nil
}

func (p *fakeProvider) Delete(ctx context.Context, typ, id string, prior ir.Attrs) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "delete:"+id)

	if err := p.failDelete[id]; err != nil {
		return err
	}
	delete(p.objects, id)
	return nil
}

func (p *fakeProvider) callLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// seed plants a live object and returns a matching state record.
func (p *fakeProvider) seed(typ, name, id string, attrs ir.Attrs) *ir.ResourceRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objects[id] = attrs.Copy()
	// Keep the id counter ahead of any numeric suffix so Create never
	// mints an id that collides with a seeded object.
	if i := strings.LastIndexByte(id, '-'); i >= 0 {
		if n, err := strconv.Atoi(id[i+1:]); err == nil && n > p.nextID {
			p.nextID = n
		}
	}
	return &ir.ResourceRecord{
		Type:          typ,
		Name:          name,
		Provider:      "fake",
		ID:            id,
		Attributes:    attrs.Copy(),
		SchemaVersion: 1,
	}
}

// memCommitter is an in-memory StateCommitter that tracks commit order.
type memCommitter struct {
	mu      sync.Mutex
	records map[string]*ir.ResourceRecord
	commits []string
	failOn  map[string]error
}

func newMemCommitter() *memCommitter {
	return &memCommitter{
		records: make(map[string]*ir.ResourceRecord),
		failOn:  make(map[string]error),
	}
}

func (m *memCommitter) CommitResource(ctx context.Context, rec *ir.ResourceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn[rec.Address()]; err != nil {
		return err
	}
	m.records[rec.Address()] = rec.Copy()
	m.commits = append(m.commits, "commit:"+rec.Address())
	return nil
}

func (m *memCommitter) RemoveResource(ctx context.Context, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, addr)
	m.commits = append(m.commits, "remove:"+addr)
	return nil
}

func (m *memCommitter) record(addr string) *ir.ResourceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[addr]
}

func (m *memCommitter) commitLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commits...)
}

func (m *memCommitter) stateWith() *ir.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := ir.NewState()
	for _, rec := range m.records {
		st.SetResource(rec.Copy())
	}
	return st
}
