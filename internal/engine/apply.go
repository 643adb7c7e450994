package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/loomctl/loom/internal/ir"
	"github.com/loomctl/loom/internal/logging"
	"github.com/loomctl/loom/internal/provider"
)

// StateCommitter persists state records one at a time. Every successful
// change is committed immediately so an interrupted run can resume from
// whatever was actually applied.
type StateCommitter interface {
	CommitResource(ctx context.Context, rec *ir.ResourceRecord) error
	RemoveResource(ctx context.Context, addr string) error
}

// OutcomeStatus is the terminal status of one change during apply.
type OutcomeStatus string

const (
	StatusApplied OutcomeStatus = "applied"
	StatusFailed  OutcomeStatus = "failed"
	StatusSkipped OutcomeStatus = "skipped"
)

// ResourceOutcome reports how one change ended.
type ResourceOutcome struct {
	Address  string
	Action   ir.Action
	Status   OutcomeStatus
	Err      error
	Duration time.Duration
}

// ApplySummary counts outcomes by category.
type ApplySummary struct {
	Created   int
	Updated   int
	Replaced  int
	Destroyed int
	Refreshed int
	Failed    int
	Skipped   int
	NoOp      int
}

// ApplyResult is the structured result of an apply run.
type ApplyResult struct {
	Outcomes  []*ResourceOutcome
	Summary   ApplySummary
	Cancelled bool
}

// Failed reports whether any change failed.
func (r *ApplyResult) Failed() bool {
	return r.Summary.Failed > 0
}

// ApplyEvent represents a progress event during apply.
type ApplyEvent struct {
	Address  string
	Action   ir.Action
	Status   string // "started", "completed", "failed", "skipped"
	Duration time.Duration
	Error    error
}

// ApplyCallback is called for each apply event if set.
type ApplyCallback func(event ApplyEvent)

// Apply executes a plan. Independent changes run concurrently up to the
// engine's parallelism bound; a change never starts before all of its
// dependencies completed, and is skipped when any of them failed or was
// skipped. Cancellation stops dispatching new changes; in-flight provider
// calls finish and their results are committed before the run reports as
// cancelled.
func (e *Engine) Apply(ctx context.Context, plan *ir.Plan, state *ir.State, store StateCommitter) (*ApplyResult, error) {
	return e.ApplyWithCallback(ctx, plan, state, store, nil)
}

// ApplyWithCallback is Apply with progress event callbacks.
func (e *Engine) ApplyWithCallback(ctx context.Context, plan *ir.Plan, state *ir.State, store StateCommitter, callback ApplyCallback) (*ApplyResult, error) {
	emit := func(event ApplyEvent) {
		if callback != nil {
			callback(event)
		}
	}

	// A plan may arrive without a prior CreatePlan on this engine, e.g.
	// one read back from a file, so the providers it needs are loaded here.
	for _, change := range plan.Changes {
		name := changeProvider(change)
		if name == "" {
			continue
		}
		if err := e.registry.Load(name); err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", name, err)
		}
	}

	run := &applyRun{
		engine:    e,
		store:     store,
		records:   make(map[string]*ir.ResourceRecord, len(state.Resources)),
		statuses:  make(map[string]OutcomeStatus, len(plan.Changes)),
		errs:      make(map[string]error),
		durations: make(map[string]time.Duration, len(plan.Changes)),
		deps:      make(map[string][]string, len(plan.Changes)),
	}
	run.cond = sync.NewCond(&run.mu)
	for _, rec := range state.Resources {
		run.records[rec.Address()] = rec
	}

	// DependsOn is already restricted to changes present in the plan.
	for _, change := range plan.Changes {
		run.deps[change.Address] = change.DependsOn
	}

	parallelism := e.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	sem := make(chan struct{}, parallelism)

	var wg sync.WaitGroup
	for _, change := range plan.Changes {
		wg.Add(1)
		go func(c *ir.Change) {
			defer wg.Done()
			run.execute(ctx, c, sem, emit)
		}(change)
	}
	wg.Wait()

	result := &ApplyResult{Cancelled: run.cancelled}
	result.Summary.NoOp = plan.Summary.NoOp
	var errs []error
	for _, change := range plan.Changes {
		outcome := &ResourceOutcome{
			Address:  change.Address,
			Action:   change.Action,
			Status:   run.statuses[change.Address],
			Err:      run.errs[change.Address],
			Duration: run.durations[change.Address],
		}
		result.Outcomes = append(result.Outcomes, outcome)

		switch outcome.Status {
		case StatusFailed:
			result.Summary.Failed++
			errs = append(errs, outcome.Err)
		case StatusSkipped:
			result.Summary.Skipped++
		case StatusApplied:
			switch change.Action {
			case ir.ActionCreate:
				result.Summary.Created++
			case ir.ActionUpdate:
				result.Summary.Updated++
			case ir.ActionReplace:
				result.Summary.Replaced++
			case ir.ActionDestroy:
				result.Summary.Destroyed++
			case ir.ActionRead:
				result.Summary.Refreshed++
			}
		}
	}

	if len(errs) > 0 {
		return result, fmt.Errorf("%d resource(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return result, nil
}

// applyRun holds the shared mutable bookkeeping of one apply run. All of
// it is guarded by mu; provider calls happen outside the lock.
type applyRun struct {
	engine *Engine
	store  StateCommitter

	mu        sync.Mutex
	cond      *sync.Cond
	records   map[string]*ir.ResourceRecord
	statuses  map[string]OutcomeStatus
	errs      map[string]error
	durations map[string]time.Duration
	deps      map[string][]string
	cancelled bool
}

func (r *applyRun) execute(ctx context.Context, change *ir.Change, sem chan struct{}, emit func(ApplyEvent)) {
	// Wait for dependencies; a failed or skipped dependency poisons the
	// whole dependent subtree.
	r.mu.Lock()
	for {
		if ctx.Err() != nil {
			r.cancelled = true
			r.finishLocked(change, StatusSkipped, ctx.Err(), 0)
			r.mu.Unlock()
			emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "skipped", Error: ctx.Err()})
			return
		}

		ready := true
		for _, dep := range r.deps[change.Address] {
			switch r.statuses[dep] {
			case StatusFailed, StatusSkipped:
				r.finishLocked(change, StatusSkipped, nil, 0)
				r.mu.Unlock()
				emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "skipped"})
				return
			case StatusApplied:
				// done
			default:
				ready = false
			}
		}
		if ready {
			break
		}
		r.cond.Wait()
	}
	r.mu.Unlock()

	sem <- struct{}{}
	defer func() { <-sem }()

	// Last dispatch gate: once cancellation is requested nothing new
	// starts, but whatever already started runs to completion below.
	if ctx.Err() != nil {
		r.mu.Lock()
		r.cancelled = true
		r.finishLocked(change, StatusSkipped, ctx.Err(), 0)
		r.mu.Unlock()
		emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "skipped", Error: ctx.Err()})
		return
	}

	start := time.Now()
	emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "started"})

	err := r.applyChange(ctx, change)
	duration := time.Since(start)

	r.mu.Lock()
	if err != nil {
		r.finishLocked(change, StatusFailed, err, duration)
	} else {
		r.finishLocked(change, StatusApplied, nil, duration)
	}
	r.mu.Unlock()

	if err != nil {
		emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "failed", Duration: duration, Error: err})
	} else {
		emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "completed", Duration: duration})
	}
}

func (r *applyRun) finishLocked(change *ir.Change, status OutcomeStatus, err error, d time.Duration) {
	r.statuses[change.Address] = status
	if err != nil {
		r.errs[change.Address] = err
	}
	r.durations[change.Address] = d
	r.cond.Broadcast()
}

// applyChange performs the provider operations for one change and commits
// the resulting record. The provider call context is detached from run
// cancellation: a change that started is allowed to finish and commit, so
// no completed remote operation is ever left unrecorded.
func (r *applyRun) applyChange(ctx context.Context, change *ir.Change) error {
	logging.Debug().Str("address", change.Address).Str("action", string(change.Action)).Msg("applying change")

	opCtx := context.WithoutCancel(ctx)
	opCtx, cancel := context.WithTimeout(opCtx, changeTimeout(change))
	defer cancel()

	provName := changeProvider(change)
	prov, err := r.engine.registry.Get(provName)
	if err != nil {
		return fmt.Errorf("provider not loaded: %s", provName)
	}
	policy := DefaultRetryPolicy()

	switch change.Action {
	case ir.ActionCreate:
		rec, err := r.create(opCtx, prov, policy, change)
		if err != nil {
			return err
		}
		return r.commit(opCtx, rec)

	case ir.ActionUpdate:
		desired := r.resolvedAttrs(change.Desired)
		var attrs ir.Attrs
		err := RetryWithBackoff(opCtx, policy, func() error {
			var opErr error
			attrs, opErr = prov.Update(opCtx, change.Desired.Type, change.Prior.ID, change.Prior.Attributes, desired)
			return opErr
		}, IsTransientError)
		if err != nil {
			return &ProviderError{Address: change.Address, Operation: "update", Err: err}
		}
		rec := r.newRecord(prov, change, change.Prior.ID, attrs)
		return r.commit(opCtx, rec)

	case ir.ActionReplace:
		if change.CreateBeforeDestroy {
			rec, err := r.create(opCtx, prov, policy, change)
			if err != nil {
				return err
			}
			// The successor is committed before the prior delete is
			// attempted: a failed delete must not leave a live object
			// missing from state.
			if err := r.commit(opCtx, rec); err != nil {
				return err
			}
			if err := r.delete(opCtx, prov, policy, change); err != nil {
				return fmt.Errorf("replacement committed, but the prior object %s was not deleted: %w", change.Prior.ID, err)
			}
			return nil
		}
		if err := r.delete(opCtx, prov, policy, change); err != nil {
			return err
		}
		if err := r.remove(opCtx, change.Address); err != nil {
			return err
		}
		rec, err := r.create(opCtx, prov, policy, change)
		if err != nil {
			return err
		}
		return r.commit(opCtx, rec)

	case ir.ActionDestroy:
		if err := r.delete(opCtx, prov, policy, change); err != nil {
			return err
		}
		return r.remove(opCtx, change.Address)

	case ir.ActionRead:
		// Refresh-detected drift: persist the live attributes.
		return r.commit(opCtx, change.Prior)

	default:
		return fmt.Errorf("unsupported change action: %s", change.Action)
	}
}

func (r *applyRun) create(ctx context.Context, prov provider.Provider, policy *RetryPolicy, change *ir.Change) (*ir.ResourceRecord, error) {
	desired := r.resolvedAttrs(change.Desired)
	var id string
	var attrs ir.Attrs
	err := RetryWithBackoff(ctx, policy, func() error {
		var opErr error
		id, attrs, opErr = prov.Create(ctx, change.Desired.Type, change.Desired.Name, desired)
		return opErr
	}, IsTransientError)
	if err != nil {
		return nil, &ProviderError{Address: change.Address, Operation: "create", Err: err}
	}
	return r.newRecord(prov, change, id, attrs), nil
}

func (r *applyRun) delete(ctx context.Context, prov provider.Provider, policy *RetryPolicy, change *ir.Change) error {
	prior := change.Prior
	err := RetryWithBackoff(ctx, policy, func() error {
		return prov.Delete(ctx, prior.Type, prior.ID, prior.Attributes)
	}, IsTransientError)
	if err != nil {
		return &ProviderError{Address: change.Address, Operation: "delete", Err: err}
	}
	return nil
}

func (r *applyRun) newRecord(prov provider.Provider, change *ir.Change, id string, attrs ir.Attrs) *ir.ResourceRecord {
	res := change.Desired
	schema := prov.Schema().ResourceSchemaFor(res.Type)
	return &ir.ResourceRecord{
		Type:          res.Type,
		Name:          res.Name,
		Provider:      res.Provider,
		ID:            id,
		Attributes:    attrs,
		Dependencies:  append([]string(nil), change.Dependencies...),
		SchemaVersion: schema.Version,
	}
}

// commit persists a record and publishes it to the in-run view other
// changes resolve references against.
func (r *applyRun) commit(ctx context.Context, rec *ir.ResourceRecord) error {
	if err := r.store.CommitResource(ctx, rec); err != nil {
		return err
	}
	r.mu.Lock()
	r.records[rec.Address()] = rec
	r.mu.Unlock()
	return nil
}

func (r *applyRun) remove(ctx context.Context, addr string) error {
	if err := r.store.RemoveResource(ctx, addr); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.records, addr)
	r.mu.Unlock()
	return nil
}

// resolvedAttrs substitutes ref:// references in desired attributes with
// live values from this run's record view.
func (r *applyRun) resolvedAttrs(res *ir.Resource) ir.Attrs {
	r.mu.Lock()
	defer r.mu.Unlock()
	return resolveAttrs(res.Attributes, r.records)
}

func changeTimeout(change *ir.Change) time.Duration {
	if change.Desired != nil && change.Desired.Timeout != "" {
		if d, err := time.ParseDuration(change.Desired.Timeout); err == nil && d > 0 {
			return d
		}
	}
	return DefaultTimeout
}

func changeProvider(change *ir.Change) string {
	if change.Desired != nil {
		return change.Desired.Provider
	}
	if change.Prior != nil {
		return change.Prior.Provider
	}
	return ""
}
