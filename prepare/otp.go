// Copyright 2023 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package prepare

import (
	"context"
	"errors"
	"sync"
)

// DefaultMaxDepth is used when Config.MaxDepth is zero.
const DefaultMaxDepth = 10_000

var (
	// ErrNoPrereqKinds is returned by New when the declared enumeration of
	// prerequisite kinds is empty; at least one kind is required.
	ErrNoPrereqKinds = errors.New("prepare: at least one prerequisite kind is required")
	// ErrAlreadyPrimed is returned by SetFinishedDependency when it is
	// called a second time, or after any task has been registered.
	ErrAlreadyPrimed = errors.New("prepare: finished dependency already set")
	// ErrNotPrimed is returned by RegisterTasks before SetFinishedDependency.
	ErrNotPrimed = errors.New("prepare: no finished dependency set yet")
	// ErrUnknownDependency is returned by RegisterTasks when a task's
	// dependency does not refer to a previously known task.
	ErrUnknownDependency = errors.New("prepare: task's dependency is not a known task")
	// ErrUnknownTask is returned by FinishPrereq for an unrecognized task id.
	ErrUnknownTask = errors.New("prepare: unknown task id")
	// ErrCancelled is returned by ReadyTasks when its context is done
	// before any task has been promoted.
	ErrCancelled = errors.New("prepare: operation cancelled")
)

type taskRecord[T any, Id comparable, P comparable] struct {
	task       T
	id         Id
	dependency Id
	depth      int
	ready      bool
	prereqs    *PrerequisiteSet[P]
}

// Config configures an OrderedTaskPreparation.
type Config[T any, Id comparable, P comparable] struct {
	// PrereqKinds enumerates every prerequisite kind a task may declare.
	// Must be non-empty.
	PrereqKinds []P
	// IDOf extracts a task's own identity.
	IDOf func(T) Id
	// DependencyOf extracts the id of the task this one depends on.
	DependencyOf func(T) Id
	// MaxDepth bounds how much history is retained behind the deepest
	// ready task before being pruned. Zero means DefaultMaxDepth.
	MaxDepth int
}

// OrderedTaskPreparation chains tasks by dependency and releases them, in
// an order consistent with the dependency DAG, once every declared
// prerequisite on a task is satisfied and its dependency is itself ready.
type OrderedTaskPreparation[T any, Id comparable, P comparable] struct {
	prereqKinds  []P
	idOf         func(T) Id
	dependencyOf func(T) Id
	maxDepth     int

	mu   sync.Mutex
	cond *sync.Cond

	primed   bool
	anyTasks bool

	tasks      map[Id]*taskRecord[T, Id, P]
	dependents map[Id][]Id
	depthIndex map[int][]Id

	oldestTrackedDepth int
	maxReadyDepth      int

	pending []T
}

// New constructs an OrderedTaskPreparation. cfg.PrereqKinds must be
// non-empty.
func New[T any, Id comparable, P comparable](cfg Config[T, Id, P]) (*OrderedTaskPreparation[T, Id, P], error) {
	if len(cfg.PrereqKinds) == 0 {
		return nil, ErrNoPrereqKinds
	}
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	o := &OrderedTaskPreparation[T, Id, P]{
		prereqKinds:  append([]P{}, cfg.PrereqKinds...),
		idOf:         cfg.IDOf,
		dependencyOf: cfg.DependencyOf,
		maxDepth:     maxDepth,
		tasks:        make(map[Id]*taskRecord[T, Id, P]),
		dependents:   make(map[Id][]Id),
		depthIndex:   make(map[int][]Id),
	}
	o.cond = sync.NewCond(&o.mu)
	return o, nil
}

// SetFinishedDependency seeds the structure with the one task that is
// already fully ready; it roots the dependency DAG at depth 0. Permitted
// exactly once, and only before any RegisterTasks call.
func (o *OrderedTaskPreparation[T, Id, P]) SetFinishedDependency(seed T) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.primed || o.anyTasks {
		return ErrAlreadyPrimed
	}
	id := o.idOf(seed)
	prereqs := NewPrerequisiteSet(o.prereqKinds)
	prereqs.SetComplete()
	rec := &taskRecord[T, Id, P]{task: seed, id: id, depth: 0, ready: true, prereqs: prereqs}
	o.tasks[id] = rec
	o.depthIndex[0] = append(o.depthIndex[0], id)
	o.primed = true
	o.maxReadyDepth = 0
	return nil
}

// RegisterTasks adds tasks as not-yet-ready descendants of their declared
// dependency, which must already be known (ready or not).
func (o *OrderedTaskPreparation[T, Id, P]) RegisterTasks(tasks []T) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.primed {
		return ErrNotPrimed
	}
	for _, t := range tasks {
		depID := o.dependencyOf(t)
		parent, ok := o.tasks[depID]
		if !ok {
			return ErrUnknownDependency
		}
		id := o.idOf(t)
		rec := &taskRecord[T, Id, P]{
			task:       t,
			id:         id,
			dependency: depID,
			depth:      parent.depth + 1,
			prereqs:    NewPrerequisiteSet(o.prereqKinds),
		}
		o.tasks[id] = rec
		o.depthIndex[rec.depth] = append(o.depthIndex[rec.depth], id)
		o.dependents[depID] = append(o.dependents[depID], id)
	}
	o.anyTasks = o.anyTasks || len(tasks) > 0
	return nil
}

// FinishPrereq marks kind complete on each listed task. A task whose
// prerequisites are now all complete and whose dependency is already
// READY is promoted; promotion cascades breadth-first to dependents that
// were only waiting on this task's readiness.
func (o *OrderedTaskPreparation[T, Id, P]) FinishPrereq(kind P, tasks []T) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var toPromote []Id
	for _, t := range tasks {
		id := o.idOf(t)
		rec, ok := o.tasks[id]
		if !ok {
			return ErrUnknownTask
		}
		if err := rec.prereqs.Finish(kind); err != nil {
			return err
		}
		if !rec.ready && rec.prereqs.IsComplete() && o.dependencyReady(rec) {
			toPromote = append(toPromote, id)
		}
	}
	for _, id := range toPromote {
		o.promote(id)
	}
	if len(o.pending) > 0 {
		o.cond.Broadcast()
	}
	return nil
}

func (o *OrderedTaskPreparation[T, Id, P]) dependencyReady(rec *taskRecord[T, Id, P]) bool {
	dep, ok := o.tasks[rec.dependency]
	return ok && dep.ready
}

// promote marks id and, transitively, its breadth-first cascade of
// dependents as ready, appending each to the pending-emission queue in
// promotion order. Caller must hold o.mu.
func (o *OrderedTaskPreparation[T, Id, P]) promote(id Id) {
	queue := []Id{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		rec, ok := o.tasks[cur]
		if !ok || rec.ready {
			continue
		}
		rec.ready = true
		o.pending = append(o.pending, rec.task)
		if rec.depth > o.maxReadyDepth {
			o.maxReadyDepth = rec.depth
		}

		for _, childID := range o.dependents[cur] {
			child, ok := o.tasks[childID]
			if ok && !child.ready && child.prereqs.IsComplete() {
				queue = append(queue, childID)
			}
		}
	}
	o.prune()
}

// prune drops task records at depths that can no longer be reached as the
// dependency of an unready task, bounding memory behind the deepest ready
// task by maxDepth. Caller must hold o.mu.
func (o *OrderedTaskPreparation[T, Id, P]) prune() {
	threshold := o.maxReadyDepth - o.maxDepth
	if threshold < o.oldestTrackedDepth {
		return
	}

	protected := make(map[Id]struct{})
	for _, rec := range o.tasks {
		if !rec.ready {
			protected[rec.dependency] = struct{}{}
		}
	}

	for d := o.oldestTrackedDepth; d <= threshold; d++ {
		for _, id := range o.depthIndex[d] {
			if _, isProtected := protected[id]; isProtected {
				panic("prepare: pruning invariant violated: task still referenced as a dependency of an unready task")
			}
			delete(o.tasks, id)
			delete(o.dependents, id)
		}
		delete(o.depthIndex, d)
	}
	o.oldestTrackedDepth = threshold + 1
}

// ReadyTasks suspends until at least one task has been promoted since the
// last drain, then returns every currently pending task in promotion
// order.
func (o *OrderedTaskPreparation[T, Id, P]) ReadyTasks(ctx context.Context) ([]T, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				o.mu.Lock()
				o.cond.Broadcast()
				o.mu.Unlock()
			case <-done:
			}
		}()
	}

	for len(o.pending) == 0 {
		if ctxErr(ctx) != nil {
			return nil, ErrCancelled
		}
		o.cond.Wait()
	}
	if ctxErr(ctx) != nil {
		return nil, ErrCancelled
	}
	out := o.pending
	o.pending = nil
	return out, nil
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}

// Tasks returns the ids of every task still tracked (ready or not),
// for observability and testing; it reflects pruning.
func (o *OrderedTaskPreparation[T, Id, P]) Tasks() []Id {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]Id, 0, len(o.tasks))
	for id := range o.tasks {
		ids = append(ids, id)
	}
	return ids
}
