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

package taskqueue

import (
	"container/heap"
	"context"
	"errors"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// Sentinel errors a consumer or producer of a Queue may see. Contract
// violations (Duplicate/UnknownBatch/UnknownTasks) propagate unchanged;
// Empty is transient and recoverable by retrying or polling elsewhere.
var (
	ErrDuplicateTask = errors.New("taskqueue: one or more tasks are already present in the queue")
	ErrUnknownBatch  = errors.New("taskqueue: batch id not recognized")
	ErrUnknownTasks  = errors.New("taskqueue: completed tasks were not part of the batch")
	ErrEmpty         = errors.New("taskqueue: no tasks are available")
	ErrCancelled     = errors.New("taskqueue: operation cancelled")
)

// heapSlice adapts sortableItem to container/heap. Lower keys pop first;
// equal keys pop in admission order (seq ascending).
type heapSlice[T any, K comparable] struct {
	items []sortableItem[T, K]
	less  func(a, b K) bool
}

func (h *heapSlice[T, K]) Len() int { return len(h.items) }

func (h *heapSlice[T, K]) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.key == b.key {
		return a.seq < b.seq
	}
	return h.less(a.key, b.key)
}

func (h *heapSlice[T, K]) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *heapSlice[T, K]) Push(x any) { h.items = append(h.items, x.(sortableItem[T, K])) }

func (h *heapSlice[T, K]) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// Config configures a Queue.
type Config[T any, K comparable] struct {
	// MaxSize bounds how many tasks may be PRESENT (admitted but not yet
	// completed) at once. Zero means unbounded: Add never suspends.
	MaxSize int
	// OrderFn extracts the priority key used to order tasks; ties are
	// broken by insertion order.
	OrderFn func(T) K
	// Less reports whether a sorts before b. For a totally ordered
	// built-in K, cmp.Less (a < b) is the usual choice.
	Less func(a, b K) bool
}

// Queue is a bounded, priority-ordered, multi-producer/multi-consumer task
// queue. Add blocks producers once MaxSize tasks are PRESENT; Get/GetNowait
// check batches out; Complete acknowledges some or all of a batch,
// abandoning the rest back into the open pool at their original priority.
type Queue[T any, Id comparable, K comparable] struct {
	mu   sync.Mutex
	cond *sync.Cond

	maxSize int
	idFn    func(T) Id
	factory sortableTaskFactory[T, K]

	open       heapSlice[T, K]
	present    mapset.Set[Id]
	inProgress map[uint64][]T

	nextSeq     uint64
	nextBatchID uint64
}

// New constructs a Queue. idFn extracts the identity used for duplicate
// detection and batch bookkeeping; cfg.OrderFn/cfg.Less establish the
// priority order, bound once as required by SortableTask's
// bind-then-construct discipline.
func New[T any, Id comparable, K comparable](idFn func(T) Id, cfg Config[T, K]) *Queue[T, Id, K] {
	q := &Queue[T, Id, K]{
		maxSize:    cfg.MaxSize,
		idFn:       idFn,
		factory:    newSortableTaskFactory(cfg.OrderFn, cfg.Less),
		open:       heapSlice[T, K]{less: cfg.Less},
		present:    mapset.NewThreadUnsafeSet[Id](),
		inProgress: make(map[uint64][]T),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Len reports how many tasks are currently PRESENT: open plus in-flight.
func (q *Queue[T, Id, K]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.present.Cardinality()
}

// InProgressCount reports how many tasks are currently checked out in some
// in-flight batch.
func (q *Queue[T, Id, K]) InProgressCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, batch := range q.inProgress {
		n += len(batch)
	}
	return n
}

// Contains reports whether task is PRESENT (admitted and not yet
// completed), regardless of whether it is open or checked out.
func (q *Queue[T, Id, K]) Contains(task T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.present.Contains(q.idFn(task))
}

// Add admits tasks, suspending when the queue is full and resuming as
// completions free up room. It admits the highest-priority tasks first so
// that, if the queue saturates mid-call, those survive to be queued;
// Add returns only once every task has been admitted, or ctx is done, or a
// duplicate is detected up front (in which case nothing is admitted).
func (q *Queue[T, Id, K]) Add(ctx context.Context, tasks []T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range tasks {
		if q.present.Contains(q.idFn(t)) {
			return ErrDuplicateTask
		}
	}

	wrapped := make([]sortableItem[T, K], 0, len(tasks))
	for _, t := range tasks {
		item, err := q.factory.wrap(t, q.nextSeq)
		if err != nil {
			return err
		}
		q.nextSeq++
		wrapped = append(wrapped, item)
	}
	sortWrapped(wrapped, q.factory.less)

	// Watch ctx cancellation on a side goroutine so a blocked producer can
	// be woken; the goroutine exits once Add returns.
	done := make(chan struct{})
	defer close(done)
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}()
	}

	for len(wrapped) > 0 {
		if q.maxSize > 0 {
			for q.present.Cardinality() >= q.maxSize {
				if ctxErr(ctx) != nil {
					return ErrCancelled
				}
				q.cond.Wait()
			}
			if ctxErr(ctx) != nil {
				return ErrCancelled
			}
		}

		openSlots := len(wrapped)
		if q.maxSize > 0 {
			if room := q.maxSize - q.present.Cardinality(); room < openSlots {
				openSlots = room
			}
		}
		queueing := wrapped[:openSlots]
		wrapped = wrapped[openSlots:]

		for _, item := range queueing {
			heap.Push(&q.open, item)
			q.present.Add(q.idFn(item.task))
		}
	}
	return nil
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}

// sortWrapped orders items highest-priority first (i.e. descending), so
// that admitting prefix-first under backpressure keeps the most important
// tasks in the earliest-filled slots.
func sortWrapped[T any, K comparable](items []sortableItem[T, K], less func(a, b K) bool) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0; j-- {
			// descending: move items[j] left while it sorts before items[j-1]
			if less(items[j].key, items[j-1].key) {
				items[j], items[j-1] = items[j-1], items[j]
			} else {
				break
			}
		}
	}
}

// Get suspends until at least one task is available, then drains up to
// maxResults tasks in total without further suspension, returning a
// fresh batch id. A nil maxResults drains everything currently open.
func (q *Queue[T, Id, K]) Get(ctx context.Context, maxResults *int) (uint64, []T, error) {
	if maxResults != nil && *maxResults < 1 {
		return 0, nil, errors.New("taskqueue: max_results must be >= 1 when specified")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}()
	}

	for q.open.Len() == 0 {
		if ctxErr(ctx) != nil {
			return 0, nil, ErrCancelled
		}
		q.cond.Wait()
	}
	if ctxErr(ctx) != nil {
		return 0, nil, ErrCancelled
	}
	batchID, tasks := q.drainBatch(maxResults)
	return batchID, tasks, nil
}

// GetNowait behaves like Get but fails with ErrEmpty instead of
// suspending when nothing is available.
func (q *Queue[T, Id, K]) GetNowait(maxResults *int) (uint64, []T, error) {
	if maxResults != nil && *maxResults < 1 {
		return 0, nil, errors.New("taskqueue: max_results must be >= 1 when specified")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.open.Len() == 0 {
		return 0, nil, ErrEmpty
	}
	batchID, tasks := q.drainBatch(maxResults)
	return batchID, tasks, nil
}

// drainBatch pulls up to maxResults tasks (or all of them) off the open
// heap in priority order and records them as one in-flight batch. Caller
// must hold q.mu.
func (q *Queue[T, Id, K]) drainBatch(maxResults *int) (uint64, []T) {
	n := q.open.Len()
	if maxResults != nil && *maxResults < n {
		n = *maxResults
	}
	tasks := make([]T, 0, n)
	for i := 0; i < n; i++ {
		item := heap.Pop(&q.open).(sortableItem[T, K])
		tasks = append(tasks, item.task)
	}
	batchID := q.nextBatchID
	q.nextBatchID++
	q.inProgress[batchID] = tasks
	return batchID, tasks
}

// Complete acknowledges some or all of batchID as done. Tasks in the batch
// not listed in completed are abandoned: reinserted into the open pool at
// their original priority so a different consumer can retry them on the
// next Get. Freed room wakes any producer(s) blocked in Add.
func (q *Queue[T, Id, K]) Complete(batchID uint64, completed []T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	attempted, ok := q.inProgress[batchID]
	if !ok {
		return ErrUnknownBatch
	}

	attemptedSet := mapset.NewThreadUnsafeSet[Id]()
	for _, t := range attempted {
		attemptedSet.Add(q.idFn(t))
	}
	completedSet := mapset.NewThreadUnsafeSet[Id]()
	for _, t := range completed {
		completedSet.Add(q.idFn(t))
	}
	if !completedSet.IsSubset(attemptedSet) {
		return ErrUnknownTasks
	}

	delete(q.inProgress, batchID)

	for _, t := range attempted {
		id := q.idFn(t)
		if completedSet.Contains(id) {
			q.present.Remove(id)
			continue
		}
		// Abandoned: still present, goes back to the open pool.
		item, err := q.factory.wrap(t, q.nextSeq)
		if err != nil {
			// The task validated fine on Add; a failure here would mean
			// the order function became non-reflexive, which is a
			// programmer error in OrderFn, not a recoverable condition.
			panic(err)
		}
		q.nextSeq++
		heap.Push(&q.open, item)
	}

	q.cond.Broadcast()
	return nil
}
