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

package sync

import (
	"context"
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/lightclient/syncore/taskqueue"
)

// HeaderRange describes a span of headers to fetch: from the caller's
// current canonical head down to a newly observed candidate head.
type HeaderRange struct {
	FromHash string
	ToHash   string
	seq      int
}

const recentHeadsCacheSize = 256

// TipMonitor turns peer head announcements into HeaderRange tasks on a
// PrioritizedTaskQueue, deduplicating against recently offered heads.
//
// ObserveHead (driven by inbound peer announcements) and GuessCandidate
// (driven by a caller wanting the best currently known candidate) race in
// the Python original this is grounded on; this implementation serializes
// both under a single mutex rather than snapshotting and reapplying, so a
// guess never observes a head that is only half-recorded.
type TipMonitor struct {
	queue *taskqueue.Queue[HeaderRange, string, int]

	mu        sync.Mutex
	recent    *lru.Cache
	candidate string
	nextSeq   int
}

// NewTipMonitor constructs a TipMonitor that enqueues HeaderRange tasks
// into queue.
func NewTipMonitor(queue *taskqueue.Queue[HeaderRange, string, int]) (*TipMonitor, error) {
	cache, err := lru.New(recentHeadsCacheSize)
	if err != nil {
		return nil, err
	}
	return &TipMonitor{queue: queue, recent: cache}, nil
}

// ObserveHead records a peer's announced head and, if it has not recently
// been offered, enqueues a HeaderRange task to fetch it.
func (m *TipMonitor) ObserveHead(ctx context.Context, fromHash, toHash string) error {
	m.mu.Lock()
	if m.recent.Contains(toHash) {
		m.mu.Unlock()
		return nil
	}
	m.recent.Add(toHash, struct{}{})
	m.candidate = toHash
	seq := m.nextSeq
	m.nextSeq++
	m.mu.Unlock()

	err := m.queue.Add(ctx, []HeaderRange{{FromHash: fromHash, ToHash: toHash, seq: seq}})
	if errors.Is(err, taskqueue.ErrDuplicateTask) {
		return nil
	}
	return err
}

// GuessCandidate returns the most recently observed candidate head hash,
// or false if none has been observed yet. It is serialized against
// ObserveHead by the same mutex.
func (m *TipMonitor) GuessCandidate() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.candidate, m.candidate != ""
}

func headerRangeID(r HeaderRange) string { return r.ToHash }
func headerRangeKey(r HeaderRange) int   { return r.seq }
func headerRangeLess(a, b int) bool      { return a < b }

// NewHeaderRangeQueue constructs the PrioritizedTaskQueue a TipMonitor
// feeds: priority is admission order, so earlier-observed candidate heads
// are fetched first.
func NewHeaderRangeQueue(maxSize int) *taskqueue.Queue[HeaderRange, string, int] {
	return taskqueue.New[HeaderRange, string, int](headerRangeID, taskqueue.Config[HeaderRange, int]{
		MaxSize: maxSize,
		OrderFn: headerRangeKey,
		Less:    headerRangeLess,
	})
}
