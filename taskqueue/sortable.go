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

// Package taskqueue implements a bounded, priority-ordered task queue that
// decouples producers enqueueing work from a pool of consumers that check
// batches out, process them, and acknowledge completion explicitly.
//
// A task's priority key is derived once by an order function and its
// comparator, bound at construction of a sortableTaskFactory; every wrapped
// task shares that one ordering discipline as a plain closure rather than a
// type manufactured per call site.
package taskqueue

import "errors"

// ErrInvalidOrdering is returned when an order function produces a key
// that does not compare reflexively to itself: k == k must hold, and
// neither k < k nor k > k may.
var ErrInvalidOrdering = errors.New("taskqueue: order function produced a key that does not compare validly to itself")

// sortableItem pairs a task with its precomputed priority key and the
// sequence number it was admitted with, so that equal-priority tasks keep
// FIFO order. Ordering and equality both delegate to the key; seq is only
// consulted to break ties.
type sortableItem[T any, K comparable] struct {
	task T
	key  K
	seq  uint64
}

// sortableTaskFactory binds an order function and its comparator once,
// then wraps tasks of type T into sortableItems, validating reflexivity of
// the produced key on every call.
type sortableTaskFactory[T any, K comparable] struct {
	orderFn func(T) K
	less    func(a, b K) bool
}

func newSortableTaskFactory[T any, K comparable](orderFn func(T) K, less func(a, b K) bool) sortableTaskFactory[T, K] {
	return sortableTaskFactory[T, K]{orderFn: orderFn, less: less}
}

func (f sortableTaskFactory[T, K]) wrap(task T, seq uint64) (sortableItem[T, K], error) {
	key := f.orderFn(task)
	if f.less(key, key) || key != key {
		return sortableItem[T, K]{}, ErrInvalidOrdering
	}
	return sortableItem[T, K]{task: task, key: key, seq: seq}, nil
}
