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

// Package prepare implements OrderedTaskPreparation: a dependency tracker
// that releases tasks for sequential processing only once every declared
// prerequisite is satisfied and the task's own dependency has itself been
// released.
package prepare

import "errors"

var (
	// ErrUnknownPrereq is returned by PrerequisiteSet.Finish for a kind
	// that was never declared at construction.
	ErrUnknownPrereq = errors.New("prepare: unknown prerequisite kind")
	// ErrAlreadyFinished is returned by PrerequisiteSet.Finish when the
	// kind was already satisfied.
	ErrAlreadyFinished = errors.New("prepare: prerequisite kind already finished")
)

// PrerequisiteSet tracks, for a single task, which of a fixed declared set
// of prerequisite kinds have been satisfied.
type PrerequisiteSet[P comparable] struct {
	declared  map[P]struct{}
	satisfied map[P]struct{}
}

// NewPrerequisiteSet binds the declared prerequisite kinds for one task.
func NewPrerequisiteSet[P comparable](declared []P) *PrerequisiteSet[P] {
	d := make(map[P]struct{}, len(declared))
	for _, k := range declared {
		d[k] = struct{}{}
	}
	return &PrerequisiteSet[P]{declared: d, satisfied: make(map[P]struct{}, len(declared))}
}

// Finish marks kind as satisfied. It fails if kind was never declared, or
// was already satisfied.
func (s *PrerequisiteSet[P]) Finish(kind P) error {
	if _, ok := s.declared[kind]; !ok {
		return ErrUnknownPrereq
	}
	if _, ok := s.satisfied[kind]; ok {
		return ErrAlreadyFinished
	}
	s.satisfied[kind] = struct{}{}
	return nil
}

// IsComplete reports whether every declared kind has been satisfied.
func (s *PrerequisiteSet[P]) IsComplete() bool {
	return len(s.satisfied) == len(s.declared)
}

// SetComplete satisfies every remaining declared kind at once. Used to
// seed the finished dependency that roots an OrderedTaskPreparation.
func (s *PrerequisiteSet[P]) SetComplete() {
	for k := range s.declared {
		s.satisfied[k] = struct{}{}
	}
}
