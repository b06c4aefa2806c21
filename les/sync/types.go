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

// Package sync composes taskqueue, prepare and rrm into a header
// synchronization loop: a tip monitor feeds candidate ranges into a
// PrioritizedTaskQueue, workers fetch headers per peer through a
// RequestResponseManager each, and a persister drains the dependency
// tracker's ready stream into an external header database.
package sync

import (
	"context"
	"time"

	"github.com/lightclient/syncore/lightheader"
	"github.com/lightclient/syncore/log"
	"github.com/lightclient/syncore/p2p/rrm"
)

// PersistentHeaderDB is the external collaborator headers are written to.
// Both methods may block.
type PersistentHeaderDB interface {
	PersistChain(ctx context.Context, headers []*lightheader.Header) error
	CanonicalHead(ctx context.Context) (*lightheader.Header, error)
}

// Peer is the connection abstraction this package consumes; it satisfies
// rrm.Peer (Send/Subscribe/ID) plus the lifecycle bits the sync loop itself
// needs (Disconnect/IsOperational).
type Peer interface {
	Send(ctx context.Context, req any) error
	Subscribe(maxsize int, msgTypes ...string) (<-chan rrm.PeerMessage, func())
	Disconnect(reason string)
	IsOperational() bool
	ID() string
}

// Clock supplies monotonic time for timeouts; no wall-clock dependency.
type Clock interface {
	Now() time.Duration
}

// Logger is the structured key-value sink this package logs through. It is
// satisfied by log.Logger directly.
type Logger = log.Logger

// realClock reports elapsed time since it was constructed via time.Since,
// satisfying Clock without exposing wall-clock reads to callers.
type realClock struct{ start time.Time }

// NewRealClock returns a Clock backed by the monotonic reading
// time.Now() provides.
func NewRealClock() Clock { return realClock{start: time.Now()} }

func (c realClock) Now() time.Duration { return time.Since(c.start) }
