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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/lightclient/syncore/lightheader"
	"github.com/lightclient/syncore/log"
	"github.com/lightclient/syncore/p2p/cancel"
	"github.com/lightclient/syncore/p2p/rrm"
)

// mockPeer answers every GetBlockHeaders-shaped request for the single
// parent-child hop its HeaderRange names, looking the child up in a
// shared, in-memory header set keyed by hash.
type mockPeer struct {
	id      string
	headers map[string]*lightheader.Header
	inbound chan rrm.PeerMessage
}

func newMockPeer(headers map[string]*lightheader.Header) *mockPeer {
	return &mockPeer{id: uuid.New().String(), headers: headers, inbound: make(chan rrm.PeerMessage, 8)}
}

func (p *mockPeer) Send(ctx context.Context, req any) error {
	r := req.(HeaderRange)
	h, ok := p.headers[r.ToHash]
	if !ok {
		return fmt.Errorf("mockPeer: unknown header %s", r.ToHash)
	}
	go func() {
		p.inbound <- rrm.PeerMessage{PeerID: p.id, Type: "BlockHeaders", Body: []*lightheader.Header{h}}
	}()
	return nil
}

func (p *mockPeer) Subscribe(maxsize int, msgTypes ...string) (<-chan rrm.PeerMessage, func()) {
	return p.inbound, func() {}
}

func (p *mockPeer) Disconnect(reason string) {}
func (p *mockPeer) IsOperational() bool      { return true }
func (p *mockPeer) ID() string               { return p.id }

type memHeaderDB struct {
	mu      sync.Mutex
	head    *lightheader.Header
	written []*lightheader.Header
}

func newMemHeaderDB(genesis *lightheader.Header) *memHeaderDB {
	return &memHeaderDB{head: genesis}
}

func (db *memHeaderDB) PersistChain(ctx context.Context, headers []*lightheader.Header) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.written = append(db.written, headers...)
	if len(headers) > 0 {
		db.head = headers[len(headers)-1]
	}
	return nil
}

func (db *memHeaderDB) CanonicalHead(ctx context.Context) (*lightheader.Header, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.head, nil
}

func (db *memHeaderDB) writtenCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.written)
}

func num(n uint64) *uint256.Int { return uint256.NewInt(n) }

// TestHeaderSyncLoopPersistsChainInOrder drives a genesis plus a three-link
// chain through one peer and asserts every header is eventually persisted,
// in ancestor-before-descendant order.
func TestHeaderSyncLoopPersistsChainInOrder(t *testing.T) {
	g := &lightheader.Header{Hash: "G", Number: num(0)}
	h1 := &lightheader.Header{Hash: "H1", ParentHash: "G", Number: num(1)}
	h2 := &lightheader.Header{Hash: "H2", ParentHash: "H1", Number: num(2)}
	h3 := &lightheader.Header{Hash: "H3", ParentHash: "H2", Number: num(3)}

	all := map[string]*lightheader.Header{"H1": h1, "H2": h2, "H3": h3}
	peer := newMockPeer(all)
	db := newMemHeaderDB(g)
	token := cancel.New()

	loop, err := New(g, db, []Peer{peer}, token, log.Discard(), NewRealClock(), Config{QueueMaxSize: 0, OTPMaxDepth: 0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	runDone := make(chan error, 1)
	go func() { runDone <- loop.Run(context.Background()) }()

	ctx := context.Background()
	if err := loop.TipMonitor().ObserveHead(ctx, "G", "H1"); err != nil {
		t.Fatalf("ObserveHead H1: %v", err)
	}
	if err := loop.TipMonitor().ObserveHead(ctx, "H1", "H2"); err != nil {
		t.Fatalf("ObserveHead H2: %v", err)
	}
	if err := loop.TipMonitor().ObserveHead(ctx, "H2", "H3"); err != nil {
		t.Fatalf("ObserveHead H3: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for db.writtenCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d of 3 headers persisted before deadline", db.writtenCount())
		case <-time.After(10 * time.Millisecond):
		}
	}

	token.Trigger()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run never returned after cancellation")
	}

	head, err := db.CanonicalHead(context.Background())
	if err != nil {
		t.Fatalf("CanonicalHead: %v", err)
	}
	if head.Hash != "H3" {
		t.Fatalf("CanonicalHead = %s, want H3", head.Hash)
	}

	db.mu.Lock()
	written := append([]*lightheader.Header(nil), db.written...)
	db.mu.Unlock()
	want := []*lightheader.Header{h1, h2, h3}
	if len(written) != len(want) {
		t.Fatalf("persisted %d headers, want %d", len(written), len(want))
	}
	for i := range want {
		if written[i] != want[i] {
			t.Fatalf("persisted header %d = %s, want %s", i, written[i].Hash, want[i].Hash)
		}
	}
}
