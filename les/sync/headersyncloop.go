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
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/lightclient/syncore/lightheader"
	"github.com/lightclient/syncore/p2p/cancel"
	"github.com/lightclient/syncore/p2p/rrm"
	"github.com/lightclient/syncore/prepare"
	"github.com/lightclient/syncore/taskqueue"
)

// PrereqKind enumerates OrderedTaskPreparation's declared prerequisite
// kinds for header sync. There is exactly one: a header counts as ready
// once the header itself has been received from a peer.
type PrereqKind int

// HeadersReceived is the sole prerequisite kind headers in this loop
// declare.
const HeadersReceived PrereqKind = iota

// HeaderSyncLoop composes a TipMonitor, a PrioritizedTaskQueue of
// HeaderRange fetch work, a per-peer RequestResponseManager, an
// OrderedTaskPreparation keyed by header hash whose dependency is the
// parent hash, and a persister.
type HeaderSyncLoop struct {
	queue  *taskqueue.Queue[HeaderRange, string, int]
	otp    *prepare.OrderedTaskPreparation[*lightheader.Header, string, PrereqKind]
	tip    *TipMonitor
	db     PersistentHeaderDB
	peers  []Peer
	token  *cancel.Token
	logger Logger
	clock  Clock
}

// Config configures a HeaderSyncLoop.
type Config struct {
	QueueMaxSize int
	OTPMaxDepth  int
}

// New constructs a HeaderSyncLoop seeded at genesis (the one header known
// to require no fetch), fetching headers from peers through a
// RequestResponseManager per peer and persisting through db.
func New(genesis *lightheader.Header, db PersistentHeaderDB, peers []Peer, token *cancel.Token, logger Logger, clock Clock, cfg Config) (*HeaderSyncLoop, error) {
	queue := NewHeaderRangeQueue(cfg.QueueMaxSize)
	tip, err := NewTipMonitor(queue)
	if err != nil {
		return nil, err
	}

	otp, err := prepare.New(prepare.Config[*lightheader.Header, string, PrereqKind]{
		PrereqKinds:  []PrereqKind{HeadersReceived},
		IDOf:         func(h *lightheader.Header) string { return h.Hash },
		DependencyOf: func(h *lightheader.Header) string { return h.ParentHash },
		MaxDepth:     cfg.OTPMaxDepth,
	})
	if err != nil {
		return nil, err
	}
	if err := otp.SetFinishedDependency(genesis); err != nil {
		return nil, err
	}

	return &HeaderSyncLoop{
		queue:  queue,
		otp:    otp,
		tip:    tip,
		db:     db,
		peers:  peers,
		token:  token,
		logger: logger.New("component", "sync.HeaderSyncLoop"),
		clock:  clock,
	}, nil
}

// TipMonitor exposes the loop's tip monitor so peer handlers can feed it
// observed heads.
func (l *HeaderSyncLoop) TipMonitor() *TipMonitor { return l.tip }

// Run fans out one worker goroutine per peer plus the persister goroutine
// under an errgroup.Group bound to the loop's token, returning once every
// goroutine has exited (normally only via cancellation or a peer
// permanently failing).
func (l *HeaderSyncLoop) Run(ctx context.Context) error {
	boundCtx, cancelBound := context.WithCancel(ctx)
	defer cancelBound()
	go func() {
		select {
		case <-l.token.Done():
			cancelBound()
		case <-boundCtx.Done():
		}
	}()

	eg, egCtx := errgroup.WithContext(boundCtx)
	for _, p := range l.peers {
		p := p
		eg.Go(func() error { return l.workerLoop(egCtx, p) })
	}
	eg.Go(func() error { return l.persistLoop(egCtx) })
	return eg.Wait()
}

func (l *HeaderSyncLoop) workerLoop(ctx context.Context, peer Peer) error {
	manager := rrm.New[HeaderRange, []*lightheader.Header](peer, "BlockHeaders", validateBlockHeaders, rrm.Config{})

	for {
		one := 1
		batchID, tasks, err := l.queue.Get(ctx, &one)
		if err != nil {
			return err
		}
		r := tasks[0]

		headers, fetchErr := manager.Call(ctx, r)
		if fetchErr != nil {
			l.logger.Warn("header fetch failed, abandoning for retry", "peer", peer.ID(), "to", r.ToHash, "err", fetchErr)
			if err := l.queue.Complete(batchID, nil); err != nil {
				return err
			}
			continue
		}

		if err := l.otp.RegisterTasks(headers); err != nil {
			l.logger.Error("failed to register fetched headers", "err", err)
			if err := l.queue.Complete(batchID, nil); err != nil {
				return err
			}
			continue
		}
		if err := l.otp.FinishPrereq(HeadersReceived, headers); err != nil {
			l.logger.Error("failed to mark headers received", "err", err)
		}
		if err := l.queue.Complete(batchID, []HeaderRange{r}); err != nil {
			return err
		}
	}
}

func validateBlockHeaders(req HeaderRange, body any) ([]*lightheader.Header, error) {
	headers, ok := body.([]*lightheader.Header)
	if !ok {
		return nil, errors.New("sync: BlockHeaders body is not []*lightheader.Header")
	}
	return headers, nil
}

func (l *HeaderSyncLoop) persistLoop(ctx context.Context) error {
	for {
		ready, err := l.otp.ReadyTasks(ctx)
		if err != nil {
			return err
		}
		start := l.clock.Now()
		if err := l.db.PersistChain(ctx, ready); err != nil {
			return fmt.Errorf("sync: persist chain: %w", err)
		}
		head, err := l.db.CanonicalHead(ctx)
		if err != nil {
			return fmt.Errorf("sync: read canonical head: %w", err)
		}
		l.logger.Info("persisted headers", "count", len(ready), "elapsed", l.clock.Now()-start, "head", head.Hash)
	}
}
