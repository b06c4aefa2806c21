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

// Package rrm implements a per-peer, per-message-class request/response
// manager: send one request, await its matching response with a timeout,
// and reject a second concurrent request outright rather than queue it.
package rrm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lightclient/syncore/log"
)

var (
	// ErrAlreadyWaiting is returned by Call when a request is already in
	// flight for this Manager.
	ErrAlreadyWaiting = errors.New("rrm: a request is already pending")
	// ErrTimeout is returned by Call when no valid response arrives within
	// Config.ResponseTimeout.
	ErrTimeout = errors.New("rrm: timed out waiting for response")
	// ErrCancelled is returned by Call when ctx is done before a response
	// arrives.
	ErrCancelled = errors.New("rrm: operation cancelled")
)

// PeerMessage is one inbound message observed on a peer's subscribed
// stream, tagged with the sender so unexpected-peer traffic can be
// filtered before it reaches Validate.
type PeerMessage struct {
	PeerID string
	Type   string
	Body   any
}

// Peer is the narrow subset of a connection a Manager needs: send a
// request, and subscribe to inbound messages of given types. maxsize bounds
// how many unconsumed messages the returned channel may buffer before the
// peer's delivery machinery must apply its own backpressure.
type Peer interface {
	Send(ctx context.Context, req any) error
	Subscribe(maxsize int, msgTypes ...string) (<-chan PeerMessage, func())
	ID() string
}

// Config configures a Manager.
type Config struct {
	// ResponseTimeout bounds how long Call waits for a valid response.
	// Zero means 60 seconds.
	ResponseTimeout time.Duration
	// MsgQueueMaxsize bounds how many unconsumed inbound messages the
	// subscription's channel may buffer. Zero means 100.
	MsgQueueMaxsize int
}

const (
	defaultResponseTimeout = 60 * time.Second
	defaultMsgQueueMaxsize = 100
)

// Validator normalizes and validates a raw response body against the
// originating request, returning the normalized Resp on success or an
// error describing why the message does not match (logged, not fatal: the
// response stays pending for a later message).
type Validator[Req, Resp any] func(req Req, body any) (Resp, error)

// Manager is a single-request-in-flight request/response pattern bound to
// one peer and one response message type.
type Manager[Req, Resp any] struct {
	peer        Peer
	respMsgType string
	validate    Validator[Req, Resp]
	cfg         Config
	logger      log.Logger

	mu      sync.Mutex
	pending bool
}

// New constructs a Manager that sends requests to peer and awaits messages
// of respMsgType on its subscribed stream, validated by validate.
func New[Req, Resp any](peer Peer, respMsgType string, validate Validator[Req, Resp], cfg Config) *Manager[Req, Resp] {
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = defaultResponseTimeout
	}
	if cfg.MsgQueueMaxsize <= 0 {
		cfg.MsgQueueMaxsize = defaultMsgQueueMaxsize
	}
	return &Manager[Req, Resp]{
		peer:        peer,
		respMsgType: respMsgType,
		validate:    validate,
		cfg:         cfg,
		logger:      log.Root().New("component", "rrm.Manager", "peer", peer.ID()),
	}
}

// Call sends req and awaits a validated response. At most one Call may be
// in flight at a time; a concurrent second Call fails immediately with
// ErrAlreadyWaiting without affecting the first.
func (m *Manager[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	var zero Resp

	m.mu.Lock()
	if m.pending {
		m.mu.Unlock()
		return zero, ErrAlreadyWaiting
	}
	m.pending = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.pending = false
		m.mu.Unlock()
	}()

	msgs, unsubscribe := m.peer.Subscribe(m.cfg.MsgQueueMaxsize, m.respMsgType)
	defer unsubscribe()

	if err := m.peer.Send(ctx, req); err != nil {
		return zero, err
	}

	deadline := time.NewTimer(m.cfg.ResponseTimeout)
	defer deadline.Stop()

	for {
		select {
		case pm := <-msgs:
			if pm.PeerID != m.peer.ID() {
				m.logger.Error("ignoring message from unexpected peer", "from", pm.PeerID, "want", m.peer.ID())
				continue
			}
			if pm.Type != m.respMsgType {
				m.logger.Warn("dropping unexpected message type", "type", pm.Type, "want", m.respMsgType)
				continue
			}
			resp, err := m.validate(req, pm.Body)
			if err != nil {
				m.logger.Warn("response failed validation, still waiting", "err", err)
				continue
			}
			return resp, nil
		case <-deadline.C:
			return zero, ErrTimeout
		case <-ctx.Done():
			return zero, ErrCancelled
		}
	}
}
