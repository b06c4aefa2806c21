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

// Package cancel implements a cooperative cancellation signal that can be
// chained: a derived token fires when either its parent or itself is
// triggered. It wraps context.Context/context.CancelFunc, Go's own
// cooperative-cancellation primitive, rather than reinventing one.
package cancel

import (
	"context"
	"errors"
	"time"
)

// ErrCancelled is returned by WaitWith when a Token fires before the
// awaited future completes.
var ErrCancelled = errors.New("cancel: operation cancelled")

// Token is a cooperative cancellation signal, safe for concurrent use.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Token with no parent.
func New() *Token {
	ctx, cancel := context.WithCancel(context.Background())
	return &Token{ctx: ctx, cancel: cancel}
}

// Trigger fires the token. Idempotent.
func (t *Token) Trigger() {
	t.cancel()
}

// Triggered reports whether the token has fired.
func (t *Token) Triggered() bool {
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

// Done returns a channel closed once the token fires, for use in select
// statements alongside other channels.
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Context exposes the token as a context.Context, for APIs that accept one
// directly instead of going through WaitWith.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Chain produces a new Token that fires when either t or other fires. The
// chained token's lifetime is the max of its parent's and its own: Trigger
// on the chained token alone does not affect t or other.
func (t *Token) Chain(other *Token) *Token {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Token{ctx: ctx, cancel: cancel}
	go func() {
		select {
		case <-t.ctx.Done():
		case <-other.ctx.Done():
		case <-ctx.Done():
		}
		cancel()
	}()
	return c
}

// WithTimeout produces a Token that additionally fires after d elapses,
// expressing a timeout by composing with a timer-backed context rather
// than a separate timeout mechanism.
func (t *Token) WithTimeout(d time.Duration) (*Token, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(t.ctx, d)
	return &Token{ctx: ctx, cancel: cancel}, cancel
}

// WaitWith runs fut in its own goroutine and returns its result if it
// completes before token fires; otherwise it returns the zero value of T
// and ErrCancelled. fut must itself observe cancellation promptly via
// token.Context() or token.Done() to avoid leaking the goroutine.
func WaitWith[T any](token *Token, fut func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	out := make(chan result, 1)
	go func() {
		v, err := fut()
		out <- result{v, err}
	}()
	select {
	case r := <-out:
		return r.v, r.err
	case <-token.Done():
		var zero T
		return zero, ErrCancelled
	}
}
