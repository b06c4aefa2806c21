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

// Package service implements a lifecycle scaffold that wraps a Service's
// run/cleanup pair with cancellation, a finished-event, and a watchdog
// timeout on cancel so a slow or stuck cleanup never blocks its caller
// indefinitely.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/lightclient/syncore/log"
	"github.com/lightclient/syncore/p2p/cancel"
)

// Service is anything a Runtime can drive. Run should observe ctx and
// return promptly once it is done; Cleanup always runs afterwards,
// regardless of why Run returned.
type Service interface {
	Run(ctx context.Context) error
	Cleanup(ctx context.Context) error
}

// Config configures a Runtime.
type Config struct {
	// WaitUntilFinishedTimeout bounds how long Cancel waits for the
	// service's Run to return and the finished event to be set before
	// giving up; Cancel does not wait for Cleanup. Zero means 5 seconds.
	WaitUntilFinishedTimeout time.Duration
}

const defaultWaitUntilFinishedTimeout = 5 * time.Second

// Runtime drives a Service through run -> finished -> cleanup.
type Runtime struct {
	svc    Service
	token  *cancel.Token
	cfg    Config
	logger log.Logger

	mu       sync.Mutex
	finished bool
	done     chan struct{}
}

// New constructs a Runtime for svc, bound to token so that Cancel
// propagates to any work svc spawns against the same token.
func New(svc Service, token *cancel.Token, cfg Config) *Runtime {
	if cfg.WaitUntilFinishedTimeout <= 0 {
		cfg.WaitUntilFinishedTimeout = defaultWaitUntilFinishedTimeout
	}
	return &Runtime{
		svc:    svc,
		token:  token,
		cfg:    cfg,
		logger: log.Root().New("component", "service.Runtime"),
		done:   make(chan struct{}),
	}
}

// Run awaits the service's Run, sets the finished event, then
// unconditionally calls Cleanup and invokes onFinished if supplied. The
// finished event is set before Cleanup runs, not after, so that any
// service-spawned goroutine waiting on it can exit while Cleanup is still
// in progress. Run blocks until this whole sequence completes; callers
// typically invoke it in its own goroutine.
func (r *Runtime) Run(onFinished func()) error {
	runErr := r.svc.Run(r.token.Context())

	r.mu.Lock()
	r.finished = true
	close(r.done)
	r.mu.Unlock()

	cleanupErr := r.svc.Cleanup(context.Background())
	if cleanupErr != nil {
		r.logger.Error("service cleanup failed", "err", cleanupErr)
	}

	if onFinished != nil {
		onFinished()
	}
	if runErr != nil {
		return runErr
	}
	return cleanupErr
}

// Cancel triggers the service's token and waits up to
// Config.WaitUntilFinishedTimeout for Run to report finished. On timeout
// it logs and returns rather than blocking indefinitely.
func (r *Runtime) Cancel() {
	r.token.Trigger()
	select {
	case <-r.done:
	case <-time.After(r.cfg.WaitUntilFinishedTimeout):
		r.logger.Info("timed out waiting for service to finish", "timeout", r.cfg.WaitUntilFinishedTimeout)
	}
}

// IsFinished reports whether the service's Run has returned and the
// finished event has been set. It becomes true before Cleanup runs, so it
// does not indicate that Cleanup has completed.
func (r *Runtime) IsFinished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// noopService is a Service that does nothing until cancelled, used in this
// repo's own tests as a minimal fixture.
type noopService struct{}

func (noopService) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (noopService) Cleanup(ctx context.Context) error { return nil }

// NoopService returns a Service whose Run simply waits for cancellation
// and whose Cleanup does nothing.
func NoopService() Service { return noopService{} }
