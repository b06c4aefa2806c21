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

package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightclient/syncore/p2p/cancel"
)

type countingCleanupService struct {
	cleanups *int32
	runDelay time.Duration
}

func (s countingCleanupService) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.runDelay):
		return nil
	}
}

func (s countingCleanupService) Cleanup(ctx context.Context) error {
	atomic.AddInt32(s.cleanups, 1)
	return nil
}

// TestCancelReturnsWithinTimeoutAndCleanupRunsOnce checks that cancelling a
// service whose Run sleeps on its token returns promptly, IsFinished
// reflects completion, and Cleanup is observed to run exactly once.
func TestCancelReturnsWithinTimeoutAndCleanupRunsOnce(t *testing.T) {
	var cleanups int32
	token := cancel.New()
	rt := New(countingCleanupService{cleanups: &cleanups, runDelay: time.Hour}, token, Config{
		WaitUntilFinishedTimeout: time.Second,
	})

	runDone := make(chan error, 1)
	go func() { runDone <- rt.Run(nil) }()

	time.Sleep(10 * time.Millisecond)
	start := time.Now()
	rt.Cancel()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Cancel took %v, want <= WaitUntilFinishedTimeout", elapsed)
	}

	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("Run never returned after Cancel")
	}

	if !rt.IsFinished() {
		t.Fatal("IsFinished() = false after Run completed")
	}
	if got := atomic.LoadInt32(&cleanups); got != 1 {
		t.Fatalf("cleanup ran %d times, want 1", got)
	}
}

// spawnedWorkerService models a service that starts a worker goroutine in
// Run and whose Cleanup can only complete once that worker has exited on
// seeing the runtime's finished signal — the exact case spec.md §4.6
// documents ("so that other coroutines started by this service exit while
// we wait for cleanup()"). If Runtime set finished after calling Cleanup
// instead of before, this would deadlock.
type spawnedWorkerService struct {
	rt         func() *Runtime
	workerDone chan struct{}
}

func (s *spawnedWorkerService) Run(ctx context.Context) error {
	go func() {
		for !s.rt().IsFinished() {
			time.Sleep(time.Millisecond)
		}
		close(s.workerDone)
	}()
	<-ctx.Done()
	return ctx.Err()
}

func (s *spawnedWorkerService) Cleanup(ctx context.Context) error {
	select {
	case <-s.workerDone:
		return nil
	case <-time.After(time.Second):
		return context.DeadlineExceeded
	}
}

func TestFinishedSetBeforeCleanupSoSpawnedWorkersCanExit(t *testing.T) {
	svc := &spawnedWorkerService{workerDone: make(chan struct{})}
	token := cancel.New()
	var rt *Runtime
	svc.rt = func() *Runtime { return rt }
	rt = New(svc, token, Config{WaitUntilFinishedTimeout: time.Second})

	runDone := make(chan error, 1)
	go func() { runDone <- rt.Run(nil) }()

	time.Sleep(10 * time.Millisecond)
	rt.Cancel()

	select {
	case err := <-runDone:
		if err != nil && err != context.Canceled {
			t.Fatalf("Run returned %v, want nil or context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run never returned: Cleanup deadlocked waiting on the worker, meaning finished was not set before Cleanup ran")
	}
}

func TestOnFinishedInvokedAfterCleanup(t *testing.T) {
	var cleanups int32
	token := cancel.New()
	rt := New(countingCleanupService{cleanups: &cleanups, runDelay: 0}, token, Config{})

	onFinishedCh := make(chan struct{})
	go rt.Run(func() { close(onFinishedCh) })

	select {
	case <-onFinishedCh:
	case <-time.After(time.Second):
		t.Fatal("onFinished never invoked")
	}
	if got := atomic.LoadInt32(&cleanups); got != 1 {
		t.Fatalf("cleanup ran %d times before onFinished, want 1", got)
	}
	if !rt.IsFinished() {
		t.Fatal("IsFinished() = false after onFinished fired")
	}
}

func TestNoopServiceWaitsForCancellation(t *testing.T) {
	token := cancel.New()
	rt := New(NoopService(), token, Config{WaitUntilFinishedTimeout: time.Second})

	go rt.Run(nil)
	time.Sleep(10 * time.Millisecond)
	if rt.IsFinished() {
		t.Fatal("noop service finished before cancellation")
	}
	rt.Cancel()
	if !rt.IsFinished() {
		t.Fatal("noop service not finished after Cancel")
	}
}
