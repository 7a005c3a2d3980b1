// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package watcher

import (
	"fmt"
	"sync/atomic"
)

// lifecycle represents the lifecycle state of the watcher's event loop.
type lifecycle uint32

const (
	// lifecycleIdle indicates the watcher was created but not started.
	lifecycleIdle lifecycle = iota

	// lifecycleStarting indicates Start is setting up the event loop.
	lifecycleStarting

	// lifecycleRunning indicates the event loop is running.
	lifecycleRunning

	// lifecycleStopping indicates the watcher is waiting for the event
	// loop to exit.
	lifecycleStopping

	// lifecycleStopped indicates the event loop has exited. A stopped
	// watcher cannot be started again.
	lifecycleStopped
)

// String returns the string representation of a lifecycle.
func (l lifecycle) String() string {
	switch l {
	case lifecycleIdle:
		return "idle"

	case lifecycleStarting:
		return "starting"

	case lifecycleRunning:
		return "running"

	case lifecycleStopping:
		return "stopping"

	case lifecycleStopped:
		return "stopped"

	default:
		return "unknown lifecycle state"
	}
}

// watcherState is a thread-safe holder of the watcher's lifecycle.
type watcherState struct {
	lifecycle atomic.Uint32
}

// current returns the current lifecycle.
func (s *watcherState) current() lifecycle {
	return lifecycle(s.lifecycle.Load())
}

// String returns a summary of the state.
func (s *watcherState) String() string {
	return fmt.Sprintf("status=%v", s.current())
}

// toStarting transitions the watcher from Idle to Starting. Only an idle
// watcher can be started.
func (s *watcherState) toStarting() error {
	if s.lifecycle.CompareAndSwap(
		uint32(lifecycleIdle), uint32(lifecycleStarting)) {

		return nil
	}

	lc := s.current()
	if lc == lifecycleStarting || lc == lifecycleRunning {
		return ErrAlreadyStarted
	}

	return fmt.Errorf("%w: cannot start, current state is %v",
		ErrStateForbidden, lc)
}

// toRunning marks the watcher as running. This should be called only after
// the event loop has been launched.
func (s *watcherState) toRunning() {
	s.lifecycle.Store(uint32(lifecycleRunning))
}

// toStopping transitions the watcher from Running to Stopping.
func (s *watcherState) toStopping() error {
	if !s.lifecycle.CompareAndSwap(
		uint32(lifecycleRunning), uint32(lifecycleStopping)) {

		return fmt.Errorf("%w: cannot stop, current state is %v",
			ErrStateForbidden, s.current())
	}

	return nil
}

// toStopped marks the watcher as stopped.
func (s *watcherState) toStopped() {
	s.lifecycle.Store(uint32(lifecycleStopped))
}

// isRunning returns true if the event loop is running.
func (s *watcherState) isRunning() bool {
	return s.current() == lifecycleRunning
}
