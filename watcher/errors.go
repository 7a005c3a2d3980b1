// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package watcher

import (
	"errors"
	"fmt"
)

var (
	// ErrStateForbidden is returned when an operation cannot be performed
	// in the current lifecycle state of the watcher.
	ErrStateForbidden = errors.New("operation forbidden in current state")

	// ErrAlreadyStarted is returned when Start is called on a running
	// watcher.
	ErrAlreadyStarted = errors.New("watcher already started")

	// ErrSourceClosed is the cause of an EventSourceError raised because
	// the event channel was closed.
	ErrSourceClosed = errors.New("event source closed")

	// ErrMissingSource is returned by New when no event source is
	// configured.
	ErrMissingSource = errors.New("missing event source")

	// ErrMissingWallet is returned by New when no wallet is configured.
	ErrMissingWallet = errors.New("missing wallet")
)

// EventSourceError ends the event loop when the event source closes its
// channel or reports a failure.
type EventSourceError struct {
	Err error
}

// Error implements the error interface.
func (e *EventSourceError) Error() string {
	return fmt.Sprintf("event source: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *EventSourceError) Unwrap() error {
	return e.Err
}

// InternalInconsistencyError ends the event loop when a watched output script
// does not decode to the address it was derived from.
type InternalInconsistencyError struct {
	// Height is the height of the block being applied.
	Height uint32

	// Txid is the transaction holding the output.
	Txid string

	// Index is the output index.
	Index int

	// Reason describes the mismatch.
	Reason string
}

// Error implements the error interface.
func (e *InternalInconsistencyError) Error() string {
	return fmt.Sprintf("internal inconsistency at %s:%d (height %d): %s",
		e.Txid, e.Index, e.Height, e.Reason)
}
