// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package debounce implements a change detector that rate limits
// notifications about a changing value.
package debounce

import (
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

// initialAnchorAge is how far in the past the emit time of a new Debouncer is
// placed, so that the first change is always emitted.
const initialAnchorAge = time.Hour

// Equaler is implemented by values that define their own equality for change
// detection.
type Equaler[T any] interface {
	Equal(other T) bool
}

// Debouncer decides whether a new value of T warrants a notification. It
// reports at most one change per minimum interval.
//
// Debouncer is not a fixed rate timer. A value that arrives inside the
// interval is remembered as the new baseline but is not reported. If the
// caller needs the last value of a burst delivered, it must force a
// notification itself or wait for the next differing value after the interval
// elapsed.
//
// NOTE: Debouncer is not safe for concurrent use.
type Debouncer[T Equaler[T]] struct {
	minInterval time.Duration
	clock       clock.Clock

	// last is the most recently observed differing value.
	last T

	// lastEmit is the time of the last positive decision.
	lastEmit time.Time
}

// New returns a Debouncer with the given minimum interval between positive
// decisions. The initial value is the baseline the first value is compared
// against.
func New[T Equaler[T]](minInterval time.Duration, initial T,
	clk clock.Clock) *Debouncer[T] {

	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	return &Debouncer[T]{
		minInterval: minInterval,
		clock:       clk,
		last:        initial,
		lastEmit:    clk.Now().Add(-initialAnchorAge),
	}
}

// ShouldNotify compares next against the remembered baseline and returns
// true if a notification should be sent:
//  1. If next equals the baseline, return false and record nothing.
//  2. Otherwise next always becomes the new baseline.
//  3. If at least the minimum interval elapsed since the last positive
//     decision, move the emit time to now and return true.
//  4. Otherwise return false and leave the emit time untouched.
func (d *Debouncer[T]) ShouldNotify(next T) bool {
	if next.Equal(d.last) {
		return false
	}

	now := d.clock.Now()
	elapsed := now.Sub(d.lastEmit)

	d.last = next

	if elapsed < d.minInterval {
		return false
	}

	d.lastEmit = now

	return true
}

// Last returns the current baseline.
func (d *Debouncer[T]) Last() T {
	return d.last
}
