// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"maps"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Record is the ledger entry of a single transaction id. It holds the watched
// outputs paid by the transaction and, once observed, the height at which the
// transaction's outputs were spent.
type Record struct {
	// Relevant is true once at least one watched output of the transaction
	// has been recorded. A record created by a spend alone is not relevant
	// until an output to a watched address is seen for it.
	Relevant bool

	// Outputs maps the encoded destination address to the amount paid to
	// it. Outputs are keyed by address and not by output index, so two
	// outputs of one transaction paying the same address collapse into a
	// single entry holding the later amount.
	Outputs map[string]btcutil.Amount

	// Height is the height the record was created at. For a record created
	// by a spend this is the height of the spending block.
	Height uint32

	// SpentHeight is the height of the first block seen spending an output
	// of this transaction.
	SpentHeight fn.Option[uint32]
}

// newRecord returns an empty record created at the given height.
func newRecord(height uint32, relevant bool) *Record {
	return &Record{
		Relevant:    relevant,
		Outputs:     make(map[string]btcutil.Amount),
		Height:      height,
		SpentHeight: fn.None[uint32](),
	}
}

// TotalValue returns the sum of all watched outputs of the record.
func (r *Record) TotalValue() btcutil.Amount {
	var total btcutil.Amount
	for _, amt := range r.Outputs {
		total += amt
	}

	return total
}

// IsSpent returns true if a spend of the record has been observed.
func (r *Record) IsSpent() bool {
	return r.SpentHeight.IsSome()
}

// Copy returns a deep copy of the record.
func (r *Record) Copy() Record {
	return Record{
		Relevant:    r.Relevant,
		Outputs:     maps.Clone(r.Outputs),
		Height:      r.Height,
		SpentHeight: r.SpentHeight,
	}
}
