// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Balance is the aggregate value of the relevant records of a Store.
type Balance struct {
	// Received is the total value of all relevant records.
	Received btcutil.Amount

	// Spent is the total value of all relevant records that have been
	// spent.
	Spent btcutil.Amount
}

// Current returns the current balance, Received minus Spent. The result can
// be negative if spends were recorded out of order.
func (b Balance) Current() btcutil.Amount {
	return b.Received - b.Spent
}

// Store is an in-memory UTXO ledger keyed by transaction id. Records are
// created by observed outputs and spends and are never removed.
//
// NOTE: Store is not safe for concurrent use. Callers must provide their own
// synchronization.
type Store struct {
	records map[chainhash.Hash]*Record

	// serial is bumped on every mutation.
	serial uint64
}

// NewStore returns an empty ledger.
func NewStore() *Store {
	return &Store{
		records: make(map[chainhash.Hash]*Record),
	}
}

// RecordOutput records a watched output of txid paying amount to addr. The
// record is created at height if it does not exist yet, and is marked
// relevant. Recording the same (txid, addr) pair again overwrites the amount.
func (s *Store) RecordOutput(height uint32, txid chainhash.Hash,
	addr btcutil.Address, amount btcutil.Amount) {

	s.serial++

	rec, ok := s.records[txid]
	if !ok {
		rec = newRecord(height, true)
		s.records[txid] = rec
	}

	rec.Outputs[addr.EncodeAddress()] = amount
	rec.Relevant = true

	log.Debugf("Recorded output of %v to %s at height %d (%d records)",
		txid, addr.EncodeAddress(), height, len(s.records))
}

// RecordSpend records that an output of txid was spent at height. If no
// record exists for txid yet, a record that is not relevant is created. Only
// the first spend height of a record is kept.
func (s *Store) RecordSpend(height uint32, txid chainhash.Hash) {
	s.serial++

	rec, ok := s.records[txid]
	if !ok {
		rec = newRecord(height, false)
		s.records[txid] = rec
	}

	if rec.SpentHeight.IsSome() {
		return
	}

	rec.SpentHeight = fn.Some(height)

	if rec.Relevant {
		log.Debugf("Relevant record %v spent at height %d", txid,
			height)
	}
}

// Balance scans the relevant records and returns their aggregate value.
func (s *Store) Balance() Balance {
	var b Balance
	for _, rec := range s.records {
		if !rec.Relevant {
			continue
		}

		value := rec.TotalValue()
		b.Received += value

		if rec.IsSpent() {
			b.Spent += value
		}
	}

	return b
}

// Counts returns the number of relevant unspent and spent records.
func (s *Store) Counts() (uint64, uint64) {
	var utxos, stxos uint64
	for _, rec := range s.records {
		if !rec.Relevant {
			continue
		}

		if rec.IsSpent() {
			stxos++
		} else {
			utxos++
		}
	}

	return utxos, stxos
}

// Records returns a deep copy of every record in the ledger, including
// records that are not relevant.
func (s *Store) Records() map[chainhash.Hash]Record {
	records := make(map[chainhash.Hash]Record, len(s.records))
	for txid, rec := range s.records {
		records[txid] = rec.Copy()
	}

	log.Tracef("Ledger records: %v", newLogClosure(func() string {
		return spew.Sdump(records)
	}))

	return records
}

// Record returns a copy of the record of txid, if any.
func (s *Store) Record(txid chainhash.Hash) (Record, bool) {
	rec, ok := s.records[txid]
	if !ok {
		return Record{}, false
	}

	return rec.Copy(), true
}

// Serial returns the mutation counter of the ledger. It changes whenever a
// record is created or updated, so callers can refresh derived views only
// when it moved.
func (s *Store) Serial() uint64 {
	return s.serial
}

// Len returns the number of records, relevant or not.
func (s *Store) Len() int {
	return len(s.records)
}
