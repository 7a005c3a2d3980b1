// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package watcher

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

// Snapshot is the state of a watcher at a point in time: the sync progress of
// the event source and the balance of the watched addresses. A Snapshot is a
// plain value and safe to pass between goroutines.
type Snapshot struct {
	// HeaderTip is the height of the best known block header.
	HeaderTip uint32

	// FilterHeaderTip is the height up to which compact filter headers
	// have been synchronized.
	FilterHeaderTip uint32

	// FilterTip is the height up to which compact filters have been
	// scanned.
	FilterTip uint32

	// Balance is the current balance, BalanceIn minus BalanceOut.
	Balance btcutil.Amount

	// BalanceIn is the total value ever received.
	BalanceIn btcutil.Amount

	// BalanceOut is the total value spent.
	BalanceOut btcutil.Amount

	// UtxoCount is the number of unspent relevant records.
	UtxoCount uint64

	// StxoCount is the number of spent relevant records.
	StxoCount uint64
}

// Equal reports whether two snapshots have the same sync progress and
// balances. The UTXO and STXO counts are not compared, so a change of the
// counts alone is not treated as a change of the snapshot.
func (s Snapshot) Equal(other Snapshot) bool {
	return s.HeaderTip == other.HeaderTip &&
		s.FilterHeaderTip == other.FilterHeaderTip &&
		s.FilterTip == other.FilterTip &&
		s.Balance == other.Balance &&
		s.BalanceIn == other.BalanceIn &&
		s.BalanceOut == other.BalanceOut
}

// FilterHeaderTipPct returns the filter header progress as a percentage of the
// header tip. It is 0 while the header tip is unknown.
func (s Snapshot) FilterHeaderTipPct() float64 {
	return pct(s.FilterHeaderTip, s.HeaderTip)
}

// FilterTipPct returns the filter scan progress as a percentage of the header
// tip. It is 0 while the header tip is unknown.
func (s Snapshot) FilterTipPct() float64 {
	return pct(s.FilterTip, s.HeaderTip)
}

func pct(x, total uint32) float64 {
	if total == 0 {
		return 0
	}

	return 100 * float64(x) / float64(total)
}

// String returns a one line summary of the snapshot.
func (s Snapshot) String() string {
	return fmt.Sprintf("headers=%d filter_headers=%d (%.1f%%) "+
		"filters=%d (%.1f%%) balance=%v in=%v out=%v utxos=%d stxos=%d",
		s.HeaderTip, s.FilterHeaderTip, s.FilterHeaderTipPct(),
		s.FilterTip, s.FilterTipPct(), s.Balance, s.BalanceIn,
		s.BalanceOut, s.UtxoCount, s.StxoCount)
}
