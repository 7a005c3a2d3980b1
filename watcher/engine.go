// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package watcher

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwatch/chain"
	"github.com/btcsuite/btcwatch/debounce"
	"github.com/btcsuite/btcwatch/ledger"
	"github.com/btcsuite/btcwatch/wallet"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// watchList resolves output scripts to watched addresses. It is implemented
// by *wallet.Wallet.
type watchList interface {
	// LookupScript returns the watched address paid to by pkScript.
	LookupScript(pkScript []byte) (wallet.WatchedAddress, bool)

	// Definition returns the wallet definition, used for its network.
	Definition() wallet.Definition
}

// A compile-time check to ensure *wallet.Wallet satisfies watchList.
var _ watchList = (*wallet.Wallet)(nil)

// Engine applies chain events to a ledger and keeps the resulting Snapshot up
// to date. It decides which snapshots are worth a notification but never
// delivers them itself.
//
// NOTE: Engine is not safe for concurrent use. Handle wraps it with the
// locking needed to share it.
type Engine struct {
	watch watchList

	store *ledger.Store

	snapshot Snapshot

	debouncer *debounce.Debouncer[Snapshot]
}

// NewEngine returns an engine over an empty ledger with a zero snapshot.
// Non-forced notifications are limited to one per notifyInterval.
func NewEngine(w *wallet.Wallet, notifyInterval time.Duration,
	clk clock.Clock) *Engine {

	return newEngine(w, notifyInterval, clk)
}

// newEngine returns an engine over any watch list.
func newEngine(w watchList, notifyInterval time.Duration,
	clk clock.Clock) *Engine {

	return &Engine{
		watch:     w,
		store:     ledger.NewStore(),
		debouncer: debounce.New(notifyInterval, Snapshot{}, clk),
	}
}

// Snapshot returns the current snapshot.
func (e *Engine) Snapshot() Snapshot {
	return e.snapshot
}

// Ledger returns the ledger of the engine.
func (e *Engine) Ledger() *ledger.Store {
	return e.store
}

// Notify decides whether the current snapshot should be delivered. A forced
// notification is always delivered, otherwise the debouncer decides.
func (e *Engine) Notify(forced bool) (Snapshot, bool) {
	if forced {
		return e.snapshot, true
	}

	return e.snapshot, e.debouncer.ShouldNotify(e.snapshot)
}

// Apply applies a single event. It returns the snapshot to deliver to the
// consumer, if the event warrants a notification. An error ends the event
// loop.
func (e *Engine) Apply(event chain.Event) (fn.Option[Snapshot], error) {
	switch ev := event.(type) {
	case chain.Progress:
		e.snapshot.HeaderTip = ev.HeaderHeight
		e.snapshot.FilterHeaderTip = ev.FilterHeaderHeight
		e.snapshot.FilterTip = ev.FilterHeight

		return e.notify(false), nil

	case chain.ConnectionsMet:
		log.Infof("Connected to %d peers", ev.Peers)

		return e.notify(false), nil

	case chain.BlockConnected:
		if err := e.applyBlock(ev); err != nil {
			return fn.None[Snapshot](), err
		}

		return e.notify(true), nil

	case chain.Synced:
		log.Infof("Chain synced to %v (height %d)", ev.Hash, ev.Height)
		e.snapshot.HeaderTip = ev.Height

		return e.notify(false), nil

	case chain.BlocksDisconnected:
		for _, header := range ev.Headers {
			log.Warnf("Block %v at height %d disconnected, ledger "+
				"is not rolled back", header.Hash, header.Height)
		}

	case chain.TxSent:
		log.Infof("Transaction %v sent", ev.Txid)

	case chain.TxBroadcastFailure:
		log.Warnf("Broadcast of transaction %v failed: %s", ev.Txid,
			ev.Reason)

	case chain.Warning:
		log.Warnf("Event source warning: %s", ev.Msg)

	case chain.Dialog:
		log.Infof("Event source: %s", ev.Msg)

	case chain.StateChange:
		log.Infof("Event source state changed from %s to %s", ev.From,
			ev.To)

	case chain.SourceFailure:
		return fn.None[Snapshot](), &EventSourceError{Err: ev.Err}

	default:
		log.Warnf("Dropping unknown event %T: %v", event, event)
	}

	return fn.None[Snapshot](), nil
}

// notify wraps the decision of Notify in an option.
func (e *Engine) notify(forced bool) fn.Option[Snapshot] {
	snapshot, ok := e.Notify(forced)
	if !ok {
		return fn.None[Snapshot]()
	}

	return fn.Some(snapshot)
}

// applyBlock records the spends and watched outputs of every transaction of
// the block, in block order. For each transaction, inputs are recorded before
// outputs. The snapshot is recomputed after every transaction so that the
// debouncer baseline follows the ledger, but only the state after the whole
// block is handed out.
//
// If a transaction fails, the spends and outputs already recorded for the
// block stay in the ledger while the snapshot keeps its state from before the
// block. The error ends the event loop, so nothing is applied on top of it.
func (e *Engine) applyBlock(b chain.BlockConnected) error {
	log.Debugf("Applying block %v at height %d with %d txs", b.Hash,
		b.Height, len(b.Transactions))

	log.Tracef("Block transactions: %v", newLogClosure(func() string {
		return spew.Sdump(b.Transactions)
	}))

	for _, tx := range b.Transactions {
		if err := e.applyTx(b.Height, tx); err != nil {
			return err
		}

		// Only the baseline matters here, the block is delivered by
		// the forced notification that follows it.
		e.recompute()
		_ = e.debouncer.ShouldNotify(e.snapshot)
	}

	e.recompute()

	return nil
}

// applyTx records the spends and watched outputs of a single transaction.
func (e *Engine) applyTx(height uint32, tx *wire.MsgTx) error {
	for _, in := range tx.TxIn {
		e.store.RecordSpend(height, in.PreviousOutPoint.Hash)
	}

	txHash := tx.TxHash()
	params := e.watch.Definition().Network

	for i, out := range tx.TxOut {
		watched, ok := e.watch.LookupScript(out.PkScript)
		if !ok {
			continue
		}

		// The script was matched byte for byte, so it must decode to
		// exactly the watched address.
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(
			out.PkScript, params,
		)
		if err != nil {
			return &InternalInconsistencyError{
				Height: height,
				Txid:   txHash.String(),
				Index:  i,
				Reason: fmt.Sprintf("watched script does not "+
					"decode: %v", err),
			}
		}

		want := watched.Address.EncodeAddress()
		if len(addrs) != 1 || addrs[0].EncodeAddress() != want {
			return &InternalInconsistencyError{
				Height: height,
				Txid:   txHash.String(),
				Index:  i,
				Reason: fmt.Sprintf("watched script decodes to "+
					"%v, expected %s", addrs, want),
			}
		}

		e.store.RecordOutput(
			height, txHash, watched.Address,
			btcutil.Amount(out.Value),
		)
	}

	return nil
}

// recompute refreshes the balance and counts of the snapshot from the ledger.
func (e *Engine) recompute() {
	balance := e.store.Balance()
	utxos, stxos := e.store.Counts()

	e.snapshot.BalanceIn = balance.Received
	e.snapshot.BalanceOut = balance.Spent
	e.snapshot.Balance = balance.Current()
	e.snapshot.UtxoCount = utxos
	e.snapshot.StxoCount = stxos
}
