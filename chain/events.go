// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Source is a stream of chain events. The channel is closed when the source
// shuts down.
type Source interface {
	// Notifications returns the channel events are delivered on, in chain
	// order.
	Notifications() <-chan Event
}

// Event is a notification delivered by a Source. The set of events is closed;
// consumers switch on the concrete type.
type Event interface {
	fmt.Stringer

	isEvent()
}

// Progress reports the heights up to which block headers, compact filter
// headers and compact filters have been synchronized.
type Progress struct {
	HeaderHeight       uint32
	FilterHeaderHeight uint32
	FilterHeight       uint32
}

func (Progress) isEvent() {}

func (p Progress) String() string {
	return fmt.Sprintf("progress(headers=%d, filter_headers=%d, "+
		"filters=%d)", p.HeaderHeight, p.FilterHeaderHeight,
		p.FilterHeight)
}

// ConnectionsMet is sent once the required number of peers is connected.
type ConnectionsMet struct {
	Peers int32
}

func (ConnectionsMet) isEvent() {}

func (c ConnectionsMet) String() string {
	return fmt.Sprintf("connections met (%d peers)", c.Peers)
}

// BlockConnected carries a confirmed block together with its transactions
// that are relevant to the watched addresses, in block order.
type BlockConnected struct {
	Height       uint32
	Hash         chainhash.Hash
	Transactions []*wire.MsgTx
}

func (BlockConnected) isEvent() {}

func (b BlockConnected) String() string {
	return fmt.Sprintf("block connected %v (height=%d, txs=%d)", b.Hash,
		b.Height, len(b.Transactions))
}

// Synced is sent when the source has caught up with the best known tip.
type Synced struct {
	Height uint32
	Hash   chainhash.Hash
}

func (Synced) isEvent() {}

func (s Synced) String() string {
	return fmt.Sprintf("synced to %v (height=%d)", s.Hash, s.Height)
}

// DisconnectedHeader identifies a block removed from the main chain.
type DisconnectedHeader struct {
	Height uint32
	Hash   chainhash.Hash
}

// BlocksDisconnected reports blocks removed from the main chain by a
// reorganization.
type BlocksDisconnected struct {
	Headers []DisconnectedHeader
}

func (BlocksDisconnected) isEvent() {}

func (b BlocksDisconnected) String() string {
	return fmt.Sprintf("%d block(s) disconnected", len(b.Headers))
}

// TxSent reports a transaction accepted for broadcast.
type TxSent struct {
	Txid chainhash.Hash
}

func (TxSent) isEvent() {}

func (t TxSent) String() string {
	return fmt.Sprintf("tx sent %v", t.Txid)
}

// TxBroadcastFailure reports a transaction that could not be broadcast.
type TxBroadcastFailure struct {
	Txid   chainhash.Hash
	Reason string
}

func (TxBroadcastFailure) isEvent() {}

func (t TxBroadcastFailure) String() string {
	return fmt.Sprintf("tx broadcast failed %v: %s", t.Txid, t.Reason)
}

// Warning is a non-fatal problem reported by the source.
type Warning struct {
	Msg string
}

func (Warning) isEvent() {}

func (w Warning) String() string {
	return "warning: " + w.Msg
}

// Dialog is an informational message meant for the user.
type Dialog struct {
	Msg string
}

func (Dialog) isEvent() {}

func (d Dialog) String() string {
	return "info: " + d.Msg
}

// StateChange reports a change of the source's own sync state.
type StateChange struct {
	From string
	To   string
}

func (StateChange) isEvent() {}

func (s StateChange) String() string {
	return fmt.Sprintf("state %s -> %s", s.From, s.To)
}

// SourceFailure is the last event of a source that failed. No further events
// follow it.
type SourceFailure struct {
	Err error
}

func (SourceFailure) isEvent() {}

func (s SourceFailure) String() string {
	return fmt.Sprintf("source failure: %v", s.Err)
}
