package watcher

import (
	"bytes"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwatch/chain"
	"github.com/btcsuite/btcwatch/wallet"
	"github.com/stretchr/testify/require"
)

// maxDur is the max duration a test has to execute successfully.
var maxDur = 5 * time.Second

var testStart = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// testWallet returns a regtest wallet with three addresses per branch derived
// from a fixed seed.
func testWallet(t *testing.T) *wallet.Wallet {
	t.Helper()

	seed := bytes.Repeat([]byte{0x11}, hdkeychain.RecommendedSeedLen)
	master, err := hdkeychain.NewMaster(seed, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	pub, err := master.Neuter()
	require.NoError(t, err)

	w, err := wallet.NewWallet(wallet.Definition{
		Network:        &chaincfg.RegressionNetParams,
		XPub:           pub.String(),
		DerivationPath: "m",
		AddressCount:   3,
	})
	require.NoError(t, err)

	return w
}

// payTx returns a transaction spending prevOut and paying value to addr.
func payTx(t *testing.T, prevOut wire.OutPoint, addr wallet.WatchedAddress,
	value int64) *wire.MsgTx {

	t.Helper()

	pkScript, err := txscript.PayToAddrScript(addr.Address)
	require.NoError(t, err)

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&prevOut, nil, nil))
	tx.AddTxOut(wire.NewTxOut(value, pkScript))

	return tx
}

// foreignOutPoint returns an outpoint of a transaction unrelated to the
// wallet.
func foreignOutPoint(name string) wire.OutPoint {
	return wire.OutPoint{Hash: chainhash.HashH([]byte(name))}
}

// block wraps transactions into a BlockConnected event.
func block(height uint32, txs ...*wire.MsgTx) chain.BlockConnected {
	return chain.BlockConnected{
		Height:       height,
		Hash:         chainhash.Hash{byte(height)},
		Transactions: txs,
	}
}

// testSource is a Source over a plain channel.
type testSource struct {
	ch chan chain.Event
}

func newTestSource() *testSource {
	return &testSource{ch: make(chan chain.Event)}
}

func (s *testSource) Notifications() <-chan chain.Event {
	return s.ch
}

// send delivers an event to the event loop.
func (s *testSource) send(t *testing.T, e chain.Event) {
	t.Helper()

	select {
	case s.ch <- e:
	case <-time.After(maxDur):
		t.Fatalf("timeout sending %v", e)
	}
}

// receiveSnapshot waits for the next notification.
func receiveSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()

	select {
	case s := <-ch:
		return s

	case <-time.After(maxDur):
		t.Fatalf("timeout waiting for notification")
		return Snapshot{}
	}
}
