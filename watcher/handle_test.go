package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwatch/chain"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

// newTestHandle returns a handle over a test source that notifies on a
// buffered channel.
func newTestHandle(t *testing.T) (*Handle, *testSource, chan Snapshot) {
	t.Helper()

	src := newTestSource()
	ntfns := make(chan Snapshot, 16)

	h, err := New(Config{
		Wallet:   testWallet(t),
		Source:   src,
		Callback: ChanNotifier(ntfns),
		Clock:    clock.NewTestClock(testStart),
	})
	require.NoError(t, err)

	return h, src, ntfns
}

// TestHandleEventLoop feeds events through a running handle and reads the
// resulting state.
func TestHandleEventLoop(t *testing.T) {
	t.Parallel()

	// Arrange.
	h, src, ntfns := newTestHandle(t)
	addrs := h.Wallet().Addresses()

	require.NoError(t, h.Start(t.Context()))
	require.True(t, h.IsRunning())

	fundA := payTx(t, foreignOutPoint("a"), addrs[0], 5000)
	fundB := payTx(t, foreignOutPoint("b"), addrs[3], 1500)
	spendA := wire.NewMsgTx(wire.TxVersion)
	spendA.AddTxIn(wire.NewTxIn(
		&wire.OutPoint{Hash: fundA.TxHash()}, nil, nil,
	))

	// Act: progress, then two blocks.
	src.send(t, chain.Progress{HeaderHeight: 200, FilterHeaderHeight: 200})
	src.send(t, block(150, fundB))
	src.send(t, block(100, fundA))
	src.send(t, block(160, spendA))

	// Assert: the first progress passes the debouncer and every block is
	// delivered.
	require.Equal(t, uint32(200), receiveSnapshot(t, ntfns).HeaderTip)
	require.Equal(t, btcutil.Amount(1500),
		receiveSnapshot(t, ntfns).Balance)
	require.Equal(t, btcutil.Amount(6500),
		receiveSnapshot(t, ntfns).Balance)

	last := receiveSnapshot(t, ntfns)
	require.Equal(t, btcutil.Amount(1500), last.Balance)
	require.Equal(t, uint64(1), last.UtxoCount)
	require.Equal(t, uint64(1), last.StxoCount)
	require.Equal(t, last, h.Snapshot())

	// The ledger view only holds relevant records, ordered by height.
	records := h.Records()
	require.Len(t, records, 2)
	require.Equal(t, fundA.TxHash(), records[0].Txid)
	require.Equal(t, uint32(160), records[0].SpentHeight.UnwrapOr(0))
	require.Equal(t, []string{addrs[0].Address.EncodeAddress()},
		records[0].Addresses)
	require.Equal(t, fundB.TxHash(), records[1].Txid)
	require.Equal(t, btcutil.Amount(1500), records[1].Amount)
	require.True(t, records[1].SpentHeight.IsNone())
	require.NotZero(t, h.Serial())

	// Act: a cooperative stop.
	require.NoError(t, h.Stop(t.Context()))

	// Assert.
	require.False(t, h.IsRunning())
	require.NoError(t, h.Err())
	<-h.Done()

	// The last snapshot stays readable.
	require.Equal(t, last, h.Snapshot())
}

// TestHandleSourceClosed verifies a closed source ends the event loop with an
// EventSourceError surfaced by Stop.
func TestHandleSourceClosed(t *testing.T) {
	t.Parallel()

	// Arrange.
	h, src, _ := newTestHandle(t)
	require.NoError(t, h.Start(t.Context()))

	// Act.
	close(src.ch)

	// Assert: the loop exits on its own.
	select {
	case <-h.Done():
	case <-time.After(maxDur):
		t.Fatalf("event loop did not exit")
	}

	var sourceErr *EventSourceError
	require.ErrorAs(t, h.Err(), &sourceErr)

	err := h.Stop(t.Context())
	require.ErrorIs(t, err, ErrSourceClosed)
	require.ErrorAs(t, err, &sourceErr)
}

// TestHandleInconsistencySurfacedByStop verifies a failure while applying a
// block is returned by Stop while the previous snapshot stays readable.
func TestHandleInconsistencySurfacedByStop(t *testing.T) {
	t.Parallel()

	// Arrange: swap in an engine whose lookups always mismatch.
	h, src, ntfns := newTestHandle(t)
	addrs := h.Wallet().Addresses()
	h.engine = newEngine(
		mismatchList{Wallet: h.Wallet(), wrong: addrs[1]},
		DefaultNotifyInterval, clock.NewTestClock(testStart),
	)
	require.NoError(t, h.Start(t.Context()))

	src.send(t, chain.Progress{HeaderHeight: 50})
	before := receiveSnapshot(t, ntfns)

	// Act.
	src.send(t, block(40, payTx(t, foreignOutPoint("q"), addrs[0], 10)))
	<-h.Done()

	// Assert.
	var inconsistency *InternalInconsistencyError
	require.ErrorAs(t, h.Stop(t.Context()), &inconsistency)
	require.Equal(t, before, h.Snapshot())
}

// TestHandleLifecycle covers start and stop misuse.
func TestHandleLifecycle(t *testing.T) {
	t.Parallel()

	h, _, _ := newTestHandle(t)

	// Stop before Start is a no-op.
	require.NoError(t, h.Stop(t.Context()))

	// A canceled start context is refused without changing state.
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, h.Start(ctx), context.Canceled)

	require.NoError(t, h.Start(t.Context()))
	require.ErrorIs(t, h.Start(t.Context()), ErrAlreadyStarted)

	require.NoError(t, h.Stop(t.Context()))
	require.NoError(t, h.Stop(t.Context()))

	// A stopped handle cannot be restarted.
	require.ErrorIs(t, h.Start(t.Context()), ErrStateForbidden)
}

// TestHandleStopRetry verifies a Stop abandoned through its context can be
// retried and then waits for the event loop.
func TestHandleStopRetry(t *testing.T) {
	t.Parallel()

	// Arrange: a callback that holds the event loop until released.
	var (
		entered = make(chan struct{})
		release = make(chan struct{})
	)

	src := newTestSource()
	h, err := New(Config{
		Wallet: testWallet(t),
		Source: src,
		Callback: func(Snapshot) {
			close(entered)
			<-release
		},
		Clock: clock.NewTestClock(testStart),
	})
	require.NoError(t, err)
	require.NoError(t, h.Start(t.Context()))

	src.send(t, block(1))
	<-entered

	// Act: the first stop gives up right away.
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, h.Stop(ctx), context.Canceled)
	require.Equal(t, lifecycleStopping, h.state.current())

	// Act: once the loop can move on, a second stop joins it.
	close(release)
	require.NoError(t, h.Stop(t.Context()))

	// Assert.
	require.Equal(t, lifecycleStopped, h.state.current())
	<-h.Done()
	require.NoError(t, h.Stop(t.Context()))
}

// TestHandleNewValidation verifies New rejects incomplete configs.
func TestHandleNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Source: newTestSource()})
	require.ErrorIs(t, err, ErrMissingWallet)

	_, err = New(Config{Wallet: testWallet(t)})
	require.ErrorIs(t, err, ErrMissingSource)
}

// TestHandleNotifyOutsideLock verifies the callback runs without the handle
// lock held, so it can read the handle.
func TestHandleNotifyOutsideLock(t *testing.T) {
	t.Parallel()

	// Arrange.
	var (
		mu   sync.Mutex
		seen []Snapshot
		h    *Handle
	)

	h, err := New(Config{
		Wallet: testWallet(t),
		Source: newTestSource(),
		Callback: func(s Snapshot) {
			// Reading the handle here would deadlock if the
			// write lock was still held.
			current := h.Snapshot()

			mu.Lock()
			seen = append(seen, current)
			mu.Unlock()
		},
		Clock: clock.NewTestClock(testStart),
	})
	require.NoError(t, err)

	// Act: the zero snapshot equals the debouncer baseline, so only the
	// forced notification is delivered.
	h.Notify(false)
	h.Notify(true)

	// Assert.
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	require.Equal(t, Snapshot{}, seen[0])
}

// TestChanNotifierDrops verifies the channel callback never blocks.
func TestChanNotifierDrops(t *testing.T) {
	t.Parallel()

	ch := make(chan Snapshot, 1)
	cb := ChanNotifier(ch)

	cb(Snapshot{HeaderTip: 1})
	cb(Snapshot{HeaderTip: 2})

	require.Equal(t, uint32(1), (<-ch).HeaderTip)
	require.Empty(t, ch)
}
