// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package watcher

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwatch/chain"
	"github.com/btcsuite/btcwatch/wallet"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultNotifyInterval is the minimum interval between two
	// notifications that are not forced.
	DefaultNotifyInterval = 250 * time.Millisecond
)

// Callback receives the snapshots a Handle decided to deliver.
//
// The callback is called after the handle released its lock, so it may read
// from the handle. It can be called concurrently from the event loop and from
// callers of Handle.Notify, and it must not block.
type Callback func(Snapshot)

// ChanNotifier returns a Callback that sends snapshots on ch. If the consumer
// is not ready, the snapshot is dropped instead of blocking the event loop.
func ChanNotifier(ch chan<- Snapshot) Callback {
	return func(s Snapshot) {
		select {
		case ch <- s:
		default:
			log.Tracef("Consumer busy, dropping notification %v", s)
		}
	}
}

// Config holds the dependencies of a Handle.
type Config struct {
	// Wallet is the set of watched addresses.
	Wallet *wallet.Wallet

	// Source delivers the chain events.
	Source chain.Source

	// Callback is called with every delivered snapshot. It is optional.
	Callback Callback

	// NotifyInterval is the minimum interval between two notifications
	// that are not forced. It defaults to DefaultNotifyInterval.
	NotifyInterval time.Duration

	// Clock is the time source of the debouncer. It defaults to the
	// system clock.
	Clock clock.Clock
}

// RecordView is a read-only row of the ledger for display.
type RecordView struct {
	// Txid is the transaction that paid the watched outputs.
	Txid chainhash.Hash

	// Amount is the total value of the watched outputs.
	Amount btcutil.Amount

	// Addresses are the watched addresses paid, sorted.
	Addresses []string

	// Height is the height the record was created at.
	Height uint32

	// SpentHeight is the height the outputs were spent at, if any.
	SpentHeight fn.Option[uint32]
}

// Handle shares an Engine between the goroutine applying chain events and any
// number of readers. The event loop holds the write lock for the duration of
// one event, readers hold the read lock only while copying state out.
type Handle struct {
	cfg Config

	state watcherState

	// mu guards engine.
	mu     sync.RWMutex
	engine *Engine

	lifetimeCtx context.Context
	cancel      context.CancelFunc
	group       errgroup.Group
	done        chan struct{}

	errMu sync.Mutex
	err   error
}

// New creates an idle Handle with an empty ledger and a zero snapshot.
func New(cfg Config) (*Handle, error) {
	if cfg.Wallet == nil {
		return nil, ErrMissingWallet
	}

	if cfg.Source == nil {
		return nil, ErrMissingSource
	}

	if cfg.NotifyInterval <= 0 {
		cfg.NotifyInterval = DefaultNotifyInterval
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Handle{
		cfg:    cfg,
		engine: NewEngine(cfg.Wallet, cfg.NotifyInterval, cfg.Clock),
		done:   make(chan struct{}),
	}, nil
}

// Start launches the event loop and returns immediately. A handle can only be
// started once.
func (h *Handle) Start(startCtx context.Context) error {
	if err := startCtx.Err(); err != nil {
		return fmt.Errorf("start request cancelled: %w", err)
	}

	// 1. Attempt to transition from Idle to Starting.
	if err := h.state.toStarting(); err != nil {
		return err
	}

	// 2. The lifetime context governs the event loop and is canceled by
	// Stop. It is detached from startCtx, which only bounds the start
	// call itself.
	h.lifetimeCtx, h.cancel = context.WithCancel(context.Background())

	// 3. Launch the event loop.
	events := h.cfg.Source.Notifications()
	h.group.Go(func() error {
		defer close(h.done)

		err := h.run(h.lifetimeCtx, events)
		if err != nil {
			log.Errorf("Watcher event loop exited with error: %v",
				err)

			h.setErr(err)
		}

		return err
	})

	// 4. Mark the watcher as running, which allows it to be stopped.
	h.state.toRunning()

	log.Infof("Watcher started with %d watched addresses",
		len(h.cfg.Wallet.Addresses()))

	return nil
}

// IsRunning returns true between a successful Start and the following Stop,
// even if the event loop already exited with an error.
func (h *Handle) IsRunning() bool {
	return h.state.isRunning()
}

// Stop signals the event loop to exit and waits for it, or for stopCtx to be
// done. It returns the error the event loop ended with, if any. Stopping a
// handle that is not running is a no-op. If a previous Stop gave up because
// its stopCtx was done, calling Stop again waits for the event loop anew.
func (h *Handle) Stop(stopCtx context.Context) error {
	// Attempt to transition from Running to Stopping. A handle left in
	// Stopping by an abandoned Stop is joined again.
	err := h.state.toStopping()
	if err != nil && h.state.current() != lifecycleStopping {
		log.Debugf("Watcher not running (%v): %v", &h.state, err)
		return nil
	}

	// Signal the event loop to stop. The event being applied, if any, is
	// finished first.
	h.cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- h.group.Wait()
	}()

	select {
	case err := <-errChan:
		h.state.toStopped()
		log.Infof("Watcher stopped")

		return err

	case <-stopCtx.Done():
		return fmt.Errorf("stop request cancelled: %w", stopCtx.Err())
	}
}

// Done returns a channel that is closed once the event loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the error the event loop ended with, without waiting for it.
// It is nil while the loop runs and after a clean stop.
func (h *Handle) Err() error {
	h.errMu.Lock()
	defer h.errMu.Unlock()

	return h.err
}

func (h *Handle) setErr(err error) {
	h.errMu.Lock()
	defer h.errMu.Unlock()

	if h.err == nil {
		h.err = err
	}
}

// run applies events in delivery order until the context is canceled, the
// source closes its channel or an event fails.
func (h *Handle) run(ctx context.Context, events <-chan chain.Event) error {
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return &EventSourceError{Err: ErrSourceClosed}
			}

			if err := h.handleEvent(event); err != nil {
				return err
			}

		case <-ctx.Done():
			return nil
		}
	}
}

// handleEvent applies one event under the write lock and delivers the
// resulting notification after releasing it.
func (h *Handle) handleEvent(event chain.Event) error {
	log.Tracef("Applying event %v", event)

	h.mu.Lock()
	ntfn, err := h.engine.Apply(event)
	h.mu.Unlock()

	ntfn.WhenSome(h.deliver)

	return err
}

// deliver hands a snapshot to the callback, if any.
func (h *Handle) deliver(s Snapshot) {
	if h.cfg.Callback == nil {
		return
	}

	h.cfg.Callback(s)
}

// Notify delivers the current snapshot to the callback. If forced is false the
// notification is subject to the debouncer.
func (h *Handle) Notify(forced bool) {
	h.mu.Lock()
	snapshot, ok := h.engine.Notify(forced)
	h.mu.Unlock()

	if ok {
		h.deliver(snapshot)
	}
}

// Snapshot returns a copy of the current snapshot.
func (h *Handle) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.engine.Snapshot()
}

// Serial returns the mutation counter of the ledger. Readers can compare it
// against a previous value to decide whether Records needs to be fetched
// again.
func (h *Handle) Serial() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.engine.Ledger().Serial()
}

// Records returns the relevant ledger records, ordered by height and then by
// transaction id.
func (h *Handle) Records() []RecordView {
	h.mu.RLock()
	records := h.engine.Ledger().Records()
	h.mu.RUnlock()

	views := make([]RecordView, 0, len(records))
	for txid, rec := range records {
		if !rec.Relevant {
			continue
		}

		views = append(views, RecordView{
			Txid:        txid,
			Amount:      rec.TotalValue(),
			Addresses:   slices.Sorted(maps.Keys(rec.Outputs)),
			Height:      rec.Height,
			SpentHeight: rec.SpentHeight,
		})
	}

	slices.SortFunc(views, func(a, b RecordView) int {
		if c := cmp.Compare(a.Height, b.Height); c != 0 {
			return c
		}

		return cmp.Compare(a.Txid.String(), b.Txid.String())
	})

	return views
}

// Wallet returns the watched wallet.
func (h *Handle) Wallet() *wallet.Wallet {
	return h.cfg.Wallet
}
