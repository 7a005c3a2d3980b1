// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/neutrino"
	"github.com/lightninglabs/neutrino/headerfs"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultPollInterval is the default interval at which the sync
	// progress of the chain service is polled.
	DefaultPollInterval = time.Second

	// DefaultRequiredPeers is the default number of connected peers after
	// which a ConnectionsMet event is sent.
	DefaultRequiredPeers = 1
)

var (
	// ErrClientStarted is returned when Start is called on a client that
	// was already started. A client cannot be restarted.
	ErrClientStarted = errors.New("neutrino client already started")
)

// ChainService is the subset of the neutrino chain service the client polls
// for sync progress.
type ChainService interface {
	// BestBlock returns the tip of the header chain.
	BestBlock() (*headerfs.BlockStamp, error)

	// IsCurrent returns true if the chain service believes it is synced
	// with its peers.
	IsCurrent() bool

	// ConnectedCount returns the number of connected peers.
	ConnectedCount() int32
}

// A compile-time check to ensure the neutrino chain service satisfies
// ChainService.
var _ ChainService = (*neutrino.ChainService)(nil)

// rescanner is an interface that abstractly defines the public methods of
// a *neutrino.Rescan. The interface is private because it is only ever
// intended to be implemented by a *neutrino.Rescan.
type rescanner interface {
	Start() <-chan error
	WaitForShutdown()
}

// chainTipsFunc returns the block header tip and the filter header tip of the
// chain service.
type chainTipsFunc func() (uint32, uint32, error)

// NeutrinoConfig holds the parameters of a NeutrinoClient.
type NeutrinoConfig struct {
	// WatchAddrs are the addresses the rescan filters blocks for.
	WatchAddrs []btcutil.Address

	// StartHeight is the height the rescan starts at.
	StartHeight uint32

	// RequiredPeers is the number of connected peers after which
	// ConnectionsMet is sent.
	RequiredPeers int32

	// PollInterval is the interval at which sync progress is polled.
	PollInterval time.Duration
}

// NeutrinoClient is a Source backed by a neutrino light client. It runs a
// single rescan over the watched addresses and polls the chain service for
// its sync progress.
type NeutrinoClient struct {
	CS ChainService

	cfg NeutrinoConfig

	// newRescan creates the rescan. It is swapped out in tests.
	newRescan func(...neutrino.RescanOption) rescanner

	// chainTips returns the header store tips.
	chainTips chainTipsFunc

	// newTicker creates the progress ticker.
	newTicker func(time.Duration) ticker.Ticker

	rescan rescanner

	// filterTip is the height of the last block whose filter was
	// processed by the rescan.
	filterTip atomic.Uint32

	enqueueNotification chan Event
	dequeueNotification chan Event

	started atomic.Bool

	lifetimeCtx context.Context
	cancel      context.CancelFunc
	group       errgroup.Group
}

// A compile-time check to ensure NeutrinoClient satisfies Source.
var _ Source = (*NeutrinoClient)(nil)

// NewNeutrinoClient creates a client driving the given chain service.
func NewNeutrinoClient(cs *neutrino.ChainService,
	cfg NeutrinoConfig) *NeutrinoClient {

	newRescan := func(ro ...neutrino.RescanOption) rescanner {
		return neutrino.NewRescan(
			&neutrino.RescanChainSource{ChainService: cs}, ro...,
		)
	}

	chainTips := func() (uint32, uint32, error) {
		_, headerTip, err := cs.BlockHeaders.ChainTip()
		if err != nil {
			return 0, 0, fmt.Errorf("block header tip: %w", err)
		}

		_, filterHeaderTip, err := cs.RegFilterHeaders.ChainTip()
		if err != nil {
			return 0, 0, fmt.Errorf("filter header tip: %w", err)
		}

		return headerTip, filterHeaderTip, nil
	}

	newTicker := func(d time.Duration) ticker.Ticker {
		return ticker.New(d)
	}

	return newNeutrinoClient(cs, cfg, newRescan, chainTips, newTicker)
}

// newNeutrinoClient creates a client from its injected dependencies.
func newNeutrinoClient(cs ChainService, cfg NeutrinoConfig,
	newRescan func(...neutrino.RescanOption) rescanner,
	chainTips chainTipsFunc,
	newTicker func(time.Duration) ticker.Ticker) *NeutrinoClient {

	if cfg.RequiredPeers <= 0 {
		cfg.RequiredPeers = DefaultRequiredPeers
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return &NeutrinoClient{
		CS:                  cs,
		cfg:                 cfg,
		newRescan:           newRescan,
		chainTips:           chainTips,
		newTicker:           newTicker,
		enqueueNotification: make(chan Event),
		dequeueNotification: make(chan Event),
	}
}

// Start starts the rescan and the goroutines delivering its events. The
// client stops when ctx is canceled or Stop is called.
func (s *NeutrinoClient) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrClientStarted
	}

	s.lifetimeCtx, s.cancel = context.WithCancel(ctx)

	log.Infof("Starting rescan at height %d watching %d addresses",
		s.cfg.StartHeight, len(s.cfg.WatchAddrs))

	s.rescan = s.newRescan(
		neutrino.NotificationHandlers(rpcclient.NotificationHandlers{
			OnFilteredBlockConnected:    s.onFilteredBlockConnected,
			OnFilteredBlockDisconnected: s.onFilteredBlockDisconnected,
		}),
		neutrino.StartBlock(&headerfs.BlockStamp{
			Height: int32(s.cfg.StartHeight),
		}),
		neutrino.QuitChan(s.lifetimeCtx.Done()),
		neutrino.WatchAddrs(s.cfg.WatchAddrs...),
	)
	rescanErr := s.rescan.Start()

	s.group.Go(func() error {
		s.notificationHandler()
		return nil
	})
	s.group.Go(func() error {
		s.rescanMonitor(rescanErr)
		return nil
	})
	s.group.Go(func() error {
		s.progressPoller()
		return nil
	})

	return nil
}

// Stop signals all goroutines of the client to exit. It does not wait for
// them; use WaitForShutdown for that.
func (s *NeutrinoClient) Stop() {
	if !s.started.Load() {
		return
	}

	s.cancel()
}

// WaitForShutdown blocks until all goroutines of the client and its rescan
// have exited.
func (s *NeutrinoClient) WaitForShutdown() error {
	if !s.started.Load() {
		return nil
	}

	err := s.group.Wait()
	s.rescan.WaitForShutdown()

	return err
}

// Notifications returns the event channel of the client. It is closed once
// the client stops.
func (s *NeutrinoClient) Notifications() <-chan Event {
	return s.dequeueNotification
}

// enqueue hands an event to the notification handler. It returns false if
// the client is shutting down.
func (s *NeutrinoClient) enqueue(e Event) bool {
	select {
	case s.enqueueNotification <- e:
		return true

	case <-s.lifetimeCtx.Done():
		return false
	}
}

// onFilteredBlockConnected is called by the rescan for every block it scanned.
// Only blocks with relevant transactions are forwarded.
func (s *NeutrinoClient) onFilteredBlockConnected(height int32,
	header *wire.BlockHeader, relevantTxs []*btcutil.Tx) {

	s.filterTip.Store(uint32(height))

	if len(relevantTxs) == 0 {
		return
	}

	txs := make([]*wire.MsgTx, 0, len(relevantTxs))
	for _, tx := range relevantTxs {
		txs = append(txs, tx.MsgTx())
	}

	ntfn := BlockConnected{
		Height:       uint32(height),
		Hash:         header.BlockHash(),
		Transactions: txs,
	}

	log.Debugf("Filtered block %v at height %d has %d relevant txs",
		ntfn.Hash, height, len(txs))

	s.enqueue(ntfn)
}

// onFilteredBlockDisconnected is called by the rescan when a block it already
// reported is removed from the main chain.
func (s *NeutrinoClient) onFilteredBlockDisconnected(height int32,
	header *wire.BlockHeader) {

	s.enqueue(BlocksDisconnected{
		Headers: []DisconnectedHeader{{
			Height: uint32(height),
			Hash:   header.BlockHash(),
		}},
	})
}

// rescanMonitor waits for the rescan to end and turns an unexpected exit into
// a SourceFailure.
func (s *NeutrinoClient) rescanMonitor(rescanErr <-chan error) {
	select {
	case err := <-rescanErr:
		if err == nil || errors.Is(err, neutrino.ErrRescanExit) {
			return
		}

		log.Errorf("Neutrino rescan ended with error: %v", err)
		s.enqueue(SourceFailure{
			Err: fmt.Errorf("rescan: %w", err),
		})

	case <-s.lifetimeCtx.Done():
	}
}

// pollState is the progress last reported by the poller.
type pollState struct {
	progress Progress
	reported bool

	peersMet      bool
	warnedNoPeers bool

	current      bool
	syncedHeight int32
}

// progressPoller polls the chain service on every tick until the client
// stops.
func (s *NeutrinoClient) progressPoller() {
	t := s.newTicker(s.cfg.PollInterval)
	t.Resume()
	defer t.Stop()

	state := pollState{syncedHeight: -1}
	for {
		select {
		case <-t.Ticks():
			s.poll(&state)

		case <-s.lifetimeCtx.Done():
			return
		}
	}
}

// poll queries the chain service once and emits the events for whatever
// changed since the previous poll:
//  1. Progress, if any of the three tips moved.
//  2. ConnectionsMet, once, when the required peer count is reached.
//  3. StateChange, when the chain service becomes current or falls behind.
//  4. Synced, when the chain service is current at a new height.
func (s *NeutrinoClient) poll(state *pollState) {
	headerTip, filterHeaderTip, err := s.chainTips()
	if err != nil {
		log.Warnf("Unable to fetch chain tips: %v", err)
		return
	}

	progress := Progress{
		HeaderHeight:       headerTip,
		FilterHeaderHeight: filterHeaderTip,
		FilterHeight:       s.filterTip.Load(),
	}
	if !state.reported || progress != state.progress {
		if !s.enqueue(progress) {
			return
		}

		state.progress = progress
		state.reported = true
	}

	peers := s.CS.ConnectedCount()
	switch {
	case !state.peersMet && peers >= s.cfg.RequiredPeers:
		state.peersMet = true
		s.enqueue(ConnectionsMet{Peers: peers})

	case state.peersMet && peers == 0 && !state.warnedNoPeers:
		state.warnedNoPeers = true
		s.enqueue(Warning{Msg: "all peers disconnected"})

	case peers > 0:
		state.warnedNoPeers = false
	}

	current := s.CS.IsCurrent()
	if current != state.current {
		s.enqueue(StateChange{
			From: syncStateName(state.current),
			To:   syncStateName(current),
		})
		state.current = current
	}

	if !current {
		return
	}

	best, err := s.CS.BestBlock()
	if err != nil {
		log.Warnf("Unable to fetch best block: %v", err)
		return
	}

	if best.Height == state.syncedHeight {
		return
	}

	if s.enqueue(Synced{Height: uint32(best.Height), Hash: best.Hash}) {
		state.syncedHeight = best.Height
	}
}

// syncStateName names the current-ness of the chain service.
func syncStateName(current bool) string {
	if current {
		return "current"
	}

	return "syncing"
}

// notificationHandler queues events from the rescan callbacks and the poller
// and delivers them in order on the dequeue channel. The queue is unbounded so
// that the rescan never blocks on a slow consumer.
func (s *NeutrinoClient) notificationHandler() {
	defer close(s.dequeueNotification)

	var (
		notifications []Event
		dequeue       chan Event
		next          Event
	)

	for {
		select {
		case n := <-s.enqueueNotification:
			if len(notifications) == 0 {
				next = n
				dequeue = s.dequeueNotification
			}
			notifications = append(notifications, n)

		case dequeue <- next:
			notifications[0] = nil
			notifications = notifications[1:]
			if len(notifications) != 0 {
				next = notifications[0]
			} else {
				next = nil
				dequeue = nil
			}

		case <-s.lifetimeCtx.Done():
			log.Debugf("Neutrino client dropping %d queued "+
				"notifications on shutdown", len(notifications))

			return
		}
	}
}
