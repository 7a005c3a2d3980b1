// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb" // Register bdb walletdb driver.
	"github.com/btcsuite/btcwatch/chain"
	"github.com/btcsuite/btcwatch/metrics"
	"github.com/btcsuite/btcwatch/wallet"
	"github.com/btcsuite/btcwatch/watcher"
	flags "github.com/jessevdk/go-flags"
	"github.com/lightninglabs/neutrino"
)

const (
	// shutdownTimeout bounds the graceful stop of the watcher and the
	// metrics server.
	shutdownTimeout = 10 * time.Second

	// notificationBuffer is the number of snapshots buffered for the
	// printer before new ones are dropped.
	notificationBuffer = 16
)

func main() {
	if err := btcwatchMain(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

// btcwatchMain is the real main function for btcwatch.  It is necessary to
// work around the fact that deferred functions do not run when os.Exit() is
// called.
func btcwatchMain(args []string) error {
	cfg, _, err := loadConfig(args)
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil
		}

		fmt.Fprintln(os.Stderr, err)

		return err
	}

	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		return nil
	}

	def, err := cfg.walletDefinition()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	w, err := wallet.NewWallet(*def)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	if cfg.ShowAddresses {
		printAddresses(os.Stdout, w)
		return nil
	}

	logFile := filepath.Join(cfg.LogDir, def.Network.Name,
		defaultLogFilename)
	if err := initLogRotator(logFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	defer logRotator.Close()

	ctx, cancel := interruptContext(context.Background())
	defer cancel()

	err = run(ctx, cfg, w)
	if err != nil {
		log.Errorf("Shutdown with error: %v", err)
	}

	log.Info("Shutdown complete")

	return err
}

// run opens the header database, syncs the chain service and watches the
// wallet until ctx is canceled or the watcher fails.
func run(ctx context.Context, cfg *config, w *wallet.Wallet) error {
	def := w.Definition()

	netDir := filepath.Join(cfg.DataDir, def.Network.Name)
	if err := os.MkdirAll(netDir, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	db, err := walletdb.Create(
		"bdb", filepath.Join(netDir, headersDBName), true,
		headersDBTimeout, false,
	)
	if err != nil {
		return fmt.Errorf("open header db: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Errorf("Unable to close header db: %v", err)
		}
	}()

	cs, err := neutrino.NewChainService(neutrino.Config{
		DataDir:      netDir,
		Database:     db,
		ChainParams:  *def.Network,
		ConnectPeers: cfg.ConnectPeers,
		AddPeers:     cfg.AddPeers,
	})
	if err != nil {
		return fmt.Errorf("create chain service: %w", err)
	}

	// The chain service outlives the interrupt until the watcher and the
	// client stopped, the deferred Stop ends it.
	if err := cs.Start(context.Background()); err != nil {
		return fmt.Errorf("start chain service: %w", err)
	}
	defer func() {
		if err := cs.Stop(); err != nil {
			log.Errorf("Unable to stop chain service: %v", err)
		}
	}()

	client := chain.NewNeutrinoClient(cs, chain.NeutrinoConfig{
		WatchAddrs:    w.AddressList(),
		StartHeight:   def.BirthHeight,
		RequiredPeers: cfg.RequiredPeers,
	})

	return watch(ctx, cfg, w, client, os.Stdout)
}

// eventSource is a chain.Source with its own lifecycle, such as
// *chain.NeutrinoClient.
type eventSource interface {
	chain.Source

	Start(ctx context.Context) error
	Stop()
	WaitForShutdown() error
}

// watch runs a watcher over src and prints its snapshots to out until ctx is
// canceled or the watcher fails. The source is started on its own context and
// only stopped after the watcher, so that an interrupt is not mistaken for a
// closed source.
func watch(ctx context.Context, cfg *config, w *wallet.Wallet,
	src eventSource, out io.Writer) error {

	if err := src.Start(context.Background()); err != nil {
		return fmt.Errorf("start event source: %w", err)
	}
	defer func() {
		src.Stop()
		if err := src.WaitForShutdown(); err != nil {
			log.Errorf("Event source shutdown: %v", err)
		}
	}()

	ntfns := make(chan watcher.Snapshot, notificationBuffer)
	h, err := watcher.New(watcher.Config{
		Wallet:         w,
		Source:         src,
		Callback:       watcher.ChanNotifier(ntfns),
		NotifyInterval: cfg.NotifyInterval,
	})
	if err != nil {
		return err
	}

	// An interrupt that arrives during startup is handled by the print
	// loop below, like any later one.
	if err := h.Start(context.Background()); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	if cfg.MetricsListen != "" {
		srv, err := metrics.NewServer(cfg.MetricsListen, h)
		if err != nil {
			return fmt.Errorf("create metrics server: %w", err)
		}

		go func() {
			log.Infof("Metrics server listening on %s",
				cfg.MetricsListen)

			if err := srv.ListenAndServe(); err != nil {
				log.Errorf("Metrics server: %v", err)
			}
		}()
		defer shutdownMetrics(srv)
	}

	printLoop(ctx, h, ntfns, out)

	stopCtx, stopCancel := context.WithTimeout(
		context.Background(), shutdownTimeout,
	)
	defer stopCancel()

	return h.Stop(stopCtx)
}

// shutdownMetrics gracefully stops the metrics server.
func shutdownMetrics(srv *metrics.Server) {
	ctx, cancel := context.WithTimeout(
		context.Background(), shutdownTimeout,
	)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("Metrics server shutdown: %v", err)
	}
}

// watchedState is the part of a watcher the printer reads.
type watchedState interface {
	Done() <-chan struct{}
	Serial() uint64
	Records() []watcher.RecordView
}

// printLoop prints every delivered snapshot, followed by the ledger whenever
// it changed since the last print. It returns once ctx is canceled or the
// watcher exits on its own.
func printLoop(ctx context.Context, h watchedState,
	ntfns <-chan watcher.Snapshot, out io.Writer) {

	var lastSerial uint64
	for {
		select {
		case s := <-ntfns:
			fmt.Fprintln(out, s)

			serial := h.Serial()
			if serial == lastSerial {
				continue
			}
			lastSerial = serial

			printRecords(out, h.Records())

		case <-h.Done():
			return

		case <-ctx.Done():
			return
		}
	}
}

// printRecords writes one line per ledger record.
func printRecords(out io.Writer, records []watcher.RecordView) {
	for _, rec := range records {
		spent := "unspent"
		rec.SpentHeight.WhenSome(func(h uint32) {
			spent = fmt.Sprintf("spent@%d", h)
		})

		fmt.Fprintf(out, "  %v height=%d amount=%v %s %v\n", rec.Txid,
			rec.Height, rec.Amount, spent, rec.Addresses)
	}
}

// printAddresses writes the watched addresses with their derivation paths.
func printAddresses(out io.Writer, w *wallet.Wallet) {
	for _, addr := range w.Addresses() {
		fmt.Fprintln(out, addr)
	}
}
