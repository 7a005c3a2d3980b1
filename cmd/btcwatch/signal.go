// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// signals defines the signals that are handled to do a clean shutdown.
var signals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// interruptContext returns a context that is canceled on the first shutdown
// signal. A second signal is not intercepted, so it terminates the process
// the default way if the shutdown hangs.
func interruptContext(ctx context.Context) (context.Context,
	context.CancelFunc) {

	interruptChannel := make(chan os.Signal, 1)
	signal.Notify(interruptChannel, signals...)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer signal.Stop(interruptChannel)

		select {
		case sig := <-interruptChannel:
			log.Infof("Received signal (%s).  Shutting down...", sig)
			cancel()

		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
