// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// Wallet is the immutable set of watched addresses of a Definition. It is
// computed once before synchronization starts and is safe for concurrent
// use.
type Wallet struct {
	def Definition

	addrs []WatchedAddress

	// byScript maps the string form of a watched pkScript to its index in
	// addrs.
	byScript map[string]int
}

// NewWallet derives the receive and change addresses of the definition and
// indexes their output scripts.
func NewWallet(def Definition) (*Wallet, error) {
	addrs, err := DeriveAddresses(&def)
	if err != nil {
		return nil, err
	}

	w := &Wallet{
		def:      def,
		addrs:    addrs,
		byScript: make(map[string]int, len(addrs)),
	}

	for i, addr := range addrs {
		pkScript, err := txscript.PayToAddrScript(addr.Address)
		if err != nil {
			return nil, &DerivationError{
				Op:  fmt.Sprintf("script %s", addr.Path),
				Err: err,
			}
		}

		w.byScript[string(pkScript)] = i
	}

	log.Debugf("Derived %d watched addresses for account %s",
		len(addrs), def.DerivationPath)

	return w, nil
}

// Definition returns the definition the wallet was created from.
func (w *Wallet) Definition() Definition {
	return w.def
}

// Addresses returns a copy of the watched addresses, receive branch first.
func (w *Wallet) Addresses() []WatchedAddress {
	addrs := make([]WatchedAddress, len(w.addrs))
	copy(addrs, w.addrs)

	return addrs
}

// AddressList returns the watched addresses as plain btcutil addresses, in
// the same order as Addresses.
func (w *Wallet) AddressList() []btcutil.Address {
	addrs := make([]btcutil.Address, 0, len(w.addrs))
	for _, addr := range w.addrs {
		addrs = append(addrs, addr.Address)
	}

	return addrs
}

// LookupScript returns the watched address paid to by pkScript, if any.
func (w *Wallet) LookupScript(pkScript []byte) (WatchedAddress, bool) {
	i, ok := w.byScript[string(pkScript)]
	if !ok {
		return WatchedAddress{}, false
	}

	return w.addrs[i], true
}
