// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

const (
	// DefaultDerivationPath is the BIP-0084 account path of the first
	// mainnet account. The extended public key of a definition is expected
	// to be the key found at this path.
	DefaultDerivationPath = "m/84'/0'/0'"

	// DefaultAddressCount is the number of addresses derived per branch
	// when a definition does not specify one.
	DefaultAddressCount = 20

	// sampleXPub is the account key of the sample wallet.
	sampleXPub = "xpub6CDDB17Xj7pDDWedpLsED1JbPPQmyuapHmAzQEEs2P57hciCjwQ3o" +
		"v7TfGsTZftAM2gVdPzE55L6gUvHguwWjY82518zw1Z3VbDeWgx3Jqs"

	// sampleBirthHeight is the first block the sample wallet can have
	// activity in.
	sampleBirthHeight = 640_000
)

var (
	// ErrUnknownNetwork is returned when a network name cannot be mapped
	// to a set of chain parameters.
	ErrUnknownNetwork = errors.New("unknown network")
)

// Definition describes a watch-only wallet: an account-level extended public
// key together with the information needed to derive and scan its addresses.
type Definition struct {
	// Network is the chain the extended key belongs to.
	Network *chaincfg.Params

	// XPub is the serialized account extended public key.
	XPub string

	// DerivationPath is the path of XPub below the master key, e.g.
	// m/84'/0'/0'. It is only used to label the derived addresses.
	DerivationPath string

	// AddressCount is the number of addresses to derive on each of the
	// receive and change branches. Zero is treated as one.
	AddressCount uint16

	// BirthHeight is a hint for the first block that can contain wallet
	// activity. Blocks below it do not need to be scanned. Leave it at
	// zero if unsure.
	BirthHeight uint32
}

// SampleDefinition returns the definition of a public mainnet sample wallet.
func SampleDefinition() Definition {
	return Definition{
		Network:        &chaincfg.MainNetParams,
		XPub:           sampleXPub,
		DerivationPath: DefaultDerivationPath,
		AddressCount:   DefaultAddressCount,
		BirthHeight:    sampleBirthHeight,
	}
}

// ParseNetwork maps a user supplied network name to its chain parameters.
// Names are matched case-insensitively.
func ParseNetwork(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mainnet", "main", "bitcoin":
		return &chaincfg.MainNetParams, nil

	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil

	case "signet":
		return &chaincfg.SigNetParams, nil

	case "regtest", "regression":
		return &chaincfg.RegressionNetParams, nil

	case "simnet":
		return &chaincfg.SimNetParams, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, name)
	}
}
