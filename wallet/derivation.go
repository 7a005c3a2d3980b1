// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

const (
	// BranchReceive is the branch index of the external (receive)
	// addresses of an account.
	BranchReceive uint32 = 0

	// BranchChange is the branch index of the internal (change) addresses
	// of an account.
	BranchChange uint32 = 1
)

var (
	// ErrInvalidXPub is returned when the extended key string cannot be
	// decoded.
	ErrInvalidXPub = errors.New("invalid extended public key")

	// ErrPrivateKey is returned when an extended private key is supplied.
	// Only public keys are accepted by a watch-only wallet.
	ErrPrivateKey = errors.New("extended private key not accepted")

	// ErrNetworkMismatch is returned when the version of the extended key
	// does not belong to the requested network.
	ErrNetworkMismatch = errors.New("extended key network mismatch")

	// ErrInvalidPath is returned when a derivation path cannot be parsed.
	ErrInvalidPath = errors.New("invalid derivation path")

	// ErrInvalidBranch is returned when a hardened branch is requested.
	// Hardened children cannot be derived from a public key.
	ErrInvalidBranch = errors.New("invalid derivation branch")
)

// DerivationError is returned by the address derivation functions. It records
// which step of the derivation failed.
type DerivationError struct {
	// Op is the failed step.
	Op string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *DerivationError) Error() string {
	return fmt.Sprintf("derivation failed (%s): %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *DerivationError) Unwrap() error {
	return e.Err
}

// DerivationPath is a sequence of child indexes starting at the master key.
// Hardened indexes have hdkeychain.HardenedKeyStart added.
type DerivationPath []uint32

// ParseDerivationPath parses a path of the form m/84'/0'/0'. Hardened indexes
// are marked with a trailing ' or h. The leading "m" is optional.
func ParseDerivationPath(path string) (DerivationPath, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	parts := strings.Split(path, "/")
	if parts[0] == "m" || parts[0] == "M" {
		parts = parts[1:]
	}

	result := make(DerivationPath, 0, len(parts))
	for _, part := range parts {
		hardened := false
		switch {
		case strings.HasSuffix(part, "'"),
			strings.HasSuffix(part, "h"),
			strings.HasSuffix(part, "H"):

			hardened = true
			part = part[:len(part)-1]
		}

		index, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: component %q of %q", ErrInvalidPath,
				part, path)
		}

		if index >= hdkeychain.HardenedKeyStart {
			return nil, fmt.Errorf("%w: index %d out of range",
				ErrInvalidPath, index)
		}

		if hardened {
			index += hdkeychain.HardenedKeyStart
		}

		result = append(result, uint32(index))
	}

	return result, nil
}

// Child returns a copy of the path extended with the given indexes.
func (p DerivationPath) Child(indexes ...uint32) DerivationPath {
	child := make(DerivationPath, 0, len(p)+len(indexes))
	child = append(child, p...)

	return append(child, indexes...)
}

// String returns the path in m/84'/0'/0'/0/1 notation.
func (p DerivationPath) String() string {
	var b strings.Builder
	b.WriteString("m")

	for _, index := range p {
		b.WriteString("/")

		if index >= hdkeychain.HardenedKeyStart {
			b.WriteString(strconv.FormatUint(
				uint64(index-hdkeychain.HardenedKeyStart), 10,
			))
			b.WriteString("'")

			continue
		}

		b.WriteString(strconv.FormatUint(uint64(index), 10))
	}

	return b.String()
}

// WatchedAddress is an address derived from the wallet's account key together
// with the path it was derived at.
type WatchedAddress struct {
	// Address is the derived pay-to-witness-pubkey-hash address.
	Address btcutil.Address

	// Path is the full derivation path of the address.
	Path DerivationPath

	// Branch is the receive or change branch of the address.
	Branch uint32

	// Index is the child index of the address within its branch.
	Index uint32
}

// String returns the encoded address followed by its derivation path.
func (w WatchedAddress) String() string {
	return fmt.Sprintf("%s (%s)", w.Address.EncodeAddress(), w.Path)
}

// DeriveAddresses derives the receive addresses of the definition followed by
// its change addresses. Each branch holds max(AddressCount, 1) addresses.
func DeriveAddresses(def *Definition) ([]WatchedAddress, error) {
	receive, err := DeriveChain(def, BranchReceive)
	if err != nil {
		return nil, err
	}

	change, err := DeriveChain(def, BranchChange)
	if err != nil {
		return nil, err
	}

	return append(receive, change...), nil
}

// DeriveChain derives max(AddressCount, 1) addresses on a single branch of the
// account, in index order. The call is pure and can be repeated with other
// parameters, e.g. to refresh an address preview.
func DeriveChain(def *Definition, branch uint32) ([]WatchedAddress, error) {
	if branch >= hdkeychain.HardenedKeyStart {
		return nil, &DerivationError{
			Op:  "branch",
			Err: fmt.Errorf("%w: %d", ErrInvalidBranch, branch),
		}
	}

	accountKey, basePath, err := parseAccount(def)
	if err != nil {
		return nil, err
	}

	return deriveBranch(
		accountKey, basePath, def.Network, branch, def.AddressCount,
	)
}

// parseAccount decodes and validates the account key and base path of a
// definition.
func parseAccount(def *Definition) (*hdkeychain.ExtendedKey, DerivationPath,
	error) {

	if def.Network == nil {
		return nil, nil, &DerivationError{
			Op:  "network",
			Err: ErrUnknownNetwork,
		}
	}

	key, err := hdkeychain.NewKeyFromString(strings.TrimSpace(def.XPub))
	if err != nil {
		return nil, nil, &DerivationError{
			Op:  "parse key",
			Err: fmt.Errorf("%w: %w", ErrInvalidXPub, err),
		}
	}

	if key.IsPrivate() {
		return nil, nil, &DerivationError{
			Op:  "parse key",
			Err: ErrPrivateKey,
		}
	}

	if !key.IsForNet(def.Network) {
		return nil, nil, &DerivationError{
			Op: "network",
			Err: fmt.Errorf("%w: key is not for %s", ErrNetworkMismatch,
				def.Network.Name),
		}
	}

	basePath, err := ParseDerivationPath(def.DerivationPath)
	if err != nil {
		return nil, nil, &DerivationError{Op: "parse path", Err: err}
	}

	return key, basePath, nil
}

// deriveBranch derives the addresses at basePath/branch/i for i in
// [0, max(count, 1)).
func deriveBranch(accountKey *hdkeychain.ExtendedKey, basePath DerivationPath,
	params *chaincfg.Params, branch uint32,
	count uint16) ([]WatchedAddress, error) {

	branchKey, err := accountKey.Derive(branch)
	if err != nil {
		return nil, &DerivationError{
			Op:  fmt.Sprintf("derive branch %d", branch),
			Err: err,
		}
	}

	n := max(uint32(count), 1)
	addrs := make([]WatchedAddress, 0, n)

	for i := uint32(0); i < n; i++ {
		child, err := branchKey.Derive(i)
		if err != nil {
			return nil, &DerivationError{
				Op:  fmt.Sprintf("derive child %d/%d", branch, i),
				Err: err,
			}
		}

		pubKey, err := child.ECPubKey()
		if err != nil {
			return nil, &DerivationError{
				Op:  fmt.Sprintf("child pubkey %d/%d", branch, i),
				Err: err,
			}
		}

		pubKeyHash := btcutil.Hash160(pubKey.SerializeCompressed())
		addr, err := btcutil.NewAddressWitnessPubKeyHash(
			pubKeyHash, params,
		)
		if err != nil {
			return nil, &DerivationError{
				Op:  fmt.Sprintf("address %d/%d", branch, i),
				Err: err,
			}
		}

		addrs = append(addrs, WatchedAddress{
			Address: addr,
			Path:    basePath.Child(branch, i),
			Branch:  branch,
			Index:   i,
		})
	}

	return addrs, nil
}
