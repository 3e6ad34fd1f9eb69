// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consolidator

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

// Node is the view of the node wallet and fee estimator the consolidator
// works against. The node owns the keys: it signs and broadcasts.
type Node interface {
	// ListUnspent returns the wallet's unspent outputs, with locked
	// outputs flagged as reserved.
	ListUnspent(ctx context.Context) ([]Utxo, error)

	// FeeRates returns the relay floor and the estimate for the given
	// confirmation target.
	FeeRates(ctx context.Context, confTarget uint32) (*FeeRates, error)

	// NewAddress returns a fresh wallet address for the consolidated
	// output.
	NewAddress(ctx context.Context) (btcutil.Address, error)

	// SignTransaction signs every input of tx with wallet keys. It fails
	// if the result is not fully signed.
	SignTransaction(ctx context.Context, tx *wire.MsgTx) (*wire.MsgTx,
		error)

	// PublishTransaction broadcasts a signed transaction.
	PublishTransaction(ctx context.Context, tx *wire.MsgTx) (
		*chainhash.Hash, error)
}

// Store is a namespaced key-value store holding the persisted job record.
type Store interface {
	// Get returns the value under key in namespace, or an error matching
	// datastore.ErrNotFound.
	Get(ctx context.Context, namespace, key string) ([]byte, error)

	// Put creates or replaces the value under key in namespace.
	Put(ctx context.Context, namespace, key string, value []byte) error

	// Delete removes key from namespace. Deleting an absent key succeeds.
	Delete(ctx context.Context, namespace, key string) error
}

// AddressType names the kind of address the consolidated output pays to.
type AddressType string

const (
	// AddressTypeBech32m is a P2TR address.
	AddressTypeBech32m AddressType = "bech32m"

	// AddressTypeBech32 is a P2WPKH address.
	AddressTypeBech32 AddressType = "bech32"

	// AddressTypeP2SHSegwit is a P2SH wrapped P2WPKH address.
	AddressTypeP2SHSegwit AddressType = "p2sh-segwit"

	// AddressTypeLegacy is a P2PKH address.
	AddressTypeLegacy AddressType = "legacy"
)

// ScriptSize returns the pkScript size of an output paying to an address of
// this type.
func (a AddressType) ScriptSize() (int, error) {
	switch a {
	case AddressTypeBech32m:
		return txsizes.P2TRPkScriptSize, nil
	case AddressTypeBech32:
		return txsizes.P2WPKHPkScriptSize, nil
	case AddressTypeP2SHSegwit:
		return txsizes.NestedP2WPKHPkScriptSize, nil
	case AddressTypeLegacy:
		return txsizes.P2PKHPkScriptSize, nil
	default:
		return 0, fmt.Errorf("unknown address type %q", string(a))
	}
}
