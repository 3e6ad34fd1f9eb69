// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consolidator

import (
	"bytes"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

// Utxo is an unspent output reported by the node wallet.
type Utxo struct {
	OutPoint      wire.OutPoint
	Amount        btcutil.Amount
	PkScript      []byte
	Confirmations int64

	// Reserved is set for outputs locked by the wallet, for instance by
	// an in-flight transaction.
	Reserved bool

	// Spendable is false for watch-only outputs.
	Spendable bool
}

// Eligible reports whether the output may be consolidated.
func (u *Utxo) Eligible() bool {
	return u.Confirmations >= 1 && !u.Reserved && u.Spendable
}

// inputVSize is the number of vbytes the output adds when spent.
func (u *Utxo) inputVSize() int {
	return txsizes.GetMinInputVirtualSize(u.PkScript)
}

// less orders outputs by amount, then by outpoint.
func (u *Utxo) less(o *Utxo) bool {
	if u.Amount != o.Amount {
		return u.Amount < o.Amount
	}

	c := bytes.Compare(u.OutPoint.Hash[:], o.OutPoint.Hash[:])
	if c != 0 {
		return c < 0
	}

	return u.OutPoint.Index < o.OutPoint.Index
}
