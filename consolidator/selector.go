// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consolidator

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

// MaxStandardTxVSize is the largest virtual size a node relays, 400000
// weight units. A consolidation that cannot fit is never retried.
const MaxStandardTxVSize = 100000

// SelectParams configures a single selection pass.
type SelectParams struct {
	// FeeRate is the fee rate the consolidation pays.
	FeeRate SatPerKVByte

	// MinUtxos is the exact number of inputs to select.
	MinUtxos uint32

	// Reserve, when positive, keeps the smallest output worth at least
	// this much out of the selection as an emergency reserve.
	Reserve btcutil.Amount

	// DestScriptSize is the size of the consolidated output's pkScript.
	DestScriptSize int

	// DustRelayFee is the relay fee used for the dust check.
	DustRelayFee SatPerKVByte
}

// SelectedSet is the result of a successful selection.
type SelectedSet struct {
	Utxos []Utxo

	// Eligible is the number of candidates the selection drew from.
	Eligible int

	TotalInput  btcutil.Amount
	VSize       int
	Fee         btcutil.Amount
	OutputValue btcutil.Amount
	FeeRate     SatPerKVByte
}

// SelectUtxos picks exactly params.MinUtxos outputs to consolidate.
//
// Eligible outputs are ordered smallest first, ties broken by outpoint, so
// repeated runs over the same wallet pick the same set. Outputs that cost
// more to spend than they are worth at the requested fee rate are skipped.
func SelectUtxos(utxos []Utxo, params SelectParams) (*SelectedSet, error) {
	if params.MinUtxos < 1 {
		return nil, ErrInvalidRequest
	}

	eligible := make([]Utxo, 0, len(utxos))
	for i := range utxos {
		if utxos[i].Eligible() {
			eligible = append(eligible, utxos[i])
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].less(&eligible[j])
	})

	candidates := eligible[:0]
	reserveKept := params.Reserve <= 0
	for _, u := range eligible {
		if !reserveKept && u.Amount >= params.Reserve {
			log.Debugf("Keeping %v (%v) as emergency reserve",
				u.OutPoint, u.Amount)
			reserveKept = true

			continue
		}

		inputFee := params.FeeRate.FeeForVSize(u.inputVSize())
		if u.Amount <= inputFee {
			log.Tracef("Skipping uneconomic output %v: amount %v, "+
				"input fee %v", u.OutPoint, u.Amount, inputFee)

			continue
		}

		candidates = append(candidates, u)
	}

	if len(candidates) < int(params.MinUtxos) {
		return nil, &InsufficientUtxosError{
			Current: len(candidates),
			Wanted:  params.MinUtxos,
		}
	}

	selected := make([]Utxo, params.MinUtxos)
	copy(selected, candidates[:params.MinUtxos])

	var (
		total                                   btcutil.Amount
		numP2PKH, numP2TR, numP2WPKH, numNested int
	)
	for _, u := range selected {
		total += u.Amount

		switch {
		case txscript.IsPayToScriptHash(u.PkScript):
			numNested++
		case txscript.IsPayToWitnessPubKeyHash(u.PkScript):
			numP2WPKH++
		case txscript.IsPayToTaproot(u.PkScript):
			numP2TR++
		default:
			numP2PKH++
		}
	}

	vsize := txsizes.EstimateVirtualSize(
		numP2PKH, numP2TR, numP2WPKH, numNested, nil,
		params.DestScriptSize,
	)
	fee := params.FeeRate.FeeForVSize(vsize)
	output := total - fee

	if vsize > MaxStandardTxVSize {
		return nil, fmt.Errorf("%w: %d inputs need %d vbytes, above "+
			"the standard limit of %d", ErrInvalidRequest,
			params.MinUtxos, vsize, MaxStandardTxVSize)
	}

	// The dust check only looks at the script length.
	destOut := wire.NewTxOut(
		int64(output), make([]byte, params.DestScriptSize),
	)
	if output <= 0 || txrules.IsDustOutput(
		destOut, btcutil.Amount(params.DustRelayFee),
	) {
		return nil, &DustOutputError{
			Total:  total,
			Fee:    fee,
			Output: output,
		}
	}

	return &SelectedSet{
		Utxos:       selected,
		Eligible:    len(candidates),
		TotalInput:  total,
		VSize:       vsize,
		Fee:         fee,
		OutputValue: output,
		FeeRate:     params.FeeRate,
	}, nil
}
