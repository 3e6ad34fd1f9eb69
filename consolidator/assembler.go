// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consolidator

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/davecgh/go-spew/spew"
)

// consolidationTxVersion is the version of consolidation transactions.
const consolidationTxVersion = 2

// Outcome describes a consolidation transaction.
type Outcome struct {
	// Tx is the hex serialized transaction. It is unsigned for a dry
	// run.
	Tx string `json:"tx"`

	TxID string `json:"txid"`

	NumUtxos int `json:"num_utxos_consolidating"`

	Amount  btcutil.Amount `json:"amount_sat"`
	Fee     btcutil.Amount `json:"fee_sat"`
	FeeRate SatPerKVByte   `json:"feerate"`

	// PSBT is the base64 unsigned packet, set for dry runs only.
	PSBT string `json:"psbt,omitempty"`
}

// Assembler turns a selected set into a published transaction. Signing and
// broadcast are delegated to the node.
type Assembler struct {
	node Node
}

// NewAssembler creates an Assembler backed by node.
func NewAssembler(node Node) *Assembler {
	return &Assembler{node: node}
}

// Assemble builds the one-output consolidation transaction for set. Unless
// dryRun is set, the node signs and publishes it.
func (a *Assembler) Assemble(ctx context.Context, set *SelectedSet,
	relayFee SatPerKVByte, dryRun bool) (*Outcome, error) {

	dest, err := a.node.NewAddress(ctx)
	if err != nil {
		return nil, &AssemblyFailedError{Op: "getnewaddress", Err: err}
	}

	authoredTx, err := authorTx(set, dest, relayFee)
	if err != nil {
		return nil, err
	}

	log.Tracef("Authored consolidation tx: %v", newLogClosure(
		func() string {
			return spew.Sdump(authoredTx.Tx)
		},
	))

	outcome := &Outcome{
		NumUtxos: len(set.Utxos),
		Amount:   set.OutputValue,
		Fee:      set.Fee,
		FeeRate:  set.FeeRate,
	}

	if dryRun {
		packet, err := psbt.NewFromUnsignedTx(authoredTx.Tx)
		if err != nil {
			return nil, &AssemblyFailedError{Op: "psbt", Err: err}
		}
		for i := range packet.Inputs {
			packet.Inputs[i].WitnessUtxo = wire.NewTxOut(
				int64(authoredTx.PrevInputValues[i]),
				authoredTx.PrevScripts[i],
			)
		}

		outcome.PSBT, err = packet.B64Encode()
		if err != nil {
			return nil, &AssemblyFailedError{Op: "psbt", Err: err}
		}

		return finishOutcome(outcome, authoredTx.Tx)
	}

	signedTx, err := a.node.SignTransaction(ctx, authoredTx.Tx)
	if err != nil {
		return nil, &AssemblyFailedError{
			Op: "signrawtransactionwithwallet", Err: err,
		}
	}

	if _, err := a.node.PublishTransaction(ctx, signedTx); err != nil {
		return nil, &AssemblyFailedError{
			Op: "sendrawtransaction", Err: err,
		}
	}

	return finishOutcome(outcome, signedTx)
}

// authorTx shapes the unsigned transaction spending every selected output
// to dest.
func authorTx(set *SelectedSet, dest btcutil.Address,
	relayFee SatPerKVByte) (*txauthor.AuthoredTx, error) {

	pkScript, err := txscript.PayToAddrScript(dest)
	if err != nil {
		return nil, &AssemblyFailedError{Op: "pkscript", Err: err}
	}

	txOut := wire.NewTxOut(int64(set.OutputValue), pkScript)
	err = txrules.CheckOutput(txOut, btcutil.Amount(relayFee))
	switch {
	case errors.Is(err, txrules.ErrOutputIsDust):
		return nil, &DustOutputError{
			Total:  set.TotalInput,
			Fee:    set.Fee,
			Output: set.OutputValue,
		}

	case err != nil:
		return nil, &AssemblyFailedError{Op: "checkoutput", Err: err}
	}

	tx := wire.NewMsgTx(consolidationTxVersion)
	prevScripts := make([][]byte, 0, len(set.Utxos))
	prevValues := make([]btcutil.Amount, 0, len(set.Utxos))
	for i := range set.Utxos {
		u := &set.Utxos[i]
		tx.AddTxIn(wire.NewTxIn(&u.OutPoint, nil, nil))
		prevScripts = append(prevScripts, u.PkScript)
		prevValues = append(prevValues, u.Amount)
	}
	tx.AddTxOut(txOut)

	return &txauthor.AuthoredTx{
		Tx:              tx,
		PrevScripts:     prevScripts,
		PrevInputValues: prevValues,
		TotalInput:      set.TotalInput,
		ChangeIndex:     -1,
	}, nil
}

// finishOutcome fills in the serialized form of tx.
func finishOutcome(outcome *Outcome, tx *wire.MsgTx) (*Outcome, error) {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return nil, &AssemblyFailedError{Op: "serialize", Err: err}
	}

	outcome.Tx = hex.EncodeToString(buf.Bytes())
	outcome.TxID = tx.TxHash().String()

	return outcome, nil
}
