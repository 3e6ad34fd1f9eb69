// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chain connects the consolidator to a bitcoind wallet over its
// JSON-RPC interface.
package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/consolidator/consolidator"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ErrIncompleteSignature is returned when the wallet could not sign every
// input of a transaction.
var ErrIncompleteSignature = errors.New("wallet did not sign all inputs")

// rpcClient is the subset of rpcclient.Client used by NodeClient.
type rpcClient interface {
	ListUnspent() ([]btcjson.ListUnspentResult, error)
	ListLockUnspent() ([]*wire.OutPoint, error)
	GetNetworkInfo() (*btcjson.GetNetworkInfoResult, error)
	EstimateSmartFee(confTarget int64,
		mode *btcjson.EstimateSmartFeeMode) (
		*btcjson.EstimateSmartFeeResult, error)
	RawRequest(method string, params []json.RawMessage) (json.RawMessage,
		error)
	SignRawTransactionWithWallet(tx *wire.MsgTx) (*wire.MsgTx, bool,
		error)
	SendRawTransaction(tx *wire.MsgTx,
		allowHighFees bool) (*chainhash.Hash, error)
	Shutdown()
	WaitForShutdown()
}

// A compile-time check to ensure that NodeClient satisfies the
// consolidator.Node interface.
var _ consolidator.Node = (*NodeClient)(nil)

// NodeClientConfig defines the config options used when initializing a
// NodeClient.
type NodeClientConfig struct {
	// Conn describes the connection configuration parameters for the
	// client.
	Conn *rpcclient.ConnConfig

	// Chain defines a Bitcoin network by its parameters.
	Chain *chaincfg.Params

	// AddressType is the type of address requested for consolidated
	// outputs.
	AddressType consolidator.AddressType

	// Label is attached to every address the wallet hands out.
	Label string
}

// validate checks the NodeClientConfig is valid.
func (c *NodeClientConfig) validate() error {
	if c == nil {
		return errors.New("missing node config")
	}

	// Make sure the chain params are configed.
	if c.Chain == nil {
		return errors.New("missing chain params config")
	}

	// Make sure connection config is supplied.
	if c.Conn == nil {
		return errors.New("missing conn config")
	}

	// If disableTLS is false, the remote RPC certificate must be provided
	// in the certs slice.
	if !c.Conn.DisableTLS && c.Conn.Certificates == nil {
		return errors.New("must provide certs when TLS is enabled")
	}

	if _, err := c.AddressType.ScriptSize(); err != nil {
		return err
	}

	return nil
}

// NodeClient implements consolidator.Node against a bitcoind wallet.
type NodeClient struct {
	client      rpcClient
	chainParams *chaincfg.Params
	addressType consolidator.AddressType
	label       string
}

// NewNodeClient creates a client connected to the node described by cfg.
// The connection uses HTTP POST mode; no notifications are needed.
func NewNodeClient(cfg *NodeClientConfig) (*NodeClient, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.Conn.HTTPPostMode = true
	cfg.Conn.Params = cfg.Chain.Name

	client, err := rpcclient.New(cfg.Conn, nil)
	if err != nil {
		return nil, err
	}

	return newNodeClient(client, cfg), nil
}

func newNodeClient(client rpcClient, cfg *NodeClientConfig) *NodeClient {
	return &NodeClient{
		client:      client,
		chainParams: cfg.Chain,
		addressType: cfg.AddressType,
		label:       cfg.Label,
	}
}

// Stop shuts the connection down and waits for in-flight requests.
func (n *NodeClient) Stop() {
	n.client.Shutdown()
	n.client.WaitForShutdown()
}

// ListUnspent returns the wallet's unspent outputs. Outputs locked in the
// wallet are reported as reserved.
//
// NOTE: This is part of the consolidator.Node interface.
func (n *NodeClient) ListUnspent(
	ctx context.Context) ([]consolidator.Utxo, error) {

	unspent, err := withContext(ctx, n.client.ListUnspent)
	if err != nil {
		return nil, fmt.Errorf("listunspent: %w", err)
	}

	locked, err := withContext(ctx, n.client.ListLockUnspent)
	if err != nil {
		return nil, fmt.Errorf("listlockunspent: %w", err)
	}

	lockedSet := fn.NewSet[wire.OutPoint]()
	for _, op := range locked {
		lockedSet.Add(*op)
	}

	utxos := make([]consolidator.Utxo, 0, len(unspent))
	for _, u := range unspent {
		utxo, err := parseUnspent(u)
		if err != nil {
			return nil, err
		}
		utxo.Reserved = lockedSet.Contains(utxo.OutPoint)

		utxos = append(utxos, utxo)
	}

	log.Debugf("Wallet reported %d unspent outputs, %d locked",
		len(utxos), len(locked))

	return utxos, nil
}

// FeeRates returns the node's relay floor and its smart fee estimate for
// confTarget blocks.
//
// NOTE: This is part of the consolidator.Node interface.
func (n *NodeClient) FeeRates(ctx context.Context,
	confTarget uint32) (*consolidator.FeeRates, error) {

	info, err := withContext(ctx, n.client.GetNetworkInfo)
	if err != nil {
		return nil, fmt.Errorf("getnetworkinfo: %w", err)
	}

	minRelay, err := consolidator.NewSatPerKVByte(info.RelayFee)
	if err != nil {
		return nil, fmt.Errorf("relay fee: %w", err)
	}

	mode := btcjson.EstimateModeConservative
	est, err := withContext(ctx, func() (*btcjson.EstimateSmartFeeResult,
		error) {

		return n.client.EstimateSmartFee(int64(confTarget), &mode)
	})
	if err != nil {
		return nil, fmt.Errorf("estimatesmartfee: %w", err)
	}

	rates := &consolidator.FeeRates{
		MinAcceptable: minRelay,
		Estimate:      fn.None[consolidator.SatPerKVByte](),
	}

	// Without enough data the node returns errors and no fee rate.
	if est.FeeRate == nil {
		log.Debugf("No fee estimate for %d blocks: %v", confTarget,
			est.Errors)

		return rates, nil
	}

	estimate, err := consolidator.NewSatPerKVByte(*est.FeeRate)
	if err != nil {
		return nil, fmt.Errorf("fee estimate: %w", err)
	}
	if estimate < minRelay {
		estimate = minRelay
	}
	rates.Estimate = fn.Some(estimate)

	return rates, nil
}

// NewAddress asks the wallet for a fresh address of the configured type.
//
// NOTE: This is part of the consolidator.Node interface.
func (n *NodeClient) NewAddress(ctx context.Context) (btcutil.Address,
	error) {

	label, err := json.Marshal(n.label)
	if err != nil {
		return nil, err
	}
	addrType, err := json.Marshal(string(n.addressType))
	if err != nil {
		return nil, err
	}

	resp, err := withContext(ctx, func() (json.RawMessage, error) {
		return n.client.RawRequest("getnewaddress", []json.RawMessage{
			label, addrType,
		})
	})
	if err != nil {
		return nil, err
	}

	var encoded string
	if err := json.Unmarshal(resp, &encoded); err != nil {
		return nil, fmt.Errorf("decoding address: %w", err)
	}

	addr, err := btcutil.DecodeAddress(encoded, n.chainParams)
	if err != nil {
		return nil, err
	}
	if !addr.IsForNet(n.chainParams) {
		return nil, fmt.Errorf("address %v is not for %s", addr,
			n.chainParams.Name)
	}

	return addr, nil
}

// SignTransaction has the wallet sign every input of tx.
//
// NOTE: This is part of the consolidator.Node interface.
func (n *NodeClient) SignTransaction(ctx context.Context,
	tx *wire.MsgTx) (*wire.MsgTx, error) {

	type signResult struct {
		tx       *wire.MsgTx
		complete bool
	}

	res, err := withContext(ctx, func() (signResult, error) {
		signed, complete, err := n.client.SignRawTransactionWithWallet(
			tx,
		)

		return signResult{tx: signed, complete: complete}, err
	})
	if err != nil {
		return nil, err
	}
	if !res.complete {
		return nil, ErrIncompleteSignature
	}

	return res.tx, nil
}

// PublishTransaction broadcasts tx.
//
// NOTE: This is part of the consolidator.Node interface.
func (n *NodeClient) PublishTransaction(ctx context.Context,
	tx *wire.MsgTx) (*chainhash.Hash, error) {

	return withContext(ctx, func() (*chainhash.Hash, error) {
		return n.client.SendRawTransaction(tx, false)
	})
}

// parseUnspent converts a listunspent entry.
func parseUnspent(u btcjson.ListUnspentResult) (consolidator.Utxo, error) {
	hash, err := chainhash.NewHashFromStr(u.TxID)
	if err != nil {
		return consolidator.Utxo{}, fmt.Errorf("invalid txid %q: %w",
			u.TxID, err)
	}

	pkScript, err := hex.DecodeString(u.ScriptPubKey)
	if err != nil {
		return consolidator.Utxo{}, fmt.Errorf("invalid script for "+
			"%v:%d: %w", hash, u.Vout, err)
	}

	amount, err := btcutil.NewAmount(u.Amount)
	if err != nil {
		return consolidator.Utxo{}, err
	}

	return consolidator.Utxo{
		OutPoint:      *wire.NewOutPoint(hash, u.Vout),
		Amount:        amount,
		PkScript:      pkScript,
		Confirmations: u.Confirmations,
		Spendable:     u.Spendable,
	}, nil
}

// withContext runs a blocking RPC and abandons it when ctx is done.
func withContext[T any](ctx context.Context, call func() (T, error)) (T,
	error) {

	type result struct {
		val T
		err error
	}

	// Buffered so an abandoned call does not leak its goroutine.
	done := make(chan result, 1)
	go func() {
		val, err := call()
		done <- result{val: val, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err

	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
