// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package jsonrpc

import (
	"errors"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/consolidator/consolidator"
)

// InvalidParameterError describes an invalid parameter passed by the user.
// It corresponds to btcjson.ErrRPCInvalidParameter.
type InvalidParameterError struct {
	error
}

// Errors variables that are defined once here to avoid duplication below.
var (
	ErrTooManyParams = InvalidParameterError{
		errors.New("too many parameters"),
	}

	ErrMethodNotFound = btcjson.RPCError{
		Code:    btcjson.ErrRPCMethodNotFound.Code,
		Message: "Method not found",
	}
)

// jsonError maps an error returned by a handler to the RPC error sent to the
// client.
func jsonError(err error) *btcjson.RPCError {
	if err == nil {
		return nil
	}

	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	code := btcjson.ErrRPCMisc

	var (
		paramErr    InvalidParameterError
		tooLowErr   *consolidator.FeeRateTooLowError
		tooHighErr  *consolidator.FeeRateTooHighError
		utxosErr    *consolidator.InsufficientUtxosError
		dustErr     *consolidator.DustOutputError
		assemblyErr *consolidator.AssemblyFailedError
	)
	switch {
	case errors.As(err, &paramErr),
		errors.As(err, &tooLowErr),
		errors.As(err, &tooHighErr),
		errors.Is(err, consolidator.ErrInvalidRequest):

		code = btcjson.ErrRPCInvalidParameter

	case errors.As(err, &utxosErr), errors.As(err, &dustErr):
		code = btcjson.ErrRPCWalletInsufficientFunds

	case errors.As(err, &assemblyErr):
		code = btcjson.ErrRPCWallet
	}

	return &btcjson.RPCError{
		Code:    code,
		Message: err.Error(),
	}
}
