// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package jsonrpc

// Options contains the required options for running the RPC server.
type Options struct {
	Username string
	Password string

	MaxPOSTClients int64
}
