// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
)

// Params is used to group parameters for various networks such as the main
// network and test networks.
type Params struct {
	*chaincfg.Params

	// NodeRPCPort is the default port of the bitcoind RPC server.
	NodeRPCPort string

	// RPCServerPort is the default port of the consolidatord RPC server.
	RPCServerPort string
}

// MainNetParams contains parameters specific running consolidatord and
// bitcoind on the main network (wire.MainNet).
var MainNetParams = Params{
	Params:        &chaincfg.MainNetParams,
	NodeRPCPort:   "8332",
	RPCServerPort: "8336",
}

// TestNet3Params contains parameters specific running consolidatord and
// bitcoind on the test network (version 3) (wire.TestNet3).
var TestNet3Params = Params{
	Params:        &chaincfg.TestNet3Params,
	NodeRPCPort:   "18332",
	RPCServerPort: "18336",
}

// SigNetParams contains parameters specific to the default signet network.
var SigNetParams = Params{
	Params:        &chaincfg.SigNetParams,
	NodeRPCPort:   "38332",
	RPCServerPort: "38336",
}

// RegressionNetParams contains parameters specific to the regression test
// network (wire.TestNet).
var RegressionNetParams = Params{
	Params:        &chaincfg.RegressionNetParams,
	NodeRPCPort:   "18443",
	RPCServerPort: "18446",
}

// SimNetParams contains parameters specific to the simulation test network
// (wire.SimNet).
var SimNetParams = Params{
	Params:        &chaincfg.SimNetParams,
	NodeRPCPort:   "18554",
	RPCServerPort: "18556",
}

// ByName returns the parameters of the network called name.  Both the
// chaincfg names and the bitcoind -chain names are accepted.
func ByName(name string) (*Params, error) {
	switch name {
	case "mainnet", "main":
		return &MainNetParams, nil

	case "testnet3", "testnet", "test":
		return &TestNet3Params, nil

	case "signet":
		return &SigNetParams, nil

	case "regtest":
		return &RegressionNetParams, nil

	case "simnet":
		return &SimNetParams, nil

	default:
		return nil, fmt.Errorf("unknown network %q", name)
	}
}
