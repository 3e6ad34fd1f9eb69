// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consolidator

import (
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// DefaultMaxFeeRate is the default maximum fee rate in sat/kvb that
	// the consolidator will accept. This is 1000 sat/vb.
	DefaultMaxFeeRate SatPerKVByte = 1000 * 1000

	// DefaultFeeMultiplier scales the current estimate when a background
	// job fires.
	DefaultFeeMultiplier = 1.1

	// MinFeeMultiplier and MaxFeeMultiplier bound the fee multiplier.
	MinFeeMultiplier = 0.3
	MaxFeeMultiplier = 3.0

	// DefaultFeeTarget is the confirmation target, in blocks, used to
	// query the node fee estimator.
	DefaultFeeTarget = 6
)

// SatPerKVByte is a fee rate in satoshis per kilo-virtual-byte.
type SatPerKVByte btcutil.Amount

// NewSatPerKVByte converts a fee rate expressed in BTC/kvB, as reported by
// bitcoind, to a SatPerKVByte.
func NewSatPerKVByte(btcPerKvB float64) (SatPerKVByte, error) {
	amt, err := btcutil.NewAmount(btcPerKvB)
	if err != nil {
		return 0, err
	}
	if amt < 0 {
		return 0, fmt.Errorf("negative fee rate %v", btcPerKvB)
	}

	return SatPerKVByte(amt), nil
}

// FeeForVSize returns ceil(vsize * rate / 1000).
func (s SatPerKVByte) FeeForVSize(vsize int) btcutil.Amount {
	return btcutil.Amount((int64(vsize)*int64(s) + 999) / 1000)
}

// Scale multiplies the fee rate by m, rounding to the nearest sat/kvB.
func (s SatPerKVByte) Scale(m float64) SatPerKVByte {
	return SatPerKVByte(math.Round(float64(s) * m))
}

// String returns the fee rate in the "<n>perkb" notation used in logs and
// error messages.
func (s SatPerKVByte) String() string {
	return fmt.Sprintf("%dperkb", int64(s))
}

// FeeRates is a snapshot of the node fee estimator.
type FeeRates struct {
	// MinAcceptable is the lowest fee rate the node will relay.
	MinAcceptable SatPerKVByte

	// Estimate is the smart fee estimate for the configured target. It is
	// None when the node has not gathered enough data.
	Estimate fn.Option[SatPerKVByte]
}
