// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consolidator

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

var (
	// ErrJobAlreadyRunning is returned when a consolidate-below job is
	// submitted while another one is still pending.
	//
	//nolint:stylecheck
	ErrJobAlreadyRunning = errors.New(
		"Already have a consolidate-below running!",
	)

	// ErrNoActiveJob is returned when canceling without a pending job.
	ErrNoActiveJob = errors.New("no consolidate-below job is running")

	// ErrInvalidRequest is returned when a request is structurally
	// invalid. A pending job hitting this error is failed.
	ErrInvalidRequest = errors.New("invalid consolidation request")

	// ErrNoFeeEstimate is returned when the node has no fee estimate for
	// the configured target.
	ErrNoFeeEstimate = errors.New("no fee estimate available")

	// ErrNotStarted is returned by operations that need a started
	// consolidator.
	ErrNotStarted = errors.New("consolidator not started")
)

// FeeRateTooLowError is returned when a fee rate is below what the node
// will relay.
type FeeRateTooLowError struct {
	FeeRate       SatPerKVByte
	MinAcceptable SatPerKVByte
}

// Error implements the error interface.
func (e *FeeRateTooLowError) Error() string {
	return fmt.Sprintf("Feerate %v is below min_acceptable of %v",
		e.FeeRate, e.MinAcceptable)
}

// FeeRateTooHighError is returned when a fee rate exceeds the configured
// maximum.
type FeeRateTooHighError struct {
	FeeRate       SatPerKVByte
	MaxAcceptable SatPerKVByte
}

// Error implements the error interface.
func (e *FeeRateTooHighError) Error() string {
	return fmt.Sprintf("Feerate %v is above max_acceptable of %v",
		e.FeeRate, e.MaxAcceptable)
}

// InsufficientUtxosError is returned when fewer eligible UTXOs exist than
// requested.
type InsufficientUtxosError struct {
	Current int
	Wanted  uint32
}

// Error implements the error interface.
func (e *InsufficientUtxosError) Error() string {
	return fmt.Sprintf("Not enough UTXO's to consolidate: "+
		"Current:%d Wanted:>=%d", e.Current, e.Wanted)
}

// DustOutputError is returned when the consolidated output would be dust
// after paying the fee.
type DustOutputError struct {
	Total  btcutil.Amount
	Fee    btcutil.Amount
	Output btcutil.Amount
}

// Error implements the error interface.
func (e *DustOutputError) Error() string {
	return fmt.Sprintf("Consolidated output of %v (inputs %v, fee %v) "+
		"is dust", e.Output, e.Total, e.Fee)
}

// AssemblyFailedError wraps a failure reported by the node while building,
// signing or publishing a consolidation transaction. The node's message is
// kept verbatim.
type AssemblyFailedError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *AssemblyFailedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying node error.
func (e *AssemblyFailedError) Unwrap() error {
	return e.Err
}
