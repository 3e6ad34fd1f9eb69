// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consolidator

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// DefaultMinUtxos is the number of inputs consolidated when the caller does
// not specify one.
const DefaultMinUtxos uint32 = 10

// Request is an accepted consolidation request. MinUtxos is the exact number
// of inputs the resulting transaction spends.
type Request struct {
	FeeRate  SatPerKVByte `json:"feerate"`
	MinUtxos uint32       `json:"min_utxos"`
}

// Validate checks that the request is structurally sound. Fee rate bounds
// depend on the node and are checked separately.
func (r Request) Validate() error {
	if r.MinUtxos < 1 {
		return fmt.Errorf("%w: min_utxos must be at least 1",
			ErrInvalidRequest)
	}
	if r.FeeRate <= 0 {
		return fmt.Errorf("%w: feerate must be positive",
			ErrInvalidRequest)
	}

	return nil
}

// String returns the compact JSON form of the request.
func (r Request) String() string {
	b, err := encodeRecord(r)
	if err != nil {
		return fmt.Sprintf("{feerate:%d min_utxos:%d}", r.FeeRate,
			r.MinUtxos)
	}

	return string(b)
}

// Params holds the caller supplied arguments of a consolidation command.
// Absent values are resolved against the node and the defaults.
type Params struct {
	FeeRate  fn.Option[SatPerKVByte]
	MinUtxos fn.Option[uint32]

	// DryRun builds the transaction without signing or publishing it.
	DryRun bool
}

// encodeRecord serializes a request as the persisted job record.
func encodeRecord(r Request) ([]byte, error) {
	return json.Marshal(r)
}

// decodeRecord parses a persisted job record. Both fields must be present
// and the request must validate.
func decodeRecord(b []byte) (Request, error) {
	var raw struct {
		FeeRate  *int64  `json:"feerate"`
		MinUtxos *uint32 `json:"min_utxos"`
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if raw.FeeRate == nil || raw.MinUtxos == nil {
		return Request{}, fmt.Errorf("%w: missing field in %q",
			ErrInvalidRequest, b)
	}

	req := Request{
		FeeRate:  SatPerKVByte(*raw.FeeRate),
		MinUtxos: *raw.MinUtxos,
	}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}

	return req, nil
}
