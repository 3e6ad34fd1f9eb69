// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/consolidator/consolidator"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Consolidator is the set of operations exposed over RPC.
type Consolidator interface {
	// Consolidate spends outputs into one immediately.
	Consolidate(ctx context.Context,
		params consolidator.Params) (*consolidator.Outcome, error)

	// ConsolidateBelow admits a background consolidation job.
	ConsolidateBelow(ctx context.Context,
		params consolidator.Params) error

	// Cancel cancels the pending background job.
	Cancel(ctx context.Context) error
}

// resultReply is the reply of the commands that only acknowledge.
type resultReply struct {
	Result string `json:"result"`
}

// requestHandler is a handler function to handle an unmarshaled and parsed
// request into a marshalable response.  If the error is an
// InvalidParameterError or a consolidator error, it is mapped to the
// matching RPC error code.
type requestHandler func(ctx context.Context, c Consolidator,
	params map[string]json.RawMessage) (interface{}, error)

// handlerData pairs a handler with its parameter names, in positional
// order, and its usage text.
type handlerData struct {
	handler requestHandler
	params  []string
	usage   string
}

var rpcHandlers = map[string]handlerData{
	"consolidate": {
		handler: consolidate,
		params:  []string{"feerate", "min_utxos", "dryrun"},
		usage: "consolidate (feerate min_utxos dryrun)\n\n" +
			"Spend min_utxos of the smallest wallet outputs into " +
			"a single output.\n" +
			"feerate is in sat/kvB and defaults to the node estimate, " +
			"min_utxos defaults to 10, dryrun returns an unsigned " +
			"PSBT without broadcasting.",
	},
	"consolidate-below": {
		handler: consolidateBelow,
		params:  []string{"feerate", "min_utxos"},
		usage: "consolidate-below (feerate min_utxos)\n\n" +
			"Start a background job that consolidates min_utxos " +
			"outputs once the fee estimate is at or below feerate " +
			"(sat/kvB).",
	},
	"consolidate-cancel": {
		handler: consolidateCancel,
		usage: "consolidate-cancel\n\n" +
			"Cancel the pending consolidate-below job.",
	},
}

// Usage texts of the methods handled by the server itself.
const (
	helpUsage = "help (\"command\")\n\n" +
		"List all commands, or get help for the named command."

	stopUsage = "stop\n\nStop consolidatord."
)

// consolidate handles a consolidate request.
func consolidate(ctx context.Context, c Consolidator,
	params map[string]json.RawMessage) (interface{}, error) {

	p, err := parseConsolidateParams(params)
	if err != nil {
		return nil, err
	}

	dryRun, err := decodeParam[bool](params, "dryrun")
	if err != nil {
		return nil, err
	}
	p.DryRun = dryRun.UnwrapOr(false)

	return c.Consolidate(ctx, p)
}

// consolidateBelow handles a consolidate-below request.
func consolidateBelow(ctx context.Context, c Consolidator,
	params map[string]json.RawMessage) (interface{}, error) {

	p, err := parseConsolidateParams(params)
	if err != nil {
		return nil, err
	}

	if err := c.ConsolidateBelow(ctx, p); err != nil {
		return nil, err
	}

	return resultReply{Result: "OK"}, nil
}

// consolidateCancel handles a consolidate-cancel request.
func consolidateCancel(ctx context.Context, c Consolidator,
	_ map[string]json.RawMessage) (interface{}, error) {

	if err := c.Cancel(ctx); err != nil {
		return nil, err
	}

	return resultReply{Result: "Canceled"}, nil
}

// help handles a help request.
func help(params map[string]json.RawMessage) (interface{}, error) {
	command, err := decodeParam[string](params, "command")
	if err != nil {
		return nil, err
	}

	if command.IsNone() {
		methods := []string{helpUsage, stopUsage}
		for _, h := range rpcHandlers {
			methods = append(methods, h.usage)
		}

		// Only the first line of every usage.
		for i, usage := range methods {
			methods[i], _, _ = strings.Cut(usage, "\n")
		}
		slices.Sort(methods)

		return strings.Join(methods, "\n"), nil
	}

	switch name := command.UnwrapOr(""); name {
	case "help":
		return helpUsage, nil

	case "stop":
		return stopUsage, nil

	default:
		h, ok := rpcHandlers[name]
		if !ok {
			return nil, InvalidParameterError{
				fmt.Errorf("unknown command %q", name),
			}
		}

		return h.usage, nil
	}
}

// parseConsolidateParams decodes the feerate and min_utxos parameters
// shared by both consolidation commands.
func parseConsolidateParams(
	params map[string]json.RawMessage) (consolidator.Params, error) {

	feeRate, err := decodeParam[uint64](params, "feerate")
	if err != nil {
		return consolidator.Params{}, err
	}

	rate := fn.None[consolidator.SatPerKVByte]()
	if feeRate.IsSome() {
		r := feeRate.UnwrapOr(0)
		if r > uint64(btcutil.MaxSatoshi) {
			return consolidator.Params{}, InvalidParameterError{
				fmt.Errorf("feerate %d out of range", r),
			}
		}
		rate = fn.Some(consolidator.SatPerKVByte(r))
	}

	minUtxos, err := decodeParam[uint32](params, "min_utxos")
	if err != nil {
		return consolidator.Params{}, err
	}

	return consolidator.Params{
		FeeRate:  rate,
		MinUtxos: minUtxos,
	}, nil
}

// parseParams maps the positional or named params of a request to the
// parameter names of a method.
func parseParams(raw json.RawMessage,
	names []string) (map[string]json.RawMessage, error) {

	params := make(map[string]json.RawMessage, len(names))

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return params, nil
	}

	switch raw[0] {
	case '[':
		var positional []json.RawMessage
		if err := json.Unmarshal(raw, &positional); err != nil {
			return nil, InvalidParameterError{err}
		}
		if len(positional) > len(names) {
			return nil, ErrTooManyParams
		}
		for i, p := range positional {
			params[names[i]] = p
		}

	case '{':
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, InvalidParameterError{err}
		}
		for name := range params {
			if !slices.Contains(names, name) {
				return nil, InvalidParameterError{
					fmt.Errorf("unknown parameter %q", name),
				}
			}
		}

	default:
		return nil, InvalidParameterError{
			errors.New("params must be an array or an object"),
		}
	}

	return params, nil
}

// decodeParam decodes the named parameter. A missing or null parameter is
// None.
func decodeParam[T any](params map[string]json.RawMessage,
	name string) (fn.Option[T], error) {

	raw, ok := params[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return fn.None[T](), nil
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return fn.None[T](), InvalidParameterError{
			fmt.Errorf("invalid %s: %w", name, err),
		}
	}

	return fn.Some(v), nil
}
