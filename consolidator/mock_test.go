// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consolidator

import (
	"context"
	"encoding/binary"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/consolidator/datastore"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockNode is a mock implementation of the Node interface.
type mockNode struct {
	mock.Mock
}

// A compile time check to ensure mockNode implements Node.
var _ Node = (*mockNode)(nil)

func (m *mockNode) ListUnspent(ctx context.Context) ([]Utxo, error) {
	args := m.Called(ctx)
	utxos, _ := args.Get(0).([]Utxo)

	return utxos, args.Error(1)
}

func (m *mockNode) FeeRates(ctx context.Context,
	confTarget uint32) (*FeeRates, error) {

	args := m.Called(ctx, confTarget)
	rates, _ := args.Get(0).(*FeeRates)

	return rates, args.Error(1)
}

func (m *mockNode) NewAddress(ctx context.Context) (btcutil.Address, error) {
	args := m.Called(ctx)
	addr, _ := args.Get(0).(btcutil.Address)

	return addr, args.Error(1)
}

func (m *mockNode) SignTransaction(ctx context.Context,
	tx *wire.MsgTx) (*wire.MsgTx, error) {

	args := m.Called(ctx, tx)
	switch signed := args.Get(0).(type) {
	case func(context.Context, *wire.MsgTx) *wire.MsgTx:
		return signed(ctx, tx), args.Error(1)

	case *wire.MsgTx:
		return signed, args.Error(1)
	}

	return nil, args.Error(1)
}

func (m *mockNode) PublishTransaction(ctx context.Context,
	tx *wire.MsgTx) (*chainhash.Hash, error) {

	args := m.Called(ctx, tx)
	switch publish := args.Get(0).(type) {
	case func(context.Context, *wire.MsgTx) (*chainhash.Hash, error):
		return publish(ctx, tx)

	case *chainhash.Hash:
		return publish, args.Error(1)
	}

	return nil, args.Error(1)
}

// mockStore is a mock implementation of the Store interface.
type mockStore struct {
	mock.Mock
}

// A compile time check to ensure mockStore implements Store.
var _ Store = (*mockStore)(nil)

func (m *mockStore) Get(ctx context.Context, namespace,
	key string) ([]byte, error) {

	args := m.Called(ctx, namespace, key)
	b, _ := args.Get(0).([]byte)

	return b, args.Error(1)
}

func (m *mockStore) Put(ctx context.Context, namespace, key string,
	value []byte) error {

	args := m.Called(ctx, namespace, key, value)
	return args.Error(0)
}

func (m *mockStore) Delete(ctx context.Context, namespace,
	key string) error {

	args := m.Called(ctx, namespace, key)
	return args.Error(0)
}

// p2wpkhScript returns a P2WPKH script whose program encodes seed.
func p2wpkhScript(t *testing.T, seed uint32) []byte {
	t.Helper()

	program := make([]byte, 20)
	binary.BigEndian.PutUint32(program, seed)

	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).AddData(program).Script()
	require.NoError(t, err)

	return script
}

// testUtxo returns a confirmed, spendable P2WPKH output.
func testUtxo(t *testing.T, index uint32, amount btcutil.Amount) Utxo {
	t.Helper()

	var hash chainhash.Hash
	binary.BigEndian.PutUint32(hash[:], index)

	return Utxo{
		OutPoint:      wire.OutPoint{Hash: hash, Index: index},
		Amount:        amount,
		PkScript:      p2wpkhScript(t, index),
		Confirmations: 6,
		Spendable:     true,
	}
}

// scenarioUtxos returns the seven outputs of the reference wallet.
func scenarioUtxos(t *testing.T) []Utxo {
	t.Helper()

	amounts := []btcutil.Amount{
		100000, 100000, 100000, 100000, 20000, 50000, 590,
	}
	utxos := make([]Utxo, 0, len(amounts))
	for i, amt := range amounts {
		utxos = append(utxos, testUtxo(t, uint32(i+1), amt))
	}

	return utxos
}

// testAddress returns a regtest P2TR address.
func testAddress(t *testing.T) btcutil.Address {
	t.Helper()

	addr, err := btcutil.NewAddressTaproot(
		make([]byte, 32), &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	return addr
}

// feeRates returns a fee snapshot with the given relay floor and estimate.
func feeRates(min, estimate SatPerKVByte) *FeeRates {
	return &FeeRates{
		MinAcceptable: min,
		Estimate:      fn.Some(estimate),
	}
}

// expectPublish sets up a node that signs and publishes anything.
func expectPublish(t *testing.T, node *mockNode) {
	t.Helper()

	node.On("NewAddress", mock.Anything).Return(testAddress(t), nil)
	node.On("SignTransaction", mock.Anything, mock.Anything).Return(
		func(_ context.Context, tx *wire.MsgTx) *wire.MsgTx {
			return tx
		}, nil,
	)
	node.On("PublishTransaction", mock.Anything, mock.Anything).Return(
		&chainhash.Hash{}, nil,
	)
}

// trackedTicker is a forced ticker that counts its stops.
type trackedTicker struct {
	*ticker.Force
	stops *atomic.Int32
}

// Stop stops the ticker and records it.
func (t *trackedTicker) Stop() {
	t.Force.Stop()
	t.stops.Add(1)
}

// testHarness bundles a Consolidator with its mocks.
type testHarness struct {
	node  *mockNode
	store Store
	ticks chan bool
	c     *Consolidator

	// tickerMtx guards ticker, the ticker of the latest poll loop.
	tickerMtx sync.Mutex
	ticker    *ticker.Force

	// tickersStarted and tickersStopped count poll loop tickers.
	tickersStarted atomic.Int32
	tickersStopped atomic.Int32
}

// newTestStore opens a bbolt datastore in a temporary directory.
func newTestStore(t *testing.T) datastore.Store {
	t.Helper()

	store, err := datastore.OpenKVStore(
		filepath.Join(t.TempDir(), "test.db"), time.Second,
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}

// newHarness creates a Consolidator on a mock node. store may be nil when
// persist is false.
func newHarness(t *testing.T, store Store, persist bool) *testHarness {
	t.Helper()

	h := &testHarness{
		node:  &mockNode{},
		store: store,
		ticks: make(chan bool, 16),
	}

	c, err := New(Config{
		Node:          h.node,
		Store:         store,
		Persist:       persist,
		Interval:      time.Hour,
		FeeMultiplier: 1.0,
		FeeTarget:     DefaultFeeTarget,
		AddressType:   AddressTypeBech32m,
		Clock:         clock.NewTestClock(time.Unix(1700000000, 0)),
		NewTicker: func(d time.Duration) ticker.Ticker {
			force := ticker.NewForce(d)

			h.tickerMtx.Lock()
			h.ticker = force
			h.tickerMtx.Unlock()
			h.tickersStarted.Add(1)

			return &trackedTicker{
				Force: force,
				stops: &h.tickersStopped,
			}
		},
	})
	require.NoError(t, err)
	c.onTick = func(pending bool) {
		h.ticks <- pending
	}
	h.c = c

	t.Cleanup(c.Stop)

	return h
}

// waitTick waits for the poll loop to finish a tick and returns whether the
// job is still pending.
func (h *testHarness) waitTick(t *testing.T) bool {
	t.Helper()

	select {
	case pending := <-h.ticks:
		return pending
	case <-time.After(5 * time.Second):
		t.Fatalf("poll loop did not tick")
		return false
	}
}

// forceTick fires the ticker and waits for the resulting tick.
func (h *testHarness) forceTick(t *testing.T) bool {
	t.Helper()

	h.tickerMtx.Lock()
	force := h.ticker
	h.tickerMtx.Unlock()
	require.NotNil(t, force, "no poll loop running")

	select {
	case force.Force <- time.Now():
	case <-time.After(5 * time.Second):
		t.Fatalf("poll loop did not take tick")
	}

	return h.waitTick(t)
}
