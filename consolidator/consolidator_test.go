// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consolidator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/consolidator/datastore"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testMinRelay SatPerKVByte = 2500

// params builds command params with both values set.
func params(rate SatPerKVByte, minUtxos uint32) Params {
	return Params{
		FeeRate:  fn.Some(rate),
		MinUtxos: fn.Some(minUtxos),
	}
}

// TestConsolidateScenario runs the reference wallet through the immediate
// command.
func TestConsolidateScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil, false)
	h.node.On("FeeRates", mock.Anything, uint32(DefaultFeeTarget)).Return(
		feeRates(testMinRelay, 10000), nil,
	)
	h.node.On("ListUnspent", mock.Anything).Return(scenarioUtxos(t), nil)
	expectPublish(t, h.node)

	// Below the relay floor, nothing is built.
	_, err := h.c.Consolidate(ctx, params(2000, 5))
	var tooLow *FeeRateTooLowError
	require.ErrorAs(t, err, &tooLow)
	require.Equal(t, SatPerKVByte(2000), tooLow.FeeRate)
	require.Equal(t, testMinRelay, tooLow.MinAcceptable)
	require.EqualError(t, err,
		"Feerate 2000perkb is below min_acceptable of 2500perkb")
	h.node.AssertNotCalled(t, "ListUnspent", mock.Anything)

	// More outputs than the wallet has.
	_, err = h.c.Consolidate(ctx, params(8500, 10))
	var insufficient *InsufficientUtxosError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, 7, insufficient.Current)
	require.EqualValues(t, 10, insufficient.Wanted)
	require.EqualError(t, err, "Not enough UTXO's to consolidate: "+
		"Current:7 Wanted:>=10")
	h.node.AssertNotCalled(t, "PublishTransaction", mock.Anything,
		mock.Anything)

	// Exactly five are consolidated.
	outcome, err := h.c.Consolidate(ctx, params(8500, 5))
	require.NoError(t, err)
	require.Equal(t, 5, outcome.NumUtxos)
	require.NotEmpty(t, outcome.Tx)
	require.Empty(t, outcome.PSBT)
	require.Equal(t, SatPerKVByte(8500), outcome.FeeRate)

	published := h.node.Calls[len(h.node.Calls)-1]
	require.Equal(t, "PublishTransaction", published.Method)
	tx := published.Arguments.Get(1).(*wire.MsgTx)
	require.Len(t, tx.TxIn, 5)
	require.Len(t, tx.TxOut, 1)
	require.EqualValues(t, outcome.Amount, tx.TxOut[0].Value)
	require.Equal(t, tx.TxHash().String(), outcome.TxID)
}

// TestConsolidateFeeRateTooHigh checks the configured ceiling.
func TestConsolidateFeeRateTooHigh(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, false)
	h.node.On("FeeRates", mock.Anything, mock.Anything).Return(
		feeRates(testMinRelay, 10000), nil,
	)

	_, err := h.c.Consolidate(
		context.Background(), params(DefaultMaxFeeRate+1, 5),
	)
	var tooHigh *FeeRateTooHighError
	require.ErrorAs(t, err, &tooHigh)
	require.Equal(t, DefaultMaxFeeRate, tooHigh.MaxAcceptable)
}

// TestConsolidateDefaults checks that absent params use the estimate and
// the default count.
func TestConsolidateDefaults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil, false)
	h.node.On("FeeRates", mock.Anything, mock.Anything).Return(
		feeRates(testMinRelay, 3000), nil,
	).Once()
	h.node.On("ListUnspent", mock.Anything).Return(scenarioUtxos(t), nil)

	// Seven outputs is fewer than the default of ten.
	_, err := h.c.Consolidate(ctx, Params{})
	var insufficient *InsufficientUtxosError
	require.ErrorAs(t, err, &insufficient)
	require.EqualValues(t, DefaultMinUtxos, insufficient.Wanted)

	// Without an estimate there is no default fee rate.
	h.node.On("FeeRates", mock.Anything, mock.Anything).Return(
		&FeeRates{MinAcceptable: testMinRelay}, nil,
	).Once()
	_, err = h.c.Consolidate(ctx, Params{MinUtxos: fn.Some[uint32](2)})
	require.ErrorIs(t, err, ErrNoFeeEstimate)
}

// TestConsolidateDryRun checks that a dry run neither signs nor publishes.
func TestConsolidateDryRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, false)
	h.node.On("FeeRates", mock.Anything, mock.Anything).Return(
		feeRates(testMinRelay, 10000), nil,
	)
	h.node.On("ListUnspent", mock.Anything).Return(scenarioUtxos(t), nil)
	h.node.On("NewAddress", mock.Anything).Return(testAddress(t), nil)

	p := params(5000, 3)
	p.DryRun = true
	outcome, err := h.c.Consolidate(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, 3, outcome.NumUtxos)
	require.NotEmpty(t, outcome.PSBT)

	packet, err := psbt.NewFromRawBytes(
		strings.NewReader(outcome.PSBT), true,
	)
	require.NoError(t, err)
	require.Len(t, packet.UnsignedTx.TxIn, 3)
	require.Equal(t, outcome.TxID, packet.UnsignedTx.TxHash().String())

	h.node.AssertNotCalled(t, "SignTransaction", mock.Anything,
		mock.Anything)
	h.node.AssertNotCalled(t, "PublishTransaction", mock.Anything,
		mock.Anything)
}

// TestConsolidateAssemblyFailed checks that node errors are kept verbatim.
func TestConsolidateAssemblyFailed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, false)
	h.node.On("FeeRates", mock.Anything, mock.Anything).Return(
		feeRates(testMinRelay, 10000), nil,
	)
	h.node.On("ListUnspent", mock.Anything).Return(scenarioUtxos(t), nil)
	h.node.On("NewAddress", mock.Anything).Return(testAddress(t), nil)
	h.node.On("SignTransaction", mock.Anything, mock.Anything).Return(
		func(_ context.Context, tx *wire.MsgTx) *wire.MsgTx {
			return tx
		}, nil,
	)
	errConflict := errors.New("txn-mempool-conflict")
	h.node.On("PublishTransaction", mock.Anything, mock.Anything).Return(
		nil, errConflict,
	)

	_, err := h.c.Consolidate(context.Background(), params(5000, 3))
	var failed *AssemblyFailedError
	require.ErrorAs(t, err, &failed)
	require.ErrorIs(t, err, errConflict)
	require.Contains(t, err.Error(), "txn-mempool-conflict")
}

// TestConsolidateBelowScenario waits out a high fee rate, then succeeds
// once it drops.
func TestConsolidateBelowScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	h := newHarness(t, store, true)
	require.NoError(t, h.c.Start(ctx))

	h.node.On("FeeRates", mock.Anything, mock.Anything).Return(
		feeRates(testMinRelay, 44000), nil,
	).Twice()
	h.node.On("FeeRates", mock.Anything, mock.Anything).Return(
		feeRates(testMinRelay, 8000), nil,
	).Once()
	h.node.On("ListUnspent", mock.Anything).Return(scenarioUtxos(t), nil)
	expectPublish(t, h.node)

	require.NoError(t, h.c.ConsolidateBelow(ctx, params(8000, 5)))
	job := h.c.ActiveJob()
	require.NotNil(t, job)

	// The first check runs right away and the fee is too high.
	require.True(t, h.waitTick(t))
	require.True(t, h.forceTick(t))
	require.Equal(t, StatusPending, h.c.JobStatus(job))
	h.node.AssertNotCalled(t, "ListUnspent", mock.Anything)

	_, err := store.Get(ctx, RecordNamespace, RecordKey)
	require.NoError(t, err)

	// The fee drops to the target.
	require.False(t, h.forceTick(t))
	require.Equal(t, StatusSucceeded, h.c.JobStatus(job))
	require.Nil(t, h.c.ActiveJob())
	h.node.AssertNumberOfCalls(t, "PublishTransaction", 1)
	require.Equal(t, StatusNone, h.c.JobStatus(h.c.ActiveJob()))

	published := h.node.Calls[len(h.node.Calls)-1]
	tx := published.Arguments.Get(1).(*wire.MsgTx)
	require.Len(t, tx.TxIn, 5)

	_, err = store.Get(ctx, RecordNamespace, RecordKey)
	require.ErrorIs(t, err, datastore.ErrNotFound)

	// The slot is free again.
	h.node.On("FeeRates", mock.Anything, mock.Anything).Return(
		feeRates(testMinRelay, 44000), nil,
	)
	require.NoError(t, h.c.ConsolidateBelow(ctx, params(8000, 5)))
}

// TestConsolidateBelowTransientErrors checks that tick failures keep the job
// pending.
func TestConsolidateBelowTransientErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil, false)
	require.NoError(t, h.c.Start(ctx))

	// The node is unreachable.
	h.node.On("FeeRates", mock.Anything, mock.Anything).Return(
		nil, errors.New("connection refused"),
	).Once()

	// The job's fee rate is below the relay floor.
	h.node.On("FeeRates", mock.Anything, mock.Anything).Return(
		feeRates(9000, 1000), nil,
	).Once()

	// The node has no estimate.
	h.node.On("FeeRates", mock.Anything, mock.Anything).Return(
		&FeeRates{MinAcceptable: testMinRelay}, nil,
	).Once()

	// Too few outputs for now.
	h.node.On("FeeRates", mock.Anything, mock.Anything).Return(
		feeRates(testMinRelay, 4000), nil,
	)
	h.node.On("ListUnspent", mock.Anything).Return(
		scenarioUtxos(t)[:3], nil,
	)

	require.NoError(t, h.c.ConsolidateBelow(ctx, params(8000, 5)))
	job := h.c.ActiveJob()

	require.True(t, h.waitTick(t))
	for i := 0; i < 3; i++ {
		require.True(t, h.forceTick(t))
	}
	require.Equal(t, StatusPending, h.c.JobStatus(job))
	h.node.AssertNumberOfCalls(t, "ListUnspent", 1)
}

// TestConsolidateBelowGuard checks single job admission and cancellation.
func TestConsolidateBelowGuard(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	h := newHarness(t, store, true)

	require.ErrorIs(t,
		h.c.ConsolidateBelow(ctx, params(8000, 5)), ErrNotStarted)
	require.NoError(t, h.c.Start(ctx))

	h.node.On("FeeRates", mock.Anything, mock.Anything).Return(
		feeRates(testMinRelay, 44000), nil,
	)

	require.NoError(t, h.c.ConsolidateBelow(ctx, params(8000, 5)))
	require.True(t, h.waitTick(t))

	err := h.c.ConsolidateBelow(ctx, params(9000, 3))
	require.ErrorIs(t, err, ErrJobAlreadyRunning)
	require.EqualError(t, err, "Already have a consolidate-below running!")

	// The record still holds the first request.
	jobs := NewJobStore(store)
	loaded, err := jobs.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, Request{FeeRate: 8000, MinUtxos: 5},
		loaded.UnwrapOr(Request{}))

	job := h.c.ActiveJob()
	require.NoError(t, h.c.Cancel(ctx))
	require.ErrorIs(t, h.c.Cancel(ctx), ErrNoActiveJob)
	require.Equal(t, StatusCanceled, h.c.JobStatus(job))

	loaded, err = jobs.Load(ctx)
	require.NoError(t, err)
	require.True(t, loaded.IsNone())

	require.NoError(t, h.c.ConsolidateBelow(ctx, params(9000, 3)))
}

// TestConsolidateBelowDefaultFeeRate checks that an absent fee rate is taken
// from the estimate at admission.
func TestConsolidateBelowDefaultFeeRate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil, false)
	require.NoError(t, h.c.Start(ctx))

	h.node.On("FeeRates", mock.Anything, mock.Anything).Return(
		&FeeRates{MinAcceptable: testMinRelay}, nil,
	).Once()
	require.ErrorIs(t, h.c.ConsolidateBelow(ctx, Params{}),
		ErrNoFeeEstimate)

	h.node.On("FeeRates", mock.Anything, mock.Anything).Return(
		feeRates(testMinRelay, 12000), nil,
	).Once()
	h.node.On("FeeRates", mock.Anything, mock.Anything).Return(
		feeRates(testMinRelay, 44000), nil,
	)
	require.NoError(t, h.c.ConsolidateBelow(ctx, Params{}))

	job := h.c.ActiveJob()
	require.Equal(t, Request{FeeRate: 12000, MinUtxos: DefaultMinUtxos},
		job.Request)
	require.True(t, h.waitTick(t))
}

// TestConsolidateBelowPersistFailure checks that a job that cannot be
// persisted is not admitted.
func TestConsolidateBelowPersistFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &mockStore{}
	store.On("Get", mock.Anything, RecordNamespace, RecordKey).Return(
		nil, datastore.ErrNotFound,
	)
	errDisk := errors.New("disk full")
	store.On("Put", mock.Anything, RecordNamespace, RecordKey,
		mock.Anything).Return(errDisk)

	h := newHarness(t, store, true)
	require.NoError(t, h.c.Start(ctx))

	err := h.c.ConsolidateBelow(ctx, params(8000, 5))
	require.ErrorIs(t, err, errDisk)
	require.Nil(t, h.c.ActiveJob())
	require.ErrorIs(t, h.c.Cancel(ctx), ErrNoActiveJob)
}

// TestCancelDeleteFailure checks that a failed delete does not block the
// cancellation and is retried later.
func TestCancelDeleteFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &mockStore{}
	store.On("Get", mock.Anything, RecordNamespace, RecordKey).Return(
		nil, datastore.ErrNotFound,
	)
	store.On("Put", mock.Anything, RecordNamespace, RecordKey,
		mock.Anything).Return(nil)
	store.On("Delete", mock.Anything, RecordNamespace, RecordKey).Return(
		errors.New("io error"),
	).Once()
	store.On("Delete", mock.Anything, RecordNamespace, RecordKey).Return(
		nil,
	).Once()

	h := newHarness(t, store, true)
	require.NoError(t, h.c.Start(ctx))
	h.node.On("FeeRates", mock.Anything, mock.Anything).Return(
		feeRates(testMinRelay, 44000), nil,
	)

	require.NoError(t, h.c.ConsolidateBelow(ctx, params(8000, 5)))
	require.True(t, h.waitTick(t))
	require.NoError(t, h.c.Cancel(ctx))
	require.True(t, h.c.pendingDelete.Load())

	// The next command retries the delete.
	_, err := h.c.Consolidate(ctx, params(1000, 5))
	require.Error(t, err)
	require.False(t, h.c.pendingDelete.Load())
	store.AssertNumberOfCalls(t, "Delete", 2)
}

// TestCancelDuringTick checks that a tick finishing after a cancellation
// does not reopen the job.
func TestCancelDuringTick(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil, false)
	require.NoError(t, h.c.Start(ctx))

	h.node.On("FeeRates", mock.Anything, mock.Anything).Return(
		feeRates(testMinRelay, 5000), nil,
	)
	h.node.On("ListUnspent", mock.Anything).Return(
		scenarioUtxos(t), nil,
	).Run(func(mock.Arguments) {
		assert.NoError(t, h.c.Cancel(ctx))
	})
	expectPublish(t, h.node)

	require.NoError(t, h.c.ConsolidateBelow(ctx, params(8000, 5)))
	job := h.c.ActiveJob()

	require.False(t, h.waitTick(t))
	require.Equal(t, StatusCanceled, h.c.JobStatus(job))
	require.Nil(t, h.c.ActiveJob())
}

// TestFailedJob checks that a structurally invalid job is failed and its
// record removed.
func TestFailedJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	h := newHarness(t, store, true)
	require.NoError(t, h.c.Start(ctx))

	h.node.On("FeeRates", mock.Anything, mock.Anything).Return(
		feeRates(testMinRelay, 5000), nil,
	)

	bad := Request{FeeRate: 8000}
	require.NoError(t, store.Put(ctx, RecordNamespace, RecordKey,
		[]byte(`{"feerate":8000,"min_utxos":0}`)))

	job, err := h.c.guard.Admit(bad, nil)
	require.NoError(t, err)
	h.c.startJob(job)

	require.False(t, h.waitTick(t))
	require.Equal(t, StatusFailed, h.c.JobStatus(job))

	_, err = store.Get(ctx, RecordNamespace, RecordKey)
	require.ErrorIs(t, err, datastore.ErrNotFound)
}

// TestFailedJobAboveStandardSize checks that a job whose transaction can
// never be relayed is failed instead of retried.
func TestFailedJobAboveStandardSize(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	h := newHarness(t, store, true)
	require.NoError(t, h.c.Start(ctx))

	h.node.On("FeeRates", mock.Anything, mock.Anything).Return(
		feeRates(testMinRelay, 3000), nil,
	)
	h.node.On("ListUnspent", mock.Anything).Return(
		manyUtxos(t, 1500, 100000), nil,
	)

	require.NoError(t, h.c.ConsolidateBelow(ctx, params(3000, 1500)))
	job := h.c.ActiveJob()

	require.False(t, h.waitTick(t))
	require.Equal(t, StatusFailed, h.c.JobStatus(job))
	require.Nil(t, h.c.ActiveJob())
	h.node.AssertNotCalled(t, "NewAddress", mock.Anything)

	_, err := store.Get(ctx, RecordNamespace, RecordKey)
	require.ErrorIs(t, err, datastore.ErrNotFound)
}

// TestStopFinishesInFlightTick checks that Stop lets a publishing check
// complete, so the restarted consolidator does not repeat the job.
func TestStopFinishesInFlightTick(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	h := newHarness(t, store, true)
	require.NoError(t, h.c.Start(ctx))

	publishing := make(chan struct{})
	release := make(chan struct{})

	h.node.On("FeeRates", mock.Anything, mock.Anything).Return(
		feeRates(testMinRelay, 8000), nil,
	)
	h.node.On("ListUnspent", mock.Anything).Return(scenarioUtxos(t), nil)
	h.node.On("NewAddress", mock.Anything).Return(testAddress(t), nil)
	h.node.On("SignTransaction", mock.Anything, mock.Anything).Return(
		func(_ context.Context, tx *wire.MsgTx) *wire.MsgTx {
			return tx
		}, nil,
	)
	h.node.On("PublishTransaction", mock.Anything, mock.Anything).Return(
		func(ctx context.Context, _ *wire.MsgTx) (*chainhash.Hash,
			error) {

			close(publishing)
			select {
			case <-release:
				return &chainhash.Hash{}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}, nil,
	).Once()

	require.NoError(t, h.c.ConsolidateBelow(ctx, params(8000, 5)))
	job := h.c.ActiveJob()

	select {
	case <-publishing:
	case <-time.After(5 * time.Second):
		t.Fatalf("job did not publish")
	}

	stopped := make(chan struct{})
	go func() {
		h.c.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatalf("stop returned while a publish was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatalf("stop did not return")
	}

	require.False(t, h.waitTick(t))
	require.Equal(t, StatusSucceeded, h.c.JobStatus(job))

	_, err := store.Get(ctx, RecordNamespace, RecordKey)
	require.ErrorIs(t, err, datastore.ErrNotFound)

	// Nothing is left to resume.
	restarted := newHarness(t, store, true)
	require.NoError(t, restarted.c.Start(ctx))
	require.Nil(t, restarted.c.ActiveJob())
	restarted.node.AssertNotCalled(t, "PublishTransaction", mock.Anything,
		mock.Anything)
}

// TestStopDuringAdmission checks that a job admitted concurrently with Stop
// never keeps polling after Stop returns.
func TestStopDuringAdmission(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		h := newHarness(t, nil, false)
		h.node.On("FeeRates", mock.Anything, mock.Anything).Return(
			feeRates(testMinRelay, 44000), nil,
		).Maybe()
		require.NoError(t, h.c.Start(ctx))

		var (
			wg       sync.WaitGroup
			admitErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			admitErr = h.c.ConsolidateBelow(ctx, params(8000, 5))
		}()
		go func() {
			defer wg.Done()
			h.c.Stop()
		}()
		wg.Wait()

		if admitErr != nil {
			require.ErrorIs(t, admitErr, ErrNotStarted)
			require.Zero(t, h.tickersStarted.Load())
			continue
		}

		// The admitted job's poll loop ended inside Stop.
		require.EqualValues(t, 1, h.tickersStarted.Load())
		require.EqualValues(t, 1, h.tickersStopped.Load())
	}
}

// TestRecovery checks restarts with and without persistence.
func TestRecovery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("resume", func(t *testing.T) {
		t.Parallel()

		store := newTestStore(t)
		first := newHarness(t, store, true)
		require.NoError(t, first.c.Start(ctx))
		first.node.On("FeeRates", mock.Anything, mock.Anything).Return(
			feeRates(testMinRelay, 44000), nil,
		)
		require.NoError(t, first.c.ConsolidateBelow(
			ctx, params(8000, 5),
		))
		require.True(t, first.waitTick(t))
		first.c.Stop()

		// The record survives the stop.
		second := newHarness(t, store, true)
		second.node.On("FeeRates", mock.Anything, mock.Anything).Return(
			feeRates(testMinRelay, 44000), nil,
		)
		require.NoError(t, second.c.Start(ctx))

		job := second.c.ActiveJob()
		require.NotNil(t, job)
		require.Equal(t, Request{FeeRate: 8000, MinUtxos: 5},
			job.Request)
		require.True(t, second.waitTick(t))
		require.Equal(t, StatusPending, second.c.JobStatus(job))
	})

	t.Run("no record", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, newTestStore(t), true)
		require.NoError(t, h.c.Start(ctx))
		require.Nil(t, h.c.ActiveJob())
	})

	t.Run("malformed record", func(t *testing.T) {
		t.Parallel()

		store := newTestStore(t)
		require.NoError(t, store.Put(ctx, RecordNamespace, RecordKey,
			[]byte(`{"feerate":"cheap"}`)))

		h := newHarness(t, store, true)
		require.NoError(t, h.c.Start(ctx))
		require.Nil(t, h.c.ActiveJob())

		_, err := store.Get(ctx, RecordNamespace, RecordKey)
		require.ErrorIs(t, err, datastore.ErrNotFound)
	})

	t.Run("persistence disabled", func(t *testing.T) {
		t.Parallel()

		// Any store access would fail the mock.
		store := &mockStore{}
		h := newHarness(t, store, false)
		require.NoError(t, h.c.Start(ctx))
		require.Nil(t, h.c.ActiveJob())
		store.AssertExpectations(t)
		require.Empty(t, store.Calls)
	})
}

// TestConfigValidate checks option bounds.
func TestConfigValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			Node:          &mockNode{},
			Interval:      time.Second,
			FeeMultiplier: DefaultFeeMultiplier,
		}
	}

	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "no node",
			mutate:  func(c *Config) { c.Node = nil },
			wantErr: true,
		},
		{
			name:    "interval too short",
			mutate:  func(c *Config) { c.Interval = time.Millisecond },
			wantErr: true,
		},
		{
			name:    "multiplier too low",
			mutate:  func(c *Config) { c.FeeMultiplier = 0.2 },
			wantErr: true,
		},
		{
			name:    "multiplier too high",
			mutate:  func(c *Config) { c.FeeMultiplier = 3.1 },
			wantErr: true,
		},
		{
			name:    "persist without store",
			mutate:  func(c *Config) { c.Persist = true },
			wantErr: true,
		},
		{
			name: "unknown address type",
			mutate: func(c *Config) {
				c.AddressType = "p2wsh"
			},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tc.mutate(&cfg)

			c, err := New(cfg)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, AddressTypeBech32m, c.cfg.AddressType)
			require.EqualValues(t, DefaultFeeTarget, c.cfg.FeeTarget)
			require.Equal(t, DefaultMaxFeeRate, c.cfg.MaxFeeRate)
		})
	}
}
