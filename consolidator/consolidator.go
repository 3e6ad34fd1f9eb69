// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package consolidator merges small wallet UTXOs into a single output when
// fees are cheap. It offers an immediate consolidation and a single
// background job that waits for the fee estimate to drop below a target.
package consolidator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
)

// DefaultInterval is the default time between two checks of a background
// job.
const DefaultInterval = time.Hour

// stopTimeout bounds how long Stop waits for an in-flight check before
// canceling its node calls.
const stopTimeout = time.Minute

// Config holds the dependencies and policy of a Consolidator.
type Config struct {
	// Node is the wallet and fee estimator.
	Node Node

	// Store holds the persisted job record. It is only used when Persist
	// is set.
	Store Store

	// Persist enables saving the background job across restarts.
	Persist bool

	// Interval is the time between two checks of a background job.
	Interval time.Duration

	// FeeMultiplier scales the fee estimate a triggered job pays.
	FeeMultiplier float64

	// FeeTarget is the confirmation target of fee estimates.
	FeeTarget uint32

	// MaxFeeRate is the highest fee rate accepted.
	MaxFeeRate SatPerKVByte

	// Reserve, when positive, keeps one output of at least this value
	// untouched.
	Reserve btcutil.Amount

	// AddressType is the type of the consolidated output.
	AddressType AddressType

	// Clock stamps jobs. Defaults to the wall clock.
	Clock clock.Clock

	// NewTicker creates the ticker driving a background job. Defaults to
	// ticker.New.
	NewTicker func(time.Duration) ticker.Ticker
}

// validate checks the config and fills in defaults.
func (c *Config) validate() error {
	if c.Node == nil {
		return errors.New("node is required")
	}
	if c.Persist && c.Store == nil {
		return errors.New("persistence requires a store")
	}
	if c.Interval < time.Second {
		return fmt.Errorf("interval must be at least 1s, got %v",
			c.Interval)
	}
	if c.FeeMultiplier < MinFeeMultiplier ||
		c.FeeMultiplier > MaxFeeMultiplier {

		return fmt.Errorf("fee multiplier %v outside [%v, %v]",
			c.FeeMultiplier, MinFeeMultiplier, MaxFeeMultiplier)
	}
	if c.FeeTarget == 0 {
		c.FeeTarget = DefaultFeeTarget
	}
	if c.MaxFeeRate <= 0 {
		c.MaxFeeRate = DefaultMaxFeeRate
	}
	if c.AddressType == "" {
		c.AddressType = AddressTypeBech32m
	}
	if c.Clock == nil {
		c.Clock = clock.NewDefaultClock()
	}
	if c.NewTicker == nil {
		c.NewTicker = func(d time.Duration) ticker.Ticker {
			return ticker.New(d)
		}
	}

	return nil
}

// Consolidator owns the job guard and serializes all work against the node.
type Consolidator struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg Config

	guard     *JobGuard
	jobs      *JobStore
	assembler *Assembler

	destScriptSize int

	// execMtx serializes the node facing part of commands and job ticks.
	execMtx sync.Mutex

	// pendingDelete is set when clearing the record failed.
	pendingDelete atomic.Bool

	// lifeMtx orders job admission against Stop, so every poll loop is
	// counted in wg before Stop waits on it.
	lifeMtx sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	// onTick, when set, observes the result of every tick.
	onTick func(pending bool)

	wg   sync.WaitGroup
	quit chan struct{}
}

// New creates a Consolidator from cfg.
func New(cfg Config) (*Consolidator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	scriptSize, err := cfg.AddressType.ScriptSize()
	if err != nil {
		return nil, err
	}

	c := &Consolidator{
		cfg:            cfg,
		guard:          NewJobGuard(cfg.Clock),
		assembler:      NewAssembler(cfg.Node),
		destScriptSize: scriptSize,
		quit:           make(chan struct{}),
	}
	if cfg.Store != nil {
		c.jobs = NewJobStore(cfg.Store)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	return c, nil
}

// Start resumes a persisted background job, if persistence is enabled.
func (c *Consolidator) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}

	if !c.cfg.Persist {
		log.Debugf("Persistence disabled, not loading consolidate-below " +
			"record")

		return nil
	}

	record, err := c.jobs.Load(ctx)
	switch {
	case errors.Is(err, ErrInvalidRequest):
		log.Errorf("Discarding persisted consolidate command: %v", err)
		if err := c.jobs.Clear(ctx); err != nil {
			log.Errorf("Unable to delete persisted consolidate "+
				"command: %v", err)
			c.pendingDelete.Store(true)
		}

		return nil

	case err != nil:
		return fmt.Errorf("loading persisted consolidate command: %w",
			err)
	}

	if record.IsNone() {
		log.Infof("Loading persisted consolidate command: No " +
			"consolidate job found")

		return nil
	}

	req := record.UnwrapOr(Request{})
	if _, err := c.admitJob(req, nil); err != nil {
		return err
	}

	log.Infof("Successfully started saved consolidate-below command "+
		"with: %v", req)

	return nil
}

// Stop halts the background job between ticks, letting an in-flight check
// finish first. A persisted record is left in place so the job resumes on
// the next start.
func (c *Consolidator) Stop() {
	c.lifeMtx.Lock()
	if !c.stopped.CompareAndSwap(false, true) {
		c.lifeMtx.Unlock()
		return
	}
	close(c.quit)
	c.lifeMtx.Unlock()

	// A check that is publishing must see the node's answer, or the
	// record of a broadcast job would survive the restart.
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		log.Warnf("consolidate-below check still running after %v, "+
			"canceling it", stopTimeout)
		c.cancel()
		<-done
	}
	c.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.retryPendingDelete(ctx)
}

// Consolidate immediately spends params.MinUtxos outputs into one.
func (c *Consolidator) Consolidate(ctx context.Context,
	params Params) (*Outcome, error) {

	c.execMtx.Lock()
	defer c.execMtx.Unlock()

	c.retryPendingDelete(ctx)

	rates, err := c.cfg.Node.FeeRates(ctx, c.cfg.FeeTarget)
	if err != nil {
		return nil, fmt.Errorf("unable to get feerates: %w", err)
	}

	req, err := resolveRequest(params, rates)
	if err != nil {
		return nil, err
	}
	if err := c.checkFeeRate(req.FeeRate, rates); err != nil {
		return nil, err
	}

	return c.consolidate(ctx, req, rates, params.DryRun)
}

// ConsolidateBelow admits a background job that consolidates once the fee
// estimate drops to the requested fee rate. The fee rate is not checked
// against the node until the job fires.
func (c *Consolidator) ConsolidateBelow(ctx context.Context,
	params Params) error {

	if !c.started.Load() || c.stopped.Load() {
		return ErrNotStarted
	}

	if c.guard.Active() != nil {
		return ErrJobAlreadyRunning
	}

	// Only an absent fee rate needs the node.
	if params.FeeRate.IsNone() {
		c.execMtx.Lock()
		rates, err := c.cfg.Node.FeeRates(ctx, c.cfg.FeeTarget)
		c.execMtx.Unlock()
		if err != nil {
			return fmt.Errorf("unable to get feerates: %w", err)
		}

		params.FeeRate = rates.Estimate
		if params.FeeRate.IsNone() {
			return ErrNoFeeEstimate
		}
	}

	req, err := resolveRequest(params, nil)
	if err != nil {
		return err
	}

	c.retryPendingDelete(ctx)

	job, err := c.admitJob(req, func(r Request) error {
		if !c.cfg.Persist {
			return nil
		}
		if err := c.jobs.Save(ctx, r); err != nil {
			return fmt.Errorf("unable to persist consolidate-below "+
				"command: %w", err)
		}
		c.pendingDelete.Store(false)

		return nil
	})
	if err != nil {
		return err
	}

	log.Infof("Started consolidate-below job %d with: %v", job.ID, req)

	return nil
}

// admitJob admits req through the guard and starts its poll loop. It fails
// with ErrNotStarted once Stop has begun.
func (c *Consolidator) admitJob(req Request,
	persist func(Request) error) (*Job, error) {

	c.lifeMtx.Lock()
	defer c.lifeMtx.Unlock()

	if c.stopped.Load() {
		return nil, ErrNotStarted
	}

	job, err := c.guard.Admit(req, persist)
	if err != nil {
		return nil, err
	}
	c.startJob(job)

	return job, nil
}

// Cancel cancels the pending background job.
func (c *Consolidator) Cancel(ctx context.Context) error {
	job := c.guard.FinishActive(StatusCanceled, func() {
		c.clearRecord(ctx)
	})
	if job == nil {
		return ErrNoActiveJob
	}

	log.Infof("consolidate_below CANCELED")

	return nil
}

// ActiveJob returns the pending background job, or nil.
func (c *Consolidator) ActiveJob() *Job {
	return c.guard.Active()
}

// JobStatus returns the status of job.
func (c *Consolidator) JobStatus(job *Job) JobStatus {
	return c.guard.Status(job)
}

// consolidate selects and assembles at the given fee rate. The caller must
// hold execMtx.
func (c *Consolidator) consolidate(ctx context.Context, req Request,
	rates *FeeRates, dryRun bool) (*Outcome, error) {

	utxos, err := c.cfg.Node.ListUnspent(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to list unspent outputs: %w",
			err)
	}

	set, err := SelectUtxos(utxos, SelectParams{
		FeeRate:        req.FeeRate,
		MinUtxos:       req.MinUtxos,
		Reserve:        c.cfg.Reserve,
		DestScriptSize: c.destScriptSize,
		DustRelayFee:   rates.MinAcceptable,
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Consolidating %d %s of %d eligible: total %v, fee %v "+
		"at %v", len(set.Utxos), pickNoun(len(set.Utxos), "output",
		"outputs"), set.Eligible, set.TotalInput, set.Fee, set.FeeRate)

	return c.assembler.Assemble(ctx, set, rates.MinAcceptable, dryRun)
}

// checkFeeRate checks rate against the node floor and the configured
// ceiling.
func (c *Consolidator) checkFeeRate(rate SatPerKVByte,
	rates *FeeRates) error {

	if rate < rates.MinAcceptable {
		return &FeeRateTooLowError{
			FeeRate:       rate,
			MinAcceptable: rates.MinAcceptable,
		}
	}
	if rate > c.cfg.MaxFeeRate {
		return &FeeRateTooHighError{
			FeeRate:       rate,
			MaxAcceptable: c.cfg.MaxFeeRate,
		}
	}

	return nil
}

// clearRecord deletes the persisted record. It must run under the guard.
func (c *Consolidator) clearRecord(ctx context.Context) {
	if !c.cfg.Persist {
		return
	}

	if err := c.jobs.Clear(ctx); err != nil {
		log.Errorf("Unable to delete persisted consolidate-below "+
			"command, will retry: %v", err)
		c.pendingDelete.Store(true)

		return
	}
	c.pendingDelete.Store(false)
}

// retryPendingDelete retries a failed record deletion while no job is
// pending.
func (c *Consolidator) retryPendingDelete(ctx context.Context) {
	if !c.pendingDelete.Load() {
		return
	}

	c.guard.WhenIdle(func() {
		c.clearRecord(ctx)
	})
}

// resolveRequest fills in defaults. rates may be nil when params already
// carries a fee rate.
func resolveRequest(params Params, rates *FeeRates) (Request, error) {
	if params.FeeRate.IsNone() {
		if rates == nil || rates.Estimate.IsNone() {
			return Request{}, ErrNoFeeEstimate
		}
		params.FeeRate = rates.Estimate
	}

	req := Request{
		FeeRate:  params.FeeRate.UnwrapOr(0),
		MinUtxos: params.MinUtxos.UnwrapOr(DefaultMinUtxos),
	}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}

	return req, nil
}
