// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consolidator

import (
	"encoding/json"
	"errors"
)

// startJob launches the poll loop of job.
func (c *Consolidator) startJob(job *Job) {
	c.wg.Add(1)
	go c.pollJob(job)
}

// pollJob runs the first check right away, then one per interval, until the
// job finishes or the consolidator stops. It must be run as a goroutine.
func (c *Consolidator) pollJob(job *Job) {
	defer c.wg.Done()

	t := c.cfg.NewTicker(c.cfg.Interval)
	t.Resume()
	defer t.Stop()

	if !c.runTick(job) {
		return
	}

	for {
		select {
		case <-t.Ticks():
			if !c.runTick(job) {
				return
			}

		case <-job.Done():
			log.Debugf("consolidate-below job %d finished", job.ID)
			return

		case <-c.quit:
			return
		}
	}
}

// runTick runs a tick and reports it to the tick observer.
func (c *Consolidator) runTick(job *Job) bool {
	pending := c.tick(job)
	if c.onTick != nil {
		c.onTick(pending)
	}

	return pending
}

// tick runs one check of job. It returns false once the job is no longer
// pending.
func (c *Consolidator) tick(job *Job) bool {
	c.execMtx.Lock()
	defer c.execMtx.Unlock()

	if !c.guard.IsActive(job) {
		return false
	}

	ctx := c.ctx
	req := job.Request

	rates, err := c.cfg.Node.FeeRates(ctx, c.cfg.FeeTarget)
	if err != nil {
		log.Warnf("consolidate_below: Could not get feerates: %v", err)
		return true
	}

	if err := req.Validate(); err != nil {
		c.failJob(job, err)
		return false
	}

	if err := c.checkFeeRate(req.FeeRate, rates); err != nil {
		log.Warnf("consolidate_below: %v", err)
		return true
	}

	if rates.Estimate.IsNone() {
		log.Warnf("consolidate_below: %v", ErrNoFeeEstimate)
		return true
	}
	current := rates.Estimate.UnwrapOr(0)

	if current > req.FeeRate {
		log.Infof("Feerate not low enough yet: Current:%v Wanted:<%v",
			current, req.FeeRate)

		return true
	}

	rate := current.Scale(c.cfg.FeeMultiplier)
	if rate < rates.MinAcceptable {
		rate = rates.MinAcceptable
	}

	outcome, err := c.consolidate(ctx, Request{
		FeeRate:  rate,
		MinUtxos: req.MinUtxos,
	}, rates, false)
	switch {
	case errors.Is(err, ErrInvalidRequest):
		c.failJob(job, err)
		return false

	case err != nil:
		log.Warnf("consolidate_below: %v", err)
		return true
	}

	finished := c.guard.Finish(job, StatusSucceeded, func() {
		c.clearRecord(ctx)
	})
	if !finished {
		log.Infof("consolidate_below: job %d no longer active, "+
			"discarding result %v", job.ID, outcome.TxID)

		return false
	}

	result, err := json.Marshal(outcome)
	if err != nil {
		result = []byte(outcome.TxID)
	}
	log.Infof("consolidate_below: SUCCESS: %s", result)

	return false
}

// failJob terminates job as failed.
func (c *Consolidator) failJob(job *Job, err error) {
	finished := c.guard.Finish(job, StatusFailed, func() {
		c.clearRecord(c.ctx)
	})
	if finished {
		log.Errorf("consolidate_below FAILED: %v", err)
	}
}
