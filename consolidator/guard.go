// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consolidator

import (
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

// JobStatus is the state of a consolidate-below job.
type JobStatus uint8

const (
	// StatusPending is the state of an admitted job waiting for its fee
	// rate.
	StatusPending JobStatus = iota

	// StatusSucceeded means the job published its transaction.
	StatusSucceeded

	// StatusCanceled means the job was canceled by the user.
	StatusCanceled

	// StatusFailed means the job hit an unrecoverable error.
	StatusFailed

	// StatusNone is reported for a nil job, such as the active job of an
	// empty guard.
	StatusNone
)

// String returns the human readable status.
func (s JobStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSucceeded:
		return "succeeded"
	case StatusCanceled:
		return "canceled"
	case StatusFailed:
		return "failed"
	case StatusNone:
		return "none"
	default:
		return "unknown"
	}
}

// Job is a consolidate-below job. Its status is owned by the JobGuard that
// admitted it.
type Job struct {
	ID        uint64
	Request   Request
	CreatedAt time.Time

	status JobStatus
	done   chan struct{}
}

// Done returns a channel closed when the job leaves StatusPending.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// JobGuard holds at most one pending job. Every status transition and every
// change to the persisted record happens under its mutex, so the record and
// the slot never disagree.
type JobGuard struct {
	mu     sync.Mutex
	active *Job
	nextID uint64
	clock  clock.Clock
}

// NewJobGuard creates an empty guard stamping jobs with clk.
func NewJobGuard(clk clock.Clock) *JobGuard {
	return &JobGuard{clock: clk}
}

// Admit installs a new pending job for req. persist, when non-nil, runs
// before the job is installed. If it fails the job is not admitted.
func (g *JobGuard) Admit(req Request, persist func(Request) error) (*Job,
	error) {

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active != nil {
		return nil, ErrJobAlreadyRunning
	}

	if persist != nil {
		if err := persist(req); err != nil {
			return nil, err
		}
	}

	g.nextID++
	job := &Job{
		ID:        g.nextID,
		Request:   req,
		CreatedAt: g.clock.Now(),
		status:    StatusPending,
		done:      make(chan struct{}),
	}
	g.active = job

	return job, nil
}

// Finish moves job out of StatusPending and clears the slot. cleanup, when
// non-nil, runs under the guard after the transition. Finish returns false,
// without calling cleanup, if job is no longer the active job.
func (g *JobGuard) Finish(job *Job, status JobStatus, cleanup func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if job == nil || g.active != job || status == StatusPending {
		return false
	}

	return g.finish(status, cleanup)
}

// FinishActive is Finish applied to whichever job is active. It returns nil
// when the slot is empty.
func (g *JobGuard) FinishActive(status JobStatus, cleanup func()) *Job {
	g.mu.Lock()
	defer g.mu.Unlock()

	job := g.active
	if job == nil || status == StatusPending {
		return nil
	}
	g.finish(status, cleanup)

	return job
}

// finish must be called with the mutex held and an active job.
func (g *JobGuard) finish(status JobStatus, cleanup func()) bool {
	job := g.active
	job.status = status
	g.active = nil
	close(job.done)

	if cleanup != nil {
		cleanup()
	}

	return true
}

// IsActive reports whether job is the pending job.
func (g *JobGuard) IsActive(job *Job) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return job != nil && g.active == job
}

// Active returns the pending job, or nil.
func (g *JobGuard) Active() *Job {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.active
}

// Status returns the current status of job, or StatusNone for a nil job.
func (g *JobGuard) Status(job *Job) JobStatus {
	if job == nil {
		return StatusNone
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	return job.status
}

// WhenIdle runs f under the guard if no job is pending.
func (g *JobGuard) WhenIdle(f func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active == nil {
		f()
	}
}
