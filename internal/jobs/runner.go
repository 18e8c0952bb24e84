package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reflib/libraryd/internal/storage"
)

// Runner is the handle a Handler uses to report progress and check for
// cooperative cancellation. It has no pause check: a job's paused flag
// only keeps AcquireLease from claiming it, so a job that is already
// running keeps running. One Runner is created per job execution and
// discarded when it finishes.
type Runner struct {
	ctx      context.Context
	cancelFn context.CancelFunc
	store    *storage.Store
	log      *zap.SugaredLogger
	jobID    int64
	owner    string
	leaseFor time.Duration

	canceled bool

	mu       sync.Mutex
	rate     *emaRate
	lastDone int64
	lastTot  int64
}

func newRunner(parent context.Context, store *storage.Store, log *zap.SugaredLogger, jobID int64, owner string, leaseFor time.Duration) *Runner {
	ctx, cancel := context.WithCancel(parent)
	return &Runner{
		ctx: ctx, cancelFn: cancel, store: store, log: log,
		jobID: jobID, owner: owner, leaseFor: leaseFor,
		rate: newEMARate(0.3),
	}
}

// startLeaseRenewal launches a background goroutine that renews the
// job's lease at half the lease duration, and cancels the Runner's
// context if the lease is ever lost to another owner (lost-lease means
// this process may no longer be the job's owner of record — e.g. it
// stalled past its lease and another worker reclaimed it).
func (r *Runner) startLeaseRenewal() {
	go func() {
		interval := r.leaseFor / 2
		if interval <= 0 {
			interval = time.Second
		}
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-t.C:
				if err := r.store.RenewLease(r.ctx, r.jobID, r.owner, r.leaseFor); err != nil {
					r.log.Warnw("lease renewal failed, aborting job", "job_id", r.jobID, "error", err)
					r.cancelFn()
					return
				}
				if canceled, _ := r.checkCancel(); canceled {
					r.canceled = true
					r.cancelFn()
					return
				}
			}
		}
	}()
}

func (r *Runner) stopLeaseRenewal() {
	r.cancelFn()
}

func (r *Runner) checkCancel() (bool, error) {
	job, err := r.store.GetJob(r.ctx, r.jobID)
	if err != nil {
		return false, err
	}
	return job.CancelRequested, nil
}

// ShouldCancel reports whether the owning caller requested cancellation.
// Handlers should call this between units of work and return promptly
// when true.
func (r *Runner) ShouldCancel() bool {
	select {
	case <-r.ctx.Done():
		return true
	default:
	}
	canceled, _ := r.checkCancel()
	if canceled {
		r.canceled = true
	}
	return canceled
}

// Progress reports processed/total and a restart-safe checkpoint id
// (e.g. the highest photo id fully handled so far), persisting it and
// updating the runner's EMA-smoothed rate estimate.
func (r *Runner) Progress(ctx context.Context, done, total, checkpointID int64) error {
	r.mu.Lock()
	now := time.Now()
	if r.lastDone > 0 {
		delta := done - r.lastDone
		r.rate.observe(float64(delta), now)
	} else {
		r.rate.start(now)
	}
	r.lastDone = done
	r.lastTot = total
	r.mu.Unlock()

	return r.store.UpdateProgress(ctx, r.jobID, done, total, checkpointID)
}

// Rate returns the current EMA-smoothed items/second estimate.
func (r *Runner) Rate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rate.value()
}

// ETA returns the estimated remaining duration at the current rate, or
// zero if the rate is not yet established.
func (r *Runner) ETA() time.Duration {
	r.mu.Lock()
	remaining := r.lastTot - r.lastDone
	rate := r.rate.value()
	r.mu.Unlock()
	if rate <= 0 || remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining)/rate) * time.Second
}

// emaRate is an exponential-moving-average items/second estimator.
type emaRate struct {
	alpha   float64
	value_  float64
	started time.Time
	last    time.Time
	primed  bool
}

func newEMARate(alpha float64) *emaRate {
	return &emaRate{alpha: alpha}
}

func (e *emaRate) start(t time.Time) {
	e.started = t
	e.last = t
}

func (e *emaRate) observe(deltaItems float64, now time.Time) {
	elapsed := now.Sub(e.last).Seconds()
	e.last = now
	if elapsed <= 0 {
		return
	}
	sample := deltaItems / elapsed
	if !e.primed {
		e.value_ = sample
		e.primed = true
		return
	}
	e.value_ = e.alpha*sample + (1-e.alpha)*e.value_
}

func (e *emaRate) value() float64 { return e.value_ }
