// Package jobs runs the persistent job state machine: a concurrency-capped
// pool of worker goroutines that lease rows from storage's ml_job table,
// execute a registered handler per kind, and renew/release the lease as
// they go. Grounded on the teacher's asynq-based consumer (its
// Start/Stop lifecycle, its per-queue concurrency map, and its
// exponential-backoff retry function) rehosted onto the embedded store:
// this repo has no second shared-state system to keep consistent with
// SQLite, so the job queue lives in the same database as the data it
// operates on instead of in Redis.
package jobs

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reflib/libraryd/internal/models"
	"github.com/reflib/libraryd/internal/storage"
)

// Handler executes one job. It must check ctx and the job's
// cancel-requested flag (via Runner.ShouldCancel) at reasonable
// checkpoints, and report progress via Runner.Progress, which writes it
// to the job row.
type Handler func(ctx context.Context, run *Runner, job *models.MLJob) error

// Manager runs, for each registered job kind, as many polling-and-dispatch
// loops as that kind's concurrency limit (each loop handles one job at a
// time), the limit being pulled from config the way the teacher's
// asynq.Config.Queues map assigned per-queue concurrency.
type Manager struct {
	store      *storage.Store
	log        *zap.SugaredLogger
	leaseFor   time.Duration
	owner      string
	handlers   map[models.JobKind]Handler
	concurrency map[models.JobKind]int

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewManager constructs a Manager. owner identifies this process in the
// lease column (hostname:pid style), so a requeue after a crash can tell
// which process orphaned it.
func NewManager(store *storage.Store, log *zap.SugaredLogger, owner string, leaseFor time.Duration) *Manager {
	return &Manager{
		store:       store,
		log:         log,
		leaseFor:    leaseFor,
		owner:       owner,
		handlers:    make(map[models.JobKind]Handler),
		concurrency: make(map[models.JobKind]int),
	}
}

// Register wires a handler for a job kind with its worker-pool size.
func (m *Manager) Register(kind models.JobKind, concurrency int, h Handler) {
	m.handlers[kind] = h
	m.concurrency[kind] = concurrency
}

// Start launches, for each registered kind, as many poll loops as the
// concurrency it was registered with. Safe to call once;
// a second call is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	for kind, n := range m.concurrency {
		for i := 0; i < n; i++ {
			m.wg.Add(1)
			go m.pollLoop(loopCtx, kind)
		}
	}
	m.log.Infow("job manager started", "kinds", len(m.concurrency))
}

// Stop signals every poll loop to exit and waits for in-flight jobs'
// current iteration to finish (handlers are expected to check ctx).
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.running = false
	m.mu.Unlock()

	m.wg.Wait()
	m.log.Infow("job manager stopped")
}

func (m *Manager) pollLoop(ctx context.Context, kind models.JobKind) {
	defer m.wg.Done()
	backoff := newBackoff()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := m.store.AcquireLease(ctx, []models.JobKind{kind}, m.owner, m.leaseFor)
		if err != nil {
			m.log.Warnw("acquire lease failed", "kind", kind, "error", err)
			sleep(ctx, backoff.next())
			continue
		}
		if job == nil {
			sleep(ctx, backoff.next())
			continue
		}
		backoff.reset()

		m.runJob(ctx, kind, job)
	}
}

func (m *Manager) runJob(ctx context.Context, kind models.JobKind, job *models.MLJob) {
	handler, ok := m.handlers[kind]
	if !ok {
		m.log.Errorw("no handler registered for kind", "kind", kind)
		_ = m.store.FinishJob(ctx, job.ID, models.JobFailed, "no handler registered")
		return
	}

	run := newRunner(ctx, m.store, m.log, job.ID, m.owner, m.leaseFor)
	run.startLeaseRenewal()
	defer run.stopLeaseRenewal()

	err := handler(run.ctx, run, job)

	if run.canceled {
		_ = m.store.FinishJob(ctx, job.ID, models.JobCanceled, "")
		return
	}
	if err != nil {
		m.log.Warnw("job failed", "job_id", job.ID, "kind", kind, "error", err)
		_ = m.store.FinishJob(ctx, job.ID, models.JobFailed, err.Error())
		return
	}
	_ = m.store.FinishJob(ctx, job.ID, models.JobDone, "")
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// backoff is the exponential poll-interval backoff applied when the
// queue is empty or erroring, capped so an idle worker never sleeps
// longer than a minute between checks.
type backoff struct {
	attempt int
}

func newBackoff() *backoff { return &backoff{} }

func (b *backoff) next() time.Duration {
	d := time.Duration(math.Min(float64(time.Second)*math.Pow(2, float64(b.attempt)), float64(60*time.Second)))
	b.attempt++
	return d
}

func (b *backoff) reset() { b.attempt = 0 }
