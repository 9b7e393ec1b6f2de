// Package reconciler runs the per-job reconciliation loops that drive
// engine state into the job store.
package reconciler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagefinder/pagefinder/internal/crawl"
	"github.com/pagefinder/pagefinder/internal/metrics"
)

// Ticker is the reconciliation step the driver schedules. The orchestrator
// implements it; done reports that the job is settled and its loop must
// stop.
type Ticker interface {
	Reconcile(ctx context.Context, jobID string) (done bool, err error)
}

// Driver owns one goroutine per active job. Ticks for a single job are
// strictly serialized by construction; jobs run independently of each
// other.
type Driver struct {
	ticker   Ticker
	store    crawl.JobStore
	interval time.Duration
	log      *zap.Logger

	mu    sync.Mutex
	loops map[string]chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Driver ticking each active job every interval.
func New(ticker Ticker, store crawl.JobStore, interval time.Duration, log *zap.Logger) *Driver {
	ctx, cancel := context.WithCancel(context.Background())
	return &Driver{
		ticker:   ticker,
		store:    store,
		interval: interval,
		log:      log,
		loops:    make(map[string]chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Schedule starts a reconciliation loop for jobID. Scheduling a job that
// already has a live loop is a no-op, which keeps the one-process-per-job
// invariant even when submission and recovery race.
func (d *Driver) Schedule(jobID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx.Err() != nil {
		return
	}
	if _, running := d.loops[jobID]; running {
		return
	}

	nudge := make(chan struct{}, 1)
	d.loops[jobID] = nudge
	d.wg.Add(1)
	metrics.IncActiveReconcilers()

	go d.run(jobID, nudge)
}

// Notify requests an immediate tick for jobID, ahead of its next interval.
// Unknown or already-settled jobs are ignored.
func (d *Driver) Notify(jobID string) {
	d.mu.Lock()
	nudge, ok := d.loops[jobID]
	d.mu.Unlock()
	if !ok {
		return
	}
	select {
	case nudge <- struct{}{}:
	default:
		// A tick is already queued.
	}
}

// Resume scans the store for non-terminal jobs and schedules a loop for
// each. Called once at startup so a restart picks up where it left off.
func (d *Driver) Resume(ctx context.Context) error {
	jobs, err := d.store.ListActiveJobs(ctx)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		d.Schedule(job.ID)
	}
	if len(jobs) > 0 {
		d.log.Info("resumed reconciliation for active jobs",
			zap.Int("count", len(jobs)))
	}
	return nil
}

// Active reports how many loops are currently live.
func (d *Driver) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.loops)
}

// Shutdown cancels every loop and blocks until they have all drained.
func (d *Driver) Shutdown() {
	d.cancel()
	d.wg.Wait()
}

func (d *Driver) run(jobID string, nudge chan struct{}) {
	defer func() {
		d.mu.Lock()
		delete(d.loops, jobID)
		d.mu.Unlock()
		metrics.DecActiveReconcilers()
		d.wg.Done()
	}()

	timer := time.NewTimer(d.interval)
	defer timer.Stop()

	for {
		done, err := d.ticker.Reconcile(d.ctx, jobID)
		if err != nil {
			d.log.Warn("reconciliation tick failed",
				zap.String("job_id", jobID),
				zap.Error(err))
		}
		if done {
			return
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d.interval)

		select {
		case <-d.ctx.Done():
			return
		case <-nudge:
		case <-timer.C:
		}
	}
}
