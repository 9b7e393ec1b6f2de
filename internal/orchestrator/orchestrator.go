// Package orchestrator owns the crawl job lifecycle: submission, status
// reads, and the per-tick reconciliation of engine state into the job store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pagefinder/pagefinder/internal/crawl"
	"github.com/pagefinder/pagefinder/internal/match"
	"github.com/pagefinder/pagefinder/internal/metrics"
)

// Scheduler starts a reconciliation loop for a job. The driver implements
// it; the orchestrator never blocks on scheduling.
type Scheduler interface {
	Schedule(jobID string)
}

// Config carries the reconciliation tuning knobs.
type Config struct {
	// JobTimeout is the wall-clock budget per job before it is failed
	// with reason "timeout".
	JobTimeout time.Duration

	// MaxRetries is the number of extra poll attempts after a transport
	// failure within a single tick.
	MaxRetries int

	// RetryBackoff is the fixed pause between those attempts.
	RetryBackoff time.Duration

	// CompletionTopic names the publisher topic for terminal events.
	CompletionTopic string
}

// Orchestrator coordinates the job store, the engine client, and the
// matcher. All job state transitions funnel through it.
type Orchestrator struct {
	store     crawl.JobStore
	engine    crawl.EngineClient
	publisher crawl.Publisher
	matcher   *match.Matcher
	clock     crawl.Clock
	ids       crawl.IDGenerator
	scheduler Scheduler
	cfg       Config
	log       *zap.Logger
}

// New builds an Orchestrator. The scheduler is attached later via
// SetScheduler because the driver needs the orchestrator to tick with.
func New(store crawl.JobStore, engine crawl.EngineClient, publisher crawl.Publisher, matcher *match.Matcher, clock crawl.Clock, ids crawl.IDGenerator, cfg Config, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		engine:    engine,
		publisher: publisher,
		matcher:   matcher,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		log:       log,
	}
}

// SetScheduler wires the reconciliation driver in after construction.
func (o *Orchestrator) SetScheduler(s Scheduler) {
	o.scheduler = s
}

// Submit validates the request, persists a pending job, and hands the
// engine submission off to a background goroutine. The caller gets the job
// id immediately; engine acceptance is reflected asynchronously.
func (o *Orchestrator) Submit(ctx context.Context, rawURL, keyword string) (string, error) {
	if err := validateInput(rawURL, keyword); err != nil {
		return "", err
	}

	id, err := o.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generating job id: %w", err)
	}

	job := crawl.Job{
		ID:        id,
		InputURL:  rawURL,
		Keyword:   strings.TrimSpace(keyword),
		Status:    crawl.JobStatusPending,
		CreatedAt: o.clock.Now().UTC(),
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("persisting job: %w", err)
	}
	metrics.ObserveJobStatus(string(crawl.JobStatusPending))

	go o.dispatch(job)

	return id, nil
}

// dispatch submits the crawl to the engine and schedules reconciliation.
// It runs detached from the submitting request's context.
func (o *Orchestrator) dispatch(job crawl.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ref, err := o.submitWithRetry(ctx, job.InputURL)
	if err != nil {
		o.log.Warn("engine rejected submission, failing job",
			zap.String("job_id", job.ID),
			zap.Error(err))
		o.markFailed(ctx, job.ID, "engine unavailable")
		return
	}

	// Schedule the loop even when these writes fail: the tick path
	// resubmits a job left without an engine ref, so the loop recovers
	// what the dispatch could not record.
	if err := o.store.SetEngineJobRef(ctx, job.ID, ref); err != nil {
		o.log.Error("recording engine job ref",
			zap.String("job_id", job.ID),
			zap.Error(err))
	} else if _, err := o.store.UpdateJobStatus(ctx, job.ID, crawl.JobStatusRunning, "", nil); err != nil {
		o.log.Error("marking job running",
			zap.String("job_id", job.ID),
			zap.Error(err))
	} else {
		metrics.ObserveJobStatus(string(crawl.JobStatusRunning))
	}

	if o.scheduler != nil {
		o.scheduler.Schedule(job.ID)
	}
}

// GetStatus returns the job and, once it has completed, its results. It is
// a pure read.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (crawl.JobView, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return crawl.JobView{}, err
	}

	view := crawl.JobView{Job: job}
	if job.Status == crawl.JobStatusCompleted {
		results, err := o.store.ListResults(ctx, jobID)
		if err != nil {
			return crawl.JobView{}, fmt.Errorf("listing results: %w", err)
		}
		view.Results = results
	}
	return view, nil
}

// Delete removes a job and its results.
func (o *Orchestrator) Delete(ctx context.Context, jobID string) error {
	return o.store.DeleteJob(ctx, jobID)
}

// Reconcile runs one tick for a job. The returned bool reports whether the
// job is settled and its loop should stop. Transport trouble abandons the
// tick without touching job state; the next tick retries.
func (o *Orchestrator) Reconcile(ctx context.Context, jobID string) (bool, error) {
	start := o.clock.Now()
	defer func() { metrics.ObserveTick(o.clock.Now().Sub(start)) }()

	job, err := o.store.GetJob(ctx, jobID)
	if errors.Is(err, crawl.ErrNotFound) {
		// Deleted out from under the loop.
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading job: %w", err)
	}
	if job.Status.Terminal() {
		return true, nil
	}

	if o.clock.Now().Sub(job.CreatedAt) > o.cfg.JobTimeout {
		o.markFailed(ctx, jobID, crawl.TimeoutReason)
		return true, nil
	}

	if job.EngineJobRef == "" {
		// Crashed between persisting and dispatching. Resubmit here so
		// recovery does not strand the job.
		ref, err := o.submitWithRetry(ctx, job.InputURL)
		if err != nil {
			o.log.Warn("resubmission failed, abandoning tick",
				zap.String("job_id", jobID),
				zap.Error(err))
			return false, nil
		}
		if err := o.store.SetEngineJobRef(ctx, jobID, ref); err != nil {
			return false, fmt.Errorf("recording engine job ref: %w", err)
		}
		if _, err := o.store.UpdateJobStatus(ctx, jobID, crawl.JobStatusRunning, "", nil); err != nil {
			return false, fmt.Errorf("marking job running: %w", err)
		}
		job.EngineJobRef = ref
	}

	outcome, err := o.pollWithRetry(ctx, job.EngineJobRef)
	if err != nil {
		o.log.Warn("engine unreachable, abandoning tick",
			zap.String("job_id", jobID),
			zap.Error(err))
		return false, nil
	}
	metrics.ObserveEnginePoll(string(outcome.State))

	switch outcome.State {
	case crawl.OutcomePending:
		return false, nil

	case crawl.OutcomePageBatch:
		if err := o.storeMatches(ctx, job, outcome.Pages); err != nil {
			return false, err
		}
		return false, nil

	case crawl.OutcomeDone:
		if err := o.storeMatches(ctx, job, outcome.Pages); err != nil {
			return false, err
		}
		now := o.clock.Now().UTC()
		changed, err := o.store.UpdateJobStatus(ctx, jobID, crawl.JobStatusCompleted, "", &now)
		if err != nil {
			return false, fmt.Errorf("completing job: %w", err)
		}
		if changed {
			metrics.ObserveJobStatus(string(crawl.JobStatusCompleted))
			o.publishCompletion(ctx, jobID, crawl.JobStatusCompleted, "", now)
		}
		return true, nil

	case crawl.OutcomeFailed:
		o.markFailed(ctx, jobID, outcome.Reason)
		return true, nil
	}

	return false, fmt.Errorf("unexpected engine outcome %q", outcome.State)
}

// storeMatches runs the matcher over a batch of pages and upserts one
// result per matching page.
func (o *Orchestrator) storeMatches(ctx context.Context, job crawl.Job, pages []crawl.Page) error {
	for _, page := range pages {
		snippet, ok := o.matcher.Match(page.Text, job.Keyword)
		if !ok {
			continue
		}
		inserted, err := o.store.UpsertResult(ctx, crawl.Result{
			JobID:     job.ID,
			PageURL:   page.URL,
			PageTitle: page.Title,
			Snippet:   snippet,
			CreatedAt: o.clock.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("storing result for %s: %w", page.URL, err)
		}
		if inserted {
			metrics.ObserveResultInserted()
		}
	}
	return nil
}

// markFailed settles a job as failed if it is still non-terminal and, when
// the write lands, publishes the completion event.
func (o *Orchestrator) markFailed(ctx context.Context, jobID, reason string) {
	now := o.clock.Now().UTC()
	changed, err := o.store.UpdateJobStatus(ctx, jobID, crawl.JobStatusFailed, reason, &now)
	if err != nil {
		o.log.Error("marking job failed",
			zap.String("job_id", jobID),
			zap.String("reason", reason),
			zap.Error(err))
		return
	}
	if changed {
		metrics.ObserveJobStatus(string(crawl.JobStatusFailed))
		o.publishCompletion(ctx, jobID, crawl.JobStatusFailed, reason, now)
	}
}

// publishCompletion emits the terminal event. Publish failures are logged
// and swallowed; job state never depends on the feed.
func (o *Orchestrator) publishCompletion(ctx context.Context, jobID string, status crawl.JobStatus, reason string, completedAt time.Time) {
	if o.publisher == nil {
		return
	}
	count := 0
	if results, err := o.store.ListResults(ctx, jobID); err == nil {
		count = len(results)
	}
	event := crawl.CompletionEvent{
		JobID:         jobID,
		Status:        status,
		ResultCount:   count,
		FailureReason: reason,
		CompletedAt:   completedAt,
	}
	if _, err := o.publisher.Publish(ctx, o.cfg.CompletionTopic, event); err != nil {
		o.log.Warn("publishing completion event",
			zap.String("job_id", jobID),
			zap.Error(err))
	}
}

// submitWithRetry starts the crawl, retrying transport failures with the
// configured fixed backoff.
func (o *Orchestrator) submitWithRetry(ctx context.Context, rawURL string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(o.cfg.RetryBackoff):
			}
		}
		ref, err := o.engine.Submit(ctx, rawURL)
		if err == nil {
			return ref, nil
		}
		if !errors.Is(err, crawl.ErrEngineUnavailable) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// pollWithRetry asks the engine once per attempt, pausing between transport
// failures. Semantic outcomes are never retried.
func (o *Orchestrator) pollWithRetry(ctx context.Context, ref string) (crawl.Outcome, error) {
	var lastErr error
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return crawl.Outcome{}, ctx.Err()
			case <-time.After(o.cfg.RetryBackoff):
			}
		}
		outcome, err := o.engine.Poll(ctx, ref)
		if err == nil {
			return outcome, nil
		}
		if !errors.Is(err, crawl.ErrEngineUnavailable) {
			return crawl.Outcome{}, err
		}
		metrics.ObserveEnginePoll("unavailable")
		lastErr = err
	}
	return crawl.Outcome{}, lastErr
}

// validateInput enforces the submission contract before anything is
// persisted.
func validateInput(rawURL, keyword string) error {
	if strings.TrimSpace(keyword) == "" {
		return fmt.Errorf("%w: keyword must not be empty", crawl.ErrInvalidInput)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", crawl.ErrInvalidInput, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: url scheme must be http or https", crawl.ErrInvalidInput)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: url host must not be empty", crawl.ErrInvalidInput)
	}
	return nil
}
