package crawl

import (
	"context"
	"time"
)

// JobStore persists jobs and their results.
type JobStore interface {
	// CreateJob inserts a new job. ErrDuplicateJob on id collision.
	CreateJob(ctx context.Context, job Job) error

	// GetJob fetches a job by id. ErrNotFound for unknown ids.
	GetJob(ctx context.Context, jobID string) (Job, error)

	// UpdateJobStatus advances a job's status. The update is a
	// compare-and-set: it only applies while the stored status is
	// non-terminal, so a late writer can never regress a terminal job.
	// The returned bool reports whether the row changed.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, failureReason string, completedAt *time.Time) (bool, error)

	// SetEngineJobRef records the engine's identifier once accepted.
	SetEngineJobRef(ctx context.Context, jobID, engineJobRef string) error

	// UpsertResult inserts a result row. Re-delivery of the same
	// (jobID, pageURL) is a no-op; the bool reports whether a row was
	// actually inserted.
	UpsertResult(ctx context.Context, result Result) (bool, error)

	// ListResults returns all results for a job, oldest first.
	ListResults(ctx context.Context, jobID string) ([]Result, error)

	// ListActiveJobs returns jobs in a non-terminal status, used by the
	// reconciliation driver's startup recovery scan.
	ListActiveJobs(ctx context.Context) ([]Job, error)

	// DeleteJob removes a job and cascades its results. ErrNotFound for
	// unknown ids.
	DeleteJob(ctx context.Context, jobID string) error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
}

// EngineClient wraps the external crawl engine's submit/status contract.
type EngineClient interface {
	// Submit asks the engine to start crawling url and returns its job
	// reference. Transport failures surface as ErrEngineUnavailable.
	Submit(ctx context.Context, url string) (string, error)

	// Poll returns the engine's current outcome for a submitted crawl,
	// following engine pagination internally. Transport failures or
	// malformed responses surface as ErrEngineUnavailable, never as an
	// OutcomeFailed.
	Poll(ctx context.Context, engineJobRef string) (Outcome, error)
}

// Publisher pushes job completion events to an external feed.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (swappable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job ids.
type IDGenerator interface {
	NewID() (string, error)
}
