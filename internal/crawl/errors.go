package crawl

import "errors"

// Sentinel errors shared across the orchestrator, stores, and API layer.
var (
	// ErrInvalidInput marks a malformed url or keyword, rejected before
	// any persistence happens.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned by reads for unknown job ids.
	ErrNotFound = errors.New("job not found")

	// ErrEngineUnavailable marks a transport-level failure talking to the
	// crawl engine (network error, non-2xx, malformed body). It is retried
	// locally and never recorded as a job failure by itself.
	ErrEngineUnavailable = errors.New("crawl engine unavailable")

	// ErrDuplicateJob is returned when creating a job whose id exists.
	ErrDuplicateJob = errors.New("job already exists")
)

// TimeoutReason is recorded in FailureReason when the orchestrator enforces
// the wall-clock deadline on a job.
const TimeoutReason = "timeout"
