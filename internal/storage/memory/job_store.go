// Package memory provides an in-memory JobStore for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pagefinder/pagefinder/internal/crawl"
)

// JobStore keeps jobs and results in process memory. It honors the same
// invariants as the Postgres store: monotonic status transitions, unique
// (jobID, pageURL) results, cascade delete.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]crawl.Job
	results map[string][]crawl.Result
	nextID  int64
}

// NewJobStore constructs an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:    make(map[string]crawl.Job),
		results: make(map[string][]crawl.Result),
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job crawl.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return crawl.ErrDuplicateJob
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by id.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawl.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawl.Job{}, crawl.ErrNotFound
	}
	return job, nil
}

// UpdateJobStatus applies a compare-and-set status update: the write only
// lands while the stored status is non-terminal.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status crawl.JobStatus,
	failureReason string,
	completedAt *time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, crawl.ErrNotFound
	}
	if job.Status.Terminal() {
		return false, nil
	}
	job.Status = status
	if status == crawl.JobStatusFailed {
		job.FailureReason = failureReason
	}
	if status.Terminal() && completedAt != nil {
		ts := *completedAt
		job.CompletedAt = &ts
	}
	s.jobs[jobID] = job
	return true, nil
}

// SetEngineJobRef records the engine's identifier for a job. The ref is
// immutable once set; later calls are no-ops.
func (s *JobStore) SetEngineJobRef(_ context.Context, jobID, engineJobRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawl.ErrNotFound
	}
	if job.EngineJobRef == "" {
		job.EngineJobRef = engineJobRef
		s.jobs[jobID] = job
	}
	return nil
}

// UpsertResult inserts a result unless one exists for (jobID, pageURL).
func (s *JobStore) UpsertResult(_ context.Context, result crawl.Result) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[result.JobID]; !ok {
		return false, crawl.ErrNotFound
	}
	for _, existing := range s.results[result.JobID] {
		if existing.PageURL == result.PageURL {
			return false, nil
		}
	}
	s.nextID++
	result.ID = s.nextID
	s.results[result.JobID] = append(s.results[result.JobID], result)
	return true, nil
}

// ListResults returns a copy of the job's results, oldest first.
func (s *JobStore) ListResults(_ context.Context, jobID string) ([]crawl.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := s.results[jobID]
	out := make([]crawl.Result, len(results))
	copy(out, results)
	return out, nil
}

// ListActiveJobs returns all non-terminal jobs, oldest first.
func (s *JobStore) ListActiveJobs(_ context.Context) ([]crawl.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawl.Job
	for _, job := range s.jobs {
		if !job.Status.Terminal() {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteJob removes a job and cascades its results.
func (s *JobStore) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return crawl.ErrNotFound
	}
	delete(s.jobs, jobID)
	delete(s.results, jobID)
	return nil
}

// Ping always succeeds for the in-memory store.
func (s *JobStore) Ping(context.Context) error { return nil }
