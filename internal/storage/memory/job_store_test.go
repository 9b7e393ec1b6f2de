package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pagefinder/pagefinder/internal/crawl"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := crawl.Job{
		ID:        "job-1",
		InputURL:  "https://example.com",
		Keyword:   "example",
		Status:    crawl.JobStatusPending,
		CreatedAt: time.Unix(100, 0).UTC(),
	}

	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := store.CreateJob(ctx, job); !errors.Is(err, crawl.ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}
	if err := store.SetEngineJobRef(ctx, job.ID, "fc-1"); err != nil {
		t.Fatalf("SetEngineJobRef() error = %v", err)
	}
	if err := store.SetEngineJobRef(ctx, job.ID, "fc-other"); err != nil {
		t.Fatalf("SetEngineJobRef() second call error = %v", err)
	}
	changed, err := store.UpdateJobStatus(ctx, job.ID, crawl.JobStatusRunning, "", nil)
	if err != nil || !changed {
		t.Fatalf("UpdateJobStatus running: changed=%v err=%v", changed, err)
	}

	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.EngineJobRef != "fc-1" {
		t.Fatalf("engine ref should be immutable once set, got %q", got.EngineJobRef)
	}

	now := time.Unix(200, 0).UTC()
	changed, err = store.UpdateJobStatus(ctx, job.ID, crawl.JobStatusCompleted, "", &now)
	if err != nil || !changed {
		t.Fatalf("UpdateJobStatus completed: changed=%v err=%v", changed, err)
	}

	// Once terminal, further updates must be refused.
	changed, err = store.UpdateJobStatus(ctx, job.ID, crawl.JobStatusFailed, "late failure", &now)
	if err != nil {
		t.Fatalf("UpdateJobStatus after terminal error = %v", err)
	}
	if changed {
		t.Fatal("terminal status must not be overwritten")
	}

	final, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if final.Status != crawl.JobStatusCompleted || final.CompletedAt == nil {
		t.Fatalf("unexpected final job: %+v", final)
	}
	if !final.CompletedAt.Equal(now) {
		t.Fatalf("CompletedAt = %v, want %v", final.CompletedAt, now)
	}
}

func TestJobStoreUpsertResultIdempotent(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	if err := store.CreateJob(ctx, crawl.Job{ID: "job-1", Status: crawl.JobStatusRunning}); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	result := crawl.Result{JobID: "job-1", PageURL: "https://example.com", Snippet: "snip"}
	inserted, err := store.UpsertResult(ctx, result)
	if err != nil || !inserted {
		t.Fatalf("first upsert: inserted=%v err=%v", inserted, err)
	}
	inserted, err = store.UpsertResult(ctx, result)
	if err != nil {
		t.Fatalf("second upsert error = %v", err)
	}
	if inserted {
		t.Fatal("re-delivered page must not insert a second row")
	}

	results, err := store.ListResults(ctx, "job-1")
	if err != nil || len(results) != 1 {
		t.Fatalf("ListResults() = %v, %v", results, err)
	}
	if results[0].ID == 0 {
		t.Fatal("expected an assigned result id")
	}

	if _, err := store.UpsertResult(ctx, crawl.Result{JobID: "missing", PageURL: "x"}); !errors.Is(err, crawl.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown job, got %v", err)
	}
}

func TestJobStoreDeleteCascades(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	if err := store.CreateJob(ctx, crawl.Job{ID: "job-1", Status: crawl.JobStatusRunning}); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if _, err := store.UpsertResult(ctx, crawl.Result{JobID: "job-1", PageURL: "https://a.test"}); err != nil {
		t.Fatalf("UpsertResult() error = %v", err)
	}

	if err := store.DeleteJob(ctx, "job-1"); err != nil {
		t.Fatalf("DeleteJob() error = %v", err)
	}
	if _, err := store.GetJob(ctx, "job-1"); !errors.Is(err, crawl.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	results, err := store.ListResults(ctx, "job-1")
	if err != nil || len(results) != 0 {
		t.Fatalf("results should cascade on delete, got %v", results)
	}
	if err := store.DeleteJob(ctx, "job-1"); !errors.Is(err, crawl.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for double delete, got %v", err)
	}
}

func TestJobStoreListActiveJobs(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	jobs := []crawl.Job{
		{ID: "a", Status: crawl.JobStatusPending, CreatedAt: time.Unix(3, 0)},
		{ID: "b", Status: crawl.JobStatusRunning, CreatedAt: time.Unix(1, 0)},
		{ID: "c", Status: crawl.JobStatusCompleted, CreatedAt: time.Unix(2, 0)},
		{ID: "d", Status: crawl.JobStatusFailed, CreatedAt: time.Unix(4, 0)},
	}
	for _, j := range jobs {
		if err := store.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob(%s) error = %v", j.ID, err)
		}
	}

	active, err := store.ListActiveJobs(ctx)
	if err != nil {
		t.Fatalf("ListActiveJobs() error = %v", err)
	}
	if len(active) != 2 || active[0].ID != "b" || active[1].ID != "a" {
		t.Fatalf("unexpected active jobs: %+v", active)
	}
}
