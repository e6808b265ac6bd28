package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestJobsRepository_ClaimNextQueued(t *testing.T) {
	ctx := context.Background()
	repo := NewJobsRepository(openTestDB(t).SQL)

	// Aucun job -> not found
	if _, err := repo.ClaimNextQueued(ctx); err == nil || !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected ErrNotFound when no queued jobs, got %v", err)
	}

	now := time.Now().UTC()
	for i, id := range []string{"job1", "job2"} {
		at := now.Add(time.Duration(i-2) * time.Minute)
		if _, err := repo.Create(ctx, domain.Job{
			ID:        id,
			Type:      domain.JobTypeDownload,
			State:     domain.JobQueued,
			CreatedAt: at,
			UpdatedAt: at,
		}); err != nil {
			t.Fatalf("Create(%s): %v", id, err)
		}
	}

	claimed, err := repo.ClaimNextQueued(ctx)
	if err != nil {
		t.Fatalf("ClaimNextQueued: %v", err)
	}
	if claimed.ID != "job1" {
		t.Fatalf("expected to claim oldest (job1), got %q", claimed.ID)
	}
	if claimed.State != domain.JobRunning {
		t.Fatalf("expected claimed state running, got %q", claimed.State)
	}

	updated, err := repo.UpdateProgress(ctx, claimed.ID, 0.5)
	if err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if updated.Progress != 0.5 {
		t.Fatalf("expected progress=0.5, got %v", updated.Progress)
	}

	running, err := repo.List(ctx, ports.JobFilter{State: domain.JobRunning})
	if err != nil {
		t.Fatalf("List(running): %v", err)
	}
	if len(running) != 1 || running[0].ID != "job1" {
		t.Fatalf("expected only job1 running, got %+v", running)
	}
}

func TestJobsRepository_FinishAfterCancelConflicts(t *testing.T) {
	ctx := context.Background()
	repo := NewJobsRepository(openTestDB(t).SQL)

	now := time.Now().UTC()
	if _, err := repo.Create(ctx, domain.Job{ID: "j", Type: domain.JobTypeDownload, State: domain.JobQueued, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := repo.ClaimNextQueued(ctx); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := repo.UpdateState(ctx, "j", domain.JobRunning, domain.JobCanceled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, err := repo.Finish(ctx, "j", domain.JobCompleted, []byte(`{}`), "", "")
	if !errors.Is(err, ports.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, _ := repo.Get(ctx, "j")
	if got.State != domain.JobCanceled {
		t.Fatalf("state should stay canceled, got %q", got.State)
	}
}

func TestJobsRepository_FinishWritesResultAndError(t *testing.T) {
	ctx := context.Background()
	repo := NewJobsRepository(openTestDB(t).SQL)

	now := time.Now().UTC()
	if _, err := repo.Create(ctx, domain.Job{ID: "j", Type: domain.JobTypeDownload, State: domain.JobQueued, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := repo.ClaimNextQueued(ctx); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	got, err := repo.Finish(ctx, "j", domain.JobFailed, []byte(`{"outcomes":[]}`), "exhausted_retries", "timeout")
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if got.State != domain.JobFailed || got.ErrorCode != "exhausted_retries" || got.ErrorMessage != "timeout" {
		t.Fatalf("unexpected job: %+v", got)
	}
	if string(got.ResultJSON) != `{"outcomes":[]}` {
		t.Fatalf("unexpected result: %s", got.ResultJSON)
	}
}
