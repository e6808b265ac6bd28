package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
)

func TestWorkerPool_ResizeAndDrain(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, testSettings(t))
	jobs := NewJobService(store.jobs, nil)
	execs := NewExecutorRegistry(DownloadExecutor{Logger: zerolog.Nop(), Acquirer: &scriptedAttempter{}}, nil)

	for i := 1; i <= 3; i++ {
		params, _ := json.Marshal(DownloadParams{SeriesID: "1", Variant: domain.VariantSub, From: i, To: i})
		if _, err := jobs.Create(ctx, CreateJobRequest{Type: domain.JobTypeDownload, Params: params}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	pool := NewWorkerPool(ctx, zerolog.Nop(), store.jobs, nil, execs, WorkerOptions{PollInterval: 5 * time.Millisecond})
	pool.SetCount(3)
	if pool.Count() != 3 {
		t.Fatalf("expected 3 workers, got %d", pool.Count())
	}
	pool.SetCount(0)
	if pool.Count() != 1 {
		t.Fatalf("count is clamped to 1, got %d", pool.Count())
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		done, _ := store.jobs.List(ctx, ports.JobFilter{State: domain.JobCompleted})
		if len(done) == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue not drained: %d completed", len(done))
		}
		time.Sleep(10 * time.Millisecond)
	}
	pool.Close()
	if pool.Count() != 0 {
		t.Fatalf("Close must stop every worker")
	}
}
