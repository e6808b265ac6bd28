package app

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
)

func TestRunDownload_ReturnsRangeResult(t *testing.T) {
	attempter := &scriptedAttempter{outcomes: map[int]domain.Outcome{3: domain.OutcomePolicyBlocked}}
	exec := DownloadExecutor{Logger: zerolog.Nop(), Acquirer: attempter}

	var last float64
	res, err := RunDownload(context.Background(), exec, DownloadParams{SeriesID: "1", Variant: domain.VariantSub, From: 1, To: 5}, func(v float64) { last = v })
	var coded *CodedError
	if !errors.As(err, &coded) || coded.Code != string(domain.OutcomePolicyBlocked) {
		t.Fatalf("expected policy_blocked error, got %v", err)
	}
	if res.ExitCode != domain.ExitPolicyBlocked || len(res.Episodes) != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if last != 0.6 {
		t.Fatalf("progress: %v", last)
	}
}

func TestRunDownload_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	exec := DownloadExecutor{Logger: zerolog.Nop(), Acquirer: &scriptedAttempter{}}

	res, _ := RunDownload(ctx, exec, DownloadParams{SeriesID: "1", Variant: domain.VariantSub, From: 1, To: 2}, nil)
	if res.ExitCode != domain.ExitCancelled {
		t.Fatalf("exit code: %d", res.ExitCode)
	}
}
