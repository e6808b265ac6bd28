package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
)

type recordedEnv struct {
	progress []float64
	result   []byte
	canceled bool
}

func (r *recordedEnv) env() ExecEnv {
	return ExecEnv{
		UpdateProgress: func(p float64) error { r.progress = append(r.progress, p); return nil },
		UpdateResult:   func(b []byte) error { r.result = b; return nil },
		IsCanceled:     func() (bool, error) { return r.canceled, nil },
	}
}

func (r *recordedEnv) decode(t *testing.T) RangeResult {
	t.Helper()
	var out RangeResult
	if err := json.Unmarshal(r.result, &out); err != nil {
		t.Fatalf("decode result %s: %v", r.result, err)
	}
	return out
}

func downloadJob(t *testing.T, p DownloadParams) domain.Job {
	t.Helper()
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return domain.Job{ID: "job1", Type: domain.JobTypeDownload, ParamsJSON: b}
}

func TestDownloadExecutor_InvalidParams(t *testing.T) {
	ex := DownloadExecutor{Logger: zerolog.Nop(), Acquirer: &scriptedAttempter{}}
	rec := &recordedEnv{}

	err := ex.Execute(context.Background(), domain.Job{ID: "job1", ParamsJSON: []byte(`{"seriesId":"1","from":5,"to":2,"variant":"sub"}`)}, rec.env())
	var coded *CodedError
	if !errors.As(err, &coded) || coded.Code != "invalid_params" {
		t.Fatalf("expected invalid_params coded error, got %T (%v)", err, err)
	}
	if len(rec.progress) != 0 {
		t.Fatalf("expected no progress updates, got %v", rec.progress)
	}
}

func TestDownloadExecutor_RangeInAscendingOrder(t *testing.T) {
	store := newTestStore(t, testSettings(t))
	attempter := &scriptedAttempter{outcomes: map[int]domain.Outcome{3: domain.OutcomeSkipped}}
	library := &fakeLibrary{}
	ex := DownloadExecutor{Logger: zerolog.Nop(), Acquirer: attempter, Follows: store.follows, Library: library}
	rec := &recordedEnv{}

	job := downloadJob(t, DownloadParams{SeriesID: "154587", Variant: domain.VariantSub, From: 2, To: 5, Follow: true, Notify: true, Subscriber: "42"})
	if err := ex.Execute(context.Background(), job, rec.env()); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	eps := attempter.episodes()
	if len(eps) != 4 || eps[0] != 2 || eps[3] != 5 {
		t.Fatalf("expected episodes 2..5 in order, got %v", eps)
	}
	res := rec.decode(t)
	if res.Outcome != domain.OutcomeSuccess || res.ExitCode != 0 || !res.Followed {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(rec.progress) != 4 || rec.progress[3] != 1 {
		t.Fatalf("unexpected progress: %v", rec.progress)
	}
	if library.calls != 1 {
		t.Fatalf("library refresh: want 1 call, got %d", library.calls)
	}
	f, err := store.follows.Get(context.Background(), "42", domain.SeriesKey{SourceID: "154587", Variant: domain.VariantSub})
	if err != nil || !f.Notify {
		t.Fatalf("follow after download: %+v, %v", f, err)
	}
}

func TestDownloadExecutor_StopsOnTerminalOutcome(t *testing.T) {
	attempter := &scriptedAttempter{outcomes: map[int]domain.Outcome{3: domain.OutcomeExhaustedRetries}}
	ex := DownloadExecutor{Logger: zerolog.Nop(), Acquirer: attempter}
	rec := &recordedEnv{}

	job := downloadJob(t, DownloadParams{SeriesID: "1", Variant: domain.VariantDub, From: 1, To: 6, Follow: true, Subscriber: "42"})
	err := ex.Execute(context.Background(), job, rec.env())
	var coded *CodedError
	if !errors.As(err, &coded) || coded.Code != string(domain.OutcomeExhaustedRetries) {
		t.Fatalf("expected exhausted_retries coded error, got %v", err)
	}
	if coded.Message != "scripted exhausted_retries" {
		t.Fatalf("diagnostic: %q", coded.Message)
	}
	if eps := attempter.episodes(); len(eps) != 3 {
		t.Fatalf("range must stop at episode 3, got %v", eps)
	}
	res := rec.decode(t)
	if res.ExitCode != domain.ExitFailed || res.Followed {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDownloadExecutor_CanceledBetweenEpisodes(t *testing.T) {
	attempter := &scriptedAttempter{}
	ex := DownloadExecutor{Logger: zerolog.Nop(), Acquirer: attempter}
	rec := &recordedEnv{canceled: true}

	err := ex.Execute(context.Background(), downloadJob(t, DownloadParams{SeriesID: "1", Variant: domain.VariantSub, From: 1, To: 3}), rec.env())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(attempter.episodes()) != 0 {
		t.Fatalf("no attempt expected after cancellation")
	}
}

func TestFollowExecutor_Backfill(t *testing.T) {
	settings := testSettings(t)
	settings.MaxEpisodes = 3
	store := newTestStore(t, settings)
	s := frieren(domain.VariantSub)
	s.EpisodesAired = 7
	attempter := &scriptedAttempter{series: s}
	ex := FollowExecutor{Logger: zerolog.Nop(), Acquirer: attempter, Follows: store.follows, Settings: store.settings}
	rec := &recordedEnv{}

	b, _ := json.Marshal(FollowParams{SeriesID: s.Key.SourceID, Variant: s.Key.Variant, Subscriber: "42", Backfill: true})
	if err := ex.Execute(context.Background(), domain.Job{ID: "f1", Type: domain.JobTypeFollow, ParamsJSON: b}, rec.env()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if attempter.metadata != 1 {
		t.Fatalf("expected one metadata pass, got %d", attempter.metadata)
	}
	if eps := attempter.episodes(); len(eps) != 3 || eps[0] != 5 || eps[2] != 7 {
		t.Fatalf("expected the 3 most recent episodes in order, got %v", eps)
	}
	if res := rec.decode(t); res.Title != "Frieren" || !res.Followed {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestFollowExecutor_PolicyBlockedDropsFollow(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, testSettings(t))
	key := domain.SeriesKey{SourceID: "9", Variant: domain.VariantSub}
	if _, err := store.follows.Upsert(ctx, domain.Follow{SubscriberID: "42", Series: key}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	attempter := &scriptedAttempter{outcomes: map[int]domain.Outcome{1: domain.OutcomePolicyBlocked}}
	ex := FollowExecutor{Logger: zerolog.Nop(), Acquirer: attempter, Follows: store.follows, Settings: store.settings}
	rec := &recordedEnv{}

	b, _ := json.Marshal(FollowParams{SeriesID: key.SourceID, Variant: key.Variant, Subscriber: "42", Backfill: true})
	err := ex.Execute(ctx, domain.Job{ID: "f1", Type: domain.JobTypeFollow, ParamsJSON: b}, rec.env())
	var coded *CodedError
	if !errors.As(err, &coded) || coded.Code != string(domain.OutcomePolicyBlocked) {
		t.Fatalf("expected policy_blocked, got %v", err)
	}
	if res := rec.decode(t); res.ExitCode != domain.ExitPolicyBlocked || res.Followed {
		t.Fatalf("unexpected result: %+v", res)
	}
	if list, _ := store.follows.ListBySubscriber(ctx, "42"); len(list) != 0 {
		t.Fatalf("blocked follow must be removed, got %+v", list)
	}
}

func TestBackfillWindow(t *testing.T) {
	cases := []struct{ aired, max, from, to int }{
		{5, 25, 1, 5},
		{30, 25, 6, 30},
		{4, 0, 1, 4},
	}
	for _, tc := range cases {
		from, to := backfillWindow(tc.aired, tc.max)
		if from != tc.from || to != tc.to {
			t.Fatalf("backfillWindow(%d, %d) = %d-%d, want %d-%d", tc.aired, tc.max, from, to, tc.from, tc.to)
		}
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	if got := Truncate("héllo", 2); got != "h…" {
		t.Fatalf("Truncate: %q", got)
	}
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("Truncate: %q", got)
	}
}
