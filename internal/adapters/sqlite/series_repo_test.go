package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
)

func airingSeries(id string, aired, total int, next time.Time) domain.Series {
	return domain.Series{
		Key:               domain.SeriesKey{SourceID: id, Variant: domain.VariantSub},
		Title:             "Frieren",
		Season:            1,
		EpisodesAired:     aired,
		EpisodeCount:      total,
		NextEpisodeNumber: aired + 1,
		NextEpisodeTime:   &next,
		IsAiring:          true,
	}
}

func TestSeriesRepository_UpsertKeepsFailureFlag(t *testing.T) {
	ctx := context.Background()
	repo := NewSeriesRepository(openTestDB(t).SQL)

	s := airingSeries("154587", 3, 12, time.Now().Add(time.Hour))
	if _, err := repo.UpsertSeries(ctx, s); err != nil {
		t.Fatalf("UpsertSeries: %v", err)
	}
	if err := repo.MarkDownloadFailed(ctx, s.Key); err != nil {
		t.Fatalf("MarkDownloadFailed: %v", err)
	}

	s.EpisodesAired = 4
	got, err := repo.UpsertSeries(ctx, s)
	if err != nil {
		t.Fatalf("UpsertSeries(2): %v", err)
	}
	if !got.DownloadFailed {
		t.Fatalf("download_failed must survive a metadata upsert")
	}
	if got.EpisodesAired != 4 {
		t.Fatalf("EpisodesAired: want 4, got %d", got.EpisodesAired)
	}
	if got.NextEpisodeTime == nil || !got.IsAiring {
		t.Fatalf("expected airing series with next time, got %+v", got)
	}
}

func TestSeriesRepository_NotAiringClearsNextTime(t *testing.T) {
	ctx := context.Background()
	repo := NewSeriesRepository(openTestDB(t).SQL)

	s := airingSeries("1", 12, 12, time.Now())
	s.IsAiring = false
	got, err := repo.UpsertSeries(ctx, s)
	if err != nil {
		t.Fatalf("UpsertSeries: %v", err)
	}
	if got.NextEpisodeTime != nil || got.IsAiring {
		t.Fatalf("next_episode_time must be null when not airing: %+v", got)
	}
}

func TestSeriesRepository_RecordDownload(t *testing.T) {
	ctx := context.Background()
	repo := NewSeriesRepository(openTestDB(t).SQL)

	s := airingSeries("1", 11, 12, time.Now().Add(time.Hour))
	if _, err := repo.UpsertSeries(ctx, s); err != nil {
		t.Fatalf("UpsertSeries: %v", err)
	}
	if err := repo.RecordDownload(ctx, s.Key, ports.DownloadRecord{Season: 1, Number: 12, Finished: true}); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected ErrNotFound without episode row, got %v", err)
	}

	if err := repo.UpsertEpisode(ctx, domain.Episode{Series: s.Key, Season: 1, Number: 12, Title: "Finale"}); err != nil {
		t.Fatalf("UpsertEpisode: %v", err)
	}
	_ = repo.MarkDownloadFailed(ctx, s.Key)

	if err := repo.RecordDownload(ctx, s.Key, ports.DownloadRecord{Season: 1, Number: 12, Finished: true}); err != nil {
		t.Fatalf("RecordDownload: %v", err)
	}
	got, _ := repo.GetSeries(ctx, s.Key)
	if got.DownloadFailed || got.IsAiring || got.NextEpisodeTime != nil {
		t.Fatalf("expected finished series, got %+v", got)
	}
	if got.EpisodesAired != 12 {
		t.Fatalf("EpisodesAired: want 12, got %d", got.EpisodesAired)
	}

	ep, err := repo.GetEpisode(ctx, s.Key, 12)
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if !ep.Downloaded || ep.Title != "Finale" {
		t.Fatalf("unexpected episode: %+v", ep)
	}

	// Un nouvel upsert du titre ne remet pas downloaded à zéro.
	if err := repo.UpsertEpisode(ctx, domain.Episode{Series: s.Key, Season: 1, Number: 12, Title: "Finale!"}); err != nil {
		t.Fatalf("UpsertEpisode(2): %v", err)
	}
	ep, _ = repo.GetEpisode(ctx, s.Key, 12)
	if !ep.Downloaded {
		t.Fatalf("downloaded must survive a title upsert")
	}

	if err := repo.ClearEpisodeDownloaded(ctx, s.Key, 12); err != nil {
		t.Fatalf("ClearEpisodeDownloaded: %v", err)
	}
	ep, _ = repo.GetEpisode(ctx, s.Key, 12)
	if ep.Downloaded {
		t.Fatalf("expected downloaded cleared")
	}
}

func TestSeriesRepository_RecordDownloadAdvancesPrediction(t *testing.T) {
	ctx := context.Background()
	repo := NewSeriesRepository(openTestDB(t).SQL)

	now := time.Now().UTC().Truncate(time.Second)
	s := airingSeries("1", 3, 12, now.Add(-time.Hour))
	if _, err := repo.UpsertSeries(ctx, s); err != nil {
		t.Fatalf("UpsertSeries: %v", err)
	}
	if err := repo.UpsertEpisode(ctx, domain.Episode{Series: s.Key, Season: 1, Number: 4}); err != nil {
		t.Fatalf("UpsertEpisode: %v", err)
	}

	next := now.Add(6 * 24 * time.Hour)
	if err := repo.RecordDownload(ctx, s.Key, ports.DownloadRecord{Season: 1, Number: 4, NextNumber: 5, NextTime: &next}); err != nil {
		t.Fatalf("RecordDownload: %v", err)
	}
	got, _ := repo.GetSeries(ctx, s.Key)
	if got.EpisodesAired != 4 || got.NextEpisodeNumber != 5 || !got.IsAiring {
		t.Fatalf("unexpected series: %+v", got)
	}
	if got.NextEpisodeTime == nil || !got.NextEpisodeTime.Equal(next) {
		t.Fatalf("next time: want %v, got %v", next, got.NextEpisodeTime)
	}
}

func TestSeriesRepository_DueSeries(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	series := NewSeriesRepository(db.SQL)
	follows := NewFollowsRepository(db.SQL)

	now := time.Now().UTC()
	past := airingSeries("past", 3, 12, now.Add(-time.Hour))
	future := airingSeries("future", 3, 12, now.Add(time.Hour))
	failed := airingSeries("failed", 3, 12, now.Add(time.Hour))
	unfollowed := airingSeries("unfollowed", 3, 12, now.Add(-time.Hour))
	for _, s := range []domain.Series{past, future, failed, unfollowed} {
		if _, err := series.UpsertSeries(ctx, s); err != nil {
			t.Fatalf("UpsertSeries(%s): %v", s.Key, err)
		}
	}
	_ = series.MarkDownloadFailed(ctx, failed.Key)
	for _, s := range []domain.Series{past, future, failed} {
		if _, err := follows.Upsert(ctx, domain.Follow{SubscriberID: "42", Series: s.Key}); err != nil {
			t.Fatalf("Follow(%s): %v", s.Key, err)
		}
	}
	// Deux abonnés : la série ne doit sortir qu'une fois.
	if _, err := follows.Upsert(ctx, domain.Follow{SubscriberID: "43", Series: past.Key}); err != nil {
		t.Fatalf("Follow: %v", err)
	}

	due, err := series.DueSeries(ctx, now, 0)
	if err != nil {
		t.Fatalf("DueSeries: %v", err)
	}
	got := map[string]bool{}
	for _, s := range due {
		if got[s.Key.SourceID] {
			t.Fatalf("series %s returned twice", s.Key)
		}
		got[s.Key.SourceID] = true
	}
	if len(got) != 2 || !got["past"] || !got["failed"] {
		t.Fatalf("expected past and failed due, got %v", got)
	}
}

func TestSeriesRepository_PartOffset(t *testing.T) {
	ctx := context.Background()
	repo := NewSeriesRepository(openTestDB(t).SQL)

	p1 := domain.Series{Key: domain.SeriesKey{SourceID: "a", Variant: domain.VariantSub}, Title: "Mushoku Tensei", Season: 2, Part: 1, EpisodesAired: 13, EpisodeCount: 13}
	p2 := domain.Series{Key: domain.SeriesKey{SourceID: "b", Variant: domain.VariantSub}, Title: "Mushoku Tensei", Season: 2, Part: 2, EpisodesAired: 2, EpisodeCount: 12}
	dub := domain.Series{Key: domain.SeriesKey{SourceID: "a", Variant: domain.VariantDub}, Title: "Mushoku Tensei", Season: 2, Part: 1, EpisodesAired: 5, EpisodeCount: 5}
	for _, s := range []domain.Series{p1, p2, dub} {
		if _, err := repo.UpsertSeries(ctx, s); err != nil {
			t.Fatalf("UpsertSeries: %v", err)
		}
	}

	off, err := repo.PartOffset(ctx, p2)
	if err != nil {
		t.Fatalf("PartOffset: %v", err)
	}
	if off != 13 {
		t.Fatalf("offset: want 13, got %d", off)
	}
	if off, _ := repo.PartOffset(ctx, p1); off != 0 {
		t.Fatalf("part 1 offset: want 0, got %d", off)
	}
}

func TestFollowsRepository_CreatesSeriesAndToggles(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	series := NewSeriesRepository(db.SQL)
	follows := NewFollowsRepository(db.SQL)

	key := domain.SeriesKey{SourceID: "21", Variant: domain.VariantDub}
	f, err := follows.Upsert(ctx, domain.Follow{SubscriberID: "42", Series: key, Notify: true})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !f.Notify {
		t.Fatalf("expected notify=true")
	}
	if _, err := series.GetSeries(ctx, key); err != nil {
		t.Fatalf("placeholder series missing: %v", err)
	}

	if _, err := follows.Upsert(ctx, domain.Follow{SubscriberID: "42", Series: key, Notify: false}); err != nil {
		t.Fatalf("Upsert(2): %v", err)
	}
	n, err := follows.Notifiable(ctx, key)
	if err != nil {
		t.Fatalf("Notifiable: %v", err)
	}
	if len(n) != 0 {
		t.Fatalf("expected no notifiable follows, got %+v", n)
	}

	list, _ := follows.ListBySubscriber(ctx, "42")
	if len(list) != 1 {
		t.Fatalf("expected a single follow row, got %d", len(list))
	}

	if err := follows.Delete(ctx, "42", key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := follows.Delete(ctx, "42", key); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("second Delete: expected ErrNotFound, got %v", err)
	}
	if _, err := series.GetSeries(ctx, key); err != nil {
		t.Fatalf("series must not be deleted with the follow: %v", err)
	}
}
