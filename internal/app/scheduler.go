package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
)

// Attempter est la porte d'entrée de l'Acquirer, partagée avec les commandes.
type Attempter interface {
	Attempt(ctx context.Context, ref domain.Reference, opts AcquireOptions) (AcquireResult, error)
}

// Scheduler réconcilie le Catalog avec l'horloge : les séries suivies dont
// l'épisode prévu est passé (ou dont la dernière tentative a échoué) sont retentées.
type Scheduler struct {
	logger    zerolog.Logger
	series    ports.SeriesRepository
	acquirer  Attempter
	announcer *Announcer
	library   ports.LibraryRefresher

	// Spec est une expression cron ("@every 10m").
	Spec      string
	BatchSize int

	now  func() time.Time
	mu   sync.Mutex
	cron *cron.Cron
}

func NewScheduler(logger zerolog.Logger, series ports.SeriesRepository, acquirer Attempter, announcer *Announcer, library ports.LibraryRefresher) *Scheduler {
	return &Scheduler{
		logger:    logger,
		series:    series,
		acquirer:  acquirer,
		announcer: announcer,
		library:   library,
		Spec:      "@every 10m",
		BatchSize: 50,
		now:       time.Now,
	}
}

// TickReport résume un cycle.
type TickReport struct {
	Due       int
	Attempted int
	Succeeded int
	Skipped   int
	Failed    int
	Notified  int
}

// Start planifie les cycles jusqu'à l'annulation de ctx.
// Un cycle encore en cours fait sauter le suivant.
func (s *Scheduler) Start(ctx context.Context) error {
	logger := cronLogger{s.logger}
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(s.Spec, func() { s.Tick(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", s.Spec, err)
	}
	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	c.Start()
	s.logger.Info().Str("spec", s.Spec).Msg("scheduler started")
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		s.logger.Info().Msg("scheduler stopped")
	}()
	return nil
}

// Tick exécute un cycle de réconciliation. Les paniques sont journalisées,
// jamais propagées : la boucle doit tourner indéfiniment.
func (s *Scheduler) Tick(ctx context.Context) (report TickReport) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("scheduler cycle panicked")
		}
	}()

	now := s.now()
	due, err := s.series.DueSeries(ctx, now, s.BatchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("due series query failed")
		return report
	}
	report.Due = len(due)
	if len(due) == 0 {
		return report
	}

	for _, series := range due {
		if ctx.Err() != nil {
			break
		}
		s.reconcile(ctx, now, series, &report)
	}

	if report.Succeeded > 0 && s.library != nil {
		if err := s.library.Refresh(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("library refresh failed")
		}
	}
	s.logger.Info().Int("due", report.Due).Int("attempted", report.Attempted).
		Int("succeeded", report.Succeeded).Int("failed", report.Failed).Msg("scheduler cycle done")
	return report
}

func (s *Scheduler) reconcile(ctx context.Context, now time.Time, series domain.Series, report *TickReport) {
	log := s.logger.With().Str("series", series.Key.String()).Int("episode", series.NextEpisodeNumber).Logger()
	if series.NextEpisodeNumber <= 0 {
		log.Warn().Msg("airing series without next episode number")
		report.Skipped++
		return
	}
	if s.staleRepeat(ctx, now, series) {
		log.Warn().Msg("next episode repeats episode 1 before its air time, skipping")
		report.Skipped++
		return
	}

	ref := domain.Reference{SeriesID: series.Key.SourceID, Episode: series.NextEpisodeNumber, Variant: series.Key.Variant}
	report.Attempted++
	res, err := s.acquirer.Attempt(ctx, ref, AcquireOptions{})
	if err != nil {
		report.Failed++
		log.Error().Err(err).Msg("scheduled attempt failed")
		return
	}

	switch res.Outcome {
	case domain.OutcomeSuccess:
		report.Succeeded++
		announced := res.Series
		if announced.Key.SourceID == "" {
			announced = series
		}
		report.Notified += s.announcer.Announce(ctx, announced, ref.Episode)
	case domain.OutcomeSkipped:
		report.Skipped++
	default:
		report.Failed++
		log.Warn().Str("outcome", string(res.Outcome)).Str("reason", res.Reason).Msg("scheduled attempt did not succeed")
	}
}

// staleRepeat détecte une fausse sortie : le "prochain" épisode porte le titre
// de l'épisode 1 alors que sa diffusion est encore à venir.
func (s *Scheduler) staleRepeat(ctx context.Context, now time.Time, series domain.Series) bool {
	if series.NextEpisodeTime == nil || !series.NextEpisodeTime.After(now) || series.NextEpisodeNumber <= 1 {
		return false
	}
	next, err := s.series.GetEpisode(ctx, series.Key, series.NextEpisodeNumber)
	if err != nil {
		return false
	}
	first, err := s.series.GetEpisode(ctx, series.Key, 1)
	if err != nil {
		return false
	}
	return next.Title != "" && next.Title == first.Title
}

// cronLogger adapte zerolog à l'interface cron.Logger.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	if errors.Is(err, context.Canceled) {
		return
	}
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
