package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
)

// Lease sérialise les sessions du resolver (voir ResolverLease).
type Lease interface {
	Acquire(ctx context.Context) (release func(), err error)
}

type AcquireOptions struct {
	// MetadataOnly enregistre la série sans rien télécharger.
	MetadataOnly bool
}

// AcquireResult est le résultat net d'une tentative, retries compris.
type AcquireResult struct {
	Ref      domain.Reference `json:"-"`
	Episode  int              `json:"episode"`
	Outcome  domain.Outcome   `json:"outcome"`
	Reason   string           `json:"reason,omitempty"`
	Path     string           `json:"path,omitempty"`
	Size     int64            `json:"size,omitempty"`
	Attempts int              `json:"attempts"`

	Series domain.Series `json:"-"`
}

// Acquirer fait une tentative nette par épisode : bail, pré-vérification,
// resolver avec retries, puis écriture de l'état final dans le Catalog.
type Acquirer struct {
	logger   zerolog.Logger
	lease    Lease
	resolver EpisodeResolver
	series   ports.SeriesRepository
	settings ports.SettingsRepository
	bus      ports.EventBus
	now      func() time.Time
}

func NewAcquirer(logger zerolog.Logger, lease Lease, resolver EpisodeResolver, series ports.SeriesRepository, settings ports.SettingsRepository, bus ports.EventBus) *Acquirer {
	return &Acquirer{logger: logger, lease: lease, resolver: resolver, series: series, settings: settings, bus: bus, now: time.Now}
}

func (a *Acquirer) Attempt(ctx context.Context, ref domain.Reference, opts AcquireOptions) (AcquireResult, error) {
	result := AcquireResult{Ref: ref, Episode: ref.Episode}
	log := a.logger.With().Str("ref", ref.String()).Logger()

	settings, err := a.settings.Get(ctx)
	if err != nil {
		return result, fmt.Errorf("load settings: %w", err)
	}

	release, err := a.lease.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			result.Outcome = domain.OutcomeCancelled
			return result, nil
		}
		return result, err
	}
	defer release()

	if !opts.MetadataOnly {
		skipped, err := a.precheck(ctx, log, ref, settings.OutputDir, &result)
		if err != nil {
			return result, err
		}
		if skipped {
			return result, nil
		}
	}

	maxAttempts := settings.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var res Resolution
	err = retry.Do(
		func() error {
			result.Attempts++
			var err error
			res, err = a.resolver.Resolve(ctx, ResolveRequest{Ref: ref, MetadataOnly: opts.MetadataOnly, Settings: settings})
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(maxAttempts)),
		retry.Delay(time.Duration(settings.RetryDelaySeconds)*time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, domain.ErrResolverTransient) && ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Uint("attempt", n+1).Int("max", maxAttempts).Msg("resolver attempt failed, retrying")
		}),
	)

	if ctx.Err() != nil {
		// Annulation : aucun marquage d'échec.
		log.Info().Msg("attempt cancelled")
		result.Outcome = domain.OutcomeCancelled
		return result, nil
	}

	switch {
	case err == nil:
		return a.complete(ctx, log, res, result)
	case errors.Is(err, domain.ErrContentPolicyBlocked):
		result.Outcome = domain.OutcomePolicyBlocked
	case errors.Is(err, domain.ErrEpisodeOutOfBounds),
		errors.Is(err, domain.ErrEpisodeNotYetAired),
		errors.Is(err, domain.ErrInvalidReferenceFormat),
		errors.Is(err, domain.ErrInvalidEpisodeRange):
		result.Outcome = domain.OutcomeInvalidRequest
	case errors.Is(err, domain.ErrResolverTransient):
		result.Outcome = domain.OutcomeExhaustedRetries
		result.Reason = err.Error()
		if ferr := a.series.MarkDownloadFailed(ctx, ref.Key()); ferr != nil {
			return result, ferr
		}
		log.Error().Err(err).Int("attempts", result.Attempts).Msg("retries exhausted, series flagged")
		a.publish("series.failed", result)
	default:
		return result, err
	}
	result.Reason = err.Error()
	return result, nil
}

// precheck : épisode déjà marqué téléchargé et fichier présent -> Skipped.
// Fichier absent malgré le flag : on efface le flag et on retente.
func (a *Acquirer) precheck(ctx context.Context, log zerolog.Logger, ref domain.Reference, outDir string, result *AcquireResult) (bool, error) {
	ep, err := a.series.GetEpisode(ctx, ref.Key(), ref.Episode)
	if errors.Is(err, ports.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !ep.Downloaded {
		return false, nil
	}

	s, err := a.series.GetSeries(ctx, ref.Key())
	if err != nil {
		return false, err
	}
	offset, err := a.series.PartOffset(ctx, s)
	if err != nil {
		return false, err
	}
	if path, ok := FindEpisodeFile(outDir, s, offset+ref.Episode); ok {
		result.Outcome = domain.OutcomeSkipped
		result.Reason = "already downloaded"
		result.Path = path
		result.Series = s
		log.Info().Str("path", path).Msg("episode already downloaded")
		return true, nil
	}

	log.Warn().Msg("episode flagged downloaded but file is missing, re-resolving")
	return false, a.series.ClearEpisodeDownloaded(ctx, ref.Key(), ref.Episode)
}

func (a *Acquirer) complete(ctx context.Context, log zerolog.Logger, res Resolution, result AcquireResult) (AcquireResult, error) {
	result.Series = res.Series
	if res.Kind == ResolutionSkipped {
		result.Outcome = domain.OutcomeSkipped
		result.Reason = res.Reason
		return result, nil
	}

	s := res.Series
	n := result.Ref.Episode
	rec := ports.DownloadRecord{
		Season:   s.Season,
		Number:   n,
		Finished: s.EpisodesAired == s.EpisodeCount || n == s.EpisodeCount,
	}
	if !rec.Finished && s.IsAiring && s.NextEpisodeTime != nil && n >= s.NextEpisodeNumber {
		next := nextAiring(*s.NextEpisodeTime, a.now())
		rec.NextNumber = n + 1
		rec.NextTime = &next
	}
	if err := a.series.RecordDownload(ctx, s.Key, rec); err != nil {
		return result, err
	}

	if updated, err := a.series.GetSeries(ctx, s.Key); err == nil {
		result.Series = updated
	}
	result.Outcome = domain.OutcomeSuccess
	result.Path = res.Path
	result.Size = res.Size
	log.Info().Str("path", res.Path).Bool("season_finished", rec.Finished).Msg("episode acquired")
	a.publish("episode.downloaded", result)
	return result, nil
}

// nextAiring projette la diffusion hebdomadaire suivante après now, toujours
// au moins une semaine après last : l'épisode prévu à last peut être récupéré
// en avance.
func nextAiring(last, now time.Time) time.Time {
	if last.IsZero() || now.Sub(last) > 365*24*time.Hour {
		return now.Add(7 * 24 * time.Hour)
	}
	next := last.Add(7 * 24 * time.Hour)
	for !next.After(now) {
		next = next.Add(7 * 24 * time.Hour)
	}
	return next
}

type acquireEvent struct {
	Series  string         `json:"series"`
	Title   string         `json:"title,omitempty"`
	Episode int            `json:"episode"`
	Outcome domain.Outcome `json:"outcome"`
	Path    string         `json:"path,omitempty"`
	Reason  string         `json:"reason,omitempty"`
}

func (a *Acquirer) publish(topic string, r AcquireResult) {
	if a.bus == nil {
		return
	}
	b, err := json.Marshal(acquireEvent{
		Series:  r.Ref.Key().String(),
		Title:   r.Series.DisplayTitle(),
		Episode: r.Episode,
		Outcome: r.Outcome,
		Path:    r.Path,
		Reason:  r.Reason,
	})
	if err != nil {
		return
	}
	a.bus.Publish(topic, b)
}
