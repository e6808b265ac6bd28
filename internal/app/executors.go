package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
)

type JobExecutor interface {
	Execute(ctx context.Context, job domain.Job, env ExecEnv) error
}

type ExecEnv struct {
	UpdateProgress func(progress float64) error
	UpdateResult   func(resultJSON []byte) error
	IsCanceled     func() (bool, error)
}

type ExecutorRegistry struct {
	byType map[string]JobExecutor
}

func (r ExecutorRegistry) Get(jobType string) JobExecutor {
	if r.byType == nil {
		return nil
	}
	return r.byType[jobType]
}

func NewExecutorRegistry(download, follow JobExecutor) ExecutorRegistry {
	return ExecutorRegistry{byType: map[string]JobExecutor{
		domain.JobTypeDownload: download,
		domain.JobTypeFollow:   follow,
	}}
}

// RangeResult est le résultat persisté d'un job : un AcquireResult par épisode tenté.
type RangeResult struct {
	SeriesID string          `json:"seriesId"`
	Variant  domain.Variant  `json:"variant"`
	Title    string          `json:"title,omitempty"`
	Outcome  domain.Outcome  `json:"outcome"`
	ExitCode int             `json:"exitCode"`
	Episodes []AcquireResult `json:"episodes"`
	Followed bool            `json:"followed,omitempty"`
}

// DownloadExecutor traite une plage d'épisodes dans l'ordre croissant et
// s'arrête au premier résultat terminal.
type DownloadExecutor struct {
	Logger   zerolog.Logger
	Acquirer Attempter
	Follows  ports.FollowRepository
	Library  ports.LibraryRefresher
}

func (e DownloadExecutor) Execute(ctx context.Context, job domain.Job, env ExecEnv) error {
	var p DownloadParams
	if err := json.Unmarshal(job.ParamsJSON, &p); err != nil {
		return &CodedError{Code: "invalid_params", Message: "invalid download params", Err: err}
	}
	if p.SeriesID == "" || p.From <= 0 || p.To < p.From || !p.Variant.Valid() {
		return &CodedError{Code: "invalid_params", Message: fmt.Sprintf("invalid download params %+v", p)}
	}

	key := domain.SeriesKey{SourceID: p.SeriesID, Variant: p.Variant}
	res := RangeResult{SeriesID: key.SourceID, Variant: key.Variant}
	err := runRange(ctx, e.Logger, e.Acquirer, env, key, p.From, p.To, &res)
	if err != nil {
		return err
	}
	refreshLibrary(ctx, e.Logger, e.Library, res)

	if p.Follow && !res.Outcome.Terminal() {
		if _, err := e.Follows.Upsert(ctx, domain.Follow{SubscriberID: p.Subscriber, Series: key, Notify: p.Notify}); err != nil {
			return &CodedError{Code: "storage_error", Message: "follow after download", Err: err}
		}
		res.Followed = true
	}
	return finishRange(env, res)
}

// FollowExecutor indexe une série suivie (métadonnées de l'épisode 1), puis
// rattrape éventuellement les épisodes déjà diffusés.
type FollowExecutor struct {
	Logger   zerolog.Logger
	Acquirer Attempter
	Follows  ports.FollowRepository
	Settings ports.SettingsRepository
	Library  ports.LibraryRefresher
}

func (e FollowExecutor) Execute(ctx context.Context, job domain.Job, env ExecEnv) error {
	var p FollowParams
	if err := json.Unmarshal(job.ParamsJSON, &p); err != nil {
		return &CodedError{Code: "invalid_params", Message: "invalid follow params", Err: err}
	}
	if p.SeriesID == "" || p.Subscriber == "" || !p.Variant.Valid() {
		return &CodedError{Code: "invalid_params", Message: fmt.Sprintf("invalid follow params %+v", p)}
	}

	key := domain.SeriesKey{SourceID: p.SeriesID, Variant: p.Variant}
	ref := domain.Reference{SeriesID: key.SourceID, Episode: 1, Variant: key.Variant}
	res := RangeResult{SeriesID: key.SourceID, Variant: key.Variant, Followed: true}

	meta, err := e.Acquirer.Attempt(ctx, ref, AcquireOptions{MetadataOnly: true})
	if err != nil {
		return &CodedError{Code: "storage_error", Message: "index followed series", Err: err}
	}
	switch meta.Outcome {
	case domain.OutcomeCancelled:
		return context.Canceled
	case domain.OutcomeSuccess, domain.OutcomeSkipped:
	default:
		if meta.Outcome == domain.OutcomePolicyBlocked {
			// Une série bloquée ne reste pas suivie.
			if derr := e.Follows.Delete(ctx, p.Subscriber, key); derr != nil && !errors.Is(derr, ports.ErrNotFound) {
				e.Logger.Warn().Err(derr).Str("series", key.String()).Msg("failed to drop blocked follow")
			}
			res.Followed = false
		}
		res.Episodes = append(res.Episodes, meta)
		res.Outcome = meta.Outcome
		return finishRange(env, res)
	}
	res.Title = meta.Series.DisplayTitle()

	if !p.Backfill || meta.Series.EpisodesAired <= 0 {
		res.Outcome = domain.OutcomeSkipped
		return finishRange(env, res)
	}

	settings, err := e.Settings.Get(ctx)
	if err != nil {
		return &CodedError{Code: "storage_error", Message: "load settings", Err: err}
	}
	from, to := backfillWindow(meta.Series.EpisodesAired, settings.MaxEpisodes)
	e.Logger.Info().Str("series", key.String()).Int("from", from).Int("to", to).Msg("backfilling followed series")
	if err := runRange(ctx, e.Logger, e.Acquirer, env, key, from, to, &res); err != nil {
		return err
	}
	refreshLibrary(ctx, e.Logger, e.Library, res)
	return finishRange(env, res)
}

// backfillWindow garde les maxEpisodes épisodes les plus récents.
func backfillWindow(aired, maxEpisodes int) (int, int) {
	from := 1
	if maxEpisodes > 0 && aired > maxEpisodes {
		from = aired - maxEpisodes + 1
	}
	return from, aired
}

func runRange(ctx context.Context, logger zerolog.Logger, acquirer Attempter, env ExecEnv, key domain.SeriesKey, from, to int, res *RangeResult) error {
	total := to - from + 1
	for n := from; n <= to; n++ {
		if canceled, err := env.IsCanceled(); err == nil && canceled {
			return context.Canceled
		}
		ref := domain.Reference{SeriesID: key.SourceID, Episode: n, Variant: key.Variant}
		r, err := acquirer.Attempt(ctx, ref, AcquireOptions{})
		if err != nil {
			return &CodedError{Code: "storage_error", Message: fmt.Sprintf("episode %d", n), Err: err}
		}
		if r.Outcome == domain.OutcomeCancelled {
			return context.Canceled
		}
		res.Episodes = append(res.Episodes, r)
		if t := r.Series.DisplayTitle(); t != "" {
			res.Title = t
		}
		if err := env.UpdateProgress(float64(n-from+1) / float64(total)); err != nil {
			logger.Warn().Err(err).Msg("progress update failed")
		}
		if r.Outcome.Terminal() {
			logger.Warn().Str("ref", ref.String()).Str("outcome", string(r.Outcome)).Msg("stopping range")
			break
		}
	}
	res.Outcome = rangeOutcome(res.Episodes)
	return nil
}

// rangeOutcome : le résultat terminal s'il y en a un, sinon Success dès
// qu'un épisode a été téléchargé.
func rangeOutcome(results []AcquireResult) domain.Outcome {
	out := domain.OutcomeSkipped
	for _, r := range results {
		if r.Outcome.Terminal() {
			return r.Outcome
		}
		if r.Outcome == domain.OutcomeSuccess {
			out = domain.OutcomeSuccess
		}
	}
	return out
}

func finishRange(env ExecEnv, res RangeResult) error {
	res.ExitCode = res.Outcome.ExitCode()
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	if err := env.UpdateResult(b); err != nil {
		return err
	}
	if !res.Outcome.Terminal() {
		return nil
	}
	reason := string(res.Outcome)
	if n := len(res.Episodes); n > 0 && res.Episodes[n-1].Reason != "" {
		reason = res.Episodes[n-1].Reason
	}
	return &CodedError{Code: string(res.Outcome), Message: Truncate(reason, maxDiagnostic)}
}

func refreshLibrary(ctx context.Context, logger zerolog.Logger, library ports.LibraryRefresher, res RangeResult) {
	if library == nil {
		return
	}
	for _, r := range res.Episodes {
		if r.Outcome == domain.OutcomeSuccess {
			if err := library.Refresh(ctx); err != nil {
				logger.Warn().Err(err).Msg("library refresh failed")
			}
			return
		}
	}
}
