package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
)

// CommandService porte les commandes utilisateur : elles valident la
// requête puis mettent un job en file, sans attendre le resolver.
type CommandService struct {
	logger   zerolog.Logger
	jobs     *JobService
	follows  ports.FollowRepository
	settings ports.SettingsRepository
	bus      ports.EventBus
}

func NewCommandService(logger zerolog.Logger, jobs *JobService, follows ports.FollowRepository, settings ports.SettingsRepository, bus ports.EventBus) *CommandService {
	return &CommandService{logger: logger, jobs: jobs, follows: follows, settings: settings, bus: bus}
}

type DownloadRequest struct {
	Link     string `json:"link"`
	Episodes string `json:"episodes,omitempty"`
	Dub      bool   `json:"dub,omitempty"`
	// Follow abonne Subscriber à la série une fois la plage traitée.
	Follow     bool   `json:"follow,omitempty"`
	Notify     bool   `json:"notify,omitempty"`
	Subscriber string `json:"subscriber,omitempty"`
}

type FollowRequest struct {
	Link       string `json:"link"`
	Dub        bool   `json:"dub,omitempty"`
	Notify     bool   `json:"notify,omitempty"`
	Subscriber string `json:"subscriber"`
}

// DownloadParams est le payload d'un job "download".
type DownloadParams struct {
	SeriesID   string         `json:"seriesId"`
	Variant    domain.Variant `json:"variant"`
	From       int            `json:"from"`
	To         int            `json:"to"`
	Follow     bool           `json:"follow,omitempty"`
	Notify     bool           `json:"notify,omitempty"`
	Subscriber string         `json:"subscriber,omitempty"`
}

// FollowParams est le payload d'un job "follow".
type FollowParams struct {
	SeriesID   string         `json:"seriesId"`
	Variant    domain.Variant `json:"variant"`
	Subscriber string         `json:"subscriber"`
	Notify     bool           `json:"notify,omitempty"`
	Backfill   bool           `json:"backfill,omitempty"`
}

type FollowDTO struct {
	Subscriber string         `json:"subscriber"`
	SeriesID   string         `json:"seriesId"`
	Variant    domain.Variant `json:"variant"`
	Notify     bool           `json:"notify"`
}

func ToFollowDTO(f domain.Follow) FollowDTO {
	return FollowDTO{Subscriber: f.SubscriberID, SeriesID: f.Series.SourceID, Variant: f.Series.Variant, Notify: f.Notify}
}

// CommandStatus est l'accusé de réception immédiat d'une commande.
type CommandStatus struct {
	Status  string     `json:"status"`
	Message string     `json:"message"`
	Job     *JobDTO    `json:"job,omitempty"`
	Follow  *FollowDTO `json:"follow,omitempty"`
}

func (s *CommandService) Download(ctx context.Context, req DownloadRequest) (CommandStatus, error) {
	params, err := s.PlanDownload(ctx, req)
	if err != nil {
		return CommandStatus{}, err
	}
	r := domain.EpisodeRange{From: params.From, To: params.To}
	job, err := s.enqueue(ctx, domain.JobTypeDownload, params)
	if err != nil {
		return CommandStatus{}, err
	}
	s.logger.Info().Str("job_id", job.ID).Str("series", params.SeriesID).Int("from", r.From).Int("to", r.To).Msg("download queued")

	msg := fmt.Sprintf("downloading episode %d", r.From)
	if r.Len() > 1 {
		msg = fmt.Sprintf("downloading episodes %d-%d", r.From, r.To)
	}
	return CommandStatus{Status: "queued", Message: msg, Job: &job}, nil
}

// PlanDownload valide une commande download sans rien mettre en file.
func (s *CommandService) PlanDownload(ctx context.Context, req DownloadRequest) (DownloadParams, error) {
	link, err := ParseSourceLink(req.Link)
	if err != nil {
		return DownloadParams{}, err
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return DownloadParams{}, err
	}
	r, err := ParseEpisodeSpec(req.Episodes, link.Episode, settings.MaxEpisodes)
	if err != nil {
		return DownloadParams{}, err
	}
	subscriber := strings.TrimSpace(req.Subscriber)
	if req.Follow && subscriber == "" {
		return DownloadParams{}, fmt.Errorf("%w: follow needs a subscriber", ErrInvalidCommand)
	}
	return DownloadParams{
		SeriesID:   link.SeriesID,
		Variant:    domain.ParseVariant(req.Dub),
		From:       r.From,
		To:         r.To,
		Follow:     req.Follow,
		Notify:     req.Notify,
		Subscriber: subscriber,
	}, nil
}

// Follow enregistre l'abonnement tout de suite ; l'indexation de la série
// (et le rattrapage éventuel) passe par un job.
func (s *CommandService) Follow(ctx context.Context, req FollowRequest) (CommandStatus, error) {
	f, err := s.follow(ctx, req)
	if err != nil {
		return CommandStatus{}, err
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return CommandStatus{}, err
	}

	params := FollowParams{
		SeriesID:   f.Series.SourceID,
		Variant:    f.Series.Variant,
		Subscriber: f.SubscriberID,
		Notify:     f.Notify,
		Backfill:   settings.FollowBackfill,
	}
	job, err := s.enqueue(ctx, domain.JobTypeFollow, params)
	if err != nil {
		return CommandStatus{}, err
	}
	dto := ToFollowDTO(f)
	s.publishFollow("follow.created", dto)
	return CommandStatus{Status: "queued", Message: "series followed", Job: &job, Follow: &dto}, nil
}

// Notify ne touche qu'au flag de notification, sans job.
func (s *CommandService) Notify(ctx context.Context, req FollowRequest) (CommandStatus, error) {
	f, err := s.follow(ctx, req)
	if err != nil {
		return CommandStatus{}, err
	}
	dto := ToFollowDTO(f)
	s.publishFollow("follow.updated", dto)
	msg := "notifications disabled"
	if f.Notify {
		msg = "notifications enabled"
	}
	return CommandStatus{Status: "updated", Message: msg, Follow: &dto}, nil
}

func (s *CommandService) Unfollow(ctx context.Context, req FollowRequest) (CommandStatus, error) {
	link, err := ParseSourceLink(req.Link)
	if err != nil {
		return CommandStatus{}, err
	}
	subscriber := strings.TrimSpace(req.Subscriber)
	if subscriber == "" {
		return CommandStatus{}, fmt.Errorf("%w: missing subscriber", ErrInvalidCommand)
	}
	key := domain.SeriesKey{SourceID: link.SeriesID, Variant: domain.ParseVariant(req.Dub)}
	if err := s.follows.Delete(ctx, subscriber, key); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return CommandStatus{Status: "unchanged", Message: "series was not followed"}, nil
		}
		return CommandStatus{}, err
	}
	dto := FollowDTO{Subscriber: subscriber, SeriesID: key.SourceID, Variant: key.Variant}
	s.publishFollow("follow.deleted", dto)
	return CommandStatus{Status: "deleted", Message: "series unfollowed", Follow: &dto}, nil
}

func (s *CommandService) Follows(ctx context.Context, subscriber string) ([]FollowDTO, error) {
	subscriber = strings.TrimSpace(subscriber)
	if subscriber == "" {
		return nil, fmt.Errorf("%w: missing subscriber", ErrInvalidCommand)
	}
	list, err := s.follows.ListBySubscriber(ctx, subscriber)
	if err != nil {
		return nil, err
	}
	out := make([]FollowDTO, 0, len(list))
	for _, f := range list {
		out = append(out, ToFollowDTO(f))
	}
	return out, nil
}

func (s *CommandService) follow(ctx context.Context, req FollowRequest) (domain.Follow, error) {
	link, err := ParseSourceLink(req.Link)
	if err != nil {
		return domain.Follow{}, err
	}
	subscriber := strings.TrimSpace(req.Subscriber)
	if subscriber == "" {
		return domain.Follow{}, fmt.Errorf("%w: missing subscriber", ErrInvalidCommand)
	}
	return s.follows.Upsert(ctx, domain.Follow{
		SubscriberID: subscriber,
		Series:       domain.SeriesKey{SourceID: link.SeriesID, Variant: domain.ParseVariant(req.Dub)},
		Notify:       req.Notify,
	})
}

func (s *CommandService) enqueue(ctx context.Context, jobType string, params any) (JobDTO, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return JobDTO{}, err
	}
	return s.jobs.Create(ctx, CreateJobRequest{Type: jobType, Params: b})
}

func (s *CommandService) publishFollow(topic string, f FollowDTO) {
	if s.bus == nil {
		return
	}
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	s.bus.Publish(topic, b)
}

// IsValidationError regroupe les erreurs dues à la requête elle-même.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidCommand) ||
		errors.Is(err, domain.ErrInvalidReferenceFormat) ||
		errors.Is(err, domain.ErrInvalidEpisodeRange)
}
