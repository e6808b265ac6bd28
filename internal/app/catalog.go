package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
)

// CatalogService expose le Catalog en lecture.
type CatalogService struct {
	series ports.SeriesRepository
}

func NewCatalogService(series ports.SeriesRepository) *CatalogService {
	return &CatalogService{series: series}
}

type SeriesDTO struct {
	SeriesID          string         `json:"seriesId"`
	Variant           domain.Variant `json:"variant"`
	Title             string         `json:"title"`
	Season            int            `json:"season"`
	Part              int            `json:"part,omitempty"`
	EpisodesAired     int            `json:"episodesAired"`
	EpisodeCount      int            `json:"episodeCount"`
	IsAiring          bool           `json:"isAiring"`
	NextEpisodeNumber int            `json:"nextEpisodeNumber,omitempty"`
	NextEpisodeTime   *time.Time     `json:"nextEpisodeTime,omitempty"`
	DownloadFailed    bool           `json:"downloadFailed"`
	LastChecked       time.Time      `json:"lastChecked"`
}

func ToSeriesDTO(s domain.Series) SeriesDTO {
	return SeriesDTO{
		SeriesID:          s.Key.SourceID,
		Variant:           s.Key.Variant,
		Title:             s.DisplayTitle(),
		Season:            s.Season,
		Part:              s.Part,
		EpisodesAired:     s.EpisodesAired,
		EpisodeCount:      s.EpisodeCount,
		IsAiring:          s.IsAiring,
		NextEpisodeNumber: s.NextEpisodeNumber,
		NextEpisodeTime:   s.NextEpisodeTime,
		DownloadFailed:    s.DownloadFailed,
		LastChecked:       s.LastChecked,
	}
}

type EpisodeDTO struct {
	Season     int    `json:"season"`
	Number     int    `json:"number"`
	Title      string `json:"title,omitempty"`
	Downloaded bool   `json:"downloaded"`
}

func (s *CatalogService) List(ctx context.Context, limit int) ([]SeriesDTO, error) {
	list, err := s.series.ListSeries(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]SeriesDTO, 0, len(list))
	for _, v := range list {
		out = append(out, ToSeriesDTO(v))
	}
	return out, nil
}

func (s *CatalogService) Get(ctx context.Context, id, variant string) (SeriesDTO, error) {
	key, err := seriesKey(id, variant)
	if err != nil {
		return SeriesDTO{}, err
	}
	v, err := s.series.GetSeries(ctx, key)
	if err != nil {
		return SeriesDTO{}, err
	}
	return ToSeriesDTO(v), nil
}

func (s *CatalogService) Episodes(ctx context.Context, id, variant string) ([]EpisodeDTO, error) {
	key, err := seriesKey(id, variant)
	if err != nil {
		return nil, err
	}
	if _, err := s.series.GetSeries(ctx, key); err != nil {
		return nil, err
	}
	eps, err := s.series.ListEpisodes(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make([]EpisodeDTO, 0, len(eps))
	for _, e := range eps {
		out = append(out, EpisodeDTO{Season: e.Season, Number: e.Number, Title: e.Title, Downloaded: e.Downloaded})
	}
	return out, nil
}

func seriesKey(id, variant string) (domain.SeriesKey, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.SeriesKey{}, fmt.Errorf("%w: missing series id", ErrInvalidCommand)
	}
	v := domain.Variant(strings.ToLower(strings.TrimSpace(variant)))
	if v == "" {
		v = domain.VariantSub
	}
	if !v.Valid() {
		return domain.SeriesKey{}, fmt.Errorf("%w: unknown variant %q", ErrInvalidCommand, variant)
	}
	return domain.SeriesKey{SourceID: id, Variant: v}, nil
}
