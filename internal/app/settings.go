package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
)

type SettingsService struct {
	repo ports.SettingsRepository
}

func NewSettingsService(repo ports.SettingsRepository) *SettingsService {
	return &SettingsService{repo: repo}
}

func (s *SettingsService) Get(ctx context.Context) (domain.Settings, error) {
	return s.repo.Get(ctx)
}

// Put normalise puis persiste. Les valeurs nulles reprennent les défauts.
func (s *SettingsService) Put(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	def := domain.DefaultSettings()
	settings.OutputDir = strings.TrimSpace(settings.OutputDir)
	if settings.OutputDir == "" {
		settings.OutputDir = def.OutputDir
	}
	if settings.MaxEpisodes <= 0 {
		settings.MaxEpisodes = def.MaxEpisodes
	}
	if settings.MaxRetries <= 0 {
		settings.MaxRetries = def.MaxRetries
	}
	if settings.MaxRetries > 10 {
		return domain.Settings{}, fmt.Errorf("%w: maxRetries must be <= 10, got %d", ErrInvalidCommand, settings.MaxRetries)
	}
	if settings.RetryDelaySeconds < 0 {
		settings.RetryDelaySeconds = def.RetryDelaySeconds
	}
	settings.PreferredServer = strings.ToLower(strings.TrimSpace(settings.PreferredServer))
	if settings.PreferredServer == "" {
		settings.PreferredServer = def.PreferredServer
	}
	settings.BlockedTags = cleanList(settings.BlockedTags, strings.ToUpper)
	settings.AllowTitles = cleanList(settings.AllowTitles, strings.ToLower)
	return s.repo.Put(ctx, settings)
}

func cleanList(in []string, norm func(string) string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, v := range in {
		v = norm(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
