package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/adapters/browser"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/adapters/jellyfin"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/adapters/memorybus"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/adapters/notify"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/adapters/sqlite"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/app"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/config"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
)

// Engine regroupe les composants partagés par le serveur et la CLI "fetch".
type Engine struct {
	Logger zerolog.Logger
	DB     *sqlite.DB
	Bus    *memorybus.Bus

	Series   *sqlite.SeriesRepository
	Follows  *sqlite.FollowsRepository
	Jobs     *sqlite.JobsRepository
	Settings *sqlite.SettingsRepository

	Lease     *app.ResolverLease
	Resolver  *app.Resolver
	Acquirer  *app.Acquirer
	Announcer *app.Announcer
	Library   ports.LibraryRefresher

	JobService      *app.JobService
	SettingsService *app.SettingsService
	Commands        *app.CommandService
	Catalog         *app.CatalogService
}

func Open(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Engine, error) {
	db, err := sqlite.Open(ctx, cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	lease, err := app.NewResolverLease(cfg.Browser.LockFile)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	e := &Engine{
		Logger:   logger,
		DB:       db,
		Bus:      memorybus.New(),
		Series:   sqlite.NewSeriesRepository(db.SQL),
		Follows:  sqlite.NewFollowsRepository(db.SQL),
		Jobs:     sqlite.NewJobsRepository(db.SQL),
		Settings: sqlite.NewSettingsRepository(db.SQL, cfg.Settings()),
		Lease:    lease,
		Library:  jellyfin.New(cfg.Jellyfin.Enabled, cfg.Jellyfin.URL, cfg.Jellyfin.APIKey),
	}

	var metadata ports.MetadataEnricher
	if cfg.Metadata.Enabled {
		anilist := app.NewAniListService().WithEndpoint(cfg.Metadata.AniListEndpoint)
		metadata = app.NewMetadataService(component(logger, "metadata"), anilist, cfg.Metadata.EpisodesEndpoint)
	}

	chrome := browser.New(component(logger, "browser"), browser.Options{
		ProfileDir:   cfg.Browser.ProfileDir,
		ExtensionDir: cfg.Browser.ExtensionDir,
		ExecPath:     cfg.Browser.ExecPath,
		Headless:     cfg.Browser.Headless,
		DownloadDir:  cfg.Browser.DownloadDir,
	})

	opts := app.DefaultResolverOptions()
	opts.SourceBaseURL = cfg.Source.BaseURL
	if cfg.Source.AssetLinkPrefix != "" {
		opts.AssetLinkPrefix = cfg.Source.AssetLinkPrefix
	}
	opts.Selectors = cfg.Source.Selectors
	opts.Location = cfg.Location()

	e.Resolver = app.NewResolver(component(logger, "resolver"), chrome, e.Series, metadata, opts)
	e.Acquirer = app.NewAcquirer(component(logger, "acquirer"), lease, e.Resolver, e.Series, e.Settings, e.Bus)

	notifier := notify.New(component(logger, "notify"), cfg.Notifications.WebhookURL, time.Duration(cfg.Notifications.TimeoutSeconds)*time.Second)
	e.Announcer = app.NewAnnouncer(component(logger, "announcer"), e.Follows, notifier, e.Bus)

	e.JobService = app.NewJobService(e.Jobs, e.Bus)
	e.SettingsService = app.NewSettingsService(e.Settings)
	e.Commands = app.NewCommandService(component(logger, "commands"), e.JobService, e.Follows, e.Settings, e.Bus)
	e.Catalog = app.NewCatalogService(e.Series)
	return e, nil
}

// Executors renvoie les executors des jobs download et follow.
func (e *Engine) Executors() app.ExecutorRegistry {
	return app.NewExecutorRegistry(e.DownloadExecutor(), app.FollowExecutor{
		Logger:   component(e.Logger, "follow"),
		Acquirer: e.Acquirer,
		Follows:  e.Follows,
		Settings: e.Settings,
		Library:  e.Library,
	})
}

func (e *Engine) DownloadExecutor() app.DownloadExecutor {
	return app.DownloadExecutor{
		Logger:   component(e.Logger, "download"),
		Acquirer: e.Acquirer,
		Follows:  e.Follows,
		Library:  e.Library,
	}
}

func (e *Engine) Scheduler(cfg config.Scheduler) *app.Scheduler {
	s := app.NewScheduler(component(e.Logger, "scheduler"), e.Series, e.Acquirer, e.Announcer, e.Library)
	s.Spec = cfg.Schedule
	s.BatchSize = cfg.BatchSize
	return s
}

func (e *Engine) Close() error {
	e.Bus.Close()
	return e.DB.Close()
}

func component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
