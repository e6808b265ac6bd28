package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/adapters/httpapi"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/app"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/buildinfo"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/config"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/engine"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "Fichier TOML (défaut: $HUE_CONFIG ou ./hue.toml)")
	addr := flag.String("addr", "", "Adresse d'écoute (ex: 127.0.0.1:8080)")
	dbPath := flag.String("db", "", "Chemin SQLite (ex: hue.db)")
	flag.Parse()

	cfg, resolved, exists, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Storage.DBPath = *dbPath
	}

	logger, closeLog, err := logging.New(cfg.Log, "hue-server", os.Stderr)
	if err != nil {
		os.Stderr.WriteString("log: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() { _ = closeLog() }()

	logger.Info().
		Interface("build", buildinfo.Current()).
		Str("config", resolved).
		Bool("config_found", exists).
		Str("db", cfg.Storage.DBPath).
		Msg("starting")

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.Open(shutdownCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open engine")
	}
	defer func() { _ = eng.Close() }()

	// Workers: exécutent les jobs "queued" (download, follow). Le bail du
	// resolver sérialise de toute façon les sessions navigateur.
	pool := app.NewWorkerPool(shutdownCtx, logger.With().Str("component", "worker").Logger(), eng.Jobs, eng.Bus, eng.Executors(), app.DefaultWorkerOptions())
	pool.SetCount(cfg.Workers.Count)
	defer pool.Close()
	logger.Info().Int("workers", cfg.Workers.Count).Msg("workers started")

	scheduler := eng.Scheduler(cfg.Scheduler)
	if err := scheduler.Start(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start scheduler")
	}

	srv := httpapi.NewServer(logger, httpapi.Services{
		Commands: eng.Commands,
		Catalog:  eng.Catalog,
		Jobs:     eng.JobService,
		Settings: eng.SettingsService,
		Bus:      eng.Bus,
		OnSettingsUpdated: func(updated domain.Settings) {
			logger.Info().
				Int("max_episodes", updated.MaxEpisodes).
				Int("max_retries", updated.MaxRetries).
				Str("server", updated.PreferredServer).
				Msg("settings updated")
		},
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		// Les flux SSE se ferment avec le process.
		BaseContext: func(net.Listener) context.Context { return shutdownCtx },
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server crashed")
			stop()
		}
	}()

	<-shutdownCtx.Done()
	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
	logger.Info().Msg("bye")
}
