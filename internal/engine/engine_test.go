package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/config"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
)

func TestOpen_WiresComponents(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.DBPath = filepath.Join(dir, "hue.db")
	cfg.Browser.LockFile = filepath.Join(dir, "profile", ".hue.lock")
	cfg.Acquisition.MaxEpisodes = 7

	e, err := Open(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if e.Library != nil {
		t.Fatalf("jellyfin is disabled by default")
	}
	s, err := e.SettingsService.Get(context.Background())
	if err != nil || s.MaxEpisodes != 7 {
		t.Fatalf("settings must be seeded from config: %+v, %v", s, err)
	}
	if e.Executors().Get(domain.JobTypeDownload) == nil || e.Executors().Get(domain.JobTypeFollow) == nil {
		t.Fatalf("missing executors")
	}
	if sch := e.Scheduler(cfg.Scheduler); sch.Spec != "@every 10m" || sch.BatchSize != 50 {
		t.Fatalf("scheduler: %+v", sch)
	}
}
