package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/app"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
)

//go:embed sample_config.toml
var sampleConfig string

// SampleConfig renvoie le fichier d'exemple commenté.
func SampleConfig() string { return sampleConfig }

type Server struct {
	Addr string `toml:"addr"`
}

type Storage struct {
	DBPath string `toml:"db_path"`
}

type Log struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"` // auto, console, json
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Browser décrit la session persistante (profil avec l'extension de blocage installée).
type Browser struct {
	ProfileDir   string `toml:"profile_dir"`
	ExtensionDir string `toml:"extension_dir"`
	ExecPath     string `toml:"exec_path"`
	Headless     bool   `toml:"headless"`
	LockFile     string `toml:"lock_file"`
	DownloadDir  string `toml:"download_dir"`
}

type Source struct {
	BaseURL         string        `toml:"base_url"`
	AssetLinkPrefix string        `toml:"asset_link_prefix"`
	TimeZone        string        `toml:"time_zone"`
	Selectors       app.Selectors `toml:"selectors"`
}

// Acquisition amorce la table settings au premier démarrage.
type Acquisition struct {
	OutputDir         string   `toml:"output_dir"`
	MaxEpisodes       int      `toml:"max_episodes"`
	MaxRetries        int      `toml:"max_retries"`
	RetryDelaySeconds int      `toml:"retry_delay_seconds"`
	PreferredServer   string   `toml:"preferred_server"`
	BanNSFW           bool     `toml:"ban_nsfw"`
	BlockedTags       []string `toml:"blocked_tags"`
	AllowTitles       []string `toml:"allow_titles"`
	FollowBackfill    bool     `toml:"follow_backfill"`
}

type Scheduler struct {
	Schedule  string `toml:"schedule"`
	BatchSize int    `toml:"batch_size"`
}

type Workers struct {
	Count int `toml:"count"`
}

type Notifications struct {
	WebhookURL     string `toml:"webhook_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type Jellyfin struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
	APIKey  string `toml:"api_key"`
}

type Metadata struct {
	Enabled          bool   `toml:"enabled"`
	AniListEndpoint  string `toml:"anilist_endpoint"`
	EpisodesEndpoint string `toml:"episodes_endpoint"`
}

type Config struct {
	Server        Server        `toml:"server"`
	Storage       Storage       `toml:"storage"`
	Log           Log           `toml:"log"`
	Browser       Browser       `toml:"browser"`
	Source        Source        `toml:"source"`
	Acquisition   Acquisition   `toml:"acquisition"`
	Scheduler     Scheduler     `toml:"scheduler"`
	Workers       Workers       `toml:"workers"`
	Notifications Notifications `toml:"notifications"`
	Jellyfin      Jellyfin      `toml:"jellyfin"`
	Metadata      Metadata      `toml:"metadata"`
}

func Default() Config {
	s := domain.DefaultSettings()
	r := app.DefaultResolverOptions()
	return Config{
		Server:  Server{Addr: "127.0.0.1:8080"},
		Storage: Storage{DBPath: "hue.db"},
		Log: Log{
			Level:      "info",
			Format:     "auto",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Browser: Browser{
			ProfileDir:  "browser-profile",
			Headless:    false,
			LockFile:    "browser-profile/.hue.lock",
			DownloadDir: "downloads.tmp",
		},
		Source: Source{
			BaseURL:         r.SourceBaseURL,
			AssetLinkPrefix: r.AssetLinkPrefix,
			Selectors:       app.DefaultSelectors(),
		},
		Acquisition: Acquisition{
			OutputDir:         s.OutputDir,
			MaxEpisodes:       s.MaxEpisodes,
			MaxRetries:        s.MaxRetries,
			RetryDelaySeconds: s.RetryDelaySeconds,
			PreferredServer:   s.PreferredServer,
			BanNSFW:           s.BanNSFW,
			BlockedTags:       s.BlockedTags,
			AllowTitles:       s.AllowTitles,
			FollowBackfill:    s.FollowBackfill,
		},
		Scheduler:     Scheduler{Schedule: "@every 10m", BatchSize: 50},
		Workers:       Workers{Count: 1},
		Notifications: Notifications{TimeoutSeconds: 10},
		Metadata: Metadata{
			Enabled:          true,
			AniListEndpoint:  app.DefaultAniListEndpoint,
			EpisodesEndpoint: "https://api.ani.zip/mappings",
		},
	}
}

// Load part des défauts, applique le fichier TOML s'il existe puis les variables
// d'environnement. path vide = HUE_CONFIG, sinon ./hue.toml.
func Load(path string) (Config, string, bool, error) {
	cfg := Default()

	if path == "" {
		path = envOr("HUE_CONFIG", "hue.toml")
	}
	exists, err := fileExists(path)
	if err != nil {
		return Config{}, path, false, err
	}
	if exists {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, path, false, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := toml.NewDecoder(f).DisallowUnknownFields().Decode(&cfg); err != nil {
			return Config{}, path, false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.Server.Addr = envOr("HUE_ADDR", cfg.Server.Addr)
	cfg.Storage.DBPath = envOr("HUE_DB_PATH", cfg.Storage.DBPath)

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, path, exists, err
	}
	return cfg, path, exists, nil
}

// Settings renvoie la politique d'acquisition initiale.
func (c Config) Settings() domain.Settings {
	a := c.Acquisition
	return domain.Settings{
		OutputDir:         a.OutputDir,
		MaxEpisodes:       a.MaxEpisodes,
		MaxRetries:        a.MaxRetries,
		RetryDelaySeconds: a.RetryDelaySeconds,
		PreferredServer:   a.PreferredServer,
		BanNSFW:           a.BanNSFW,
		BlockedTags:       a.BlockedTags,
		AllowTitles:       a.AllowTitles,
		FollowBackfill:    a.FollowBackfill,
	}
}

func (c *Config) normalize() {
	def := Default()
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Format == "" {
		c.Log.Format = "auto"
	}
	c.Source.BaseURL = strings.TrimRight(strings.TrimSpace(c.Source.BaseURL), "/")
	c.Acquisition.PreferredServer = strings.ToLower(strings.TrimSpace(c.Acquisition.PreferredServer))
	if c.Browser.LockFile == "" && c.Browser.ProfileDir != "" {
		c.Browser.LockFile = filepath.Join(c.Browser.ProfileDir, ".hue.lock")
	}
	fillSelectors(&c.Source.Selectors, def.Source.Selectors)
	if c.Scheduler.BatchSize <= 0 {
		c.Scheduler.BatchSize = def.Scheduler.BatchSize
	}
	if c.Workers.Count <= 0 {
		c.Workers.Count = 1
	}
	if c.Notifications.TimeoutSeconds <= 0 {
		c.Notifications.TimeoutSeconds = def.Notifications.TimeoutSeconds
	}
}

// fillSelectors complète une section [source.selectors] partielle.
func fillSelectors(s *app.Selectors, def app.Selectors) {
	for _, p := range []struct {
		dst *string
		def string
	}{
		{&s.InfoBlocks, def.InfoBlocks},
		{&s.Tags, def.Tags},
		{&s.SeriesTitle, def.SeriesTitle},
		{&s.EpisodeTitle, def.EpisodeTitle},
		{&s.EpisodeNumber, def.EpisodeNumber},
		{&s.AiringInfo, def.AiringInfo},
		{&s.MALLink, def.MALLink},
		{&s.ServerGroups, def.ServerGroups},
		{&s.ServerButtons, def.ServerButtons},
		{&s.DownloadButton, def.DownloadButton},
		{&s.RedirectLink, def.RedirectLink},
		{&s.Popup, def.Popup},
		{&s.Verification, def.Verification},
		{&s.DownloadForm, def.DownloadForm},
		{&s.FormToken, def.FormToken},
	} {
		if strings.TrimSpace(*p.dst) == "" {
			*p.dst = p.def
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("config %s is a directory", path)
	}
	return true, nil
}
