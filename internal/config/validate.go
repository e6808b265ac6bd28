package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Validate vérifie la cohérence de la configuration chargée.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if strings.TrimSpace(c.Storage.DBPath) == "" {
		errs = append(errs, errors.New("storage.db_path is required"))
	}
	if c.Log.Level != "" {
		if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
			errs = append(errs, fmt.Errorf("log.level: %w", err))
		}
	}
	switch c.Log.Format {
	case "auto", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be auto, console or json, got %q", c.Log.Format))
	}
	if u, err := url.Parse(c.Source.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("source.base_url must be an absolute URL, got %q", c.Source.BaseURL))
	}
	if c.Source.TimeZone != "" {
		if _, err := time.LoadLocation(c.Source.TimeZone); err != nil {
			errs = append(errs, fmt.Errorf("source.time_zone: %w", err))
		}
	}
	if c.Acquisition.MaxEpisodes <= 0 {
		errs = append(errs, errors.New("acquisition.max_episodes must be > 0"))
	}
	if c.Acquisition.MaxRetries < 1 || c.Acquisition.MaxRetries > 10 {
		errs = append(errs, fmt.Errorf("acquisition.max_retries must be within 1..10, got %d", c.Acquisition.MaxRetries))
	}
	if c.Acquisition.RetryDelaySeconds < 0 {
		errs = append(errs, errors.New("acquisition.retry_delay_seconds must be >= 0"))
	}
	if _, err := cron.ParseStandard(c.Scheduler.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.schedule: %w", err))
	}
	if c.Notifications.WebhookURL != "" {
		if u, err := url.Parse(c.Notifications.WebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, errors.New("notifications.webhook_url must be an http(s) URL"))
		}
	}
	if c.Jellyfin.Enabled && (c.Jellyfin.URL == "" || c.Jellyfin.APIKey == "") {
		errs = append(errs, errors.New("jellyfin.url and jellyfin.api_key are required when jellyfin is enabled"))
	}
	return errors.Join(errs...)
}

// Location renvoie le fuseau des horaires affichés par la source (défaut: local).
func (c Config) Location() *time.Location {
	if c.Source.TimeZone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Source.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}
