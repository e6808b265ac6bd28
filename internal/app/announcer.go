package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
)

// Announcer prévient les abonnés (notify=1) qu'un nouvel épisode est disponible.
// Un échec de livraison est journalisé et n'affecte jamais le Catalog.
type Announcer struct {
	logger   zerolog.Logger
	follows  ports.FollowRepository
	notifier ports.Notifier
	bus      ports.EventBus

	MaxConcurrency int
}

func NewAnnouncer(logger zerolog.Logger, follows ports.FollowRepository, notifier ports.Notifier, bus ports.EventBus) *Announcer {
	return &Announcer{logger: logger, follows: follows, notifier: notifier, bus: bus, MaxConcurrency: 4}
}

type announcedEvent struct {
	Series    string `json:"series"`
	Title     string `json:"title"`
	Episode   int    `json:"episode"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
}

// Announce renvoie le nombre d'abonnés effectivement notifiés.
func (a *Announcer) Announce(ctx context.Context, s domain.Series, episode int) int {
	if a == nil || a.notifier == nil {
		return 0
	}
	log := a.logger.With().Str("series", s.Key.String()).Int("episode", episode).Logger()

	followers, err := a.follows.Notifiable(ctx, s.Key)
	if err != nil {
		log.Error().Err(err).Msg("list notifiable follows failed")
		return 0
	}
	if len(followers) == 0 {
		return 0
	}

	msg := ports.Announcement{Series: s.Key, SeriesTitle: s.DisplayTitle(), Episode: episode}
	workers := a.MaxConcurrency
	if workers <= 0 {
		workers = 1
	}

	var delivered, failed atomic.Int64
	p := pool.New().WithMaxGoroutines(workers)
	for _, f := range followers {
		p.Go(func() {
			if err := a.notifier.Notify(ctx, f.SubscriberID, msg); err != nil {
				failed.Add(1)
				log.Warn().Err(fmt.Errorf("%w: %v", domain.ErrNotificationDelivery, err)).
					Str("subscriber", f.SubscriberID).Msg("notification not delivered")
				return
			}
			delivered.Add(1)
		})
	}
	p.Wait()

	log.Info().Int64("delivered", delivered.Load()).Int64("failed", failed.Load()).Msg("episode announced")
	if a.bus != nil {
		if b, err := json.Marshal(announcedEvent{
			Series:    s.Key.String(),
			Title:     msg.SeriesTitle,
			Episode:   episode,
			Delivered: int(delivered.Load()),
			Failed:    int(failed.Load()),
		}); err == nil {
			a.bus.Publish("episode.announced", b)
		}
	}
	return int(delivered.Load())
}
