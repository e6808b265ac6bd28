package ports

import (
	"context"
	"time"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
)

// SeriesRepository persiste les séries et leurs épisodes.
type SeriesRepository interface {
	// UpsertSeries crée ou met à jour les métadonnées; download_failed est conservé.
	UpsertSeries(ctx context.Context, s domain.Series) (domain.Series, error)
	GetSeries(ctx context.Context, key domain.SeriesKey) (domain.Series, error)
	ListSeries(ctx context.Context, limit int) ([]domain.Series, error)

	// UpsertEpisode crée ou met à jour le titre; downloaded est conservé.
	UpsertEpisode(ctx context.Context, ep domain.Episode) error
	GetEpisode(ctx context.Context, key domain.SeriesKey, number int) (domain.Episode, error)
	ListEpisodes(ctx context.Context, key domain.SeriesKey) ([]domain.Episode, error)
	ClearEpisodeDownloaded(ctx context.Context, key domain.SeriesKey, number int) error

	// RecordDownload marque l'épisode téléchargé, efface download_failed et
	// avance la prévision de diffusion. Une seule transaction.
	RecordDownload(ctx context.Context, key domain.SeriesKey, rec DownloadRecord) error
	MarkDownloadFailed(ctx context.Context, key domain.SeriesKey) error

	// DueSeries: séries en diffusion, suivies, en échec ou dont le prochain épisode est passé.
	DueSeries(ctx context.Context, now time.Time, limit int) ([]domain.Series, error)

	// PartOffset: somme des episode_count des parts précédentes de la même saison.
	PartOffset(ctx context.Context, s domain.Series) (int, error)
}

// DownloadRecord décrit un téléchargement réussi.
type DownloadRecord struct {
	Season int
	Number int
	// Finished sort la série de la diffusion (dernier épisode de la saison).
	Finished bool
	// Prochain épisode prévu; ignoré si NextTime est nil ou si Finished.
	NextNumber int
	NextTime   *time.Time
}

type FollowRepository interface {
	// Upsert crée la série (placeholder) si elle n'existe pas encore.
	Upsert(ctx context.Context, f domain.Follow) (domain.Follow, error)
	Get(ctx context.Context, subscriberID string, key domain.SeriesKey) (domain.Follow, error)
	Delete(ctx context.Context, subscriberID string, key domain.SeriesKey) error
	ListBySubscriber(ctx context.Context, subscriberID string) ([]domain.Follow, error)
	// Notifiable renvoie les follows de la série avec notify=1.
	Notifiable(ctx context.Context, key domain.SeriesKey) ([]domain.Follow, error)
}
