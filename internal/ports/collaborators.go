package ports

import (
	"context"
	"time"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
)

// Browser ouvre une session d'automatisation sur le profil persistant.
// Une session n'est pas partageable: un seul appelant à la fois.
type Browser interface {
	Open(ctx context.Context) (Page, error)
}

// Page est l'onglet piloté par le resolver. Les sélecteurs sont des sélecteurs CSS.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Count(ctx context.Context, selector string) (int, error)
	// Texts renvoie l'innerText de chaque élément correspondant.
	Texts(ctx context.Context, selector string) ([]string, error)
	// Attrs renvoie l'attribut de chaque élément ("" si absent).
	Attrs(ctx context.Context, selector, name string) ([]string, error)
	Click(ctx context.Context, selector string, index int) error
	// ClickForNewPage clique et attend l'ouverture d'un nouvel onglet.
	ClickForNewPage(ctx context.Context, selector string, timeout time.Duration) (Page, error)
	// SubmitForDownload poste un formulaire dans la session et capture le fichier reçu.
	SubmitForDownload(ctx context.Context, action string, fields map[string]string, timeout time.Duration) (Download, error)
	Close() error
}

// Download est un fichier capturé par le navigateur, encore dans le dossier temporaire.
type Download struct {
	Path          string
	SuggestedName string
	Size          int64
}

type Announcement struct {
	Series      domain.SeriesKey
	SeriesTitle string
	Episode     int
}

// Notifier livre une annonce directement à un abonné.
type Notifier interface {
	Notify(ctx context.Context, subscriberID string, a Announcement) error
}

// LibraryRefresher demande un rescan au media server.
type LibraryRefresher interface {
	Refresh(ctx context.Context) error
}

type MetadataRequest struct {
	Series     domain.Series
	Episode    domain.Episode
	FileNumber int
	MALID      string
	SeriesDir  string
	SeasonDir  string
}

// MetadataEnricher écrit les fichiers descripteurs à côté des épisodes.
type MetadataEnricher interface {
	Enrich(ctx context.Context, req MetadataRequest) error
}
