package ports

import (
	"context"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
)

// JobFilter restreint List; les champs vides ne filtrent pas.
type JobFilter struct {
	State domain.JobState
	Type  string
	Limit int
}

type JobRepository interface {
	Create(ctx context.Context, job domain.Job) (domain.Job, error)
	Get(ctx context.Context, id string) (domain.Job, error)
	List(ctx context.Context, filter JobFilter) ([]domain.Job, error)
	// ClaimNextQueued passe le plus vieux job "queued" à l'état "running" et le renvoie.
	// Renvoie ErrNotFound s'il n'y a aucun job à exécuter.
	ClaimNextQueued(ctx context.Context) (domain.Job, error)
	UpdateProgress(ctx context.Context, id string, progress float64) (domain.Job, error)
	UpdateState(ctx context.Context, id string, expected domain.JobState, next domain.JobState) (domain.Job, error)
	// Finish écrit l'état terminal, le résultat et l'erreur en une seule requête.
	// Renvoie ErrConflict si le job n'est plus "running" (annulé entre-temps).
	Finish(ctx context.Context, id string, next domain.JobState, resultJSON []byte, code, message string) (domain.Job, error)
}

type EventBus interface {
	Publish(topic string, payload []byte)
	// Subscribe filtre par préfixe de topic ("job.", "episode."); aucun = tout.
	Subscribe(prefixes ...string) (ch <-chan Event, cancel func())
}

type Event struct {
	Topic   string
	Payload []byte
}
