package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
	"github.com/rs/xid"
)

// JobService expose la file des acquisitions (download, follow) aux adapters.
type JobService struct {
	repo ports.JobRepository
	bus  ports.EventBus
}

func NewJobService(repo ports.JobRepository, bus ports.EventBus) *JobService {
	return &JobService{repo: repo, bus: bus}
}

type CreateJobRequest struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

type JobDTO struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Target    string          `json:"target,omitempty"`
	State     domain.JobState `json:"state"`
	Progress  float64         `json:"progress"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	ErrorCode string          `json:"errorCode,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func ToJobDTO(j domain.Job) JobDTO {
	return JobDTO{
		ID:        j.ID,
		Type:      j.Type,
		Target:    jobTarget(j),
		State:     j.State,
		Progress:  j.Progress,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
		Params:    json.RawMessage(j.ParamsJSON),
		Result:    json.RawMessage(j.ResultJSON),
		ErrorCode: j.ErrorCode,
		Error:     j.ErrorMessage,
	}
}

// jobTarget : "154587/dub ep 2-5" pour un download, "154587/sub" pour un follow.
func jobTarget(j domain.Job) string {
	switch j.Type {
	case domain.JobTypeDownload:
		var p DownloadParams
		if json.Unmarshal(j.ParamsJSON, &p) != nil || p.SeriesID == "" {
			return ""
		}
		key := domain.SeriesKey{SourceID: p.SeriesID, Variant: p.Variant}
		if p.From == p.To {
			return fmt.Sprintf("%s ep %d", key, p.From)
		}
		return fmt.Sprintf("%s ep %d-%d", key, p.From, p.To)
	case domain.JobTypeFollow:
		var p FollowParams
		if json.Unmarshal(j.ParamsJSON, &p) != nil || p.SeriesID == "" {
			return ""
		}
		return domain.SeriesKey{SourceID: p.SeriesID, Variant: p.Variant}.String()
	}
	return ""
}

func PublishJobEvent(bus ports.EventBus, topic string, job domain.Job) {
	if bus == nil {
		return
	}
	b, err := json.Marshal(ToJobDTO(job))
	if err != nil {
		return
	}
	bus.Publish(topic, b)
}

// Create refuse les types inconnus et les params illisibles : un job mal formé
// échouerait de toute façon dans le worker.
func (s *JobService) Create(ctx context.Context, req CreateJobRequest) (JobDTO, error) {
	if err := checkJobParams(req); err != nil {
		return JobDTO{}, err
	}
	now := time.Now().UTC()
	created, err := s.repo.Create(ctx, domain.Job{
		ID:         xid.New().String(),
		Type:       req.Type,
		State:      domain.JobQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
		ParamsJSON: []byte(req.Params),
	})
	if err != nil {
		return JobDTO{}, err
	}
	PublishJobEvent(s.bus, "job.created", created)
	return ToJobDTO(created), nil
}

func checkJobParams(req CreateJobRequest) error {
	var target any
	switch req.Type {
	case domain.JobTypeDownload:
		target = &DownloadParams{}
	case domain.JobTypeFollow:
		target = &FollowParams{}
	default:
		return fmt.Errorf("%w: unknown job type %q", ErrInvalidCommand, req.Type)
	}
	if len(req.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params, target); err != nil {
		return fmt.Errorf("%w: %s params: %v", ErrInvalidCommand, req.Type, err)
	}
	return nil
}

func (s *JobService) Get(ctx context.Context, id string) (JobDTO, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return JobDTO{}, err
	}
	return ToJobDTO(job), nil
}

func (s *JobService) List(ctx context.Context, filter ports.JobFilter) ([]JobDTO, error) {
	jobs, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]JobDTO, len(jobs))
	for i, j := range jobs {
		out[i] = ToJobDTO(j)
	}
	return out, nil
}

// Cancel est idempotent : un job déjà terminé est renvoyé tel quel.
// Un job running est interrompu par le worker qui surveille son état.
func (s *JobService) Cancel(ctx context.Context, id string) (JobDTO, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return JobDTO{}, err
	}
	for try := 0; try < 3 && (job.State == domain.JobQueued || job.State == domain.JobRunning); try++ {
		updated, err := s.repo.UpdateState(ctx, id, job.State, domain.JobCanceled)
		if err == nil {
			PublishJobEvent(s.bus, "job.canceled", updated)
			return ToJobDTO(updated), nil
		}
		// le worker a pu changer l'état entre-temps
		if job, err = s.repo.Get(ctx, id); err != nil {
			return JobDTO{}, err
		}
	}
	return ToJobDTO(job), nil
}
