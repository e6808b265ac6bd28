package app

import (
	"context"
	"errors"
	"time"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
	"github.com/rs/zerolog"
)

type WorkerOptions struct {
	PollInterval time.Duration
	// CancelPollInterval : fréquence de relecture de l'état du job en cours.
	CancelPollInterval time.Duration
}

func DefaultWorkerOptions() WorkerOptions {
	return WorkerOptions{
		PollInterval:       750 * time.Millisecond,
		CancelPollInterval: time.Second,
	}
}

type Worker struct {
	logger zerolog.Logger
	repo   ports.JobRepository
	bus    ports.EventBus
	opts   WorkerOptions
	execs  ExecutorRegistry
}

func NewWorker(logger zerolog.Logger, repo ports.JobRepository, bus ports.EventBus, execs ExecutorRegistry, opts WorkerOptions) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultWorkerOptions().PollInterval
	}
	if opts.CancelPollInterval <= 0 {
		opts.CancelPollInterval = DefaultWorkerOptions().CancelPollInterval
	}
	return &Worker{logger: logger, repo: repo, bus: bus, opts: opts, execs: execs}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce exécute au plus un job; renvoie false s'il n'y avait rien à faire.
func (w *Worker) RunOnce(ctx context.Context) bool {
	job, err := w.repo.ClaimNextQueued(ctx)
	if err != nil {
		// Adapter-specific: on traite tout "not found" comme "rien à faire".
		if !errors.Is(err, ErrNotFound) {
			w.logger.Error().Err(err).Msg("claim next job failed")
		}
		return false
	}
	w.execute(ctx, job)
	return true
}

func (w *Worker) execute(parent context.Context, job domain.Job) {
	log := w.logger.With().Str("job_id", job.ID).Str("type", job.Type).Logger()
	log.Info().Msg("job claimed")
	PublishJobEvent(w.bus, "job.started", job)

	isCanceled := func() (bool, error) {
		current, err := w.repo.Get(parent, job.ID)
		if err != nil {
			return false, err
		}
		return current.State == domain.JobCanceled, nil
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go w.watchCancel(ctx, cancel, isCanceled)

	var result []byte
	env := ExecEnv{
		UpdateProgress: func(progress float64) error {
			updated, err := w.repo.UpdateProgress(parent, job.ID, progress)
			if err != nil {
				return err
			}
			PublishJobEvent(w.bus, "job.progress", updated)
			return nil
		},
		UpdateResult: func(b []byte) error {
			result = b
			return nil
		},
		IsCanceled: isCanceled,
	}

	exec := w.execs.Get(job.Type)
	var err error
	if exec == nil {
		err = &CodedError{Code: "unknown_type", Message: "no executor for job type " + job.Type}
	} else {
		err = exec.Execute(ctx, job, env)
	}

	if parent.Err() != nil {
		// Arrêt du process : le job reste running, il sera visible comme tel.
		log.Warn().Msg("worker stopped during job")
		return
	}
	if canceled, cerr := isCanceled(); cerr == nil && canceled {
		log.Info().Msg("job canceled")
		return
	}

	next, code, message := domain.JobCompleted, "", ""
	if err != nil {
		next = domain.JobFailed
		code, message = "executor_failed", err.Error()
		var coded *CodedError
		if errors.As(err, &coded) {
			code, message = coded.Code, coded.Error()
		}
		log.Error().Err(err).Str("code", code).Msg("executor failed")
	}

	finished, ferr := w.repo.Finish(parent, job.ID, next, result, code, Truncate(message, maxDiagnostic))
	if ferr != nil {
		if errors.Is(ferr, ports.ErrConflict) {
			log.Info().Msg("job left running state before finish")
			return
		}
		log.Error().Err(ferr).Msg("failed to finish job")
		return
	}
	topic := "job.completed"
	if next == domain.JobFailed {
		topic = "job.failed"
	}
	PublishJobEvent(w.bus, topic, finished)
}

// watchCancel interrompt l'executor dès que le job passe à "canceled".
func (w *Worker) watchCancel(ctx context.Context, cancel context.CancelFunc, isCanceled func() (bool, error)) {
	ticker := time.NewTicker(w.opts.CancelPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if canceled, err := isCanceled(); err == nil && canceled {
				cancel()
				return
			}
		}
	}
}
