package app

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
)

// RunDownload exécute une plage dans le process courant, hors file de jobs
// (commande CLI "fetch"). Le résultat est renvoyé même quand err != nil.
func RunDownload(ctx context.Context, exec DownloadExecutor, p DownloadParams, progress func(float64)) (RangeResult, error) {
	params, err := json.Marshal(p)
	if err != nil {
		return RangeResult{}, err
	}
	var res RangeResult
	env := ExecEnv{
		UpdateProgress: func(v float64) error {
			if progress != nil {
				progress(v)
			}
			return nil
		},
		UpdateResult: func(b []byte) error { return json.Unmarshal(b, &res) },
		IsCanceled:   func() (bool, error) { return ctx.Err() != nil, nil },
	}
	job := domain.Job{Type: domain.JobTypeDownload, ParamsJSON: params}
	err = exec.Execute(ctx, job, env)
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		res.Outcome = domain.OutcomeCancelled
		res.ExitCode = domain.OutcomeCancelled.ExitCode()
	}
	return res, err
}
