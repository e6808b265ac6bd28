package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
)

type JobsRepository struct {
	db *sql.DB
}

func NewJobsRepository(db *sql.DB) *JobsRepository {
	return &JobsRepository{db: db}
}

const jobColumns = `id, type, state, progress, created_at, updated_at, params_json, result_json, error_code, error_message`

func scanJob(row rowScanner) (domain.Job, error) {
	var j domain.Job
	var state, createdAt, updatedAt string
	if err := row.Scan(&j.ID, &j.Type, &state, &j.Progress, &createdAt, &updatedAt,
		&j.ParamsJSON, &j.ResultJSON, &j.ErrorCode, &j.ErrorMessage); err != nil {
		return domain.Job{}, err
	}
	j.State = domain.JobState(state)
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return j, nil
}

func (r *JobsRepository) Create(ctx context.Context, job domain.Job) (domain.Job, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs(`+jobColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.Type, string(job.State), job.Progress,
		formatTime(job.CreatedAt), formatTime(job.UpdatedAt), job.ParamsJSON, job.ResultJSON, job.ErrorCode, job.ErrorMessage)
	if err != nil {
		return domain.Job{}, err
	}
	return r.Get(ctx, job.ID)
}

func (r *JobsRepository) Get(ctx context.Context, id string) (domain.Job, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, ports.ErrNotFound
		}
		return domain.Job{}, err
	}
	return j, nil
}

func (r *JobsRepository) List(ctx context.Context, filter ports.JobFilter) ([]domain.Job, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var where []string
	var args []any
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, filter.Type)
	}
	q := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY updated_at DESC, created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *JobsRepository) ClaimNextQueued(ctx context.Context) (domain.Job, error) {
	var id string
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM jobs WHERE state = ? ORDER BY created_at ASC, id ASC LIMIT 1
		`, string(domain.JobQueued)).Scan(&id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ports.ErrNotFound
			}
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET state = ?, updated_at = ? WHERE id = ? AND state = ?
		`, string(domain.JobRunning), formatTime(time.Now()), id, string(domain.JobQueued))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ports.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return domain.Job{}, err
	}
	return r.Get(ctx, id)
}

func (r *JobsRepository) UpdateProgress(ctx context.Context, id string, progress float64) (domain.Job, error) {
	return r.update(ctx, id, `UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ?`,
		progress, formatTime(time.Now()), id)
}

func (r *JobsRepository) UpdateState(ctx context.Context, id string, expected domain.JobState, next domain.JobState) (domain.Job, error) {
	if !domain.CanTransition(expected, next) {
		return domain.Job{}, domain.ErrInvalidTransition
	}
	return r.update(ctx, id, `UPDATE jobs SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		string(next), formatTime(time.Now()), id, string(expected))
}

func (r *JobsRepository) Finish(ctx context.Context, id string, next domain.JobState, resultJSON []byte, code, message string) (domain.Job, error) {
	if !domain.CanTransition(domain.JobRunning, next) || !next.IsTerminal() {
		return domain.Job{}, domain.ErrInvalidTransition
	}
	progress := 0.0
	if next == domain.JobCompleted {
		progress = 1
	}
	j, err := r.update(ctx, id, `
		UPDATE jobs
		SET state = ?, progress = MAX(progress, ?), result_json = ?, error_code = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND state = ?
	`, string(next), progress, resultJSON, code, message, formatTime(time.Now()), id, string(domain.JobRunning))
	if errors.Is(err, ports.ErrNotFound) {
		if _, getErr := r.Get(ctx, id); getErr == nil {
			return domain.Job{}, ports.ErrConflict
		}
	}
	return j, err
}

func (r *JobsRepository) update(ctx context.Context, id, q string, args ...any) (domain.Job, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return domain.Job{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Job{}, ports.ErrNotFound
	}
	return r.Get(ctx, id)
}
