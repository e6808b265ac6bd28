package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
)

type FollowsRepository struct {
	db *sql.DB
}

func NewFollowsRepository(db *sql.DB) *FollowsRepository {
	return &FollowsRepository{db: db}
}

func (r *FollowsRepository) Upsert(ctx context.Context, f domain.Follow) (domain.Follow, error) {
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		// La série peut ne pas encore exister : ligne provisoire, complétée au premier passage du resolver.
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO series(source_id, variant, title, last_checked)
			VALUES(?, ?, ?, ?)
		`, f.Series.SourceID, string(f.Series.Variant), f.Series.SourceID, formatTime(time.Now())); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO follows(subscriber_id, source_id, variant, notify)
			VALUES(?, ?, ?, ?)
			ON CONFLICT(subscriber_id, source_id, variant) DO UPDATE SET notify = excluded.notify
		`, f.SubscriberID, f.Series.SourceID, string(f.Series.Variant), boolInt(f.Notify))
		return err
	})
	if err != nil {
		return domain.Follow{}, errors.Join(domain.ErrStoragePersistence, err)
	}
	return r.Get(ctx, f.SubscriberID, f.Series)
}

func (r *FollowsRepository) Get(ctx context.Context, subscriberID string, key domain.SeriesKey) (domain.Follow, error) {
	f := domain.Follow{SubscriberID: subscriberID, Series: key}
	var notify int
	err := r.db.QueryRowContext(ctx, `
		SELECT notify FROM follows WHERE subscriber_id = ? AND source_id = ? AND variant = ?
	`, subscriberID, key.SourceID, string(key.Variant)).Scan(&notify)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Follow{}, ports.ErrNotFound
		}
		return domain.Follow{}, err
	}
	f.Notify = notify == 1
	return f, nil
}

func (r *FollowsRepository) Delete(ctx context.Context, subscriberID string, key domain.SeriesKey) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM follows WHERE subscriber_id = ? AND source_id = ? AND variant = ?
	`, subscriberID, key.SourceID, string(key.Variant))
	if err != nil {
		return errors.Join(domain.ErrStoragePersistence, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (r *FollowsRepository) ListBySubscriber(ctx context.Context, subscriberID string) ([]domain.Follow, error) {
	return r.query(ctx, `
		SELECT subscriber_id, source_id, variant, notify FROM follows
		WHERE subscriber_id = ? ORDER BY source_id, variant
	`, subscriberID)
}

func (r *FollowsRepository) Notifiable(ctx context.Context, key domain.SeriesKey) ([]domain.Follow, error) {
	return r.query(ctx, `
		SELECT subscriber_id, source_id, variant, notify FROM follows
		WHERE source_id = ? AND variant = ? AND notify = 1 ORDER BY subscriber_id
	`, key.SourceID, string(key.Variant))
}

func (r *FollowsRepository) query(ctx context.Context, q string, args ...any) ([]domain.Follow, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Follow{}
	for rows.Next() {
		var f domain.Follow
		var variant string
		var notify int
		if err := rows.Scan(&f.SubscriberID, &f.Series.SourceID, &variant, &notify); err != nil {
			return nil, err
		}
		f.Series.Variant = domain.Variant(variant)
		f.Notify = notify == 1
		out = append(out, f)
	}
	return out, rows.Err()
}
