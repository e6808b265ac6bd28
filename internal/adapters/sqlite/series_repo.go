package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
)

type SeriesRepository struct {
	db *sql.DB
}

func NewSeriesRepository(db *sql.DB) *SeriesRepository {
	return &SeriesRepository{db: db}
}

const seriesColumns = `source_id, variant, title, season, part, episodes_aired, episode_count,
	next_episode, next_episode_time, is_airing, download_failed, last_checked`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSeries(row rowScanner) (domain.Series, error) {
	var s domain.Series
	var variant, lastChecked string
	var nextTime sql.NullString
	var airing, failed int
	if err := row.Scan(&s.Key.SourceID, &variant, &s.Title, &s.Season, &s.Part, &s.EpisodesAired, &s.EpisodeCount,
		&s.NextEpisodeNumber, &nextTime, &airing, &failed, &lastChecked); err != nil {
		return domain.Series{}, err
	}
	s.Key.Variant = domain.Variant(variant)
	s.IsAiring = airing == 1
	s.DownloadFailed = failed == 1
	s.LastChecked = parseTime(lastChecked)
	if nextTime.Valid {
		t := parseTime(nextTime.String)
		s.NextEpisodeTime = &t
	}
	return s, nil
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func (r *SeriesRepository) UpsertSeries(ctx context.Context, s domain.Series) (domain.Series, error) {
	s = s.Normalize()
	if s.LastChecked.IsZero() {
		s.LastChecked = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO series(`+seriesColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(source_id, variant) DO UPDATE SET
			title = excluded.title,
			season = excluded.season,
			part = excluded.part,
			episodes_aired = excluded.episodes_aired,
			episode_count = excluded.episode_count,
			next_episode = excluded.next_episode,
			next_episode_time = excluded.next_episode_time,
			is_airing = excluded.is_airing,
			last_checked = excluded.last_checked
	`, s.Key.SourceID, string(s.Key.Variant), s.Title, s.Season, s.Part, s.EpisodesAired, s.EpisodeCount,
		s.NextEpisodeNumber, nullableTime(s.NextEpisodeTime), boolInt(s.IsAiring), formatTime(s.LastChecked))
	if err != nil {
		return domain.Series{}, errors.Join(domain.ErrStoragePersistence, err)
	}
	return r.GetSeries(ctx, s.Key)
}

func (r *SeriesRepository) GetSeries(ctx context.Context, key domain.SeriesKey) (domain.Series, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+seriesColumns+` FROM series WHERE source_id = ? AND variant = ?`,
		key.SourceID, string(key.Variant))
	s, err := scanSeries(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Series{}, ports.ErrNotFound
		}
		return domain.Series{}, err
	}
	return s, nil
}

func (r *SeriesRepository) ListSeries(ctx context.Context, limit int) ([]domain.Series, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+seriesColumns+` FROM series ORDER BY title, season, part, variant LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSeries(rows)
}

func collectSeries(rows *sql.Rows) ([]domain.Series, error) {
	out := []domain.Series{}
	for rows.Next() {
		s, err := scanSeries(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SeriesRepository) UpsertEpisode(ctx context.Context, ep domain.Episode) error {
	if ep.Season <= 0 {
		ep.Season = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO episodes(source_id, variant, season, episode, title, downloaded)
		VALUES(?, ?, ?, ?, ?, 0)
		ON CONFLICT(source_id, variant, season, episode) DO UPDATE SET title = excluded.title
	`, ep.Series.SourceID, string(ep.Series.Variant), ep.Season, ep.Number, ep.Title)
	if err != nil {
		return errors.Join(domain.ErrStoragePersistence, err)
	}
	return nil
}

// GetEpisode cherche l'épisode dans la saison courante de la série.
func (r *SeriesRepository) GetEpisode(ctx context.Context, key domain.SeriesKey, number int) (domain.Episode, error) {
	ep := domain.Episode{Series: key, Number: number}
	var downloaded int
	err := r.db.QueryRowContext(ctx, `
		SELECT e.season, e.title, e.downloaded
		FROM episodes e
		JOIN series s ON s.source_id = e.source_id AND s.variant = e.variant AND s.season = e.season
		WHERE e.source_id = ? AND e.variant = ? AND e.episode = ?
	`, key.SourceID, string(key.Variant), number).Scan(&ep.Season, &ep.Title, &downloaded)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Episode{}, ports.ErrNotFound
		}
		return domain.Episode{}, err
	}
	ep.Downloaded = downloaded == 1
	return ep, nil
}

func (r *SeriesRepository) ListEpisodes(ctx context.Context, key domain.SeriesKey) ([]domain.Episode, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT season, episode, title, downloaded FROM episodes
		WHERE source_id = ? AND variant = ?
		ORDER BY season, episode
	`, key.SourceID, string(key.Variant))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Episode{}
	for rows.Next() {
		ep := domain.Episode{Series: key}
		var downloaded int
		if err := rows.Scan(&ep.Season, &ep.Number, &ep.Title, &downloaded); err != nil {
			return nil, err
		}
		ep.Downloaded = downloaded == 1
		out = append(out, ep)
	}
	return out, rows.Err()
}

func (r *SeriesRepository) ClearEpisodeDownloaded(ctx context.Context, key domain.SeriesKey, number int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE episodes SET downloaded = 0
		WHERE source_id = ? AND variant = ? AND episode = ?
			AND season = (SELECT season FROM series WHERE source_id = ? AND variant = ?)
	`, key.SourceID, string(key.Variant), number, key.SourceID, string(key.Variant))
	if err != nil {
		return errors.Join(domain.ErrStoragePersistence, err)
	}
	return nil
}

func (r *SeriesRepository) RecordDownload(ctx context.Context, key domain.SeriesKey, rec ports.DownloadRecord) error {
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE episodes SET downloaded = 1
			WHERE source_id = ? AND variant = ? AND season = ? AND episode = ?
		`, key.SourceID, string(key.Variant), rec.Season, rec.Number)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ports.ErrNotFound
		}

		now := formatTime(time.Now())
		switch {
		case rec.Finished:
			_, err = tx.ExecContext(ctx, `
				UPDATE series SET download_failed = 0, is_airing = 0, next_episode = 0, next_episode_time = NULL,
					episodes_aired = MAX(episodes_aired, ?), episode_count = MAX(episode_count, ?), last_checked = ?
				WHERE source_id = ? AND variant = ?
			`, rec.Number, rec.Number, now, key.SourceID, string(key.Variant))
		case rec.NextTime != nil:
			_, err = tx.ExecContext(ctx, `
				UPDATE series SET download_failed = 0,
					episodes_aired = MAX(episodes_aired, ?), episode_count = MAX(episode_count, ?),
					next_episode = CASE WHEN is_airing = 1 THEN ? ELSE next_episode END,
					next_episode_time = CASE WHEN is_airing = 1 THEN ? ELSE next_episode_time END,
					last_checked = ?
				WHERE source_id = ? AND variant = ?
			`, rec.Number, rec.NextNumber, rec.NextNumber, formatTime(*rec.NextTime), now, key.SourceID, string(key.Variant))
		default:
			_, err = tx.ExecContext(ctx, `
				UPDATE series SET download_failed = 0, last_checked = ?
				WHERE source_id = ? AND variant = ?
			`, now, key.SourceID, string(key.Variant))
		}
		return err
	})
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		return errors.Join(domain.ErrStoragePersistence, err)
	}
	return err
}

func (r *SeriesRepository) MarkDownloadFailed(ctx context.Context, key domain.SeriesKey) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE series SET download_failed = 1, last_checked = ?
		WHERE source_id = ? AND variant = ?
	`, formatTime(time.Now()), key.SourceID, string(key.Variant))
	if err != nil {
		return errors.Join(domain.ErrStoragePersistence, err)
	}
	return nil
}

func (r *SeriesRepository) DueSeries(ctx context.Context, now time.Time, limit int) ([]domain.Series, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+seriesColumns+` FROM series
		WHERE is_airing = 1
			AND (download_failed = 1 OR next_episode_time <= ?)
			AND EXISTS (SELECT 1 FROM follows f WHERE f.source_id = series.source_id AND f.variant = series.variant)
		ORDER BY next_episode_time
		LIMIT ?
	`, formatTime(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSeries(rows)
}

func (r *SeriesRepository) PartOffset(ctx context.Context, s domain.Series) (int, error) {
	if s.Part <= 1 {
		return 0, nil
	}
	var offset sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT SUM(episode_count) FROM series
		WHERE title = ? AND season = ? AND variant = ? AND part > 0 AND part < ? AND source_id <> ?
	`, s.Title, s.Season, string(s.Key.Variant), s.Part, s.Key.SourceID).Scan(&offset)
	if err != nil {
		return 0, err
	}
	return int(offset.Int64), nil
}
