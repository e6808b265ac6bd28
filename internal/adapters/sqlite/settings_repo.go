package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
)

const settingsKey = "acquisition"

// SettingsRepository stocke la politique d'acquisition en JSON.
// Les valeurs du fichier de config servent de base tant que rien n'a été écrit.
type SettingsRepository struct {
	db       *sql.DB
	defaults domain.Settings
}

func NewSettingsRepository(db *sql.DB, defaults domain.Settings) *SettingsRepository {
	return &SettingsRepository{db: db, defaults: defaults}
}

func (r *SettingsRepository) Get(ctx context.Context) (domain.Settings, error) {
	var b []byte
	err := r.db.QueryRowContext(ctx, `SELECT value_json FROM settings WHERE key = ?`, settingsKey).Scan(&b)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r.defaults, nil
		}
		return domain.Settings{}, err
	}
	// Champs absents du JSON stocké : valeurs par défaut.
	s := r.defaults
	if err := json.Unmarshal(b, &s); err != nil {
		return r.defaults, nil
	}
	return s, nil
}

func (r *SettingsRepository) Put(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	b, err := json.Marshal(settings)
	if err != nil {
		return domain.Settings{}, err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO settings(key, value_json, updated_at)
		VALUES(?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json, updated_at = excluded.updated_at
	`, settingsKey, b, formatTime(time.Now()))
	if err != nil {
		return domain.Settings{}, errors.Join(domain.ErrStoragePersistence, err)
	}
	return r.Get(ctx)
}
