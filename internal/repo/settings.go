package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"signalnoise/internal/config"
)

// UpsertSettings stores the validated profile settings as JSON.
func (r Repo) UpsertSettings(ctx context.Context, tx *sql.Tx, profileID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Profile.ID = profileID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.exec(tx).ExecContext(ctx, `INSERT INTO settings(profile_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(profile_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, profileID, string(payload), now, now)
	return err
}

// GetSettings loads and validates stored profile settings.
func (r Repo) GetSettings(ctx context.Context, profileID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM settings WHERE profile_id=?`, profileID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Profile.ID == "" {
		cfg.Profile.ID = profileID
	}
	return &cfg, cfg.Validate()
}
