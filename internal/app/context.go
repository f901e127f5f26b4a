// Package app wires the shared application context: workspace discovery,
// database, settings resolution.
package app

import (
	"context"
	"errors"
	"fmt"

	"signalnoise/internal/config"
	"signalnoise/internal/repo"
)

// DefaultProfileID is the single local profile. Multi-profile support would
// thread an explicit id through the CLI and API instead.
const DefaultProfileID = "default"

// ResolveSettings returns the active settings for the profile. Precedence:
// stored settings row, then the workspace YAML file, then built-in defaults.
// First resolution seeds the settings table so later edits have a row to
// update.
func ResolveSettings(ctx context.Context, r repo.Repo, workspace, profileID string) (*config.Config, error) {
	if profileID == "" {
		profileID = DefaultProfileID
	}
	cfg, err := r.GetSettings(ctx, profileID)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	cfg, err = config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default(profileID)
	}
	cfg.Profile.ID = profileID
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := r.UpsertSettings(ctx, nil, profileID, cfg); err != nil {
		return nil, fmt.Errorf("seed settings: %w", err)
	}
	return cfg, nil
}

// SaveSettings validates and persists the profile settings.
func SaveSettings(ctx context.Context, r repo.Repo, profileID string, cfg *config.Config) error {
	if profileID == "" {
		profileID = DefaultProfileID
	}
	return r.UpsertSettings(ctx, nil, profileID, cfg)
}
