package auth

import (
	"context"
	"encoding/json"

	"github.com/habedi/tandem/db"
	"github.com/rs/zerolog/log"
)

// DBStorer adapts the db repositories to SessionStorer and WorkspaceStorer.
type DBStorer struct {
	sessions db.SessionRepository
	settings db.SettingsRepository
}

// NewDBStorer builds a storer over the given repositories.
func NewDBStorer(sessions db.SessionRepository, settings db.SettingsRepository) *DBStorer {
	return &DBStorer{sessions: sessions, settings: settings}
}

func (d *DBStorer) LoadCredential(ctx context.Context) (*Credential, error) {
	row, err := d.sessions.Get(ctx)
	if err != nil || row == nil {
		return nil, err
	}
	cred := &Credential{
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		ExpiresAt:    row.ExpiresAt,
	}
	if row.UserJSON != "" {
		var p Profile
		if err := json.Unmarshal([]byte(row.UserJSON), &p); err != nil {
			log.Warn().Err(err).Msg("Ignoring unreadable persisted profile")
		} else {
			cred.User = &p
		}
	}
	return cred, nil
}

func (d *DBStorer) SaveCredential(ctx context.Context, cred Credential) error {
	row := &db.Session{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		ExpiresAt:    cred.ExpiresAt,
	}
	if cred.User != nil {
		b, err := json.Marshal(cred.User)
		if err != nil {
			return err
		}
		row.UserJSON = string(b)
	}
	return d.sessions.Upsert(ctx, row)
}

func (d *DBStorer) ClearCredential(ctx context.Context) error {
	return d.sessions.Clear(ctx)
}

func (d *DBStorer) LastWorkspace(ctx context.Context) (string, bool, error) {
	return d.settings.Get(ctx, db.SettingLastWorkspace)
}

func (d *DBStorer) SetLastWorkspace(ctx context.Context, id string) error {
	if id == "" {
		return d.settings.Delete(ctx, db.SettingLastWorkspace)
	}
	return d.settings.Put(ctx, db.SettingLastWorkspace, id)
}
