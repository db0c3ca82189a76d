package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/josuerivera300891-prog/GymTime-sub001/internal/model"
)

type PostgresCredentialStore struct {
	db *sql.DB
}

func NewPostgresCredentialStore(db *sql.DB) *PostgresCredentialStore {
	return &PostgresCredentialStore{db: db}
}

func (s *PostgresCredentialStore) FindCredential(ctx context.Context, tenantID string, channel model.Channel) (model.Credential, error) {
	var c model.Credential
	var ch, status string
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, channel, account_sid, auth_token, from_number, status
		FROM tenant_channel_credentials
		WHERE tenant_id = $1 AND channel = $2
	`, tenantID, string(channel)).Scan(&c.TenantID, &ch, &c.AccountSID, &c.AuthToken, &c.FromNumber, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Credential{}, ErrCredentialNotFound
	}
	if err != nil {
		return model.Credential{}, err
	}
	c.Channel = model.Channel(ch)
	c.Status = model.CredentialStatus(status)
	return c, nil
}

var _ CredentialStore = (*PostgresCredentialStore)(nil)
