package repo

import (
	"context"
	"errors"

	"github.com/josuerivera300891-prog/GymTime-sub001/internal/model"
)

var ErrCredentialNotFound = errors.New("credential not found")

type CredentialStore interface {
	FindCredential(ctx context.Context, tenantID string, channel model.Channel) (model.Credential, error)
}
