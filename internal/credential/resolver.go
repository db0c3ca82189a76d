// Package credential resolves the provider identities used to deliver
// messages: per-tenant WhatsApp accounts and the process-wide VAPID keys.
package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/josuerivera300891-prog/GymTime-sub001/internal/model"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/repo"
)

var (
	// ErrConfigurationMissing is the parent of every error meaning a channel
	// cannot be used until an administrator fixes its configuration.
	ErrConfigurationMissing = errors.New("channel configuration missing")

	ErrNotConfigured = fmt.Errorf("%w: no credential configured", ErrConfigurationMissing)
	ErrInactive      = fmt.Errorf("%w: credential is inactive", ErrConfigurationMissing)
)

type Resolver struct {
	store repo.CredentialStore
}

func NewResolver(store repo.CredentialStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the active credential of tenantID for channel. Missing and
// inactive records are reported as ErrNotConfigured and ErrInactive; any
// other error comes from the store.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, channel model.Channel) (model.Credential, error) {
	c, err := r.store.FindCredential(ctx, tenantID, channel)
	if errors.Is(err, repo.ErrCredentialNotFound) {
		return model.Credential{}, fmt.Errorf("tenant %s %s: %w", tenantID, channel, ErrNotConfigured)
	}
	if err != nil {
		return model.Credential{}, fmt.Errorf("load %s credential for tenant %s: %w", channel, tenantID, err)
	}
	if c.Status != model.CredentialActive {
		return model.Credential{}, fmt.Errorf("tenant %s %s: %w", tenantID, channel, ErrInactive)
	}
	return c, nil
}
