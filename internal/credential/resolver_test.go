package credential

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josuerivera300891-prog/GymTime-sub001/internal/model"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/repo"
)

type failingStore struct{ err error }

func (f failingStore) FindCredential(context.Context, string, model.Channel) (model.Credential, error) {
	return model.Credential{}, f.err
}

func TestResolver_Resolve(t *testing.T) {
	store := repo.NewMemoryStore()
	store.PutCredential(model.Credential{TenantID: "active", Channel: model.ChannelWhatsApp, AccountSID: "AC1", Status: model.CredentialActive})
	store.PutCredential(model.Credential{TenantID: "paused", Channel: model.ChannelWhatsApp, AccountSID: "AC2", Status: model.CredentialInactive})

	r := NewResolver(store)
	ctx := context.Background()

	c, err := r.Resolve(ctx, "active", model.ChannelWhatsApp)
	require.NoError(t, err)
	assert.Equal(t, "AC1", c.AccountSID)

	_, err = r.Resolve(ctx, "paused", model.ChannelWhatsApp)
	assert.ErrorIs(t, err, ErrInactive)
	assert.ErrorIs(t, err, ErrConfigurationMissing)

	_, err = r.Resolve(ctx, "unknown", model.ChannelWhatsApp)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, err, ErrConfigurationMissing)
	assert.Contains(t, err.Error(), "unknown")
}

func TestResolver_StoreErrorIsNotConfigurationMissing(t *testing.T) {
	dbDown := errors.New("db down")
	r := NewResolver(failingStore{err: dbDown})

	_, err := r.Resolve(context.Background(), "t", model.ChannelWhatsApp)
	require.Error(t, err)
	assert.ErrorIs(t, err, dbDown)
	assert.False(t, errors.Is(err, ErrConfigurationMissing))
}
