package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josuerivera300891-prog/GymTime-sub001/internal/model"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore() (*MemoryStore, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return NewMemoryStore().WithClock(clk.Now), clk
}

func pushMsg(id string, created time.Time) model.OutboxMessage {
	return model.OutboxMessage{
		ID:        id,
		TenantID:  "gym-1",
		Channel:   model.ChannelPush,
		MemberID:  "member-1",
		Payload:   []byte(`{"title":"t","body":"b"}`),
		CreatedAt: created,
	}
}

func TestMemoryStore_Enqueue_ValidatesRequiredFields(t *testing.T) {
	s, _ := newTestStore()

	_, err := s.Enqueue(context.Background(), model.OutboxMessage{Channel: "sms"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingTenant)
	assert.ErrorIs(t, err, ErrMissingMember)
	assert.ErrorIs(t, err, ErrInvalidChannel)
	assert.ErrorIs(t, err, ErrMissingPayload)
}

func TestMemoryStore_Enqueue_ForcesPendingAndAssignsID(t *testing.T) {
	s, clk := newTestStore()

	in := pushMsg("", time.Time{})
	in.Status = model.Sent
	got, err := s.Enqueue(context.Background(), in)
	require.NoError(t, err)

	assert.NotEmpty(t, got.ID)
	assert.Equal(t, model.Pending, got.Status)
	assert.Equal(t, clk.Now(), got.CreatedAt)
}

func TestMemoryStore_ClaimBatch_ReturnsOnlyPendingOldestFirst(t *testing.T) {
	s, clk := newTestStore()
	ctx := context.Background()
	base := clk.Now().Add(-time.Hour)

	// Insert newest first so ordering cannot come from insertion order.
	for i := 52; i >= 0; i-- {
		_, err := s.Enqueue(ctx, pushMsg(fmt.Sprintf("m-%02d", i), base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}
	for _, id := range []string{"m-00", "m-01", "m-02"} {
		require.NoError(t, s.MarkSent(ctx, id, clk.Now(), ""))
	}

	got, err := s.ClaimBatch(ctx, model.ChannelPush, DefaultBatchSize, "w1", time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 50)

	for i, m := range got {
		assert.Equal(t, fmt.Sprintf("m-%02d", i+3), m.ID)
		assert.Equal(t, model.Claimed, m.Status)
		require.NotNil(t, m.ClaimedBy)
		assert.Equal(t, "w1", *m.ClaimedBy)
	}
}

func TestMemoryStore_ClaimBatch_FiltersChannel(t *testing.T) {
	s, clk := newTestStore()
	ctx := context.Background()

	_, err := s.Enqueue(ctx, pushMsg("push-1", clk.Now()))
	require.NoError(t, err)
	wa := pushMsg("wa-1", clk.Now())
	wa.Channel = model.ChannelWhatsApp
	_, err = s.Enqueue(ctx, wa)
	require.NoError(t, err)

	got, err := s.ClaimBatch(ctx, model.ChannelWhatsApp, 10, "w1", time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "wa-1", got[0].ID)
}

func TestMemoryStore_ClaimBatch_SkipsLiveLeasesAndReclaimsExpired(t *testing.T) {
	s, clk := newTestStore()
	ctx := context.Background()

	_, err := s.Enqueue(ctx, pushMsg("m-1", clk.Now()))
	require.NoError(t, err)

	first, err := s.ClaimBatch(ctx, model.ChannelPush, 10, "w1", time.Minute)
	require.NoError(t, err)
	require.Len(t, first, 1)

	again, err := s.ClaimBatch(ctx, model.ChannelPush, 10, "w2", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again, "a live lease must not be claimed twice")

	clk.Advance(2 * time.Minute)
	reclaimed, err := s.ClaimBatch(ctx, model.ChannelPush, 10, "w2", time.Minute)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, "w2", *reclaimed[0].ClaimedBy)
}

func TestMemoryStore_TerminalRowsAreNotRewritten(t *testing.T) {
	s, clk := newTestStore()
	ctx := context.Background()

	_, err := s.Enqueue(ctx, pushMsg("m-1", clk.Now()))
	require.NoError(t, err)

	require.NoError(t, s.MarkSent(ctx, "m-1", clk.Now(), ""))
	require.NoError(t, s.MarkFailed(ctx, "m-1", "late failure"))
	require.NoError(t, s.MarkSent(ctx, "missing", clk.Now(), ""))

	m, ok := s.Message("m-1")
	require.True(t, ok)
	assert.Equal(t, model.Sent, m.Status)
	assert.Nil(t, m.Error)
	require.NotNil(t, m.SentAt)

	got, err := s.ClaimBatch(ctx, model.ChannelPush, 10, "w1", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStore_MarkSentKeepsNote(t *testing.T) {
	s, clk := newTestStore()
	ctx := context.Background()

	_, err := s.Enqueue(ctx, pushMsg("m-1", clk.Now()))
	require.NoError(t, err)
	require.NoError(t, s.MarkSent(ctx, "m-1", clk.Now(), "1 of 2 devices failed"))

	m, _ := s.Message("m-1")
	require.NotNil(t, m.Error)
	assert.Equal(t, "1 of 2 devices failed", *m.Error)
}

func TestMemoryStore_ReleaseReturnsClaimedRowsToPending(t *testing.T) {
	s, clk := newTestStore()
	ctx := context.Background()

	_, err := s.Enqueue(ctx, pushMsg("m-1", clk.Now()))
	require.NoError(t, err)
	_, err = s.ClaimBatch(ctx, model.ChannelPush, 10, "w1", time.Hour)
	require.NoError(t, err)

	require.NoError(t, s.Release(ctx, []string{"m-1"}))

	m, _ := s.Message("m-1")
	assert.Equal(t, model.Pending, m.Status)
	assert.Nil(t, m.ClaimedBy)

	got, err := s.ClaimBatch(ctx, model.ChannelPush, 10, "w2", time.Hour)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMemoryStore_List(t *testing.T) {
	s, clk := newTestStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Enqueue(ctx, pushMsg(fmt.Sprintf("m-%d", i), clk.Now().Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}
	require.NoError(t, s.MarkFailed(ctx, "m-1", "boom"))

	failed, err := s.List(ctx, ListFilter{Status: model.Failed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "m-1", failed[0].ID)

	page, err := s.List(ctx, ListFilter{Channel: model.ChannelPush, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "m-1", page[0].ID)
}

func TestMemoryStore_Devices(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	_, err := s.Register(ctx, model.Device{MemberID: "member-1"})
	require.Error(t, err)

	d1, err := s.Register(ctx, model.Device{MemberID: "member-1", Endpoint: "https://push/1", P256dh: "k", Auth: "a"})
	require.NoError(t, err)
	_, err = s.Register(ctx, model.Device{MemberID: "member-1", Endpoint: "https://push/2", P256dh: "k", Auth: "a"})
	require.NoError(t, err)

	// Same endpoint re-registers in place.
	again, err := s.Register(ctx, model.Device{MemberID: "member-1", Endpoint: "https://push/1", P256dh: "k2", Auth: "a2"})
	require.NoError(t, err)
	assert.Equal(t, d1.ID, again.ID)

	devices, err := s.DevicesFor(ctx, "member-1")
	require.NoError(t, err)
	assert.Len(t, devices, 2)

	require.NoError(t, s.Remove(ctx, d1.ID))
	require.NoError(t, s.Remove(ctx, d1.ID))

	_, err = s.Get(ctx, d1.ID)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestMemoryStore_FindCredential(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	_, err := s.FindCredential(ctx, "gym-1", model.ChannelWhatsApp)
	assert.ErrorIs(t, err, ErrCredentialNotFound)

	s.PutCredential(model.Credential{TenantID: "gym-1", Channel: model.ChannelWhatsApp, AccountSID: "AC1", Status: model.CredentialActive})
	c, err := s.FindCredential(ctx, "gym-1", model.ChannelWhatsApp)
	require.NoError(t, err)
	assert.Equal(t, "AC1", c.AccountSID)
}
