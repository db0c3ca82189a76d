package dispatch

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josuerivera300891-prog/GymTime-sub001/internal/client"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/credential"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/model"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/repo"
)

var (
	errGone      = &client.DeliveryError{Class: client.ClassPermanentRecipientInvalid, StatusCode: 410, Message: "subscription expired"}
	errTransient = &client.DeliveryError{Class: client.ClassOther, StatusCode: 503, Message: "try later"}
)

type fakePushSender struct {
	mu       sync.Mutex
	results  map[string]error // by endpoint
	calls    []string
	payloads [][]byte
	onSend   func()
}

func (f *fakePushSender) Send(ctx context.Context, keys credential.VAPIDKeys, device model.Device, payload []byte) error {
	f.mu.Lock()
	f.calls = append(f.calls, device.Endpoint)
	f.payloads = append(f.payloads, payload)
	err := f.results[device.Endpoint]
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (f *fakePushSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testPushKeys(t *testing.T) *credential.PushKeys {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	return credential.NewPushKeys(
		base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		base64.RawURLEncoding.EncodeToString(key.Bytes()),
		"mailto:ops@gym.example",
	)
}

type pushFixture struct {
	store  *repo.MemoryStore
	sender *fakePushSender
	worker *PushWorker
	now    time.Time
}

func newPushFixture(t *testing.T) *pushFixture {
	t.Helper()
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	store := repo.NewMemoryStore().WithClock(func() time.Time { return now })
	sender := &fakePushSender{results: map[string]error{}}
	worker := NewPushWorker(store, store, sender, testPushKeys(t), Options{
		WorkerID: "test-worker",
		Now:      func() time.Time { return now },
	})
	return &pushFixture{store: store, sender: sender, worker: worker, now: now}
}

func (f *pushFixture) device(t *testing.T, id, member, endpoint string) model.Device {
	t.Helper()
	d, err := f.store.Register(context.Background(), model.Device{
		ID: id, MemberID: member, Endpoint: endpoint, P256dh: "p256dh", Auth: "auth",
	})
	require.NoError(t, err)
	return d
}

func (f *pushFixture) message(t *testing.T, id, member string, deviceID *string) {
	t.Helper()
	_, err := f.store.Enqueue(context.Background(), model.OutboxMessage{
		ID:       id,
		TenantID: "gym-1",
		Channel:  model.ChannelPush,
		MemberID: member,
		DeviceID: deviceID,
		Payload:  json.RawMessage(`{"title":"Membership","body":"Your plan renews tomorrow"}`),
	})
	require.NoError(t, err)
}

func (f *pushFixture) stored(t *testing.T, id string) model.OutboxMessage {
	t.Helper()
	m, ok := f.store.Message(id)
	require.True(t, ok)
	return m
}

func ptr(s string) *string { return &s }

func TestPushWorker_PinnedDeviceSuccess(t *testing.T) {
	f := newPushFixture(t)
	f.device(t, "d1", "member-1", "https://push/d1")
	f.device(t, "d2", "member-1", "https://push/d2")
	f.message(t, "m1", "member-1", ptr("d1"))

	summary, err := f.worker.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, []string{"https://push/d1"}, f.sender.calls, "only the pinned device is attempted")

	m := f.stored(t, "m1")
	assert.Equal(t, model.Sent, m.Status)
	require.NotNil(t, m.SentAt)
	assert.Equal(t, f.now, *m.SentAt)
	assert.Nil(t, m.Error)
}

func TestPushWorker_PinnedDeviceGoneIsFailedAndPruned(t *testing.T) {
	f := newPushFixture(t)
	f.device(t, "d1", "member-1", "https://push/d1")
	f.sender.results["https://push/d1"] = errGone
	f.message(t, "m1", "member-1", ptr("d1"))

	summary, err := f.worker.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	m := f.stored(t, "m1")
	assert.Equal(t, model.Failed, m.Status)
	require.NotNil(t, m.Error)
	assert.Contains(t, *m.Error, "410")

	_, err = f.store.Get(context.Background(), "d1")
	assert.ErrorIs(t, err, repo.ErrDeviceNotFound)
}

func TestPushWorker_PinnedDeviceTransientKeepsDevice(t *testing.T) {
	f := newPushFixture(t)
	f.device(t, "d1", "member-1", "https://push/d1")
	f.sender.results["https://push/d1"] = errTransient
	f.message(t, "m1", "member-1", ptr("d1"))

	_, err := f.worker.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.Failed, f.stored(t, "m1").Status)
	_, err = f.store.Get(context.Background(), "d1")
	assert.NoError(t, err)
}

func TestPushWorker_UnknownPinnedDevice(t *testing.T) {
	f := newPushFixture(t)
	f.message(t, "m1", "member-1", ptr("missing"))

	_, err := f.worker.Run(context.Background())
	require.NoError(t, err)

	m := f.stored(t, "m1")
	assert.Equal(t, model.Failed, m.Status)
	assert.Contains(t, *m.Error, ErrNoRecipientTarget.Error())
	assert.Zero(t, f.sender.callCount())
}

func TestPushWorker_PinnedDeviceOfAnotherMemberFails(t *testing.T) {
	f := newPushFixture(t)
	f.device(t, "d1", "member-2", "https://push/d1")
	f.message(t, "m1", "member-1", ptr("d1"))

	summary, err := f.worker.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	m := f.stored(t, "m1")
	assert.Equal(t, model.Failed, m.Status)
	require.NotNil(t, m.Error)
	assert.Contains(t, *m.Error, ErrNoRecipientTarget.Error())
	assert.Contains(t, *m.Error, "does not belong to member member-1")
	assert.Zero(t, f.sender.callCount())
}

func TestPushWorker_NoDevicesFailsWithoutProviderCall(t *testing.T) {
	f := newPushFixture(t)
	f.device(t, "other", "member-2", "https://push/other")
	f.message(t, "m1", "member-1", nil)

	summary, err := f.worker.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Results, 1)
	assert.Contains(t, summary.Results[0].Error, "no devices")

	m := f.stored(t, "m1")
	assert.Equal(t, model.Failed, m.Status)
	assert.Contains(t, *m.Error, "no devices")
	assert.Zero(t, f.sender.callCount())
}

func TestPushWorker_FanOutPartialFailureIsSentWithNote(t *testing.T) {
	f := newPushFixture(t)
	f.device(t, "ok", "member-1", "https://push/ok")
	f.device(t, "gone", "member-1", "https://push/gone")
	f.device(t, "flaky", "member-1", "https://push/flaky")
	f.sender.results["https://push/gone"] = errGone
	f.sender.results["https://push/flaky"] = errTransient
	f.message(t, "m1", "member-1", nil)

	summary, err := f.worker.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 3, f.sender.callCount())

	m := f.stored(t, "m1")
	assert.Equal(t, model.Sent, m.Status)
	require.NotNil(t, m.Error)
	assert.Contains(t, *m.Error, "2 of 3 devices failed")

	ctx := context.Background()
	_, err = f.store.Get(ctx, "gone")
	assert.ErrorIs(t, err, repo.ErrDeviceNotFound)
	_, err = f.store.Get(ctx, "flaky")
	assert.NoError(t, err)
	_, err = f.store.Get(ctx, "ok")
	assert.NoError(t, err)
}

func TestPushWorker_FanOutAllFailed(t *testing.T) {
	f := newPushFixture(t)
	f.device(t, "gone", "member-1", "https://push/gone")
	f.device(t, "flaky", "member-1", "https://push/flaky")
	f.sender.results["https://push/gone"] = errGone
	f.sender.results["https://push/flaky"] = errTransient
	f.message(t, "m1", "member-1", nil)

	_, err := f.worker.Run(context.Background())
	require.NoError(t, err)

	m := f.stored(t, "m1")
	assert.Equal(t, model.Failed, m.Status)
	assert.Contains(t, *m.Error, "all 2 devices failed")

	devices, err := f.store.DevicesFor(context.Background(), "member-1")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "flaky", devices[0].ID)
}

func TestPushWorker_FanOutWithLimitReachesEveryDevice(t *testing.T) {
	f := newPushFixture(t)
	f.worker.WithFanOut(1)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		f.device(t, id, "member-1", "https://push/"+id)
	}
	f.message(t, "m1", "member-1", nil)

	_, err := f.worker.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, f.sender.callCount())
	assert.Equal(t, model.Sent, f.stored(t, "m1").Status)
}

func TestPushWorker_PayloadTagDefaultsToMessageID(t *testing.T) {
	f := newPushFixture(t)
	f.device(t, "d1", "member-1", "https://push/d1")
	f.message(t, "m1", "member-1", nil)

	_, err := f.worker.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, f.sender.payloads, 1)
	var p model.PushPayload
	require.NoError(t, json.Unmarshal(f.sender.payloads[0], &p))
	assert.Equal(t, "m1", p.Tag)
	assert.Equal(t, "Membership", p.Title)
}

func TestPushWorker_InvalidPayload(t *testing.T) {
	f := newPushFixture(t)
	f.device(t, "d1", "member-1", "https://push/d1")
	_, err := f.store.Enqueue(context.Background(), model.OutboxMessage{
		ID: "m1", TenantID: "gym-1", Channel: model.ChannelPush, MemberID: "member-1",
		Payload: json.RawMessage(`{"url":"/classes"}`),
	})
	require.NoError(t, err)

	_, err = f.worker.Run(context.Background())
	require.NoError(t, err)

	m := f.stored(t, "m1")
	assert.Equal(t, model.Failed, m.Status)
	assert.Contains(t, *m.Error, ErrInvalidPayload.Error())
	assert.Zero(t, f.sender.callCount())
}

func TestPushWorker_MissingVAPIDKeysFailClosed(t *testing.T) {
	f := newPushFixture(t)
	f.worker = NewPushWorker(f.store, f.store, f.sender, credential.NewPushKeys("", "", ""), Options{})
	f.device(t, "d1", "member-1", "https://push/d1")
	f.message(t, "m1", "member-1", nil)

	summary, err := f.worker.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	m := f.stored(t, "m1")
	assert.Equal(t, model.Failed, m.Status)
	assert.Contains(t, *m.Error, ErrConfigurationMissing.Error())
	assert.Zero(t, f.sender.callCount())
}

func TestPushWorker_SecondRunDoesNotReprocessTerminalRows(t *testing.T) {
	f := newPushFixture(t)
	f.device(t, "d1", "member-1", "https://push/d1")
	f.message(t, "sent", "member-1", nil)
	f.message(t, "failed", "member-9", nil)

	first, err := f.worker.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Processed)
	calls := f.sender.callCount()

	second, err := f.worker.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Processed)
	assert.Empty(t, second.Results)
	assert.Equal(t, calls, f.sender.callCount())

	assert.Equal(t, model.Sent, f.stored(t, "sent").Status)
	assert.Equal(t, model.Failed, f.stored(t, "failed").Status)
}

type failingDevices struct {
	repo.DeviceRegistry
}

func (failingDevices) DevicesFor(context.Context, string) ([]model.Device, error) {
	return nil, errors.New("registry unavailable")
}

func TestPushWorker_RegistryErrorReleasesMessage(t *testing.T) {
	f := newPushFixture(t)
	f.worker = NewPushWorker(f.store, failingDevices{f.store}, f.sender, testPushKeys(t), Options{})
	f.message(t, "m1", "member-1", nil)

	summary, err := f.worker.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Released)
	assert.Zero(t, summary.Processed)
	assert.Equal(t, model.Pending, f.stored(t, "m1").Status)
}

func TestPushWorker_CancelDuringSendReleasesMessage(t *testing.T) {
	f := newPushFixture(t)
	f.device(t, "d1", "member-1", "https://push/d1")
	f.message(t, "m1", "member-1", ptr("d1"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.sender.onSend = cancel
	f.sender.results["https://push/d1"] = &client.DeliveryError{Class: client.ClassPermanentRecipientInvalid, Err: context.Canceled}

	summary, err := f.worker.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Released)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, summary.Processed)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, model.Pending, summary.Results[0].Status)

	m := f.stored(t, "m1")
	assert.Equal(t, model.Pending, m.Status)
	assert.Nil(t, m.ClaimedBy)

	_, err = f.store.Get(context.Background(), "d1")
	assert.NoError(t, err, "device is kept when the run is cancelled")
}

func TestPushWorker_CancelAfterDeliveryIsStillSent(t *testing.T) {
	f := newPushFixture(t)
	f.device(t, "d1", "member-1", "https://push/d1")
	f.message(t, "m1", "member-1", ptr("d1"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.sender.onSend = cancel

	summary, err := f.worker.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, model.Sent, f.stored(t, "m1").Status)
}
