package repo

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/josuerivera300891-prog/GymTime-sub001/internal/model"
)

// MemoryStore keeps outbox rows, devices and credentials in process memory.
// It follows the same claim and status rules as the Postgres stores and is
// used by tests and local runs without a database.
type MemoryStore struct {
	mu          sync.Mutex
	messages    map[string]model.OutboxMessage
	devices     map[string]model.Device
	credentials map[credentialKey]model.Credential
	now         func() time.Time
}

type credentialKey struct {
	tenantID string
	channel  model.Channel
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:    make(map[string]model.OutboxMessage),
		devices:     make(map[string]model.Device),
		credentials: make(map[credentialKey]model.Credential),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used for created_at and lease checks.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

func (s *MemoryStore) Enqueue(ctx context.Context, msg model.OutboxMessage) (model.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := prepareEnqueue(msg, s.now())
	if err != nil {
		return model.OutboxMessage{}, err
	}
	if _, ok := s.messages[msg.ID]; ok {
		return model.OutboxMessage{}, errors.New("duplicate message id")
	}
	msg.Payload = slices.Clone(msg.Payload)
	s.messages[msg.ID] = msg
	return msg, nil
}

// Message returns a copy of the stored row.
func (s *MemoryStore) Message(id string) (model.OutboxMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	return m, ok
}

func (s *MemoryStore) ClaimBatch(ctx context.Context, channel model.Channel, limit int, workerID string, lease time.Duration) ([]model.OutboxMessage, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	if lease <= 0 {
		return nil, errors.New("lease must be > 0")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var candidates []model.OutboxMessage
	for _, m := range s.messages {
		if m.Channel != channel {
			continue
		}
		switch {
		case m.Status == model.Pending:
		case m.Status == model.Claimed && m.LeaseExpiresAt != nil && m.LeaseExpiresAt.Before(now):
		default:
			continue
		}
		candidates = append(candidates, m)
	}
	slices.SortStableFunc(candidates, func(a, b model.OutboxMessage) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	expires := now.Add(lease)
	for i := range candidates {
		worker := workerID
		leaseEnd := expires
		candidates[i].Status = model.Claimed
		candidates[i].ClaimedBy = &worker
		candidates[i].LeaseExpiresAt = &leaseEnd
		s.messages[candidates[i].ID] = candidates[i]
	}
	return candidates, nil
}

func (s *MemoryStore) MarkSent(ctx context.Context, id string, sentAt time.Time, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok || m.Status.Terminal() {
		return nil
	}
	at := sentAt.UTC()
	m.Status = model.Sent
	m.SentAt = &at
	m.LeaseExpiresAt = nil
	m.Error = nil
	if note != "" {
		m.Error = &note
	}
	s.messages[id] = m
	return nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok || m.Status.Terminal() {
		return nil
	}
	m.Status = model.Failed
	m.Error = &reason
	m.LeaseExpiresAt = nil
	s.messages[id] = m
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		m, ok := s.messages[id]
		if !ok || m.Status != model.Claimed {
			continue
		}
		m.Status = model.Pending
		m.ClaimedBy = nil
		m.LeaseExpiresAt = nil
		s.messages[id] = m
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context, f ListFilter) ([]model.OutboxMessage, error) {
	f = normalizeListFilter(f)

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.OutboxMessage
	for _, m := range s.messages {
		if f.Channel != "" && m.Channel != f.Channel {
			continue
		}
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		out = append(out, m)
	}
	slices.SortStableFunc(out, func(a, b model.OutboxMessage) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Register(ctx context.Context, d model.Device) (model.Device, error) {
	if err := validateDevice(d); err != nil {
		return model.Device{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.devices {
		if existing.Endpoint == d.Endpoint {
			existing.MemberID = d.MemberID
			existing.P256dh = d.P256dh
			existing.Auth = d.Auth
			s.devices[id] = existing
			return existing, nil
		}
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	s.devices[d.ID] = d
	return d, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		return model.Device{}, ErrDeviceNotFound
	}
	return d, nil
}

func (s *MemoryStore) DevicesFor(ctx context.Context, memberID string) ([]model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Device
	for _, d := range s.devices {
		if d.MemberID == memberID {
			out = append(out, d)
		}
	}
	slices.SortStableFunc(out, func(a, b model.Device) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.devices, id)
	return nil
}

// PutCredential stores or replaces the credential for its tenant and channel.
func (s *MemoryStore) PutCredential(c model.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[credentialKey{tenantID: c.TenantID, channel: c.Channel}] = c
}

func (s *MemoryStore) FindCredential(ctx context.Context, tenantID string, channel model.Channel) (model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.credentials[credentialKey{tenantID: tenantID, channel: channel}]
	if !ok {
		return model.Credential{}, ErrCredentialNotFound
	}
	return c, nil
}

var (
	_ OutboxStore     = (*MemoryStore)(nil)
	_ DeviceRegistry  = (*MemoryStore)(nil)
	_ CredentialStore = (*MemoryStore)(nil)
)
