package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/josuerivera300891-prog/GymTime-sub001/internal/model"
)

// DefaultBatchSize bounds the number of provider calls made by one run.
const DefaultBatchSize = 50

type ListFilter struct {
	Channel model.Channel
	Status  model.Status
	Limit   int
	Offset  int
}

type OutboxStore interface {
	Enqueue(ctx context.Context, msg model.OutboxMessage) (model.OutboxMessage, error)
	// ClaimBatch moves up to limit claimable rows of the channel to the
	// claimed state, oldest first. Claimable means pending, or claimed with
	// a lease that expired before now.
	ClaimBatch(ctx context.Context, channel model.Channel, limit int, workerID string, lease time.Duration) ([]model.OutboxMessage, error)
	// MarkSent and MarkFailed only touch non-terminal rows; on a terminal
	// row they succeed without changing it.
	MarkSent(ctx context.Context, id string, sentAt time.Time, note string) error
	MarkFailed(ctx context.Context, id string, reason string) error
	Release(ctx context.Context, ids []string) error
	List(ctx context.Context, f ListFilter) ([]model.OutboxMessage, error)
}

var (
	ErrMissingTenant  = errors.New("tenant id is required")
	ErrMissingMember  = errors.New("member id is required")
	ErrInvalidChannel = errors.New("channel must be push or whatsapp")
	ErrMissingPayload = errors.New("payload is required")
)

// prepareEnqueue checks required fields and fills the defaults every store
// applies to a new row.
func prepareEnqueue(msg model.OutboxMessage, now time.Time) (model.OutboxMessage, error) {
	var errs []error
	if strings.TrimSpace(msg.TenantID) == "" {
		errs = append(errs, ErrMissingTenant)
	}
	if strings.TrimSpace(msg.MemberID) == "" {
		errs = append(errs, ErrMissingMember)
	}
	if !msg.Channel.Valid() {
		errs = append(errs, ErrInvalidChannel)
	}
	if len(msg.Payload) == 0 {
		errs = append(errs, ErrMissingPayload)
	}
	if err := errors.Join(errs...); err != nil {
		return model.OutboxMessage{}, err
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.DeviceID != nil && strings.TrimSpace(*msg.DeviceID) == "" {
		msg.DeviceID = nil
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.Status = model.Pending
	msg.Error = nil
	msg.SentAt = nil
	msg.ClaimedBy = nil
	msg.LeaseExpiresAt = nil
	return msg, nil
}

func normalizeListFilter(f ListFilter) ListFilter {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
