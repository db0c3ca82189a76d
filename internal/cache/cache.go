package cache

import (
	"context"
	"time"
)

// DeliveryLedger remembers which outbox messages reached their provider, so
// a message whose status write was lost is not delivered a second time.
type DeliveryLedger interface {
	StoreSent(ctx context.Context, messageID string, remoteMessageID string, sentAt time.Time) error
	// LookupSent reports whether messageID was recorded and when.
	LookupSent(ctx context.Context, messageID string) (sentAt time.Time, found bool, err error)
}

// NopLedger is used when no Redis is configured.
type NopLedger struct{}

func (NopLedger) StoreSent(context.Context, string, string, time.Time) error { return nil }

func (NopLedger) LookupSent(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}
