package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisLedger struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisLedger(rdb *redis.Client, ttl time.Duration) *RedisLedger {
	return &RedisLedger{rdb: rdb, ttl: ttl}
}

type sentValue struct {
	RemoteMessageID string    `json:"remoteMessageId,omitempty"`
	SentAt          time.Time `json:"sentAt"`
}

func ledgerKey(messageID string) string {
	return "outbox:sent:" + messageID
}

func (c *RedisLedger) StoreSent(ctx context.Context, messageID string, remoteMessageID string, sentAt time.Time) error {
	val := sentValue{
		RemoteMessageID: remoteMessageID,
		SentAt:          sentAt.UTC(),
	}

	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, ledgerKey(messageID), b, c.ttl).Err()
}

func (c *RedisLedger) LookupSent(ctx context.Context, messageID string) (time.Time, bool, error) {
	raw, err := c.rdb.Get(ctx, ledgerKey(messageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}

	var v sentValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return time.Time{}, false, err
	}
	return v.SentAt, true, nil
}

var _ DeliveryLedger = (*RedisLedger)(nil)
