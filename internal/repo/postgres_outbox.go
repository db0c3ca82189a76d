package repo

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"time"

	"github.com/josuerivera300891-prog/GymTime-sub001/internal/model"
)

type PostgresOutboxStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresOutboxStore(db *sql.DB) *PostgresOutboxStore {
	return &PostgresOutboxStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

const outboxColumns = `id, tenant_id, channel, member_id, device_id, phone, payload, status,
	error, claimed_by, lease_expires_at, created_at, sent_at`

func (s *PostgresOutboxStore) Enqueue(ctx context.Context, msg model.OutboxMessage) (model.OutboxMessage, error) {
	msg, err := prepareEnqueue(msg, s.now())
	if err != nil {
		return model.OutboxMessage{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO outbox_messages (id, tenant_id, channel, member_id, device_id, phone, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, msg.ID, msg.TenantID, string(msg.Channel), msg.MemberID, msg.DeviceID, msg.Phone,
		[]byte(msg.Payload), string(msg.Status), msg.CreatedAt)
	if err != nil {
		return model.OutboxMessage{}, err
	}
	return msg, nil
}

func (s *PostgresOutboxStore) ClaimBatch(ctx context.Context, channel model.Channel, limit int, workerID string, lease time.Duration) ([]model.OutboxMessage, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	if lease <= 0 {
		return nil, errors.New("lease must be > 0")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	rows, err := tx.QueryContext(ctx, `
		WITH claimable AS (
			SELECT id
			FROM outbox_messages
			WHERE channel = $1
			  AND (status = 'pending' OR (status = 'claimed' AND lease_expires_at < $3))
			ORDER BY created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox_messages o
		SET status = 'claimed', claimed_by = $4, lease_expires_at = $5
		FROM claimable
		WHERE o.id = claimable.id
		RETURNING o.id, o.tenant_id, o.channel, o.member_id, o.device_id, o.phone, o.payload, o.status,
			o.error, o.claimed_by, o.lease_expires_at, o.created_at, o.sent_at
	`, string(channel), limit, now, workerID, now.Add(lease))
	if err != nil {
		return nil, err
	}

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	// RETURNING does not keep the CTE order.
	slices.SortStableFunc(msgs, func(a, b model.OutboxMessage) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return msgs, nil
}

func (s *PostgresOutboxStore) MarkSent(ctx context.Context, id string, sentAt time.Time, note string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = 'sent',
		    sent_at = $2,
		    error = NULLIF($3, ''),
		    lease_expires_at = NULL
		WHERE id = $1 AND status IN ('pending', 'claimed')
	`, id, sentAt.UTC(), note)
	return err
}

func (s *PostgresOutboxStore) MarkFailed(ctx context.Context, id string, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = 'failed',
		    error = $2,
		    lease_expires_at = NULL
		WHERE id = $1 AND status IN ('pending', 'claimed')
	`, id, reason)
	return err
}

func (s *PostgresOutboxStore) Release(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = 'pending', claimed_by = NULL, lease_expires_at = NULL
		WHERE id = ANY($1) AND status = 'claimed'
	`, ids)
	return err
}

func (s *PostgresOutboxStore) List(ctx context.Context, f ListFilter) ([]model.OutboxMessage, error) {
	f = normalizeListFilter(f)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_messages
		WHERE ($1 = '' OR channel = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, string(f.Channel), string(f.Status), f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]model.OutboxMessage, error) {
	defer rows.Close()

	var out []model.OutboxMessage
	for rows.Next() {
		var m model.OutboxMessage
		var channel, status string
		var payload []byte
		var deviceID, lastErr, claimedBy sql.NullString
		var leaseExpires, sentAt sql.NullTime

		if err := rows.Scan(
			&m.ID,
			&m.TenantID,
			&channel,
			&m.MemberID,
			&deviceID,
			&m.Phone,
			&payload,
			&status,
			&lastErr,
			&claimedBy,
			&leaseExpires,
			&m.CreatedAt,
			&sentAt,
		); err != nil {
			return nil, err
		}

		m.Channel = model.Channel(channel)
		m.Status = model.Status(status)
		m.Payload = payload

		if deviceID.Valid {
			s := deviceID.String
			m.DeviceID = &s
		}
		if lastErr.Valid {
			s := lastErr.String
			m.Error = &s
		}
		if claimedBy.Valid {
			s := claimedBy.String
			m.ClaimedBy = &s
		}
		if leaseExpires.Valid {
			t := leaseExpires.Time
			m.LeaseExpiresAt = &t
		}
		if sentAt.Valid {
			t := sentAt.Time
			m.SentAt = &t
		}

		out = append(out, m)
	}
	return out, rows.Err()
}

var _ OutboxStore = (*PostgresOutboxStore)(nil)
