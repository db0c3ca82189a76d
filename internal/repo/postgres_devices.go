package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/josuerivera300891-prog/GymTime-sub001/internal/model"
)

type PostgresDeviceRegistry struct {
	db *sql.DB
}

func NewPostgresDeviceRegistry(db *sql.DB) *PostgresDeviceRegistry {
	return &PostgresDeviceRegistry{db: db}
}

func (r *PostgresDeviceRegistry) Register(ctx context.Context, d model.Device) (model.Device, error) {
	if err := validateDevice(d); err != nil {
		return model.Device{}, err
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO push_devices (id, member_id, endpoint, p256dh, auth, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (endpoint) DO UPDATE
		SET member_id = EXCLUDED.member_id, p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth
		RETURNING id, created_at
	`, d.ID, d.MemberID, d.Endpoint, d.P256dh, d.Auth, time.Now().UTC()).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return model.Device{}, err
	}
	return d, nil
}

func (r *PostgresDeviceRegistry) Get(ctx context.Context, id string) (model.Device, error) {
	var d model.Device
	err := r.db.QueryRowContext(ctx, `
		SELECT id, member_id, endpoint, p256dh, auth, created_at
		FROM push_devices
		WHERE id = $1
	`, id).Scan(&d.ID, &d.MemberID, &d.Endpoint, &d.P256dh, &d.Auth, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Device{}, ErrDeviceNotFound
	}
	if err != nil {
		return model.Device{}, err
	}
	return d, nil
}

func (r *PostgresDeviceRegistry) DevicesFor(ctx context.Context, memberID string) ([]model.Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, member_id, endpoint, p256dh, auth, created_at
		FROM push_devices
		WHERE member_id = $1
		ORDER BY created_at ASC
	`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Device
	for rows.Next() {
		var d model.Device
		if err := rows.Scan(&d.ID, &d.MemberID, &d.Endpoint, &d.P256dh, &d.Auth, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *PostgresDeviceRegistry) Remove(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM push_devices WHERE id = $1`, id)
	return err
}

func validateDevice(d model.Device) error {
	var errs []error
	if strings.TrimSpace(d.MemberID) == "" {
		errs = append(errs, ErrMissingMember)
	}
	if strings.TrimSpace(d.Endpoint) == "" {
		errs = append(errs, errors.New("endpoint is required"))
	}
	if d.P256dh == "" || d.Auth == "" {
		errs = append(errs, errors.New("subscription keys are required"))
	}
	return errors.Join(errs...)
}

var _ DeviceRegistry = (*PostgresDeviceRegistry)(nil)
