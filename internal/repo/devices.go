package repo

import (
	"context"
	"errors"

	"github.com/josuerivera300891-prog/GymTime-sub001/internal/model"
)

var ErrDeviceNotFound = errors.New("device not found")

type DeviceRegistry interface {
	// Register stores a subscription; registering an existing endpoint
	// replaces its keys and owner.
	Register(ctx context.Context, d model.Device) (model.Device, error)
	Get(ctx context.Context, id string) (model.Device, error)
	DevicesFor(ctx context.Context, memberID string) ([]model.Device, error)
	// Remove deletes the device. Removing an unknown device is not an error.
	Remove(ctx context.Context, id string) error
}
