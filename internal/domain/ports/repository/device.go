package repository

import (
	"context"
	"time"

	"license-activation-server/internal/domain/model"
)

// DeviceRepository is the port for the device ledger.
type DeviceRepository interface {
	// Save creates or updates a device keyed by DeviceID.
	Save(ctx context.Context, tx Tx, device *model.Device) error
	// FindByID returns the device or domain.ErrNotFound.
	FindByID(ctx context.Context, tx Tx, deviceID string) (*model.Device, error)
	// Touch updates LastSeenAt after a successful status check. A touch of an
	// unknown device is a no-op, not an error.
	Touch(ctx context.Context, tx Tx, deviceID string, at time.Time) error
	// List returns one page in creation order plus the total match count.
	List(ctx context.Context, tx Tx, filter DeviceFilter, offset, limit int) ([]*model.Device, int, error)
	// Count returns the total number of known devices.
	Count(ctx context.Context, tx Tx) (int, error)
}
