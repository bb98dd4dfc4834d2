package repository

import (
	"context"
	"time"

	"license-activation-server/internal/domain/model"
)

// CodeFilter narrows admin listings of activation codes. Zero values mean
// "no constraint". Search matches as a substring against both the code token
// and the bound device id.
type CodeFilter struct {
	Status      model.CodeStatus
	Tier        model.Tier
	Search      string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// DeviceFilter narrows admin listings of devices. Search matches as a
// substring against the device id and the bound code.
type DeviceFilter struct {
	Search      string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// ActivationCodeRepository is the port for the code registry.
type ActivationCodeRepository interface {
	// Save creates or updates an activation code keyed by ID.
	Save(ctx context.Context, tx Tx, code *model.ActivationCode) error
	// FindByCode returns the code regardless of status, or domain.ErrNotFound.
	FindByCode(ctx context.Context, tx Tx, code string) (*model.ActivationCode, error)
	// Exists reports whether the code token was ever issued. Code generation
	// verifies uniqueness against the store with this, not generator entropy.
	Exists(ctx context.Context, tx Tx, code string) (bool, error)
	// List returns one page in creation order plus the total match count.
	List(ctx context.Context, tx Tx, filter CodeFilter, offset, limit int) ([]*model.ActivationCode, int, error)
	// CountByStatus returns code counts per status for stats and metrics.
	CountByStatus(ctx context.Context, tx Tx) (map[model.CodeStatus]int, error)
	// FindActiveExpiredBy returns up to limit codes still marked active whose
	// expiry has passed, for opportunistic persistence of the derived state.
	FindActiveExpiredBy(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.ActivationCode, error)
}
