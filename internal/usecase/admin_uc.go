// File: internal/usecase/admin_uc.go
package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"license-activation-server/internal/domain"
	"license-activation-server/internal/domain/model"
	"license-activation-server/internal/domain/policy"
	"license-activation-server/internal/domain/ports/repository"
	"license-activation-server/internal/infra/lock"
	"license-activation-server/internal/infra/metrics"
)

// Listing page size bounds for the admin façade.
const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// How many fresh random tokens to try per code before giving up. A collision
// is already vanishingly rare; hitting the cap means the generator is broken.
const maxCodeGenAttempts = 5

// AdminUseCase implements the administrative commands: batch code generation,
// revocation and the read-only paginated listings. Listings go straight to
// snapshot reads and enforce no business rules; the state machine already
// guarantees whatever they observe.
type AdminUseCase struct {
	codes         repository.ActivationCodeRepository
	devices       repository.DeviceRepository
	tm            repository.TransactionManager
	locks         *lock.Keyed
	expiry        *policy.ExpiryTable
	generateLimit int
	lockWait      time.Duration
	log           *zerolog.Logger
	now           func() time.Time
}

func NewAdminUseCase(
	codes repository.ActivationCodeRepository,
	devices repository.DeviceRepository,
	tm repository.TransactionManager,
	locks *lock.Keyed,
	expiry *policy.ExpiryTable,
	generateLimit int,
	lockWait time.Duration,
	logger *zerolog.Logger,
) *AdminUseCase {
	if generateLimit <= 0 {
		generateLimit = 5000
	}
	if lockWait <= 0 {
		lockWait = 3 * time.Second
	}
	ucLog := logger.With().Str("component", "AdminUseCase").Logger()
	return &AdminUseCase{
		codes:         codes,
		devices:       devices,
		tm:            tm,
		locks:         locks,
		expiry:        expiry,
		generateLimit: generateLimit,
		lockWait:      lockWait,
		log:           &ucLog,
		now:           time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (uc *AdminUseCase) WithClock(now func() time.Time) *AdminUseCase {
	uc.now = now
	return uc
}

// GenerateCodes creates count fresh UNUSED codes of the given tier in one
// transaction. Uniqueness is verified against the store for every token:
// a previously issued code, consumed or not, is never reissued.
func (uc *AdminUseCase) GenerateCodes(ctx context.Context, tier model.Tier, count int) ([]string, error) {
	if !uc.expiry.Known(tier) {
		return nil, fmt.Errorf("%w: unknown tier %q", domain.ErrInvalidArgument, tier)
	}
	if count < 1 || count > uc.generateLimit {
		return nil, fmt.Errorf("%w: count must be between 1 and %d", domain.ErrInvalidArgument, uc.generateLimit)
	}

	now := uc.now().UTC()
	out := make([]string, 0, count)
	err := uc.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		batch := make(map[string]bool, count)
		for i := 0; i < count; i++ {
			token, err := uc.freshToken(ctx, tx, batch)
			if err != nil {
				return err
			}
			batch[token] = true
			c := &model.ActivationCode{
				Code:      token,
				Tier:      tier,
				Status:    model.CodeStatusUnused,
				CreatedAt: now,
			}
			if err := uc.codes.Save(ctx, tx, c); err != nil {
				return err
			}
			out = append(out, token)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.IncCodesGenerated(string(tier), count)
	uc.log.Info().Str("tier", string(tier)).Int("count", count).Msg("activation codes generated")
	return out, nil
}

func (uc *AdminUseCase) freshToken(ctx context.Context, tx repository.Tx, batch map[string]bool) (string, error) {
	for attempt := 0; attempt < maxCodeGenAttempts; attempt++ {
		token, err := generateActivationCode()
		if err != nil {
			return "", err
		}
		if batch[token] {
			continue
		}
		exists, err := uc.codes.Exists(ctx, tx, token)
		if err != nil {
			return "", err
		}
		if !exists {
			return token, nil
		}
	}
	return "", domain.ErrCodeGenExhausted
}

// RevokeCode marks a code REVOKED. Terminal: nothing transitions out of it.
// Revoking an already-revoked code is a no-op acknowledgment. The device's
// ledger entry keeps pointing at the code so its status checks answer
// "revoked" rather than "never activated".
func (uc *AdminUseCase) RevokeCode(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if err := validateToken(code); err != nil {
		return fmt.Errorf("code: %w", err)
	}

	release, err := uc.acquire(ctx, codeKey(code))
	if err != nil {
		return err
	}
	defer release()

	return uc.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		c, err := uc.codes.FindByCode(ctx, tx, code)
		if err != nil {
			return err
		}
		if c.Status == model.CodeStatusRevoked {
			return nil
		}
		c.Status = model.CodeStatusRevoked
		if err := uc.codes.Save(ctx, tx, c); err != nil {
			return err
		}
		uc.log.Info().Str("code_id", c.ID).Msg("activation code revoked")
		return nil
	})
}

// RevokeDevice revokes whatever code the device is currently bound to.
func (uc *AdminUseCase) RevokeDevice(ctx context.Context, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if err := validateToken(deviceID); err != nil {
		return fmt.Errorf("device_id: %w", err)
	}

	release, err := uc.acquire(ctx, deviceKey(deviceID))
	if err != nil {
		return err
	}
	defer release()

	return uc.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		d, err := uc.devices.FindByID(ctx, tx, deviceID)
		if err != nil {
			return err
		}
		if d.BoundCode == nil {
			return fmt.Errorf("%w: device %s has no binding to revoke", domain.ErrConflict, deviceID)
		}
		c, err := uc.codes.FindByCode(ctx, tx, *d.BoundCode)
		if err != nil {
			return err
		}
		if c.Status == model.CodeStatusRevoked {
			return nil
		}
		c.Status = model.CodeStatusRevoked
		if err := uc.codes.Save(ctx, tx, c); err != nil {
			return err
		}
		uc.log.Info().Str("device_id", deviceID).Str("code_id", c.ID).Msg("device authorization revoked")
		return nil
	})
}

// ListCodes returns one page of codes in creation order plus the total count.
func (uc *AdminUseCase) ListCodes(ctx context.Context, filter repository.CodeFilter, page, pageSize int) ([]*model.ActivationCode, int, error) {
	offset, limit := pageBounds(page, pageSize)
	return uc.codes.List(ctx, nil, filter, offset, limit)
}

// ListDevices returns one page of devices in creation order plus the total count.
func (uc *AdminUseCase) ListDevices(ctx context.Context, filter repository.DeviceFilter, page, pageSize int) ([]*model.Device, int, error) {
	offset, limit := pageBounds(page, pageSize)
	return uc.devices.List(ctx, nil, filter, offset, limit)
}

// Stats returns code counts by status and the device total, and refreshes the
// corresponding gauges.
func (uc *AdminUseCase) Stats(ctx context.Context) (map[model.CodeStatus]int, int, error) {
	counts, err := uc.codes.CountByStatus(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	deviceCount, err := uc.devices.Count(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	metrics.SetCodesTotal(counts)
	metrics.SetDevicesTotal(deviceCount)
	return counts, deviceCount, nil
}

func (uc *AdminUseCase) acquire(ctx context.Context, keys ...string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, uc.lockWait)
	defer cancel()
	release, err := uc.locks.AcquireKeys(lockCtx, keys...)
	if err != nil {
		metrics.IncStoreBusy("lock")
		return nil, domain.ErrBusy
	}
	return release, nil
}

func pageBounds(page, pageSize int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return (page - 1) * pageSize, pageSize
}
