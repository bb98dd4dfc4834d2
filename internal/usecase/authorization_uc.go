// File: internal/usecase/authorization_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"license-activation-server/internal/domain"
	"license-activation-server/internal/domain/model"
	"license-activation-server/internal/domain/policy"
	"license-activation-server/internal/domain/ports/repository"
	"license-activation-server/internal/infra/lock"
	"license-activation-server/internal/infra/logging"
	"license-activation-server/internal/infra/metrics"
	"license-activation-server/internal/infra/worker"
)

// AuthorizationUseCase is the state machine governing activation-code
// lifecycle and device binding. Every mutating command takes the per-key
// locks for the code and device it touches (queued in arrival order, with a
// bounded wait that fails as domain.ErrBusy), then re-reads and mutates both
// registries inside a single write transaction, so partial application is
// never observable.
// Status checks are pure snapshot reads; their side effects (last-seen touch,
// persisting a derived expiry) run as best-effort background tasks.
//
// All expiry math uses server-observed UTC time. Client clocks are never read.
type AuthorizationUseCase struct {
	codes    repository.ActivationCodeRepository
	devices  repository.DeviceRepository
	tm       repository.TransactionManager
	locks    *lock.Keyed
	expiry   *policy.ExpiryTable
	pool     *worker.Pool // optional; nil disables background tasks
	lockWait time.Duration
	log      *zerolog.Logger
	now      func() time.Time
}

func NewAuthorizationUseCase(
	codes repository.ActivationCodeRepository,
	devices repository.DeviceRepository,
	tm repository.TransactionManager,
	locks *lock.Keyed,
	expiry *policy.ExpiryTable,
	pool *worker.Pool,
	lockWait time.Duration,
	logger *zerolog.Logger,
) *AuthorizationUseCase {
	if lockWait <= 0 {
		lockWait = 3 * time.Second
	}
	ucLog := logger.With().Str("component", "AuthorizationUseCase").Logger()
	return &AuthorizationUseCase{
		codes:    codes,
		devices:  devices,
		tm:       tm,
		locks:    locks,
		expiry:   expiry,
		pool:     pool,
		lockWait: lockWait,
		log:      &ucLog,
		now:      time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (uc *AuthorizationUseCase) WithClock(now func() time.Time) *AuthorizationUseCase {
	uc.now = now
	return uc
}

// Activate binds an unused code to a device, or re-acknowledges an existing
// binding from the same device. Denials are returned as Grant values; an
// error means the command itself could not run (invalid input, busy, store).
func (uc *AuthorizationUseCase) Activate(ctx context.Context, code, deviceID string) (grant *model.Grant, err error) {
	defer uc.observe("activate", time.Now(), &grant, &err)

	code, deviceID, err = normalizePair(code, deviceID)
	if err != nil {
		return nil, err
	}

	release, err := uc.acquire(ctx, codeKey(code), deviceKey(deviceID))
	if err != nil {
		return nil, err
	}
	defer release()

	err = uc.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := uc.now().UTC()

		c, err := uc.codes.FindByCode(ctx, tx, code)
		if errors.Is(err, domain.ErrNotFound) {
			grant = model.Denied(model.DenyUnknownCode)
			return nil
		}
		if err != nil {
			return err
		}

		switch c.Status {
		case model.CodeStatusRevoked:
			grant = model.Denied(model.DenyRevoked)
			return nil

		case model.CodeStatusExpired:
			grant = model.Denied(model.DenyExpired)
			return nil

		case model.CodeStatusActive:
			if c.BoundDevice == nil || *c.BoundDevice != deviceID {
				grant = model.Denied(model.DenyWrongDevice)
				return nil
			}
			// Re-activation from the bound device is idempotent, but the
			// binding may have lapsed since it was written.
			if c.ExpiredBy(now) {
				c.Status = model.CodeStatusExpired
				if err := uc.saveCode(ctx, tx, c); err != nil {
					return err
				}
				grant = model.Denied(model.DenyExpired)
				return nil
			}
			grant = model.Granted(c.Tier, *c.ExpiresAt)
			return nil

		case model.CodeStatusUnused:
			return uc.bind(ctx, tx, c, deviceID, now, &grant)

		default:
			return fmt.Errorf("code %s has unknown status %q", c.ID, c.Status)
		}
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// bind performs the unused-to-active transition: checks the device's existing
// binding, computes the expiry and writes both registries.
func (uc *AuthorizationUseCase) bind(ctx context.Context, tx repository.Tx, c *model.ActivationCode, deviceID string, now time.Time, grant **model.Grant) error {
	d, err := uc.devices.FindByID(ctx, tx, deviceID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	if d != nil && d.BoundCode != nil {
		prior, err := uc.codes.FindByCode(ctx, tx, *d.BoundCode)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if prior != nil && prior.Status == model.CodeStatusActive {
			if !prior.ExpiredBy(now) {
				// Hard deny: rebinding requires the prior binding to be
				// expired or revoked first. Never auto-revoke.
				*grant = model.Denied(model.DenyAlreadyBound)
				return nil
			}
			prior.Status = model.CodeStatusExpired
			if err := uc.saveCode(ctx, tx, prior); err != nil {
				return err
			}
		}
	}

	expiresAt, err := uc.expiry.Expiry(c.Tier, now)
	if err != nil {
		return err
	}

	c.Status = model.CodeStatusActive
	c.BoundDevice = &deviceID
	c.ActivatedAt = &now
	c.ExpiresAt = &expiresAt
	if err := uc.saveCode(ctx, tx, c); err != nil {
		return err
	}

	if d == nil {
		d = &model.Device{DeviceID: deviceID, CreatedAt: now}
	}
	d.BoundCode = &c.Code
	if err := uc.devices.Save(ctx, tx, d); err != nil {
		return err
	}

	uc.log.Info().
		Str("code", logging.Redact(c.Code, false)).
		Str("device_id", deviceID).
		Str("tier", string(c.Tier)).
		Time("expires_at", expiresAt).
		Msg("device activated")

	*grant = model.Granted(c.Tier, expiresAt)
	return nil
}

// CheckStatus answers whether the device currently holds a valid binding.
// It is a pure snapshot read: it never waits on the writer slot. The expired
// status is derived by comparing the stored expiry against server time; its
// persistence (and the last-seen touch) happens off the request path.
func (uc *AuthorizationUseCase) CheckStatus(ctx context.Context, deviceID string) (grant *model.Grant, err error) {
	defer uc.observe("check_status", time.Now(), &grant, &err)

	deviceID = strings.TrimSpace(deviceID)
	if err = validateToken(deviceID); err != nil {
		return nil, err
	}
	now := uc.now().UTC()

	d, err := uc.devices.FindByID(ctx, nil, deviceID)
	if errors.Is(err, domain.ErrNotFound) {
		return model.Denied(model.DenyNotActivated), nil
	}
	if err != nil {
		return nil, err
	}
	if d.BoundCode == nil {
		return model.Denied(model.DenyNotActivated), nil
	}

	c, err := uc.codes.FindByCode(ctx, nil, *d.BoundCode)
	if errors.Is(err, domain.ErrNotFound) {
		uc.log.Warn().Str("device_id", deviceID).Str("code", logging.Redact(*d.BoundCode, false)).
			Msg("device ledger references a code the registry does not have")
		return model.Denied(model.DenyNotActivated), nil
	}
	if err != nil {
		return nil, err
	}

	switch c.Status {
	case model.CodeStatusRevoked:
		return model.Denied(model.DenyRevoked), nil
	case model.CodeStatusExpired:
		return model.Denied(model.DenyExpired), nil
	case model.CodeStatusActive:
		if c.ExpiredBy(now) {
			uc.submitExpire(c.Code)
			return model.Denied(model.DenyExpired), nil
		}
		uc.submitTouch(deviceID, now)
		return model.Granted(c.Tier, *c.ExpiresAt), nil
	default:
		return model.Denied(model.DenyNotActivated), nil
	}
}

// Renew extends an ACTIVE binding from the same device. Renewing before
// expiry stacks the remaining time; an already-lapsed code is reconciled to
// EXPIRED and denied. Renewal never resurrects.
func (uc *AuthorizationUseCase) Renew(ctx context.Context, code, deviceID string) (grant *model.Grant, err error) {
	defer uc.observe("renew", time.Now(), &grant, &err)

	code, deviceID, err = normalizePair(code, deviceID)
	if err != nil {
		return nil, err
	}

	release, err := uc.acquire(ctx, codeKey(code), deviceKey(deviceID))
	if err != nil {
		return nil, err
	}
	defer release()

	err = uc.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := uc.now().UTC()

		c, err := uc.codes.FindByCode(ctx, tx, code)
		if errors.Is(err, domain.ErrNotFound) {
			grant = model.Denied(model.DenyUnknownCode)
			return nil
		}
		if err != nil {
			return err
		}

		switch c.Status {
		case model.CodeStatusRevoked:
			grant = model.Denied(model.DenyRevoked)
			return nil
		case model.CodeStatusExpired:
			grant = model.Denied(model.DenyExpired)
			return nil
		case model.CodeStatusUnused:
			grant = model.Denied(model.DenyNotActivated)
			return nil
		}

		if c.BoundDevice == nil || *c.BoundDevice != deviceID {
			grant = model.Denied(model.DenyWrongDevice)
			return nil
		}
		if c.ExpiredBy(now) {
			c.Status = model.CodeStatusExpired
			if err := uc.saveCode(ctx, tx, c); err != nil {
				return err
			}
			grant = model.Denied(model.DenyExpired)
			return nil
		}

		expiresAt, err := uc.expiry.Renew(c.Tier, now, *c.ExpiresAt)
		if err != nil {
			return err
		}
		c.ExpiresAt = &expiresAt
		if err := uc.saveCode(ctx, tx, c); err != nil {
			return err
		}

		uc.log.Info().
			Str("code", logging.Redact(c.Code, false)).
			Str("device_id", deviceID).
			Time("expires_at", expiresAt).
			Msg("binding renewed")

		grant = model.Granted(c.Tier, expiresAt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// saveCode enforces the registry invariant at the transaction boundary:
// a violating write aborts the whole transaction.
func (uc *AuthorizationUseCase) saveCode(ctx context.Context, tx repository.Tx, c *model.ActivationCode) error {
	if err := checkCodeInvariant(c); err != nil {
		return err
	}
	return uc.codes.Save(ctx, tx, c)
}

func checkCodeInvariant(c *model.ActivationCode) error {
	switch c.Status {
	case model.CodeStatusUnused:
		if c.BoundDevice != nil || c.ActivatedAt != nil || c.ExpiresAt != nil {
			return fmt.Errorf("%w: unused code %s carries binding state", domain.ErrConflict, c.ID)
		}
	case model.CodeStatusActive, model.CodeStatusExpired:
		if c.BoundDevice == nil || c.ActivatedAt == nil || c.ExpiresAt == nil {
			return fmt.Errorf("%w: %s code %s missing binding state", domain.ErrConflict, c.Status, c.ID)
		}
	case model.CodeStatusRevoked:
		// A code revoked before first use legitimately has no binding.
	default:
		return fmt.Errorf("%w: code %s has unknown status %q", domain.ErrConflict, c.ID, c.Status)
	}
	return nil
}

// acquire queues on the per-key locks with the configured bounded wait.
func (uc *AuthorizationUseCase) acquire(ctx context.Context, keys ...string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, uc.lockWait)
	defer cancel()
	release, err := uc.locks.AcquireKeys(lockCtx, keys...)
	if err != nil {
		metrics.IncStoreBusy("lock")
		return nil, domain.ErrBusy
	}
	return release, nil
}

// submitTouch records a successful status check without blocking the reader.
func (uc *AuthorizationUseCase) submitTouch(deviceID string, at time.Time) {
	if uc.pool == nil {
		return
	}
	_ = uc.pool.Submit(func(ctx context.Context) error {
		return uc.devices.Touch(ctx, nil, deviceID, at)
	})
}

// submitExpire opportunistically persists the derived EXPIRED status. Every
// read re-derives it from expires_at, so losing this write changes nothing.
func (uc *AuthorizationUseCase) submitExpire(code string) {
	if uc.pool == nil {
		return
	}
	_ = uc.pool.Submit(func(ctx context.Context) error {
		lockCtx, cancel := context.WithTimeout(ctx, uc.lockWait)
		defer cancel()
		release, err := uc.locks.Acquire(lockCtx, codeKey(code))
		if err != nil {
			return nil // contended; the sched worker will catch it
		}
		defer release()

		return uc.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			c, err := uc.codes.FindByCode(ctx, tx, code)
			if err != nil {
				return err
			}
			if c.Status != model.CodeStatusActive || !c.ExpiredBy(uc.now().UTC()) {
				return nil
			}
			c.Status = model.CodeStatusExpired
			if err := uc.saveCode(ctx, tx, c); err != nil {
				return err
			}
			metrics.IncCodesExpired(1)
			return nil
		})
	})
}

func (uc *AuthorizationUseCase) observe(command string, start time.Time, grant **model.Grant, err *error) {
	result := "error"
	switch {
	case *err == nil && *grant != nil:
		if (*grant).Granted {
			result = "granted"
		} else {
			result = string((*grant).Reason)
		}
	case errors.Is(*err, domain.ErrBusy):
		result = "busy"
	case errors.Is(*err, domain.ErrInvalidArgument):
		result = "invalid_input"
	}
	metrics.ObserveAuthorization(command, result, float64(time.Since(start).Milliseconds()))
}

func codeKey(code string) string     { return "code:" + code }
func deviceKey(device string) string { return "device:" + device }

func normalizePair(code, deviceID string) (string, string, error) {
	code = strings.TrimSpace(code)
	deviceID = strings.TrimSpace(deviceID)
	if err := validateToken(code); err != nil {
		return "", "", fmt.Errorf("code: %w", err)
	}
	if err := validateToken(deviceID); err != nil {
		return "", "", fmt.Errorf("device_id: %w", err)
	}
	return code, deviceID, nil
}

// validateToken rejects malformed identifiers before any store access.
func validateToken(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty identifier", domain.ErrInvalidArgument)
	}
	if len(s) > 64 {
		return fmt.Errorf("%w: identifier longer than 64 characters", domain.ErrInvalidArgument)
	}
	for _, r := range s {
		if r <= ' ' || r > '~' {
			return fmt.Errorf("%w: identifier contains invalid character", domain.ErrInvalidArgument)
		}
	}
	return nil
}
