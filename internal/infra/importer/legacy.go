// File: internal/infra/importer/legacy.go
package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"license-activation-server/internal/domain"
	"license-activation-server/internal/domain/model"
	"license-activation-server/internal/domain/ports/repository"
	"license-activation-server/internal/infra/metrics"
)

// Importer performs the one-shot migration of legacy flat-file records into
// the store, executed before the engine accepts traffic. It is idempotent:
// records already present are skipped, so re-running it never duplicates or
// overwrites rows.
//
// Legacy layout (the JSON files the old server kept):
//   - codes file: array of {"code", "type", "used_by"}
//   - devices file: map of machine id to {"activation_code", "card_type",
//     "activated_at", "expires_at"} with ISO-8601 UTC "Z" timestamps
type Importer struct {
	codes   repository.ActivationCodeRepository
	devices repository.DeviceRepository
	tm      repository.TransactionManager
	log     *zerolog.Logger
	now     func() time.Time
}

// Result reports what one import run did.
type Result struct {
	Codes   int // code rows created
	Devices int // device rows created
	Skipped int // legacy records already present in the store
}

func New(codes repository.ActivationCodeRepository, devices repository.DeviceRepository, tm repository.TransactionManager, logger *zerolog.Logger) *Importer {
	impLog := logger.With().Str("component", "Importer").Logger()
	return &Importer{codes: codes, devices: devices, tm: tm, log: &impLog, now: time.Now}
}

type legacyCode struct {
	Code   string  `json:"code"`
	Type   string  `json:"type"`
	UsedBy *string `json:"used_by"`
}

type legacyDevice struct {
	ActivationCode string `json:"activation_code"`
	CardType       string `json:"card_type"`
	ActivatedAt    string `json:"activated_at"`
	ExpiresAt      string `json:"expires_at"`
}

// Run imports both legacy files inside one transaction. A missing file is
// skipped (the deployment may have had codes but no activations yet).
func (im *Importer) Run(ctx context.Context, codesFile, devicesFile string) (Result, error) {
	var res Result

	legacyCodes, err := readLegacyCodes(codesFile)
	if err != nil {
		return res, err
	}
	legacyDevices, err := readLegacyDevices(devicesFile)
	if err != nil {
		return res, err
	}
	if len(legacyCodes) == 0 && len(legacyDevices) == 0 {
		return res, nil
	}

	err = im.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		// Device records carry the binding detail (activation and expiry
		// instants), so they drive the imported code state.
		byCode := make(map[string]string, len(legacyDevices)) // code to device id
		for deviceID, rec := range legacyDevices {
			byCode[rec.ActivationCode] = deviceID
		}

		for deviceID, rec := range legacyDevices {
			created, err := im.importDevice(ctx, tx, deviceID, rec)
			if err != nil {
				return fmt.Errorf("device %s: %w", deviceID, err)
			}
			if created {
				res.Devices++
			} else {
				res.Skipped++
			}
		}

		for _, rec := range legacyCodes {
			if rec.Code == "" {
				continue
			}
			created, err := im.importCode(ctx, tx, rec, legacyDevices, byCode)
			if err != nil {
				return fmt.Errorf("code %s: %w", rec.Code, err)
			}
			if created {
				res.Codes++
			} else {
				res.Skipped++
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	metrics.IncLegacyImported("code", res.Codes)
	metrics.IncLegacyImported("device", res.Devices)
	im.log.Info().
		Int("codes", res.Codes).
		Int("devices", res.Devices).
		Int("skipped", res.Skipped).
		Msg("legacy import finished")
	return res, nil
}

func (im *Importer) importDevice(ctx context.Context, tx repository.Tx, deviceID string, rec legacyDevice) (bool, error) {
	_, err := im.devices.FindByID(ctx, tx, deviceID)
	if err == nil {
		return false, nil // already migrated
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}

	activatedAt, err := parseLegacyTime(rec.ActivatedAt)
	if err != nil {
		return false, fmt.Errorf("activated_at: %w", err)
	}
	d := &model.Device{
		DeviceID:  deviceID,
		BoundCode: &rec.ActivationCode,
		CreatedAt: activatedAt,
	}
	if err := im.devices.Save(ctx, tx, d); err != nil {
		return false, err
	}
	return true, nil
}

func (im *Importer) importCode(ctx context.Context, tx repository.Tx, rec legacyCode, devices map[string]legacyDevice, byCode map[string]string) (bool, error) {
	exists, err := im.codes.Exists(ctx, tx, rec.Code)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil // already migrated
	}

	tier := rec.Type
	if tier == "" {
		tier = string(model.TierMonthly) // legacy rows predate tiers
	}
	c := &model.ActivationCode{
		Code:      rec.Code,
		Tier:      model.Tier(tier),
		Status:    model.CodeStatusUnused,
		CreatedAt: im.now().UTC(),
	}

	if deviceID, bound := byCode[rec.Code]; bound {
		dev := devices[deviceID]
		activatedAt, err := parseLegacyTime(dev.ActivatedAt)
		if err != nil {
			return false, fmt.Errorf("activated_at: %w", err)
		}
		expiresAt, err := parseLegacyTime(dev.ExpiresAt)
		if err != nil {
			return false, fmt.Errorf("expires_at: %w", err)
		}
		if dev.CardType != "" {
			c.Tier = model.Tier(dev.CardType)
		}
		c.Status = model.CodeStatusActive
		c.BoundDevice = &deviceID
		c.ActivatedAt = &activatedAt
		c.ExpiresAt = &expiresAt
		c.CreatedAt = activatedAt
	} else if rec.UsedBy != nil && *rec.UsedBy != "" {
		// Consumed in the legacy data but without a device record to
		// reconstruct the binding from. Revoke rather than resurrect:
		// a consumed token must never become redeemable again.
		im.log.Warn().Str("code", rec.Code).Msg("legacy code consumed but has no device record; importing as revoked")
		c.Status = model.CodeStatusRevoked
		c.BoundDevice = rec.UsedBy
	}

	if err := im.codes.Save(ctx, tx, c); err != nil {
		return false, err
	}
	return true, nil
}

func readLegacyCodes(path string) ([]legacyCode, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read legacy codes: %w", err)
	}
	b = stripBOM(b)
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	var out []legacyCode
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse legacy codes: %w", err)
	}
	return out, nil
}

func readLegacyDevices(path string) (map[string]legacyDevice, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read legacy devices: %w", err)
	}
	b = stripBOM(b)
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	var out map[string]legacyDevice
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse legacy devices: %w", err)
	}
	return out, nil
}

// parseLegacyTime accepts the ISO-8601 shapes the old server wrote, always UTC.
func parseLegacyTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad legacy timestamp %q", domain.ErrInvalidArgument, s)
	}
	return t.UTC(), nil
}

// The old files were written by tooling that sometimes emitted a UTF-8 BOM.
func stripBOM(b []byte) []byte {
	return bytes.TrimPrefix(b, []byte{0xEF, 0xBB, 0xBF})
}
