//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"license-activation-server/internal/domain"
	"license-activation-server/internal/domain/model"
	"license-activation-server/internal/domain/ports/repository"
	"license-activation-server/internal/infra/lock"
	"license-activation-server/internal/usecase"
)

func newAdminUC(t *testing.T, codes *MockActivationCodeRepo, devices *MockDeviceRepo, limit int) *usecase.AdminUseCase {
	t.Helper()
	return usecase.NewAdminUseCase(
		codes, devices, NewMockTxManager(), lock.NewKeyed(), newTestExpiryTable(t),
		limit, time.Second, newTestLogger(),
	)
}

var codeShape = regexp.MustCompile(`^[A-Z2-9]{4}-[A-Z2-9]{4}-[A-Z2-9]{4}$`)

func TestAdminUseCase_GenerateCodes(t *testing.T) {
	ctx := context.Background()

	t.Run("creates the requested number of unused codes", func(t *testing.T) {
		codes := NewMockActivationCodeRepo()
		uc := newAdminUC(t, codes, NewMockDeviceRepo(), 100)

		out, err := uc.GenerateCodes(ctx, model.TierQuarterly, 25)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if len(out) != 25 {
			t.Fatalf("got %d codes, want 25", len(out))
		}
		seen := make(map[string]bool, len(out))
		for _, token := range out {
			if seen[token] {
				t.Fatalf("duplicate token issued: %s", token)
			}
			seen[token] = true
			if !codeShape.MatchString(token) {
				t.Errorf("token %q does not match the XXXX-XXXX-XXXX shape", token)
			}
			c := codes.Get(token)
			if c == nil || c.Status != model.CodeStatusUnused || c.Tier != model.TierQuarterly {
				t.Errorf("stored code %q wrong: %+v", token, c)
			}
		}
	})

	t.Run("retries on a token the store already has", func(t *testing.T) {
		codes := NewMockActivationCodeRepo()
		collisions := 0
		codes.ExistsFunc = func(ctx context.Context, tx repository.Tx, code string) (bool, error) {
			// The first probe collides, every later one is fresh.
			if collisions == 0 {
				collisions++
				return true, nil
			}
			return false, nil
		}
		uc := newAdminUC(t, codes, NewMockDeviceRepo(), 100)

		out, err := uc.GenerateCodes(ctx, model.TierMonthly, 1)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if len(out) != 1 || collisions != 1 {
			t.Errorf("got %d codes after %d collisions", len(out), collisions)
		}
	})

	t.Run("rejects an unknown tier", func(t *testing.T) {
		uc := newAdminUC(t, NewMockActivationCodeRepo(), NewMockDeviceRepo(), 100)
		if _, err := uc.GenerateCodes(ctx, "lifetime", 1); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("err = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("enforces the per-command count limit", func(t *testing.T) {
		uc := newAdminUC(t, NewMockActivationCodeRepo(), NewMockDeviceRepo(), 10)
		for _, count := range []int{0, -3, 11} {
			if _, err := uc.GenerateCodes(ctx, model.TierMonthly, count); !errors.Is(err, domain.ErrInvalidArgument) {
				t.Errorf("count=%d: err = %v, want ErrInvalidArgument", count, err)
			}
		}
	})
}

func TestAdminUseCase_RevokeCode(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("marks the code revoked", func(t *testing.T) {
		codes := NewMockActivationCodeRepo()
		seedUnusedCode(codes, "AAAA-BBBB-CCCC", model.TierMonthly, t0)
		uc := newAdminUC(t, codes, NewMockDeviceRepo(), 100)

		if err := uc.RevokeCode(ctx, "AAAA-BBBB-CCCC"); err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if c := codes.Get("AAAA-BBBB-CCCC"); c.Status != model.CodeStatusRevoked {
			t.Errorf("status = %s, want revoked", c.Status)
		}
	})

	t.Run("revoking twice is a no-op acknowledgment", func(t *testing.T) {
		codes := NewMockActivationCodeRepo()
		seedUnusedCode(codes, "AAAA-BBBB-CCCC", model.TierMonthly, t0)
		uc := newAdminUC(t, codes, NewMockDeviceRepo(), 100)

		if err := uc.RevokeCode(ctx, "AAAA-BBBB-CCCC"); err != nil {
			t.Fatalf("first revoke: %v", err)
		}
		if err := uc.RevokeCode(ctx, "AAAA-BBBB-CCCC"); err != nil {
			t.Errorf("second revoke: %v", err)
		}
	})

	t.Run("unknown code is an error, not a decision", func(t *testing.T) {
		uc := newAdminUC(t, NewMockActivationCodeRepo(), NewMockDeviceRepo(), 100)
		if err := uc.RevokeCode(ctx, "NOPE-NOPE-NOPE"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestAdminUseCase_RevokeDevice(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("revokes the code the device is bound to", func(t *testing.T) {
		codes := NewMockActivationCodeRepo()
		devices := NewMockDeviceRepo()
		seedUnusedCode(codes, "AAAA-BBBB-CCCC", model.TierMonthly, t0)
		authz := newAuthzUC(t, codes, devices, t0)
		if _, err := authz.Activate(ctx, "AAAA-BBBB-CCCC", "machine-1"); err != nil {
			t.Fatalf("seed activation: %v", err)
		}
		uc := newAdminUC(t, codes, devices, 100)

		if err := uc.RevokeDevice(ctx, "machine-1"); err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if c := codes.Get("AAAA-BBBB-CCCC"); c.Status != model.CodeStatusRevoked {
			t.Errorf("code status = %s, want revoked", c.Status)
		}
		// The ledger keeps the pointer so status checks answer "revoked".
		if d := devices.Get("machine-1"); d.BoundCode == nil || *d.BoundCode != "AAAA-BBBB-CCCC" {
			t.Errorf("device lost its binding pointer: %+v", d)
		}
	})

	t.Run("a device with no binding cannot be revoked", func(t *testing.T) {
		devices := NewMockDeviceRepo()
		_ = devices.Save(ctx, nil, &model.Device{DeviceID: "machine-1", CreatedAt: t0})
		uc := newAdminUC(t, NewMockActivationCodeRepo(), devices, 100)

		if err := uc.RevokeDevice(ctx, "machine-1"); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("err = %v, want ErrConflict", err)
		}
	})

	t.Run("unknown device is an error", func(t *testing.T) {
		uc := newAdminUC(t, NewMockActivationCodeRepo(), NewMockDeviceRepo(), 100)
		if err := uc.RevokeDevice(ctx, "machine-404"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestAdminUseCase_Listings(t *testing.T) {
	ctx := context.Background()

	t.Run("translates page numbers into offsets and clamps the page size", func(t *testing.T) {
		codes := NewMockActivationCodeRepo()
		var gotOffset, gotLimit int
		codes.ListFunc = func(ctx context.Context, tx repository.Tx, filter repository.CodeFilter, offset, limit int) ([]*model.ActivationCode, int, error) {
			gotOffset, gotLimit = offset, limit
			return nil, 0, nil
		}
		uc := newAdminUC(t, codes, NewMockDeviceRepo(), 100)

		cases := []struct {
			page, pageSize        int
			wantOffset, wantLimit int
		}{
			{1, 10, 0, 10},
			{3, 25, 50, 25},
			{0, 0, 0, 10},
			{2, 1000, 100, 100},
		}
		for _, tc := range cases {
			if _, _, err := uc.ListCodes(ctx, repository.CodeFilter{}, tc.page, tc.pageSize); err != nil {
				t.Fatalf("ListCodes(%d, %d): %v", tc.page, tc.pageSize, err)
			}
			if gotOffset != tc.wantOffset || gotLimit != tc.wantLimit {
				t.Errorf("page=%d size=%d: got offset=%d limit=%d, want %d/%d",
					tc.page, tc.pageSize, gotOffset, gotLimit, tc.wantOffset, tc.wantLimit)
			}
		}
	})

	t.Run("stats reports counts by status plus the device total", func(t *testing.T) {
		codes := NewMockActivationCodeRepo()
		devices := NewMockDeviceRepo()
		t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		seedUnusedCode(codes, "AAAA-BBBB-CCCC", model.TierMonthly, t0)
		seedUnusedCode(codes, "DDDD-EEEE-FFFF", model.TierMonthly, t0)
		_ = devices.Save(ctx, nil, &model.Device{DeviceID: "machine-1", BoundCode: strPtr("AAAA-BBBB-CCCC"), CreatedAt: t0})
		uc := newAdminUC(t, codes, devices, 100)

		counts, deviceTotal, err := uc.Stats(ctx)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if counts[model.CodeStatusUnused] != 2 {
			t.Errorf("unused count = %d, want 2", counts[model.CodeStatusUnused])
		}
		if deviceTotal != 1 {
			t.Errorf("device total = %d, want 1", deviceTotal)
		}
	})
}
