package policy_test

import (
	"errors"
	"testing"
	"time"

	"license-activation-server/internal/domain"
	"license-activation-server/internal/domain/model"
	"license-activation-server/internal/domain/policy"
)

func TestNewExpiryTable(t *testing.T) {
	t.Run("rejects an empty table", func(t *testing.T) {
		if _, err := policy.NewExpiryTable(nil); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("err = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("rejects non-positive durations", func(t *testing.T) {
		_, err := policy.NewExpiryTable(map[string]int{"monthly": 30, "broken": 0})
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("err = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("accepts arbitrary tier names from config", func(t *testing.T) {
		table, err := policy.NewExpiryTable(map[string]int{"weekly": 7, "biennial": 730})
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if !table.Known("weekly") || !table.Known("biennial") {
			t.Error("configured tiers not recognized")
		}
		if table.Known(model.TierMonthly) {
			t.Error("unconfigured tier reported as known")
		}
	})
}

func TestExpiryTable_Expiry(t *testing.T) {
	table, err := policy.NewExpiryTable(map[string]int{"monthly": 30, "trial": 7})
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	from := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := table.Expiry(model.TierMonthly, from)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if want := from.Add(30 * 24 * time.Hour); !got.Equal(want) {
		t.Errorf("expiry = %v, want %v", got, want)
	}

	if _, err := table.Expiry("lifetime", from); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("unknown tier err = %v, want ErrInvalidArgument", err)
	}
}

func TestExpiryTable_Renew(t *testing.T) {
	table, err := policy.NewExpiryTable(map[string]int{"monthly": 30})
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("stacks on top of remaining time", func(t *testing.T) {
		current := now.Add(20 * 24 * time.Hour)
		got, err := table.Renew(model.TierMonthly, now, current)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if want := current.Add(30 * 24 * time.Hour); !got.Equal(want) {
			t.Errorf("renewed expiry = %v, want %v", got, want)
		}
	})

	t.Run("restarts from now when the window already closed", func(t *testing.T) {
		current := now.Add(-5 * 24 * time.Hour)
		got, err := table.Renew(model.TierMonthly, now, current)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if want := now.Add(30 * 24 * time.Hour); !got.Equal(want) {
			t.Errorf("renewed expiry = %v, want %v", got, want)
		}
	})
}
