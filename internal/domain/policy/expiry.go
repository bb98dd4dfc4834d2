// File: internal/domain/policy/expiry.go
package policy

import (
	"fmt"
	"time"

	"license-activation-server/internal/domain"
	"license-activation-server/internal/domain/model"
)

// ExpiryTable maps subscription tiers to validity durations. It is built once
// from configuration, validated, and immutable afterwards. All computations
// are pure and work in UTC; callers supply the reference instant (always
// server-observed time, never client-reported).
type ExpiryTable struct {
	durations map[model.Tier]time.Duration
}

// NewExpiryTable validates the tier-to-days table from config. Every tier must
// have a strictly positive duration.
func NewExpiryTable(days map[string]int) (*ExpiryTable, error) {
	if len(days) == 0 {
		return nil, fmt.Errorf("expiry table: %w: no tiers configured", domain.ErrInvalidArgument)
	}
	durations := make(map[model.Tier]time.Duration, len(days))
	for name, d := range days {
		if d <= 0 {
			return nil, fmt.Errorf("expiry table: %w: tier %q has non-positive duration %d", domain.ErrInvalidArgument, name, d)
		}
		durations[model.Tier(name)] = time.Duration(d) * 24 * time.Hour
	}
	return &ExpiryTable{durations: durations}, nil
}

// Known reports whether the tier has a configured duration.
func (t *ExpiryTable) Known(tier model.Tier) bool {
	_, ok := t.durations[tier]
	return ok
}

// Tiers returns the configured tier names.
func (t *ExpiryTable) Tiers() []model.Tier {
	out := make([]model.Tier, 0, len(t.durations))
	for tier := range t.durations {
		out = append(out, tier)
	}
	return out
}

// Expiry computes the expiry timestamp for an activation at `from`.
func (t *ExpiryTable) Expiry(tier model.Tier, from time.Time) (time.Time, error) {
	d, ok := t.durations[tier]
	if !ok {
		return time.Time{}, fmt.Errorf("expiry table: %w: unknown tier %q", domain.ErrInvalidArgument, tier)
	}
	return from.UTC().Add(d), nil
}

// Renew computes the expiry after a renewal at `now` for a code currently
// expiring at `current`. Renewing before expiry extends from `current`
// (remaining time stacks, early renewal is never penalized); renewing at or
// after expiry extends from `now`. The caller decides whether an expired code
// may be renewed at all; this function only does the arithmetic.
func (t *ExpiryTable) Renew(tier model.Tier, now, current time.Time) (time.Time, error) {
	from := now.UTC()
	if current.After(from) {
		from = current.UTC()
	}
	return t.Expiry(tier, from)
}
