package model

import (
	"time"
)

// Tier identifies the subscription duration class an activation code grants.
// The set of valid tiers and their durations come from configuration; the
// constants below cover the tiers the legacy data contains.
type Tier string

const (
	TierMonthly   Tier = "monthly"
	TierQuarterly Tier = "quarterly"
	TierYearly    Tier = "yearly"
	TierTrial     Tier = "trial"
)

// CodeStatus is the lifecycle state of an activation code.
type CodeStatus string

const (
	CodeStatusUnused  CodeStatus = "unused"
	CodeStatusActive  CodeStatus = "active"
	CodeStatusExpired CodeStatus = "expired"
	CodeStatusRevoked CodeStatus = "revoked"
)

// ActivationCode is a single-use token that binds a subscription tier to one
// device. Codes are never deleted; they only transition status. BoundDevice,
// ActivatedAt and ExpiresAt are set together on first activation and stay set
// through expiry and revocation.
type ActivationCode struct {
	ID          string // creation-ordered ULID, stable sort key for listings
	Code        string
	Tier        Tier
	Status      CodeStatus
	BoundDevice *string    // Pointer to allow for NULL
	ActivatedAt *time.Time // Pointer to allow for NULL
	ExpiresAt   *time.Time // Pointer to allow for NULL
	CreatedAt   time.Time
}

// ExpiredBy reports whether the code's validity window has passed at the
// given instant. Codes without an expiry (never activated) are not expired.
func (c *ActivationCode) ExpiredBy(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}
