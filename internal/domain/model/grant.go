package model

import "time"

// DenyReason explains why a command did not grant.
type DenyReason string

const (
	DenyUnknownCode  DenyReason = "unknown_code"
	DenyWrongDevice  DenyReason = "wrong_device"
	DenyExpired      DenyReason = "expired"
	DenyRevoked      DenyReason = "revoked"
	DenyAlreadyBound DenyReason = "already_bound"
	DenyNotActivated DenyReason = "not_activated"
)

// Grant is the outcome of evaluating a code+device pair. It is a value, not
// an error: every deny reason is a terminal decision for the caller.
type Grant struct {
	Granted   bool
	Reason    DenyReason // empty when Granted
	Tier      Tier       // set when Granted
	ExpiresAt *time.Time // set when Granted
}

// Granted builds a positive decision.
func Granted(tier Tier, expiresAt time.Time) *Grant {
	return &Grant{Granted: true, Tier: tier, ExpiresAt: &expiresAt}
}

// Denied builds a negative decision.
func Denied(reason DenyReason) *Grant {
	return &Grant{Reason: reason}
}
