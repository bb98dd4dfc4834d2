package model

import "time"

// Device is one client installation, identified by an opaque, client-generated
// machine id. A device row is created on its first activation attempt and
// never deleted. BoundCode keeps pointing at the last code the device was
// bound to even after that code expires or is revoked, so a status check can
// answer "expired"/"revoked" instead of "never activated"; whether the binding
// is live is always derived from the code's status and expiry.
type Device struct {
	DeviceID   string
	BoundCode  *string    // Pointer to allow for NULL
	LastSeenAt *time.Time // Pointer to allow for NULL
	CreatedAt  time.Time
}
