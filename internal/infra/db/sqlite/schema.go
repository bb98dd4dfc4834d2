package sqlite

// Two logical tables: the code registry and the device ledger. Rows are only
// ever inserted or transitioned, never deleted. Timestamps are RFC3339 UTC
// strings, which sort chronologically as text. `id` is a ULID, so ordering by
// it is creation order, the stable sort for admin listings.
const schema = `
CREATE TABLE IF NOT EXISTS activation_codes (
    id           TEXT PRIMARY KEY,
    code         TEXT NOT NULL UNIQUE,
    tier         TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'unused',
    bound_device TEXT,
    activated_at TEXT,
    expires_at   TEXT,
    created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_codes_status_tier ON activation_codes(status, tier);
CREATE INDEX IF NOT EXISTS idx_codes_bound_device ON activation_codes(bound_device);
CREATE INDEX IF NOT EXISTS idx_codes_expires_at ON activation_codes(expires_at);

CREATE TABLE IF NOT EXISTS devices (
    device_id    TEXT PRIMARY KEY,
    bound_code   TEXT,
    last_seen_at TEXT,
    created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_devices_bound_code ON devices(bound_code);
`
