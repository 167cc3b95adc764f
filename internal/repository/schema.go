package repository

// Schema definitions for Harrier database.
// Compatible with both SQLite and PostgreSQL.

const schemaRiskProfiles = `
CREATE TABLE IF NOT EXISTS risk_profiles (
    user_id TEXT PRIMARY KEY,
    urs INTEGER NOT NULL,
    tier TEXT NOT NULL,
    behavior_score REAL NOT NULL DEFAULT 0,
    transaction_score REAL NOT NULL DEFAULT 0,
    network_score REAL NOT NULL DEFAULT 0,
    history_score REAL NOT NULL DEFAULT 0,
    signals TEXT,
    whitelisted_until TIMESTAMP,
    probation_until TIMESTAMP,
    probation_baseline TEXT,
    escalation_count INTEGER NOT NULL DEFAULT 0,
    computed_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_profiles_tier ON risk_profiles(tier);
CREATE INDEX IF NOT EXISTS idx_risk_profiles_computed ON risk_profiles(computed_at);
`

const schemaRiskEvents = `
CREATE TABLE IF NOT EXISTS risk_events (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    severity TEXT NOT NULL,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_events_user ON risk_events(user_id, event_type, created_at);
CREATE INDEX IF NOT EXISTS idx_risk_events_retention ON risk_events(severity, created_at);
`

// The partial unique index keeps at most one unresolved ticket per user.
const schemaFraudTickets = `
CREATE TABLE IF NOT EXISTS fraud_tickets (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    risk_tier TEXT NOT NULL,
    urs_score INTEGER NOT NULL,
    trigger_reason TEXT NOT NULL,
    signals TEXT,
    status TEXT NOT NULL,
    resolution TEXT NOT NULL DEFAULT '',
    reviewer_id TEXT NOT NULL DEFAULT '',
    override_admin_id TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    resolved_at TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_fraud_tickets_active ON fraud_tickets(user_id) WHERE status <> 'RESOLVED';
CREATE INDEX IF NOT EXISTS idx_fraud_tickets_status ON fraud_tickets(status, created_at);
`

const schemaVelocityCounters = `
CREATE TABLE IF NOT EXISTS velocity_counters (
    subject TEXT NOT NULL,
    action TEXT NOT NULL,
    bucket_start BIGINT NOT NULL,
    hits BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (subject, action, bucket_start)
);

CREATE INDEX IF NOT EXISTS idx_velocity_counters_bucket ON velocity_counters(bucket_start);
`

const schemaAccounts = `
CREATE TABLE IF NOT EXISTS accounts (
    user_id TEXT PRIMARY KEY,
    email TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    phone_verified INTEGER NOT NULL DEFAULT 0,
    role TEXT NOT NULL DEFAULT '',
    previous_role TEXT NOT NULL DEFAULT '',
    identity_verified INTEGER NOT NULL DEFAULT 0,
    completed_trips INTEGER NOT NULL DEFAULT 0,
    avg_rating REAL NOT NULL DEFAULT 0,
    reviews_given INTEGER NOT NULL DEFAULT 0,
    reviews_removed INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_accounts_phone ON accounts(phone);
`

const schemaDeviceFingerprints = `
CREATE TABLE IF NOT EXISTS device_fingerprints (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    ip_address TEXT NOT NULL,
    user_agent TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_device_fingerprints_user ON device_fingerprints(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_device_fingerprints_fp ON device_fingerprints(fingerprint, created_at);
CREATE INDEX IF NOT EXISTS idx_device_fingerprints_ip ON device_fingerprints(ip_address, created_at);
`

const schemaLedgerEntries = `
CREATE TABLE IF NOT EXISTS ledger_entries (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    entry_type TEXT NOT NULL,
    reason_code TEXT NOT NULL DEFAULT '',
    reference_id TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_entries_user ON ledger_entries(user_id, created_at);
`

const schemaSignalObservations = `
CREATE TABLE IF NOT EXISTS signal_observations (
    user_id TEXT NOT NULL,
    signal_id TEXT NOT NULL,
    value REAL NOT NULL,
    observed_at TIMESTAMP NOT NULL,
    PRIMARY KEY (user_id, signal_id)
);
`

const schemaAdminAudit = `
CREATE TABLE IF NOT EXISTS admin_audit_log (
    id TEXT PRIMARY KEY,
    admin_id TEXT NOT NULL,
    action TEXT NOT NULL,
    target_id TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_admin_audit_target ON admin_audit_log(target_id, created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRiskProfiles,
		schemaRiskEvents,
		schemaFraudTickets,
		schemaVelocityCounters,
		schemaAccounts,
		schemaDeviceFingerprints,
		schemaLedgerEntries,
		schemaSignalObservations,
		schemaAdminAudit,
	}
}
