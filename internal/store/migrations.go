package store

// postgresSchema is applied by Postgres.Migrate. Statements are idempotent.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS accounts (
    identity   TEXT PRIMARY KEY,
    balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS report_requests (
    id                      TEXT PRIMARY KEY,
    account_identity        TEXT NOT NULL REFERENCES accounts (identity),
    status                  TEXT NOT NULL,
    report_type             TEXT NOT NULL DEFAULT '',
    pending_transaction_ref TEXT,
    input                   JSONB NOT NULL,
    result_payload          JSONB,
    degraded                BOOLEAN NOT NULL DEFAULT FALSE,
    last_error              TEXT,
    idempotency_key         TEXT UNIQUE,
    request_hash            TEXT NOT NULL DEFAULT '',
    created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
    finished_at             TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_report_requests_open
    ON report_requests (updated_at) WHERE status IN ('pending', 'processing');

CREATE TABLE IF NOT EXISTS credit_transactions (
    id               TEXT PRIMARY KEY,
    account_identity TEXT NOT NULL REFERENCES accounts (identity),
    kind             TEXT NOT NULL,
    credit_delta     BIGINT NOT NULL,
    status           TEXT NOT NULL,
    reference        TEXT NOT NULL DEFAULT '',
    description      TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- one usage debit per report request
CREATE UNIQUE INDEX IF NOT EXISTS ux_credit_transactions_usage_ref
    ON credit_transactions (reference) WHERE kind = 'usage';
CREATE INDEX IF NOT EXISTS idx_credit_transactions_account
    ON credit_transactions (account_identity, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_credit_transactions_reference
    ON credit_transactions (reference);

CREATE TABLE IF NOT EXISTS credit_costs (
    kind       TEXT PRIMARY KEY,
    cost       BIGINT NOT NULL CHECK (cost >= 0),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_logs (
    id               BIGSERIAL PRIMARY KEY,
    account_identity TEXT NOT NULL,
    event            TEXT NOT NULL,
    payload          JSONB,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_logs_account
    ON audit_logs (account_identity, created_at DESC);
`
