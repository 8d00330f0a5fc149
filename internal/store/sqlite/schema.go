package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    identity   TEXT PRIMARY KEY,
    balance    INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS report_requests (
    id                      TEXT PRIMARY KEY,
    account_identity        TEXT NOT NULL REFERENCES accounts (identity),
    status                  TEXT NOT NULL,
    report_type             TEXT NOT NULL DEFAULT '',
    pending_transaction_ref TEXT,
    input                   BLOB NOT NULL,
    result_payload          BLOB,
    degraded                BOOLEAN NOT NULL DEFAULT 0,
    last_error              TEXT,
    idempotency_key         TEXT UNIQUE,
    request_hash            TEXT NOT NULL DEFAULT '',
    created_at              TIMESTAMP NOT NULL,
    updated_at              TIMESTAMP NOT NULL,
    finished_at             TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_report_requests_open
    ON report_requests (updated_at) WHERE status IN ('pending', 'processing');

CREATE TABLE IF NOT EXISTS credit_transactions (
    seq              INTEGER PRIMARY KEY AUTOINCREMENT,
    id               TEXT NOT NULL UNIQUE,
    account_identity TEXT NOT NULL REFERENCES accounts (identity),
    kind             TEXT NOT NULL,
    credit_delta     INTEGER NOT NULL,
    status           TEXT NOT NULL,
    reference        TEXT NOT NULL DEFAULT '',
    description      TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMP NOT NULL,
    updated_at       TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_credit_transactions_usage_ref
    ON credit_transactions (reference) WHERE kind = 'usage';
CREATE INDEX IF NOT EXISTS idx_credit_transactions_account
    ON credit_transactions (account_identity, seq);
CREATE INDEX IF NOT EXISTS idx_credit_transactions_reference
    ON credit_transactions (reference);

CREATE TABLE IF NOT EXISTS credit_costs (
    kind       TEXT PRIMARY KEY,
    cost       INTEGER NOT NULL CHECK (cost >= 0),
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_logs (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    account_identity TEXT NOT NULL,
    event            TEXT NOT NULL,
    payload          BLOB,
    created_at       TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_logs_account
    ON audit_logs (account_identity, id);
`
