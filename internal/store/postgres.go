package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/reportledger/internal/domain"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgNumericOutOfRange   = "22003"
)

var _ Store = (*Postgres)(nil)

// Postgres implements Store on a pgx connection pool. Account exclusivity is a
// row lock taken with SELECT ... FOR UPDATE.
type Postgres struct {
	Db *pgxpool.Pool
}

func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{Db: pool}, nil
}

// Migrate creates the schema if it does not exist yet.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.Db.Ping(ctx)
}

func (s *Postgres) Close() error {
	s.Db.Close()
	return nil
}

// WithTx runs fn inside a READ COMMITTED transaction. Row locks make
// concurrent writers on one account queue behind each other instead of
// aborting with serialization failures.
func (s *Postgres) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return StorageErr("tx begin failed", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return StorageErr("tx commit failed", err)
	}
	return nil
}

func (s *Postgres) GetAccount(ctx context.Context, identity string) (*domain.Account, error) {
	row := s.Db.QueryRow(ctx,
		"SELECT identity, balance, created_at, updated_at FROM accounts WHERE identity = $1", identity)
	return scanAccount(row)
}

func (s *Postgres) GetReport(ctx context.Context, id string) (*domain.ReportRequest, error) {
	return scanReport(s.Db.QueryRow(ctx, "SELECT "+reportColumns+" FROM report_requests WHERE id = $1", id))
}

func (s *Postgres) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return scanTransaction(s.Db.QueryRow(ctx, "SELECT "+transactionColumns+" FROM credit_transactions WHERE id = $1", id))
}

// ListTransactions returns the account history, newest first.
func (s *Postgres) ListTransactions(ctx context.Context, identity string, limit int) ([]domain.Transaction, error) {
	if _, err := s.GetAccount(ctx, identity); err != nil {
		return nil, err
	}
	rows, err := s.Db.Query(ctx,
		"SELECT "+transactionColumns+" FROM credit_transactions WHERE account_identity = $1 ORDER BY created_at DESC, id DESC LIMIT $2",
		identity, ClampLimit(limit))
	if err != nil {
		return nil, StorageErr("list transactions", err)
	}
	return collectTransactions(rows)
}

func (s *Postgres) ListTransactionsByReference(ctx context.Context, reference string) ([]domain.Transaction, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+transactionColumns+" FROM credit_transactions WHERE reference = $1 ORDER BY created_at ASC, id ASC",
		reference)
	if err != nil {
		return nil, StorageErr("list transactions by reference", err)
	}
	return collectTransactions(rows)
}

func (s *Postgres) ListStaleReports(ctx context.Context, before time.Time, limit int) ([]domain.ReportRequest, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+reportColumns+" FROM report_requests WHERE status IN ('pending', 'processing') AND updated_at < $1 ORDER BY updated_at ASC LIMIT $2",
		before, ClampLimit(limit))
	if err != nil {
		return nil, StorageErr("list stale reports", err)
	}
	defer rows.Close()

	var reports []domain.ReportRequest
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, StorageErr("list stale reports", err)
	}
	return reports, nil
}

func (s *Postgres) CreditCost(ctx context.Context, kind string) (int64, bool, error) {
	var cost int64
	err := s.Db.QueryRow(ctx, "SELECT cost FROM credit_costs WHERE kind = $1", kind).Scan(&cost)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, StorageErr("read credit cost", err)
	}
	return cost, true, nil
}

func (s *Postgres) SetCreditCost(ctx context.Context, kind string, cost int64) error {
	_, err := s.Db.Exec(ctx,
		`INSERT INTO credit_costs (kind, cost, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (kind) DO UPDATE SET cost = EXCLUDED.cost, updated_at = now()`,
		kind, cost)
	if err != nil {
		return StorageErr("set credit cost", err)
	}
	return nil
}

func (s *Postgres) AppendAudit(ctx context.Context, e *domain.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	err := s.Db.QueryRow(ctx,
		"INSERT INTO audit_logs (account_identity, event, payload, created_at) VALUES ($1, $2, $3, $4) RETURNING id",
		e.AccountIdentity, e.Event, nullJSON(e.Payload), e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return StorageErr("append audit", err)
	}
	return nil
}

func (s *Postgres) ListAudit(ctx context.Context, identity string, limit int) ([]domain.AuditEntry, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT id, account_identity, event, payload, created_at FROM audit_logs WHERE account_identity = $1 ORDER BY created_at DESC, id DESC LIMIT $2",
		identity, ClampLimit(limit))
	if err != nil {
		return nil, StorageErr("list audit", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.AccountIdentity, &e.Event, &payload, &e.CreatedAt); err != nil {
			return nil, StorageErr("scan audit", err)
		}
		e.Payload = payload
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// pgTx is the Tx view over an open pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertAccount(ctx context.Context, identity string) (*domain.Account, error) {
	row := t.tx.QueryRow(ctx,
		"INSERT INTO accounts (identity, balance) VALUES ($1, 0) RETURNING identity, balance, created_at, updated_at",
		identity)
	acc, err := scanAccount(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, domain.ErrAccountExists
		}
		return nil, err
	}
	return acc, nil
}

func (t *pgTx) LockAccount(ctx context.Context, identity string) (*domain.Account, error) {
	row := t.tx.QueryRow(ctx,
		"SELECT identity, balance, created_at, updated_at FROM accounts WHERE identity = $1 FOR UPDATE", identity)
	acc, err := scanAccount(row)
	if err != nil && !errors.Is(err, domain.ErrAccountNotFound) {
		return nil, fmt.Errorf("lock acquisition failed: %w", err)
	}
	return acc, err
}

func (t *pgTx) DebitIfSufficient(ctx context.Context, identity string, amount int64) (bool, int64, error) {
	var balance int64
	err := t.tx.QueryRow(ctx,
		"UPDATE accounts SET balance = balance - $1, updated_at = now() WHERE identity = $2 AND balance >= $1 RETURNING balance",
		amount, identity,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the account is missing or the balance is short.
		acc, err := scanAccount(t.tx.QueryRow(ctx, "SELECT identity, balance, created_at, updated_at FROM accounts WHERE identity = $1", identity))
		if err != nil {
			return false, 0, err
		}
		return false, acc.Balance, nil
	}
	if err != nil {
		return false, 0, StorageErr("debit failed", err)
	}
	return true, balance, nil
}

func (t *pgTx) Credit(ctx context.Context, identity string, amount int64) (int64, error) {
	var balance int64
	err := t.tx.QueryRow(ctx,
		"UPDATE accounts SET balance = balance + $1, updated_at = now() WHERE identity = $2 RETURNING balance",
		amount, identity,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrAccountNotFound
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgNumericOutOfRange {
			return 0, fmt.Errorf("credit %d to %s: %w", amount, identity, domain.ErrInvalidAmount)
		}
		return 0, StorageErr("credit failed", err)
	}
	return balance, nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	ts := now()
	txn.CreatedAt, txn.UpdatedAt = ts, ts
	_, err := t.tx.Exec(ctx,
		`INSERT INTO credit_transactions (id, account_identity, kind, credit_delta, status, reference, description, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		txn.ID, txn.AccountIdentity, string(txn.Kind), txn.CreditDelta, string(txn.Status), txn.Reference, txn.Description, ts,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return domain.ErrAccountNotFound
		}
		return StorageErr("transaction insert failed", err)
	}
	return nil
}

func (t *pgTx) GetTransactionForUpdate(ctx context.Context, id string) (*domain.Transaction, error) {
	return scanTransaction(t.tx.QueryRow(ctx,
		"SELECT "+transactionColumns+" FROM credit_transactions WHERE id = $1 FOR UPDATE", id))
}

func (t *pgTx) TransitionTransaction(ctx context.Context, id string, from, to domain.TransactionStatus) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		"UPDATE credit_transactions SET status = $1, updated_at = now() WHERE id = $2 AND status = $3",
		string(to), id, string(from))
	if err != nil {
		return false, StorageErr("transaction status update failed", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) InsertReport(ctx context.Context, r *domain.ReportRequest) error {
	input, err := json.Marshal(r.Input)
	if err != nil {
		return fmt.Errorf("encode report input: %w", err)
	}
	ts := now()
	r.CreatedAt, r.UpdatedAt = ts, ts

	_, err = t.tx.Exec(ctx,
		`INSERT INTO report_requests (id, account_identity, status, report_type, pending_transaction_ref, input,
		   result_payload, degraded, last_error, idempotency_key, request_hash, created_at, updated_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12, $13)`,
		r.ID, r.AccountIdentity, string(r.Status), string(r.ReportType), r.PendingTransactionRef, string(input),
		nullJSON(r.ResultPayload), r.Degraded, r.LastError, r.IdempotencyKey, r.RequestHash, ts, r.FinishedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch {
			case pgErr.Code == pgUniqueViolation && r.IdempotencyKey != nil:
				return domain.ErrIdempotencyConflict
			case pgErr.Code == pgForeignKeyViolation:
				return domain.ErrAccountNotFound
			}
		}
		return StorageErr("report insert failed", err)
	}
	return nil
}

func (t *pgTx) GetReportForUpdate(ctx context.Context, id string) (*domain.ReportRequest, error) {
	return scanReport(t.tx.QueryRow(ctx, "SELECT "+reportColumns+" FROM report_requests WHERE id = $1 FOR UPDATE", id))
}

func (t *pgTx) GetReportByIdempotencyKey(ctx context.Context, key string) (*domain.ReportRequest, error) {
	return scanReport(t.tx.QueryRow(ctx, "SELECT "+reportColumns+" FROM report_requests WHERE idempotency_key = $1", key))
}

func (t *pgTx) UpdateReport(ctx context.Context, r *domain.ReportRequest) error {
	r.UpdatedAt = now()
	tag, err := t.tx.Exec(ctx,
		`UPDATE report_requests SET status = $1, report_type = $2, pending_transaction_ref = $3, result_payload = $4,
		   degraded = $5, last_error = $6, updated_at = $7, finished_at = $8
		 WHERE id = $9`,
		string(r.Status), string(r.ReportType), r.PendingTransactionRef, nullJSON(r.ResultPayload),
		r.Degraded, r.LastError, r.UpdatedAt, r.FinishedAt, r.ID,
	)
	if err != nil {
		return StorageErr("report update failed", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReportNotFound
	}
	return nil
}

const reportColumns = `id, account_identity, status, report_type, pending_transaction_ref, input, result_payload,
	degraded, last_error, idempotency_key, request_hash, created_at, updated_at, finished_at`

const transactionColumns = `id, account_identity, kind, credit_delta, status, reference, description, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var acc domain.Account
	err := row.Scan(&acc.Identity, &acc.Balance, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, StorageErr("scan account", err)
	}
	return &acc, nil
}

func scanReport(row pgx.Row) (*domain.ReportRequest, error) {
	var (
		r                  domain.ReportRequest
		status, reportType string
		input, payload     []byte
	)
	err := row.Scan(&r.ID, &r.AccountIdentity, &status, &reportType, &r.PendingTransactionRef, &input, &payload,
		&r.Degraded, &r.LastError, &r.IdempotencyKey, &r.RequestHash, &r.CreatedAt, &r.UpdatedAt, &r.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrReportNotFound
	}
	if err != nil {
		return nil, StorageErr("scan report", err)
	}
	r.Status = domain.ReportStatus(status)
	r.ReportType = domain.ReportType(reportType)
	if len(payload) > 0 {
		r.ResultPayload = payload
	}
	if err := json.Unmarshal(input, &r.Input); err != nil {
		return nil, fmt.Errorf("decode report input: %w", err)
	}
	return &r, nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		txn          domain.Transaction
		kind, status string
	)
	err := row.Scan(&txn.ID, &txn.AccountIdentity, &kind, &txn.CreditDelta, &status, &txn.Reference,
		&txn.Description, &txn.CreatedAt, &txn.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, StorageErr("scan transaction", err)
	}
	txn.Kind = domain.TransactionKind(kind)
	txn.Status = domain.TransactionStatus(status)
	return &txn, nil
}

func collectTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, StorageErr("iterate transactions", err)
	}
	return txns, nil
}

// nullJSON maps an empty payload to SQL NULL.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
