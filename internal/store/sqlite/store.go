// Package sqlite provides a single-node Store on SQLite.
//
// The database is opened in WAL mode with immediate transactions: every
// WithTx takes the database write lock at BEGIN, so balance check-and-mutate
// sequences never interleave. Readers are not blocked.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/punchamoorthee/reportledger/internal/domain"
	"github.com/punchamoorthee/reportledger/internal/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path and applies the schema.
func New(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.StorageErr("tx begin failed", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqliteTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return store.StorageErr("tx commit failed", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, identity string) (*domain.Account, error) {
	return getAccount(ctx, s.db, identity)
}

func (s *Store) GetReport(ctx context.Context, id string) (*domain.ReportRequest, error) {
	return scanReport(s.db.QueryRowContext(ctx, "SELECT "+reportColumns+" FROM report_requests WHERE id = ?", id))
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return scanTransaction(s.db.QueryRowContext(ctx, "SELECT "+transactionColumns+" FROM credit_transactions WHERE id = ?", id))
}

func (s *Store) ListTransactions(ctx context.Context, identity string, limit int) ([]domain.Transaction, error) {
	if _, err := s.GetAccount(ctx, identity); err != nil {
		return nil, err
	}
	return s.queryTransactions(ctx,
		"SELECT "+transactionColumns+" FROM credit_transactions WHERE account_identity = ? ORDER BY seq DESC LIMIT ?",
		identity, store.ClampLimit(limit))
}

func (s *Store) ListTransactionsByReference(ctx context.Context, reference string) ([]domain.Transaction, error) {
	return s.queryTransactions(ctx,
		"SELECT "+transactionColumns+" FROM credit_transactions WHERE reference = ? ORDER BY seq ASC", reference)
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.StorageErr("query transactions", err)
	}
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
		return nil, store.StorageErr("iterate transactions", err)
	}
	return txns, nil
}

func (s *Store) ListStaleReports(ctx context.Context, before time.Time, limit int) ([]domain.ReportRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+reportColumns+" FROM report_requests WHERE status IN ('pending', 'processing') AND updated_at < ? ORDER BY updated_at ASC LIMIT ?",
		before.UTC(), store.ClampLimit(limit))
	if err != nil {
		return nil, store.StorageErr("list stale reports", err)
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
		return nil, store.StorageErr("list stale reports", err)
	}
	return reports, nil
}

func (s *Store) CreditCost(ctx context.Context, kind string) (int64, bool, error) {
	var cost int64
	err := s.db.QueryRowContext(ctx, "SELECT cost FROM credit_costs WHERE kind = ?", kind).Scan(&cost)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, store.StorageErr("read credit cost", err)
	}
	return cost, true, nil
}

func (s *Store) SetCreditCost(ctx context.Context, kind string, cost int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credit_costs (kind, cost, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (kind) DO UPDATE SET cost = excluded.cost, updated_at = excluded.updated_at`,
		kind, cost, now())
	if err != nil {
		return store.StorageErr("set credit cost", err)
	}
	return nil
}

func (s *Store) AppendAudit(ctx context.Context, e *domain.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO audit_logs (account_identity, event, payload, created_at) VALUES (?, ?, ?, ?)",
		e.AccountIdentity, e.Event, nullBytes(e.Payload), e.CreatedAt)
	if err != nil {
		return store.StorageErr("append audit", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

func (s *Store) ListAudit(ctx context.Context, identity string, limit int) ([]domain.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, account_identity, event, payload, created_at FROM audit_logs WHERE account_identity = ? ORDER BY id DESC LIMIT ?",
		identity, store.ClampLimit(limit))
	if err != nil {
		return nil, store.StorageErr("list audit", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.AccountIdentity, &e.Event, &payload, &e.CreatedAt); err != nil {
			return nil, store.StorageErr("scan audit", err)
		}
		e.Payload = payload
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqliteTx runs inside an immediate transaction, which already holds the
// database write lock; LockAccount only has to check existence.
type sqliteTx struct {
	q querier
}

func (t *sqliteTx) InsertAccount(ctx context.Context, identity string) (*domain.Account, error) {
	ts := now()
	_, err := t.q.ExecContext(ctx,
		"INSERT INTO accounts (identity, balance, created_at, updated_at) VALUES (?, 0, ?, ?)", identity, ts, ts)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintPrimaryKey) || isConstraint(err, sqlite3.ErrConstraintUnique) {
			return nil, domain.ErrAccountExists
		}
		return nil, store.StorageErr("account insert failed", err)
	}
	return &domain.Account{Identity: identity, CreatedAt: ts, UpdatedAt: ts}, nil
}

func (t *sqliteTx) LockAccount(ctx context.Context, identity string) (*domain.Account, error) {
	return getAccount(ctx, t.q, identity)
}

func (t *sqliteTx) DebitIfSufficient(ctx context.Context, identity string, amount int64) (bool, int64, error) {
	res, err := t.q.ExecContext(ctx,
		"UPDATE accounts SET balance = balance - ?, updated_at = ? WHERE identity = ? AND balance >= ?",
		amount, now(), identity, amount)
	if err != nil {
		return false, 0, store.StorageErr("debit failed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, 0, store.StorageErr("debit failed", err)
	}
	acc, err := getAccount(ctx, t.q, identity)
	if err != nil {
		return false, 0, err
	}
	return n == 1, acc.Balance, nil
}

func (t *sqliteTx) Credit(ctx context.Context, identity string, amount int64) (int64, error) {
	// sqlite turns an overflowing integer sum into REAL, so the bound is checked in the WHERE
	res, err := t.q.ExecContext(ctx,
		"UPDATE accounts SET balance = balance + ?, updated_at = ? WHERE identity = ? AND balance <= ?",
		amount, now(), identity, int64(math.MaxInt64)-amount)
	if err != nil {
		return 0, store.StorageErr("credit failed", err)
	}
	acc, err := getAccount(ctx, t.q, identity)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("credit %d overflows balance %d: %w", amount, acc.Balance, domain.ErrInvalidAmount)
	}
	return acc.Balance, nil
}

func (t *sqliteTx) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	ts := now()
	txn.CreatedAt, txn.UpdatedAt = ts, ts
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO credit_transactions (id, account_identity, kind, credit_delta, status, reference, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, txn.AccountIdentity, string(txn.Kind), txn.CreditDelta, string(txn.Status), txn.Reference, txn.Description, ts, ts)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return domain.ErrAccountNotFound
		}
		return store.StorageErr("transaction insert failed", err)
	}
	return nil
}

func (t *sqliteTx) GetTransactionForUpdate(ctx context.Context, id string) (*domain.Transaction, error) {
	return scanTransaction(t.q.QueryRowContext(ctx, "SELECT "+transactionColumns+" FROM credit_transactions WHERE id = ?", id))
}

func (t *sqliteTx) TransitionTransaction(ctx context.Context, id string, from, to domain.TransactionStatus) (bool, error) {
	res, err := t.q.ExecContext(ctx,
		"UPDATE credit_transactions SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(to), now(), id, string(from))
	if err != nil {
		return false, store.StorageErr("transaction status update failed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, store.StorageErr("transaction status update failed", err)
	}
	return n == 1, nil
}

func (t *sqliteTx) InsertReport(ctx context.Context, r *domain.ReportRequest) error {
	input, err := json.Marshal(r.Input)
	if err != nil {
		return fmt.Errorf("encode report input: %w", err)
	}
	ts := now()
	r.CreatedAt, r.UpdatedAt = ts, ts

	_, err = t.q.ExecContext(ctx,
		`INSERT INTO report_requests (id, account_identity, status, report_type, pending_transaction_ref, input,
		   result_payload, degraded, last_error, idempotency_key, request_hash, created_at, updated_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AccountIdentity, string(r.Status), string(r.ReportType), r.PendingTransactionRef, input,
		nullBytes(r.ResultPayload), r.Degraded, r.LastError, r.IdempotencyKey, r.RequestHash, ts, ts, r.FinishedAt)
	if err != nil {
		switch {
		case isConstraint(err, sqlite3.ErrConstraintUnique) && r.IdempotencyKey != nil:
			return domain.ErrIdempotencyConflict
		case isConstraint(err, sqlite3.ErrConstraintForeignKey):
			return domain.ErrAccountNotFound
		}
		return store.StorageErr("report insert failed", err)
	}
	return nil
}

func (t *sqliteTx) GetReportForUpdate(ctx context.Context, id string) (*domain.ReportRequest, error) {
	return scanReport(t.q.QueryRowContext(ctx, "SELECT "+reportColumns+" FROM report_requests WHERE id = ?", id))
}

func (t *sqliteTx) GetReportByIdempotencyKey(ctx context.Context, key string) (*domain.ReportRequest, error) {
	return scanReport(t.q.QueryRowContext(ctx, "SELECT "+reportColumns+" FROM report_requests WHERE idempotency_key = ?", key))
}

func (t *sqliteTx) UpdateReport(ctx context.Context, r *domain.ReportRequest) error {
	r.UpdatedAt = now()
	res, err := t.q.ExecContext(ctx,
		`UPDATE report_requests SET status = ?, report_type = ?, pending_transaction_ref = ?, result_payload = ?,
		   degraded = ?, last_error = ?, updated_at = ?, finished_at = ?
		 WHERE id = ?`,
		string(r.Status), string(r.ReportType), r.PendingTransactionRef, nullBytes(r.ResultPayload),
		r.Degraded, r.LastError, r.UpdatedAt, r.FinishedAt, r.ID)
	if err != nil {
		return store.StorageErr("report update failed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrReportNotFound
	}
	return nil
}

const reportColumns = `id, account_identity, status, report_type, pending_transaction_ref, input, result_payload,
	degraded, last_error, idempotency_key, request_hash, created_at, updated_at, finished_at`

const transactionColumns = `id, account_identity, kind, credit_delta, status, reference, description, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func getAccount(ctx context.Context, q querier, identity string) (*domain.Account, error) {
	var acc domain.Account
	err := q.QueryRowContext(ctx,
		"SELECT identity, balance, created_at, updated_at FROM accounts WHERE identity = ?", identity,
	).Scan(&acc.Identity, &acc.Balance, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, store.StorageErr("scan account", err)
	}
	return &acc, nil
}

func scanReport(row scanner) (*domain.ReportRequest, error) {
	var (
		r                          domain.ReportRequest
		status, reportType         string
		pendingRef, lastErr, idemK sql.NullString
		input, payload             []byte
		finishedAt                 sql.NullTime
	)
	err := row.Scan(&r.ID, &r.AccountIdentity, &status, &reportType, &pendingRef, &input, &payload,
		&r.Degraded, &lastErr, &idemK, &r.RequestHash, &r.CreatedAt, &r.UpdatedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrReportNotFound
	}
	if err != nil {
		return nil, store.StorageErr("scan report", err)
	}
	r.Status = domain.ReportStatus(status)
	r.ReportType = domain.ReportType(reportType)
	r.PendingTransactionRef = nullStringPtr(pendingRef)
	r.LastError = nullStringPtr(lastErr)
	r.IdempotencyKey = nullStringPtr(idemK)
	if finishedAt.Valid {
		t := finishedAt.Time
		r.FinishedAt = &t
	}
	if len(payload) > 0 {
		r.ResultPayload = payload
	}
	if err := json.Unmarshal(input, &r.Input); err != nil {
		return nil, fmt.Errorf("decode report input: %w", err)
	}
	return &r, nil
}

func scanTransaction(row scanner) (*domain.Transaction, error) {
	var (
		txn          domain.Transaction
		kind, status string
	)
	err := row.Scan(&txn.ID, &txn.AccountIdentity, &kind, &txn.CreditDelta, &status, &txn.Reference,
		&txn.Description, &txn.CreatedAt, &txn.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, store.StorageErr("scan transaction", err)
	}
	txn.Kind = domain.TransactionKind(kind)
	txn.Status = domain.TransactionStatus(status)
	return &txn, nil
}

func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == code
	}
	return false
}

func nullStringPtr(ns sql.NullString) *string {
	if ns.Valid {
		return &ns.String
	}
	return nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func now() time.Time {
	return time.Now().UTC()
}
