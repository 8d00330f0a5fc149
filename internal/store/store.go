// Package store holds the ledger persistence layer: account balances, the
// credit transaction history, report requests and the audit trail.
//
// Balance mutation happens only inside WithTx, on a Tx obtained after
// LockAccount. Everything done through one Tx commits or rolls back as a unit.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/punchamoorthee/reportledger/internal/domain"
)

// Tx is the set of operations available inside a single atomic unit.
type Tx interface {
	InsertAccount(ctx context.Context, identity string) (*domain.Account, error)
	// LockAccount acquires the account exclusively until the unit ends.
	LockAccount(ctx context.Context, identity string) (*domain.Account, error)
	// DebitIfSufficient decrements the balance when it covers amount and
	// reports false, without mutating, when it does not.
	DebitIfSufficient(ctx context.Context, identity string, amount int64) (ok bool, balance int64, err error)
	Credit(ctx context.Context, identity string, amount int64) (balance int64, err error)

	InsertTransaction(ctx context.Context, t *domain.Transaction) error
	GetTransactionForUpdate(ctx context.Context, id string) (*domain.Transaction, error)
	// TransitionTransaction moves id from -> to and returns false when the
	// row was no longer in from.
	TransitionTransaction(ctx context.Context, id string, from, to domain.TransactionStatus) (bool, error)

	InsertReport(ctx context.Context, r *domain.ReportRequest) error
	GetReportForUpdate(ctx context.Context, id string) (*domain.ReportRequest, error)
	GetReportByIdempotencyKey(ctx context.Context, key string) (*domain.ReportRequest, error)
	UpdateReport(ctx context.Context, r *domain.ReportRequest) error
}

// Store is the ledger persistence contract shared by all backends.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetAccount(ctx context.Context, identity string) (*domain.Account, error)
	GetReport(ctx context.Context, id string) (*domain.ReportRequest, error)
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, identity string, limit int) ([]domain.Transaction, error)
	ListTransactionsByReference(ctx context.Context, reference string) ([]domain.Transaction, error)
	// ListStaleReports returns non-terminal requests not touched since before.
	ListStaleReports(ctx context.Context, before time.Time, limit int) ([]domain.ReportRequest, error)

	CreditCost(ctx context.Context, kind string) (cost int64, found bool, err error)
	SetCreditCost(ctx context.Context, kind string, cost int64) error

	AppendAudit(ctx context.Context, e *domain.AuditEntry) error
	ListAudit(ctx context.Context, identity string, limit int) ([]domain.AuditEntry, error)

	Ping(ctx context.Context) error
	Close() error
}

// DefaultListLimit caps list queries when the caller passes a non-positive limit.
const DefaultListLimit = 50

// ClampLimit normalises a caller supplied list limit.
func ClampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return DefaultListLimit
	}
	return limit
}

// StorageErr tags a driver error as a retryable storage failure.
func StorageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorage, err)
}

func now() time.Time {
	return time.Now().UTC()
}
