package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/reportledger/internal/domain"
)

var _ Store = (*Memory)(nil)

// Memory is an in-process Store. WithTx holds a single writer lock for the
// whole unit and works on a copy of the state, which replaces the live state
// only when fn succeeds.
type Memory struct {
	mu sync.RWMutex
	st *memState
}

type memState struct {
	accounts     map[string]domain.Account
	reports      map[string]domain.ReportRequest
	idempotency  map[string]string // key -> report id
	transactions map[string]domain.Transaction
	txOrder      []string
	costs        map[string]int64
	audit        []domain.AuditEntry
	auditSeq     int64
}

func NewMemory() *Memory {
	return &Memory{st: &memState{
		accounts:     make(map[string]domain.Account),
		reports:      make(map[string]domain.ReportRequest),
		idempotency:  make(map[string]string),
		transactions: make(map[string]domain.Transaction),
		costs:        make(map[string]int64),
	}}
}

func (s *memState) clone() *memState {
	c := &memState{
		accounts:     make(map[string]domain.Account, len(s.accounts)),
		reports:      make(map[string]domain.ReportRequest, len(s.reports)),
		idempotency:  make(map[string]string, len(s.idempotency)),
		transactions: make(map[string]domain.Transaction, len(s.transactions)),
		txOrder:      append([]string(nil), s.txOrder...),
		costs:        make(map[string]int64, len(s.costs)),
		audit:        append([]domain.AuditEntry(nil), s.audit...),
		auditSeq:     s.auditSeq,
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.reports {
		c.reports[k] = v
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.costs {
		c.costs[k] = v
	}
	return c
}

func (s *Memory) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return StorageErr("tx begin failed", err)
	}

	work := s.st.clone()
	if err := fn(ctx, &memTx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Memory) GetAccount(_ context.Context, identity string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.st.accounts[identity]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &acc, nil
}

func (s *Memory) GetReport(_ context.Context, id string) (*domain.ReportRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.st.reports[id]
	if !ok {
		return nil, domain.ErrReportNotFound
	}
	return copyReport(r), nil
}

func (s *Memory) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txn, ok := s.st.transactions[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return &txn, nil
}

func (s *Memory) ListTransactions(_ context.Context, identity string, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.st.accounts[identity]; !ok {
		return nil, domain.ErrAccountNotFound
	}
	limit = ClampLimit(limit)

	var out []domain.Transaction
	for i := len(s.st.txOrder) - 1; i >= 0 && len(out) < limit; i-- {
		txn := s.st.transactions[s.st.txOrder[i]]
		if txn.AccountIdentity == identity {
			out = append(out, txn)
		}
	}
	return out, nil
}

func (s *Memory) ListTransactionsByReference(_ context.Context, reference string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Transaction
	for _, id := range s.st.txOrder {
		if txn := s.st.transactions[id]; txn.Reference == reference {
			out = append(out, txn)
		}
	}
	return out, nil
}

func (s *Memory) ListStaleReports(_ context.Context, before time.Time, limit int) ([]domain.ReportRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ReportRequest
	for _, r := range s.st.reports {
		if !r.Status.Terminal() && r.UpdatedAt.Before(before) {
			out = append(out, *copyReport(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit = ClampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) CreditCost(_ context.Context, kind string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cost, ok := s.st.costs[kind]
	return cost, ok, nil
}

func (s *Memory) SetCreditCost(_ context.Context, kind string, cost int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.costs[kind] = cost
	return nil
}

func (s *Memory) AppendAudit(_ context.Context, e *domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.auditSeq++
	e.ID = s.st.auditSeq
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	s.st.audit = append(s.st.audit, *e)
	return nil
}

func (s *Memory) ListAudit(_ context.Context, identity string, limit int) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = ClampLimit(limit)
	var out []domain.AuditEntry
	for i := len(s.st.audit) - 1; i >= 0 && len(out) < limit; i-- {
		if s.st.audit[i].AccountIdentity == identity {
			out = append(out, s.st.audit[i])
		}
	}
	return out, nil
}

func (s *Memory) Ping(context.Context) error { return nil }

func (s *Memory) Close() error { return nil }

// memTx mutates a private copy of the state; the owning Memory holds the lock.
type memTx struct {
	st *memState
}

func (t *memTx) InsertAccount(_ context.Context, identity string) (*domain.Account, error) {
	if _, ok := t.st.accounts[identity]; ok {
		return nil, domain.ErrAccountExists
	}
	ts := now()
	acc := domain.Account{Identity: identity, CreatedAt: ts, UpdatedAt: ts}
	t.st.accounts[identity] = acc
	return &acc, nil
}

func (t *memTx) LockAccount(_ context.Context, identity string) (*domain.Account, error) {
	acc, ok := t.st.accounts[identity]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &acc, nil
}

func (t *memTx) DebitIfSufficient(_ context.Context, identity string, amount int64) (bool, int64, error) {
	acc, ok := t.st.accounts[identity]
	if !ok {
		return false, 0, domain.ErrAccountNotFound
	}
	if acc.Balance < amount {
		return false, acc.Balance, nil
	}
	acc.Balance -= amount
	acc.UpdatedAt = now()
	t.st.accounts[identity] = acc
	return true, acc.Balance, nil
}

func (t *memTx) Credit(_ context.Context, identity string, amount int64) (int64, error) {
	acc, ok := t.st.accounts[identity]
	if !ok {
		return 0, domain.ErrAccountNotFound
	}
	if amount > math.MaxInt64-acc.Balance {
		return 0, fmt.Errorf("credit %d overflows balance %d: %w", amount, acc.Balance, domain.ErrInvalidAmount)
	}
	acc.Balance += amount
	acc.UpdatedAt = now()
	t.st.accounts[identity] = acc
	return acc.Balance, nil
}

func (t *memTx) InsertTransaction(_ context.Context, txn *domain.Transaction) error {
	if _, ok := t.st.accounts[txn.AccountIdentity]; !ok {
		return domain.ErrAccountNotFound
	}
	if txn.Kind == domain.KindUsage {
		for _, existing := range t.st.transactions {
			if existing.Kind == domain.KindUsage && existing.Reference == txn.Reference {
				return StorageErr("transaction insert failed", domain.ErrInvalidInput)
			}
		}
	}
	ts := now()
	txn.CreatedAt, txn.UpdatedAt = ts, ts
	t.st.transactions[txn.ID] = *txn
	t.st.txOrder = append(t.st.txOrder, txn.ID)
	return nil
}

func (t *memTx) GetTransactionForUpdate(_ context.Context, id string) (*domain.Transaction, error) {
	txn, ok := t.st.transactions[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return &txn, nil
}

func (t *memTx) TransitionTransaction(_ context.Context, id string, from, to domain.TransactionStatus) (bool, error) {
	txn, ok := t.st.transactions[id]
	if !ok || txn.Status != from {
		return false, nil
	}
	txn.Status = to
	txn.UpdatedAt = now()
	t.st.transactions[id] = txn
	return true, nil
}

func (t *memTx) InsertReport(_ context.Context, r *domain.ReportRequest) error {
	if _, ok := t.st.accounts[r.AccountIdentity]; !ok {
		return domain.ErrAccountNotFound
	}
	if r.IdempotencyKey != nil {
		if _, ok := t.st.idempotency[*r.IdempotencyKey]; ok {
			return domain.ErrIdempotencyConflict
		}
		t.st.idempotency[*r.IdempotencyKey] = r.ID
	}
	ts := now()
	r.CreatedAt, r.UpdatedAt = ts, ts
	t.st.reports[r.ID] = *copyReport(*r)
	return nil
}

func (t *memTx) GetReportForUpdate(_ context.Context, id string) (*domain.ReportRequest, error) {
	r, ok := t.st.reports[id]
	if !ok {
		return nil, domain.ErrReportNotFound
	}
	return copyReport(r), nil
}

func (t *memTx) GetReportByIdempotencyKey(_ context.Context, key string) (*domain.ReportRequest, error) {
	id, ok := t.st.idempotency[key]
	if !ok {
		return nil, domain.ErrReportNotFound
	}
	return copyReport(t.st.reports[id]), nil
}

func (t *memTx) UpdateReport(_ context.Context, r *domain.ReportRequest) error {
	if _, ok := t.st.reports[r.ID]; !ok {
		return domain.ErrReportNotFound
	}
	r.UpdatedAt = now()
	t.st.reports[r.ID] = *copyReport(*r)
	return nil
}

// copyReport detaches pointer and slice fields so callers never alias stored state.
func copyReport(r domain.ReportRequest) *domain.ReportRequest {
	c := r
	if r.PendingTransactionRef != nil {
		v := *r.PendingTransactionRef
		c.PendingTransactionRef = &v
	}
	if r.LastError != nil {
		v := *r.LastError
		c.LastError = &v
	}
	if r.IdempotencyKey != nil {
		v := *r.IdempotencyKey
		c.IdempotencyKey = &v
	}
	if r.FinishedAt != nil {
		v := *r.FinishedAt
		c.FinishedAt = &v
	}
	if r.ResultPayload != nil {
		c.ResultPayload = append([]byte(nil), r.ResultPayload...)
	}
	return &c
}
