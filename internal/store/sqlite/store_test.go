package sqlite

import (
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/reportledger/internal/domain"
	"github.com/punchamoorthee/reportledger/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *Store, identity string, balance int64) {
	t.Helper()
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.InsertAccount(ctx, identity); err != nil {
			return err
		}
		_, err := tx.Credit(ctx, identity, balance)
		return err
	}))
}

func TestStore_AccountLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s, "a@example.com", 3)

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.InsertAccount(ctx, "a@example.com")
		return err
	})
	require.ErrorIs(t, err, domain.ErrAccountExists)

	acc, err := s.GetAccount(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, int64(3), acc.Balance)

	_, err = s.GetAccount(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestStore_DebitIfSufficient(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s, "a@example.com", 1)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ok, bal, err := tx.DebitIfSufficient(ctx, "a@example.com", 1)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, int64(0), bal)

		ok, bal, err = tx.DebitIfSufficient(ctx, "a@example.com", 1)
		require.NoError(t, err)
		require.False(t, ok)
		require.Equal(t, int64(0), bal)
		return nil
	}))
}

func TestStore_CreditRejectsOverflow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s, "a@example.com", 1)

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Credit(ctx, "a@example.com", math.MaxInt64)
		return err
	})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	acc, err := s.GetAccount(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, int64(1), acc.Balance)

	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Credit(ctx, "missing", 1)
		return err
	})
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestStore_ReportRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s, "a@example.com", 1)

	ref := "txn-1"
	key := "idem-1"
	report := &domain.ReportRequest{
		ID:                    "rep-1",
		AccountIdentity:       "a@example.com",
		Status:                domain.ReportPending,
		ReportType:            domain.ReportPremium,
		PendingTransactionRef: &ref,
		Input:                 domain.BusinessIdea{Title: "Cafe", Description: "Coffee by the sea"},
		IdempotencyKey:        &key,
		RequestHash:           "abc",
	}
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertTransaction(ctx, &domain.Transaction{
			ID: ref, AccountIdentity: "a@example.com", Kind: domain.KindUsage,
			CreditDelta: -1, Status: domain.TxPending, Reference: "rep-1",
		}); err != nil {
			return err
		}
		return tx.InsertReport(ctx, report)
	}))

	got, err := s.GetReport(ctx, "rep-1")
	require.NoError(t, err)
	require.Equal(t, domain.ReportPremium, got.ReportType)
	require.Equal(t, "Cafe", got.Input.Title)
	require.NotNil(t, got.PendingTransactionRef)
	require.Equal(t, ref, *got.PendingTransactionRef)
	require.Nil(t, got.FinishedAt)

	finished := time.Now().UTC()
	got.Status = domain.ReportCompleted
	got.PendingTransactionRef = nil
	got.ResultPayload = json.RawMessage(`{"summary":"ok"}`)
	got.FinishedAt = &finished
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.UpdateReport(ctx, got)
	}))

	again, err := s.GetReport(ctx, "rep-1")
	require.NoError(t, err)
	require.Equal(t, domain.ReportCompleted, again.Status)
	require.Nil(t, again.PendingTransactionRef)
	require.JSONEq(t, `{"summary":"ok"}`, string(again.ResultPayload))
	require.NotNil(t, again.FinishedAt)

	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertReport(ctx, &domain.ReportRequest{
			ID: "rep-2", AccountIdentity: "a@example.com", Status: domain.ReportPending, IdempotencyKey: &key,
		})
	})
	require.ErrorIs(t, err, domain.ErrIdempotencyConflict)
}

func TestStore_TransitionAndListing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s, "a@example.com", 1)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertTransaction(ctx, &domain.Transaction{
			ID: "t1", AccountIdentity: "a@example.com", Kind: domain.KindUsage,
			CreditDelta: -1, Status: domain.TxPending, Reference: "rep-1",
		})
	}))

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ok, err := tx.TransitionTransaction(ctx, "t1", domain.TxPending, domain.TxCompleted)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = tx.TransitionTransaction(ctx, "t1", domain.TxPending, domain.TxRefunded)
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	}))

	txns, err := s.ListTransactionsByReference(ctx, "rep-1")
	require.NoError(t, err)
	require.Len(t, txns, 1)
	require.Equal(t, domain.TxCompleted, txns[0].Status)

	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertTransaction(ctx, &domain.Transaction{
			ID: "t2", AccountIdentity: "a@example.com", Kind: domain.KindUsage,
			CreditDelta: -1, Status: domain.TxPending, Reference: "rep-1",
		})
	})
	require.ErrorIs(t, err, domain.ErrStorage)
}

func TestStore_CreditCosts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, ok, err := s.CreditCost(ctx, domain.CostKindPremiumReport)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetCreditCost(ctx, domain.CostKindPremiumReport, 2))
	require.NoError(t, s.SetCreditCost(ctx, domain.CostKindPremiumReport, 3))

	cost, ok, err := s.CreditCost(ctx, domain.CostKindPremiumReport)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(3), cost)
}

func TestStore_Audit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.AppendAudit(ctx, &domain.AuditEntry{AccountIdentity: "a@example.com", Event: "low_balance"}))
	require.NoError(t, s.AppendAudit(ctx, &domain.AuditEntry{
		AccountIdentity: "a@example.com", Event: "credits_exhausted", Payload: json.RawMessage(`{"balance":0}`),
	}))

	entries, err := s.ListAudit(ctx, "a@example.com", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "credits_exhausted", entries[0].Event)
}
