package store

import (
	"context"
	"math"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/reportledger/internal/domain"
)

// Runs against a real database when REPORTLEDGER_TEST_DB holds a connection string.
func newTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("REPORTLEDGER_TEST_DB")
	if dsn == "" {
		t.Skip("REPORTLEDGER_TEST_DB not set")
	}
	ctx := context.Background()
	s, err := NewPostgres(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgres_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()
	identity := "pg-" + uuid.NewString() + "@example.com"

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.InsertAccount(ctx, identity); err != nil {
			return err
		}
		_, err := tx.Credit(ctx, identity, 5)
		return err
	}))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		charged int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
				if _, err := tx.LockAccount(ctx, identity); err != nil {
					return err
				}
				ok, _, err := tx.DebitIfSufficient(ctx, identity, 1)
				if err != nil || !ok {
					return err
				}
				mu.Lock()
				charged++
				mu.Unlock()
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	acc, err := s.GetAccount(ctx, identity)
	require.NoError(t, err)
	require.Equal(t, int64(0), acc.Balance)
	require.Equal(t, 5, charged)
}

func TestPostgres_IdempotencyKeyConflict(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()
	identity := "pg-" + uuid.NewString() + "@example.com"
	key := uuid.NewString()

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.InsertAccount(ctx, identity)
		return err
	}))

	insert := func() error {
		return s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.InsertReport(ctx, &domain.ReportRequest{
				ID: uuid.NewString(), AccountIdentity: identity, Status: domain.ReportPending, IdempotencyKey: &key,
			})
		})
	}
	require.NoError(t, insert())
	require.ErrorIs(t, insert(), domain.ErrIdempotencyConflict)
}

func TestPostgres_CreditRejectsOverflow(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()
	identity := "pg-" + uuid.NewString() + "@example.com"

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.InsertAccount(ctx, identity); err != nil {
			return err
		}
		_, err := tx.Credit(ctx, identity, 1)
		return err
	}))

	err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.Credit(ctx, identity, math.MaxInt64)
		return err
	})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	acc, err := s.GetAccount(ctx, identity)
	require.NoError(t, err)
	require.Equal(t, int64(1), acc.Balance)
}
