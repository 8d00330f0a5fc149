package settings

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/reportledger/internal/domain"
	"github.com/punchamoorthee/reportledger/internal/store"
)

func TestStatic(t *testing.T) {
	s := Static{domain.CostKindPremiumReport: 1}

	cost, err := s.Cost(context.Background(), domain.CostKindPremiumReport)
	require.NoError(t, err)
	require.Equal(t, int64(1), cost)

	_, err = s.Cost(context.Background(), "chained_analysis")
	require.ErrorIs(t, err, domain.ErrInvalidKind)
}

func TestStoreBacked(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	s := NewStoreBacked(mem, Static{domain.CostKindPremiumReport: 1}, zerolog.Nop())

	cost, err := s.Cost(ctx, domain.CostKindPremiumReport)
	require.NoError(t, err)
	require.Equal(t, int64(1), cost, "falls back to default")

	require.NoError(t, s.SetCost(ctx, domain.CostKindPremiumReport, 4))
	cost, err = s.Cost(ctx, domain.CostKindPremiumReport)
	require.NoError(t, err)
	require.Equal(t, int64(4), cost)

	require.ErrorIs(t, s.SetCost(ctx, domain.CostKindPremiumReport, 0), domain.ErrInvalidAmount)
	require.ErrorIs(t, s.SetCost(ctx, "unknown", 2), domain.ErrInvalidKind)
}
