// Package settings supplies the credit cost of billable operations.
package settings

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/punchamoorthee/reportledger/internal/domain"
)

// Provider returns the current cost for a billable kind. Callers must read it
// once per reservation; the value may change between calls.
type Provider interface {
	Cost(ctx context.Context, kind string) (int64, error)
}

// Static serves costs from a fixed table.
type Static map[string]int64

func (s Static) Cost(_ context.Context, kind string) (int64, error) {
	cost, ok := s[kind]
	if !ok {
		return 0, fmt.Errorf("cost for %q: %w", kind, domain.ErrInvalidKind)
	}
	return cost, nil
}

// CostStore is the slice of the ledger store that holds runtime cost overrides.
type CostStore interface {
	CreditCost(ctx context.Context, kind string) (int64, bool, error)
	SetCreditCost(ctx context.Context, kind string, cost int64) error
}

// StoreBacked reads overrides from the credit_costs table and falls back to
// the static defaults when a kind has no row.
type StoreBacked struct {
	store    CostStore
	defaults Static
	log      zerolog.Logger
}

func NewStoreBacked(store CostStore, defaults Static, log zerolog.Logger) *StoreBacked {
	return &StoreBacked{store: store, defaults: defaults, log: log}
}

func (s *StoreBacked) Cost(ctx context.Context, kind string) (int64, error) {
	cost, found, err := s.store.CreditCost(ctx, kind)
	if err != nil {
		return 0, err
	}
	if found {
		return cost, nil
	}
	return s.defaults.Cost(ctx, kind)
}

// SetCost persists an override. Reservations already made keep the cost they
// were charged.
func (s *StoreBacked) SetCost(ctx context.Context, kind string, cost int64) error {
	if cost <= 0 {
		return domain.ErrInvalidAmount
	}
	if _, known := s.defaults[kind]; !known {
		return fmt.Errorf("cost for %q: %w", kind, domain.ErrInvalidKind)
	}
	if err := s.store.SetCreditCost(ctx, kind, cost); err != nil {
		return err
	}
	s.log.Info().Str("kind", kind).Int64("cost", cost).Msg("credit cost updated")
	return nil
}
