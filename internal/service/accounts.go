package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/punchamoorthee/reportledger/internal/domain"
	"github.com/punchamoorthee/reportledger/internal/notify"
	"github.com/punchamoorthee/reportledger/internal/store"
)

// OpenAccount registers a wallet, optionally with a signup bonus.
func (s *Service) OpenAccount(ctx context.Context, identity string, initialCredits int64) (*domain.Account, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, fmt.Errorf("account identity is required: %w", domain.ErrInvalidInput)
	}
	if initialCredits < 0 {
		return nil, domain.ErrInvalidAmount
	}

	var acc *domain.Account
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.InsertAccount(ctx, identity)
		if err != nil {
			return err
		}
		if initialCredits > 0 {
			if a.Balance, err = tx.Credit(ctx, identity, initialCredits); err != nil {
				return err
			}
			if err := tx.InsertTransaction(ctx, &domain.Transaction{
				ID:              uuid.NewString(),
				AccountIdentity: identity,
				Kind:            domain.KindBonus,
				CreditDelta:     initialCredits,
				Status:          domain.TxCompleted,
				Reference:       "signup",
				Description:     "signup bonus",
			}); err != nil {
				return err
			}
		}
		acc = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("account", identity).Int64("balance", acc.Balance).Msg("account opened")
	return acc, nil
}

type Grant struct {
	Kind        domain.TransactionKind
	Amount      int64
	Reference   string
	Description string
}

// GrantCredits applies a purchase, bonus or adjustment. Only adjustments may
// be negative, and they never take the balance below zero.
func (s *Service) GrantCredits(ctx context.Context, identity string, g Grant) (*domain.Transaction, int64, error) {
	if !g.Kind.Grantable() {
		return nil, 0, fmt.Errorf("grant kind %q: %w", g.Kind, domain.ErrInvalidKind)
	}
	if g.Amount == 0 || (g.Amount < 0 && g.Kind != domain.KindAdjustment) {
		return nil, 0, domain.ErrInvalidAmount
	}

	txn := &domain.Transaction{
		ID:              uuid.NewString(),
		AccountIdentity: identity,
		Kind:            g.Kind,
		CreditDelta:     g.Amount,
		Status:          domain.TxCompleted,
		Reference:       g.Reference,
		Description:     g.Description,
	}
	var balance int64
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.LockAccount(ctx, identity); err != nil {
			return err
		}
		var err error
		if g.Amount > 0 {
			balance, err = tx.Credit(ctx, identity, g.Amount)
		} else {
			var ok bool
			ok, balance, err = tx.DebitIfSufficient(ctx, identity, -g.Amount)
			if err == nil && !ok {
				err = domain.ErrInsufficientCredits
			}
		}
		if err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, txn)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("grant %s to %s: %w", g.Kind, identity, err)
	}

	s.log.Info().Str("account", identity).Str("kind", string(g.Kind)).
		Int64("amount", g.Amount).Int64("balance", balance).Msg("credits granted")
	s.notify.Notify(ctx, identity, notify.EventCreditsGranted, notify.Payload{
		"kind":    g.Kind,
		"amount":  g.Amount,
		"balance": balance,
	})
	return txn, balance, nil
}

func (s *Service) Account(ctx context.Context, identity string) (*domain.Account, error) {
	return s.store.GetAccount(ctx, identity)
}

func (s *Service) Transactions(ctx context.Context, identity string, limit int) ([]domain.Transaction, error) {
	return s.store.ListTransactions(ctx, identity, limit)
}

func (s *Service) Report(ctx context.Context, id string) (*domain.ReportRequest, error) {
	return s.store.GetReport(ctx, id)
}
