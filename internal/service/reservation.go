package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/punchamoorthee/reportledger/internal/domain"
	"github.com/punchamoorthee/reportledger/internal/notify"
	"github.com/punchamoorthee/reportledger/internal/store"
	"github.com/punchamoorthee/reportledger/internal/worker"
)

// Reservation is the billing decision for one report request.
type Reservation struct {
	ReportType     domain.ReportType `json:"report_type"`
	TransactionRef *string           `json:"transaction_ref,omitempty"`
	Cost           int64             `json:"cost,omitempty"`
	Balance        int64             `json:"balance"`
}

// Reserve takes the billing decision for an existing pending request. A
// request that was already reserved keeps its decision.
func (s *Service) Reserve(ctx context.Context, identity, requestID string) (Reservation, error) {
	cost, err := s.premiumCost(ctx)
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve %s: %w", requestID, err)
	}

	var (
		res   Reservation
		fresh bool
	)
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := tx.GetReportForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if r.AccountIdentity != identity {
			return fmt.Errorf("report %s belongs to another account: %w", requestID, domain.ErrInvalidInput)
		}
		if r.Reserved() {
			res = Reservation{ReportType: r.ReportType, TransactionRef: r.PendingTransactionRef}
			return nil
		}
		if r.Status != domain.ReportPending {
			return fmt.Errorf("reserve %s in status %s: %w", requestID, r.Status, domain.ErrInvalidTransition)
		}
		res, err = s.reserveTx(ctx, tx, r, cost)
		fresh = err == nil
		return err
	})
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve %s: %w", requestID, err)
	}
	if fresh {
		s.afterReserve(ctx, identity, requestID, res)
	}
	return res, nil
}

// premiumCost reads the current price before any transaction opens. Settings
// may live in the same store, which must not be re-entered from inside WithTx.
func (s *Service) premiumCost(ctx context.Context) (int64, error) {
	cost, err := s.costs.Cost(ctx, domain.CostKindPremiumReport)
	if err != nil {
		return 0, err
	}
	if cost <= 0 {
		return 0, fmt.Errorf("premium cost %d: %w", cost, domain.ErrInvalidAmount)
	}
	return cost, nil
}

// reserveTx debits cost when the balance covers it and records the decision
// on r. The cost is pinned on the usage transaction; refunds never consult
// settings again.
func (s *Service) reserveTx(ctx context.Context, tx store.Tx, r *domain.ReportRequest, cost int64) (Reservation, error) {
	if _, err := tx.LockAccount(ctx, r.AccountIdentity); err != nil {
		return Reservation{}, err
	}
	ok, balance, err := tx.DebitIfSufficient(ctx, r.AccountIdentity, cost)
	if err != nil {
		return Reservation{}, err
	}
	if !ok {
		r.ReportType = domain.ReportFree
		if err := tx.UpdateReport(ctx, r); err != nil {
			return Reservation{}, err
		}
		return Reservation{ReportType: domain.ReportFree, Balance: balance}, nil
	}

	txn := &domain.Transaction{
		ID:              uuid.NewString(),
		AccountIdentity: r.AccountIdentity,
		Kind:            domain.KindUsage,
		CreditDelta:     -cost,
		Status:          domain.TxPending,
		Reference:       r.ID,
		Description:     "premium report",
	}
	if err := tx.InsertTransaction(ctx, txn); err != nil {
		return Reservation{}, err
	}

	r.ReportType = domain.ReportPremium
	r.PendingTransactionRef = &txn.ID
	if err := tx.UpdateReport(ctx, r); err != nil {
		return Reservation{}, err
	}
	ref := txn.ID
	return Reservation{ReportType: domain.ReportPremium, TransactionRef: &ref, Cost: cost, Balance: balance}, nil
}

func (s *Service) afterReserve(ctx context.Context, identity, requestID string, res Reservation) {
	reservationsTotal.WithLabelValues(string(res.ReportType)).Inc()
	s.log.Info().Str("request_id", requestID).Str("account", identity).
		Str("report_type", string(res.ReportType)).Int64("balance", res.Balance).Msg("credit reserved")

	switch {
	case res.ReportType == domain.ReportFree:
		s.notify.Notify(ctx, identity, notify.EventCreditsExhausted, notify.Payload{
			"request_id": requestID,
			"balance":    res.Balance,
		})
	case res.Balance < s.cfg.LowBalanceThreshold:
		s.notify.Notify(ctx, identity, notify.EventLowBalance, notify.Payload{
			"balance":   res.Balance,
			"threshold": s.cfg.LowBalanceThreshold,
		})
	}
}

type SubmitRequest struct {
	AccountIdentity string
	Idea            domain.BusinessIdea
	IdempotencyKey  string
	RequestHash     string
}

type SubmitResult struct {
	Report      *domain.ReportRequest
	Reservation Reservation
	Replayed    bool
}

// Submit creates a report request, reserves its credit in the same commit and
// queues it for generation. A repeated idempotency key with the same request
// hash replays the stored request without a second reservation.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if strings.TrimSpace(req.AccountIdentity) == "" {
		return nil, fmt.Errorf("account identity is required: %w", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(req.Idea.Title) == "" || strings.TrimSpace(req.Idea.Description) == "" {
		return nil, fmt.Errorf("idea title and description are required: %w", domain.ErrInvalidInput)
	}

	cost, err := s.premiumCost(ctx)
	if err != nil {
		return nil, err
	}

	var res SubmitResult
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if req.IdempotencyKey != "" {
			existing, err := tx.GetReportByIdempotencyKey(ctx, req.IdempotencyKey)
			switch {
			case err == nil:
				if existing.RequestHash != req.RequestHash || existing.AccountIdentity != req.AccountIdentity {
					return domain.ErrIdempotencyMismatch
				}
				res = SubmitResult{
					Report:      existing,
					Reservation: Reservation{ReportType: existing.ReportType, TransactionRef: existing.PendingTransactionRef},
					Replayed:    true,
				}
				return nil
			case !errors.Is(err, domain.ErrReportNotFound):
				return err
			}
		}

		// lock the account before the report insert references it
		if _, err := tx.LockAccount(ctx, req.AccountIdentity); err != nil {
			return err
		}

		r := &domain.ReportRequest{
			ID:              s.newID(),
			AccountIdentity: req.AccountIdentity,
			Status:          domain.ReportPending,
			Input:           req.Idea,
			RequestHash:     req.RequestHash,
		}
		if req.IdempotencyKey != "" {
			key := req.IdempotencyKey
			r.IdempotencyKey = &key
		}
		if err := tx.InsertReport(ctx, r); err != nil {
			return err
		}

		reservation, err := s.reserveTx(ctx, tx, r, cost)
		if err != nil {
			return err
		}
		res = SubmitResult{Report: r, Reservation: reservation}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log := s.log.With().Str("request_id", res.Report.ID).Str("account", req.AccountIdentity).Logger()
	if res.Replayed {
		log.Debug().Str("status", string(res.Report.Status)).Msg("idempotent replay")
		// Pending replays are queued again in case the first job was lost;
		// Process ignores a request that is no longer pending.
		if res.Report.Status == domain.ReportPending {
			s.sched.Submit(worker.Job{RequestID: res.Report.ID})
		}
		return &res, nil
	}
	s.afterReserve(ctx, req.AccountIdentity, res.Report.ID, res.Reservation)

	if !s.sched.Submit(worker.Job{RequestID: res.Report.ID}) {
		log.Warn().Msg("generation queue full, failing request")
		if _, err := s.settle(ctx, res.Report.ID, failure("generation queue full"), domain.ReportPending); err != nil {
			log.Error().Err(err).Msg("failed to release rejected request")
			return nil, err
		}
		return nil, fmt.Errorf("submit %s: %w", res.Report.ID, domain.ErrQueueFull)
	}
	return &res, nil
}
