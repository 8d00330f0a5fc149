package service

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"github.com/google/uuid"

	"github.com/punchamoorthee/reportledger/internal/domain"
	"github.com/punchamoorthee/reportledger/internal/notify"
	"github.com/punchamoorthee/reportledger/internal/store"
)

// Outcome is what a finalization did to the reservation of one request.
type Outcome struct {
	Refunded          bool                     `json:"refunded"`
	AlreadyFinalized  bool                     `json:"already_finalized"`
	TransactionStatus domain.TransactionStatus `json:"transaction_status,omitempty"`
	Amount            int64                    `json:"amount,omitempty"`
	Balance           int64                    `json:"balance,omitempty"`
}

// Finalize resolves the pending usage transaction of a request that has
// already reached its terminal status: completed on success, refunded on
// failure. Calling it again for the same request is a no-op that returns
// Refunded false. A request still in flight is refused with
// ErrInvalidTransition; FailReport is the way to end one early.
func (s *Service) Finalize(ctx context.Context, requestID string, success bool, errorMessage string) (Outcome, error) {
	var (
		out    Outcome
		report *domain.ReportRequest
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := tx.GetReportForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		report = r
		if r.PendingTransactionRef != nil {
			if !r.Status.Terminal() {
				return fmt.Errorf("finalize in status %s: %w", r.Status, domain.ErrInvalidTransition)
			}
			if success != (r.Status == domain.ReportCompleted) {
				return fmt.Errorf("finalize success=%t in status %s: %w", success, r.Status, domain.ErrInvalidTransition)
			}
		}
		if out, err = s.finalizeTx(ctx, tx, r, success, errorMessage); err != nil {
			return err
		}
		if out.AlreadyFinalized {
			return nil
		}
		return tx.UpdateReport(ctx, r)
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("finalize %s: %w", requestID, err)
	}
	if out.Refunded {
		s.notifyRefund(ctx, report, out)
	}
	return out, nil
}

// finalizeTx settles r's reservation inside tx and clears the reference on r.
// The caller persists r. The pending -> terminal compare-and-swap on the
// transaction gates every mutation, so a repeated call cannot refund twice.
func (s *Service) finalizeTx(ctx context.Context, tx store.Tx, r *domain.ReportRequest, success bool, errorMessage string) (Outcome, error) {
	if r.PendingTransactionRef == nil {
		return Outcome{AlreadyFinalized: true}, nil
	}
	txn, err := tx.GetTransactionForUpdate(ctx, *r.PendingTransactionRef)
	if err != nil {
		return Outcome{}, err
	}
	if txn.Status != domain.TxPending {
		return Outcome{AlreadyFinalized: true, TransactionStatus: txn.Status}, nil
	}

	if success {
		ok, err := tx.TransitionTransaction(ctx, txn.ID, domain.TxPending, domain.TxCompleted)
		if err != nil {
			return Outcome{}, err
		}
		if !ok {
			return s.reloadOutcome(ctx, tx, txn.ID)
		}
		r.PendingTransactionRef = nil
		return Outcome{TransactionStatus: domain.TxCompleted, Amount: txn.ChargedAmount()}, nil
	}

	if _, err := tx.LockAccount(ctx, txn.AccountIdentity); err != nil {
		return Outcome{}, err
	}
	ok, err := tx.TransitionTransaction(ctx, txn.ID, domain.TxPending, domain.TxRefunded)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return s.reloadOutcome(ctx, tx, txn.ID)
	}

	amount := txn.ChargedAmount()
	balance, err := tx.Credit(ctx, txn.AccountIdentity, amount)
	if err != nil {
		return Outcome{}, err
	}
	if err := tx.InsertTransaction(ctx, &domain.Transaction{
		ID:              uuid.NewString(),
		AccountIdentity: txn.AccountIdentity,
		Kind:            domain.KindRefund,
		CreditDelta:     amount,
		Status:          domain.TxCompleted,
		Reference:       r.ID,
		Description:     "refund of " + txn.ID,
	}); err != nil {
		return Outcome{}, err
	}

	r.PendingTransactionRef = nil
	if errorMessage != "" {
		msg := errorMessage
		r.LastError = &msg
	}
	return Outcome{Refunded: true, TransactionStatus: domain.TxRefunded, Amount: amount, Balance: balance}, nil
}

func (s *Service) reloadOutcome(ctx context.Context, tx store.Tx, id string) (Outcome, error) {
	txn, err := tx.GetTransactionForUpdate(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{AlreadyFinalized: true, TransactionStatus: txn.Status}, nil
}

type result struct {
	success  bool
	payload  json.RawMessage
	degraded bool
	errMsg   string
}

func failure(msg string) result { return result{errMsg: msg} }

type settlement struct {
	report  *domain.ReportRequest
	outcome Outcome
	applied bool
}

// settle moves a request from one of the from statuses to completed or
// failed and finalizes its reservation in the same commit. A request found in
// any other status is returned untouched with applied false.
func (s *Service) settle(ctx context.Context, requestID string, res result, from ...domain.ReportStatus) (settlement, error) {
	var st settlement
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := tx.GetReportForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		st = settlement{report: r}
		if !slices.Contains(from, r.Status) {
			return nil
		}

		to := domain.ReportFailed
		if res.success {
			to = domain.ReportCompleted
		}
		if !r.Status.CanTransition(to) {
			return fmt.Errorf("%s -> %s: %w", r.Status, to, domain.ErrInvalidTransition)
		}

		finished := s.now()
		r.Status = to
		r.FinishedAt = &finished
		if res.success {
			r.ResultPayload = res.payload
			r.Degraded = res.degraded
		} else {
			msg := res.errMsg
			r.LastError = &msg
		}

		out, err := s.finalizeTx(ctx, tx, r, res.success, res.errMsg)
		if err != nil {
			return err
		}
		if err := tx.UpdateReport(ctx, r); err != nil {
			return err
		}
		st.outcome = out
		st.applied = true
		return nil
	})
	if err != nil {
		return settlement{}, fmt.Errorf("settle %s: %w", requestID, err)
	}
	if st.applied {
		s.afterSettle(ctx, st)
	}
	return st, nil
}

func (s *Service) afterSettle(ctx context.Context, st settlement) {
	r := st.report
	settlementsTotal.WithLabelValues(string(r.Status), strconv.FormatBool(st.outcome.Refunded)).Inc()

	log := s.log.With().Str("request_id", r.ID).Str("account", r.AccountIdentity).
		Str("report_type", string(r.ReportType)).Logger()

	if r.Status == domain.ReportCompleted {
		log.Info().Bool("degraded", r.Degraded).Msg("report completed")
		s.notify.Notify(ctx, r.AccountIdentity, notify.EventReportCompleted, notify.Payload{
			"request_id":  r.ID,
			"report_type": r.ReportType,
			"degraded":    r.Degraded,
		})
		return
	}

	log.Warn().Str("last_error", deref(r.LastError)).Bool("refunded", st.outcome.Refunded).Msg("report failed")
	s.notify.Notify(ctx, r.AccountIdentity, notify.EventReportFailed, notify.Payload{
		"request_id":  r.ID,
		"report_type": r.ReportType,
		"refunded":    st.outcome.Refunded,
	})
	if st.outcome.Refunded {
		s.notifyRefund(ctx, r, st.outcome)
	}
}

func (s *Service) notifyRefund(ctx context.Context, r *domain.ReportRequest, out Outcome) {
	s.notify.Notify(ctx, r.AccountIdentity, notify.EventCreditRefunded, notify.Payload{
		"request_id": r.ID,
		"amount":     out.Amount,
		"balance":    out.Balance,
	})
}

// FailResult is the state of a request after a forced failure.
type FailResult struct {
	Report  *domain.ReportRequest `json:"report"`
	Outcome Outcome               `json:"outcome"`
}

// FailReport forces a pending or processing request into failed and refunds
// its reservation. It is the cleanup path for requests whose background job
// was lost. A completed request cannot be failed; a failed one is returned as
// is.
func (s *Service) FailReport(ctx context.Context, requestID, reason string) (*FailResult, error) {
	if reason == "" {
		reason = "failed by caller"
	}
	st, err := s.settle(ctx, requestID, failure(reason), domain.ReportPending, domain.ReportProcessing)
	if err != nil {
		return nil, err
	}
	if st.applied {
		return &FailResult{Report: st.report, Outcome: st.outcome}, nil
	}

	switch st.report.Status {
	case domain.ReportCompleted:
		return nil, fmt.Errorf("fail %s: %w", requestID, domain.ErrAlreadyCompleted)
	default:
		// already failed; finalizing again only reports the settled state
		out, err := s.Finalize(ctx, requestID, false, reason)
		if err != nil {
			return nil, err
		}
		report, err := s.store.GetReport(ctx, requestID)
		if err != nil {
			return nil, err
		}
		return &FailResult{Report: report, Outcome: out}, nil
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
