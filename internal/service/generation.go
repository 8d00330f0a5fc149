package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/punchamoorthee/reportledger/internal/domain"
	"github.com/punchamoorthee/reportledger/internal/report"
	"github.com/punchamoorthee/reportledger/internal/store"
	"github.com/punchamoorthee/reportledger/internal/worker"
)

var errNotPending = errors.New("report is not pending")

// Process is the worker handler for one report request. It owns the
// request's status for the whole run:
//
//	pending -> processing -> completed | failed
//
// The processing marker is committed before the provider is called. Provider
// failures and empty output fail the request and refund it; output that does
// not parse is stored raw and still completes.
func (s *Service) Process(ctx context.Context, job worker.Job) error {
	log := s.log.With().Str("request_id", job.RequestID).Logger()

	r, err := s.startProcessing(ctx, job.RequestID)
	if errors.Is(err, errNotPending) {
		log.Debug().Msg("report already picked up, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	start := time.Now()
	text, err := s.gen.Generate(genCtx, report.BuildPrompt(r.Input, r.ReportType), s.cfg.MaxOutput)
	cancel()

	// the outcome is recorded even when the pool is cancelling jobs
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		providerLatency.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return s.finish(ctx, r.ID, failure(err.Error()))
	}
	providerLatency.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	parsed, err := report.Parse(text)
	if err != nil {
		return s.finish(ctx, r.ID, failure(err.Error()))
	}
	return s.finish(ctx, r.ID, result{success: true, payload: parsed.Payload, degraded: parsed.Degraded})
}

func (s *Service) startProcessing(ctx context.Context, requestID string) (*domain.ReportRequest, error) {
	var report *domain.ReportRequest
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := tx.GetReportForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if r.Status != domain.ReportPending {
			return errNotPending
		}
		if !r.Reserved() {
			return fmt.Errorf("report %s has no billing decision: %w", requestID, domain.ErrInvalidTransition)
		}
		r.Status = domain.ReportProcessing
		if err := tx.UpdateReport(ctx, r); err != nil {
			return err
		}
		report = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// finish records the outcome unless someone else already settled the request
// (sweeper, forced fail) while the provider was running.
func (s *Service) finish(ctx context.Context, requestID string, res result) error {
	st, err := s.settle(ctx, requestID, res, domain.ReportProcessing)
	if err != nil {
		return err
	}
	if !st.applied {
		s.log.Warn().Str("request_id", requestID).Str("status", string(st.report.Status)).
			Msg("report settled elsewhere, discarding result")
	}
	return nil
}
