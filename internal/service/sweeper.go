package service

import (
	"context"
	"fmt"
	"time"

	"github.com/punchamoorthee/reportledger/internal/domain"
)

// SweepStale fails and refunds requests that have not moved for longer than
// the configured sweep age. It returns how many requests it failed.
func (s *Service) SweepStale(ctx context.Context) (int, error) {
	before := s.now().Add(-s.cfg.SweepAfter)
	stale, err := s.store.ListStaleReports(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("list stale reports: %w", err)
	}

	swept := 0
	for _, r := range stale {
		reason := fmt.Sprintf("orphaned in %s since %s", r.Status, r.UpdatedAt.Format(time.RFC3339))
		st, err := s.settle(ctx, r.ID, failure(reason), domain.ReportPending, domain.ReportProcessing)
		if err != nil {
			s.log.Error().Err(err).Str("request_id", r.ID).Msg("sweep failed")
			continue
		}
		if st.applied {
			swept++
			sweptTotal.Inc()
		}
	}
	if swept > 0 {
		s.log.Info().Int("count", swept).Msg("swept orphaned reports")
	}
	return swept, nil
}

// RunSweeper calls SweepStale every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.SweepStale(ctx); err != nil {
				s.log.Error().Err(err).Msg("sweep pass failed")
			}
		}
	}
}
