// Package service implements the report billing flow: reserve a credit,
// generate the report off the request path, then settle the reservation.
package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/punchamoorthee/reportledger/internal/notify"
	"github.com/punchamoorthee/reportledger/internal/provider"
	"github.com/punchamoorthee/reportledger/internal/settings"
	"github.com/punchamoorthee/reportledger/internal/store"
	"github.com/punchamoorthee/reportledger/internal/worker"
)

// Scheduler queues a report for generation without blocking.
type Scheduler interface {
	Submit(job worker.Job) bool
}

type Config struct {
	ProviderTimeout     time.Duration
	MaxOutput           int
	LowBalanceThreshold int64
	SweepAfter          time.Duration
}

type Service struct {
	store  store.Store
	costs  settings.Provider
	gen    provider.Generator
	sched  Scheduler
	notify *notify.Safe
	log    zerolog.Logger
	cfg    Config

	now   func() time.Time
	newID func() string
}

func New(st store.Store, costs settings.Provider, gen provider.Generator, sched Scheduler, sink *notify.Safe, log zerolog.Logger, cfg Config) *Service {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 90 * time.Second
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = 4096
	}
	if cfg.SweepAfter <= 0 {
		cfg.SweepAfter = 2 * cfg.ProviderTimeout
	}
	return &Service{
		store:  st,
		costs:  costs,
		gen:    gen,
		sched:  sched,
		notify: sink,
		log:    log,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  newReportID,
	}
}

func newReportID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
