// Package notify delivers best-effort account events: report outcomes,
// refunds and balance warnings. Delivery never affects the ledger.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type EventKind string

const (
	EventReportCompleted  EventKind = "report_completed"
	EventReportFailed     EventKind = "report_failed"
	EventCreditRefunded   EventKind = "credit_refunded"
	EventLowBalance       EventKind = "low_balance"
	EventCreditsExhausted EventKind = "credits_exhausted"
	EventCreditsGranted   EventKind = "credits_granted"
)

// Payload is the event body. Values must be JSON encodable.
type Payload map[string]any

// Sink receives events for one account.
type Sink interface {
	Notify(ctx context.Context, identity string, kind EventKind, payload Payload) error
}

// Event is the wire form published by sinks that serialise.
type Event struct {
	Account    string    `json:"account"`
	Kind       EventKind `json:"kind"`
	Payload    Payload   `json:"payload,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func encode(identity string, kind EventKind, payload Payload) ([]byte, error) {
	return json.Marshal(Event{Account: identity, Kind: kind, Payload: payload, OccurredAt: time.Now().UTC()})
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, identity string, kind EventKind, payload Payload) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, identity, kind, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Safe wraps a sink so that errors and panics are logged and dropped. The
// core flow only ever talks to a Safe.
type Safe struct {
	sink    Sink
	log     zerolog.Logger
	timeout time.Duration
}

func NewSafe(sink Sink, log zerolog.Logger) *Safe {
	return &Safe{sink: sink, log: log, timeout: 5 * time.Second}
}

func (s *Safe) Notify(ctx context.Context, identity string, kind EventKind, payload Payload) {
	if s == nil || s.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("account", identity).Str("event", string(kind)).
				Err(fmt.Errorf("panic: %v", r)).Msg("notification sink panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.sink.Notify(ctx, identity, kind, payload); err != nil {
		s.log.Warn().Err(err).Str("account", identity).Str("event", string(kind)).Msg("notification dropped")
	}
}
