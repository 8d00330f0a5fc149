package notify

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/punchamoorthee/reportledger/internal/domain"
)

// Log writes events to the process logger.
type Log struct {
	log zerolog.Logger
}

func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) Notify(_ context.Context, identity string, kind EventKind, payload Payload) error {
	l.log.Info().Str("account", identity).Str("event", string(kind)).Fields(map[string]any(payload)).Msg("account event")
	return nil
}

// Publisher is the part of *redis.Client used for events.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Redis publishes JSON events on a pub/sub channel for downstream email and
// in-app notification services.
type Redis struct {
	pub     Publisher
	channel string
}

func NewRedis(pub Publisher, channel string) *Redis {
	return &Redis{pub: pub, channel: channel}
}

func (r *Redis) Notify(ctx context.Context, identity string, kind EventKind, payload Payload) error {
	msg, err := encode(identity, kind, payload)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.pub.Publish(ctx, r.channel, msg).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", kind, err)
	}
	return nil
}

// AuditWriter is the part of the ledger store that keeps the audit trail.
type AuditWriter interface {
	AppendAudit(ctx context.Context, e *domain.AuditEntry) error
}

// Audit records every event in the audit_logs table.
type Audit struct {
	w AuditWriter
}

func NewAudit(w AuditWriter) *Audit {
	return &Audit{w: w}
}

func (a *Audit) Notify(ctx context.Context, identity string, kind EventKind, payload Payload) error {
	msg, err := encode(identity, kind, payload)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return a.w.AppendAudit(ctx, &domain.AuditEntry{
		AccountIdentity: identity,
		Event:           string(kind),
		Payload:         msg,
	})
}
