// Package bus carries card-history and catalog events between the API,
// the worker and, over NATS, other Harrier instances.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	// ErrScopeRequired is returned when a publish or subscribe has no scope.
	ErrScopeRequired = errors.New("scope is required")

	// ErrClosed is returned by a bus after Close.
	ErrClosed = errors.New("bus is closed")
)

// Metadata keys stamped on every envelope.
const (
	MetaTraceID = "trace_id"
	MetaSpanID  = "span_id"
)

// New creates a new event bus based on configuration.
// "channel" keeps events in-process; "nats" shares them across instances.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// envelope wraps a payload, carrying the publisher's span so handlers can
// continue the trace.
func envelope(ctx context.Context, scope, topic string, payload []byte) *domain.Message {
	msg := &domain.Message{
		ID:        uuid.New().String(),
		Scope:     scope,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string, 2),
		Timestamp: time.Now().UnixNano(),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		msg.Metadata[MetaTraceID] = sc.TraceID().String()
		msg.Metadata[MetaSpanID] = sc.SpanID().String()
	}
	return msg
}

// remoteContext attaches the publisher's span, if the envelope has one.
func remoteContext(ctx context.Context, msg *domain.Message) context.Context {
	tid, err := trace.TraceIDFromHex(msg.Metadata[MetaTraceID])
	if err != nil {
		return ctx
	}
	sid, err := trace.SpanIDFromHex(msg.Metadata[MetaSpanID])
	if err != nil {
		return ctx
	}
	return trace.ContextWithRemoteSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}))
}

// dispatch runs handler and logs a failure; handlers own their retries.
func dispatch(ctx context.Context, msg *domain.Message, handler domain.MessageHandler) error {
	err := handler(remoteContext(ctx, msg), msg)
	if err != nil {
		slog.Error("event handler failed",
			"topic", msg.Topic,
			"scope", msg.Scope,
			"message_id", msg.ID,
			"error", err,
		)
	}
	return err
}

var subjectEscaper = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")

// subject maps a scoped topic to a NATS subject. Scope characters that NATS
// treats as separators or wildcards are replaced.
func subject(scope, topic string) string {
	return topic + "." + subjectEscaper.Replace(scope)
}
