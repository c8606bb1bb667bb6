package bus

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/harrier/internal/domain"
)

// collect returns a handler that forwards messages to a buffered channel.
func collect(n int) (domain.MessageHandler, <-chan *domain.Message) {
	ch := make(chan *domain.Message, n)
	return func(_ context.Context, msg *domain.Message) error {
		ch <- msg
		return nil
	}, ch
}

func receive(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func expectNone(t *testing.T, ch <-chan *domain.Message) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message %s on %s", msg.ID, msg.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()
	ctx := context.Background()

	t.Run("DeliversEnvelope", func(t *testing.T) {
		handler, got := collect(1)
		if _, err := bus.Subscribe(ctx, "user-001", domain.TopicCardsChanged, handler); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}

		payload, _ := json.Marshal(domain.CardsChangedEvent{UserID: "user-001", CardID: "gold", Action: "saved"})
		if err := bus.Publish(ctx, "user-001", domain.TopicCardsChanged, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		msg := receive(t, got)
		if msg.Scope != "user-001" || msg.Topic != domain.TopicCardsChanged || msg.ID == "" {
			t.Errorf("unexpected envelope %+v", msg)
		}
		var evt domain.CardsChangedEvent
		if err := json.Unmarshal(msg.Payload, &evt); err != nil || evt.CardID != "gold" {
			t.Errorf("payload not preserved: %s", msg.Payload)
		}
	})

	t.Run("ScopeIsolation", func(t *testing.T) {
		h1, got1 := collect(1)
		h2, got2 := collect(1)
		bus.Subscribe(ctx, "user-a", domain.TopicIssuerStatus, h1)
		bus.Subscribe(ctx, "user-b", domain.TopicIssuerStatus, h2)

		bus.Publish(ctx, "user-a", domain.TopicIssuerStatus, []byte("{}"))

		receive(t, got1)
		expectNone(t, got2)
	})

	t.Run("FanOut", func(t *testing.T) {
		h1, got1 := collect(1)
		h2, got2 := collect(1)
		bus.Subscribe(ctx, domain.GlobalScope, domain.TopicCatalogUpdated, h1)
		bus.Subscribe(ctx, domain.GlobalScope, domain.TopicCatalogUpdated, h2)

		bus.Publish(ctx, domain.GlobalScope, domain.TopicCatalogUpdated, []byte(`{"version":"v2"}`))

		receive(t, got1)
		receive(t, got2)
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		handler, got := collect(2)
		sub, _ := bus.Subscribe(ctx, "user-001", "unsub.topic", handler)
		if sub.Topic() != "unsub.topic" {
			t.Errorf("expected topic 'unsub.topic', got '%s'", sub.Topic())
		}

		bus.Publish(ctx, "user-001", "unsub.topic", []byte("1"))
		receive(t, got)

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("Unsubscribe failed: %v", err)
		}
		bus.Publish(ctx, "user-001", "unsub.topic", []byte("2"))
		expectNone(t, got)
	})

	t.Run("RequiresScope", func(t *testing.T) {
		if err := bus.Publish(ctx, "", "topic", nil); !errors.Is(err, ErrScopeRequired) {
			t.Errorf("expected ErrScopeRequired, got %v", err)
		}
		if _, err := bus.Subscribe(ctx, "", "topic", func(context.Context, *domain.Message) error { return nil }); !errors.Is(err, ErrScopeRequired) {
			t.Errorf("expected ErrScopeRequired, got %v", err)
		}
	})

	t.Run("CancelledContextStopsHandler", func(t *testing.T) {
		subCtx, cancel := context.WithCancel(ctx)
		handler, got := collect(1)
		bus.Subscribe(subCtx, "user-001", "cancel.topic", handler)
		cancel()

		bus.Publish(ctx, "user-001", "cancel.topic", []byte("x"))
		expectNone(t, got)
	})
}

func TestChannelBusTraceContext(t *testing.T) {
	bus := NewChannelBus(10)
	defer bus.Close()

	tid, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	sid, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	pubCtx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
	}))

	seen := make(chan trace.SpanContext, 1)
	bus.Subscribe(context.Background(), "user-001", "traced", func(ctx context.Context, msg *domain.Message) error {
		seen <- trace.SpanContextFromContext(ctx)
		return nil
	})

	if err := bus.Publish(pubCtx, "user-001", "traced", nil); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case sc := <-seen:
		if sc.TraceID() != tid || sc.SpanID() != sid || !sc.IsRemote() {
			t.Errorf("handler did not continue the publisher's trace: %+v", sc)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	if msg := envelope(context.Background(), "s", "t", nil); len(msg.Metadata) != 0 {
		t.Errorf("untraced publish should carry no trace metadata, got %v", msg.Metadata)
	}
}

func TestChannelBusStats(t *testing.T) {
	bus := NewChannelBus(10)
	defer bus.Close()
	ctx := context.Background()

	done := make(chan struct{}, 2)
	var calls atomic.Int32
	bus.Subscribe(ctx, "user-001", "stats", func(context.Context, *domain.Message) error {
		defer func() { done <- struct{}{} }()
		if calls.Add(1) == 2 {
			return errors.New("boom")
		}
		return nil
	})

	bus.Publish(ctx, "user-001", "stats", nil)
	bus.Publish(ctx, "user-001", "stats", nil)
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for handler")
		}
	}

	// Counters are bumped after the handler returns.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s := bus.Stats(); s.Delivered == 1 && s.Failed == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("expected 1 delivered and 1 failed, got %+v", bus.Stats())
}

func TestChannelBusDropsWhenFull(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()

	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	bus.Subscribe(ctx, "user-001", "slow.topic", func(ctx context.Context, msg *domain.Message) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	bus.Publish(ctx, "user-001", "slow.topic", []byte("1"))
	<-started
	bus.Publish(ctx, "user-001", "slow.topic", []byte("2"))
	bus.Publish(ctx, "user-001", "slow.topic", []byte("3"))
	close(release)

	if bus.Dropped() != 1 {
		t.Errorf("expected 1 dropped delivery, got %d", bus.Dropped())
	}
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(10)
	ctx := context.Background()

	sub, _ := bus.Subscribe(ctx, "user-001", "close.topic", func(context.Context, *domain.Message) error { return nil })

	if err := bus.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if err := bus.Publish(ctx, "user-001", "close.topic", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Publish, got %v", err)
	}
	if _, err := bus.Subscribe(ctx, "user-001", "close.topic", func(context.Context, *domain.Message) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Subscribe, got %v", err)
	}
	if err := bus.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Ping, got %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("Unsubscribe after Close failed: %v", err)
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer b.Close()

		cb, ok := b.(*ChannelBus)
		if !ok {
			t.Fatal("expected ChannelBus for channel type")
		}
		if cb.queueSize != 50 {
			t.Errorf("expected queue size 50, got %d", cb.queueSize)
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestSubject(t *testing.T) {
	tests := []struct {
		scope, topic, want string
	}{
		{"user-001", domain.TopicCardsChanged, "harrier.cards.changed.user-001"},
		{domain.GlobalScope, domain.TopicCatalogUpdated, "harrier.catalog.updated._global"},
		{"a.b c*>", "t", "t.a_b_c__"},
	}

	for _, tt := range tests {
		if got := subject(tt.scope, tt.topic); got != tt.want {
			t.Errorf("subject(%q, %q) = %q, want %q", tt.scope, tt.topic, got, tt.want)
		}
	}
}

// TestNATSBus runs against a live server when HARRIER_TEST_NATS_URL is set.
func TestNATSBus(t *testing.T) {
	url := os.Getenv("HARRIER_TEST_NATS_URL")
	if url == "" {
		t.Skip("HARRIER_TEST_NATS_URL not set")
	}

	bus, err := NewNATSBus(domain.EventBusConfig{NATSUrl: url, NATSMaxReconnects: 1, NATSReconnectWait: 1})
	if err != nil {
		t.Fatalf("NewNATSBus failed: %v", err)
	}
	defer bus.Close()
	ctx := context.Background()

	if err := bus.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	scope := "nats-test." + time.Now().Format("150405.000")
	handler, got := collect(1)
	sub, err := bus.Subscribe(ctx, scope, domain.TopicIssuerStatus, handler)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()
	if err := bus.conn.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if err := bus.Publish(ctx, scope, domain.TopicIssuerStatus, []byte(`{"userId":"u"}`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	msg := receive(t, got)
	if msg.Scope != scope || string(msg.Payload) != `{"userId":"u"}` {
		t.Errorf("unexpected envelope %+v", msg)
	}
}
