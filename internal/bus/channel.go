package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/harrier/internal/domain"
)

type route struct {
	scope string
	topic string
}

// ChannelBus delivers events in-process. Every subscriber owns a buffered
// queue drained by its own goroutine; a full queue drops the delivery.
type ChannelBus struct {
	queueSize int

	mu     sync.RWMutex
	routes map[route][]*queue
	closed bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// ChannelStats counts deliveries since the bus was created.
type ChannelStats struct {
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

type queue struct {
	route   route
	handler domain.MessageHandler
	in      chan *domain.Message
	ctx     context.Context
	stop    context.CancelFunc
	bus     *ChannelBus
}

// NewChannelBus creates an in-process bus whose subscriber queues hold
// queueSize messages.
func NewChannelBus(queueSize int) *ChannelBus {
	if queueSize <= 0 {
		queueSize = 1000
	}
	return &ChannelBus{
		queueSize: queueSize,
		routes:    make(map[route][]*queue),
	}
}

// Publish fans a message out to every subscriber of topic within scope.
func (b *ChannelBus) Publish(ctx context.Context, scope string, topic string, payload []byte) error {
	if scope == "" {
		return ErrScopeRequired
	}
	msg := envelope(ctx, scope, topic, payload)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	for _, q := range b.routes[route{scope, topic}] {
		select {
		case q.in <- msg:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe starts a queue for topic within scope. The handler runs until
// the subscription, ctx or the bus ends.
func (b *ChannelBus) Subscribe(ctx context.Context, scope string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if scope == "" {
		return nil, ErrScopeRequired
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	qctx, stop := context.WithCancel(ctx)
	q := &queue{
		route:   route{scope, topic},
		handler: handler,
		in:      make(chan *domain.Message, b.queueSize),
		ctx:     qctx,
		stop:    stop,
		bus:     b,
	}
	b.routes[q.route] = append(b.routes[q.route], q)
	go q.drain()

	return q, nil
}

func (q *queue) drain() {
	for {
		select {
		case <-q.ctx.Done():
			return
		case msg, ok := <-q.in:
			if !ok || q.ctx.Err() != nil {
				return
			}
			if err := dispatch(q.ctx, msg, q.handler); err != nil {
				q.bus.failed.Add(1)
				continue
			}
			q.bus.delivered.Add(1)
		}
	}
}

// Dropped reports deliveries skipped because a subscriber's queue was full.
func (b *ChannelBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Stats returns delivery counters.
func (b *ChannelBus) Stats() ChannelStats {
	return ChannelStats{
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
		Failed:    b.failed.Load(),
	}
}

// Ping fails once the bus is closed.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscriber. Later publishes and subscribes fail.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, queues := range b.routes {
		for _, q := range queues {
			q.stop()
			close(q.in)
		}
	}
	b.routes = nil
	return nil
}

// Unsubscribe detaches the queue; messages already buffered are discarded.
func (q *queue) Unsubscribe() error {
	q.stop()

	b := q.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	queues := b.routes[q.route]
	for i, other := range queues {
		if other == q {
			queues = append(queues[:i:i], queues[i+1:]...)
			break
		}
	}
	if len(queues) == 0 {
		delete(b.routes, q.route)
	} else {
		b.routes[q.route] = queues
	}
	return nil
}

// Topic returns the subscribed topic.
func (q *queue) Topic() string {
	return q.route.topic
}
