// Package worker recomputes derived views asynchronously from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/harrier/internal/calendar"
	"github.com/opensource-finance/harrier/internal/catalog"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/rules"
)

// ErrNoCatalog is returned when an event arrives before any catalog is loaded.
var ErrNoCatalog = errors.New("no catalog loaded")

// Worker reacts to card-history and catalog events. On a history change it
// recomputes the user's issuer summary and publishes it; on a catalog update
// from another instance it reloads the latest persisted snapshot.
type Worker struct {
	bus   domain.EventBus
	repo  domain.Repository
	store *catalog.Store
	now   func() time.Time

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
	reloads   atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// UserIDs restricts the worker to these users' scopes. Empty means one
	// global subscription fed by every publisher.
	UserIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, store *catalog.Store) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		store:  store,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to card-history and catalog topics.
func (w *Worker) Start(cfg Config) error {
	scopes := cfg.UserIDs
	if len(scopes) == 0 {
		scopes = []string{domain.GlobalScope}
	}

	for _, scope := range scopes {
		if err := w.subscribe(scope, domain.TopicCardsChanged, w.handleCardsChanged); err != nil {
			slog.Error("failed to start worker for scope",
				"scope", scope,
				"error", err,
			)
			continue
		}
	}

	if err := w.subscribe(domain.GlobalScope, domain.TopicCatalogUpdated, w.handleCatalogUpdated); err != nil {
		return err
	}

	slog.Info("workers started",
		"scope_count", len(scopes),
	)

	return nil
}

func (w *Worker) subscribe(scope, topic string, handler domain.MessageHandler) error {
	sub, err := w.bus.Subscribe(w.ctx, scope, topic, handler)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Debug("worker subscribed",
		"scope", scope,
		"topic", topic,
	)
	return nil
}

// handleCardsChanged recomputes and publishes the user's issuer summary.
func (w *Worker) handleCardsChanged(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var evt domain.CardsChangedEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		w.failed.Add(1)
		slog.Error("failed to parse cards changed event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	userID := evt.UserID
	if userID == "" && msg.Scope != domain.GlobalScope {
		userID = msg.Scope
	}
	if userID == "" {
		w.failed.Add(1)
		return fmt.Errorf("cards changed event %s has no user", msg.ID)
	}

	status, err := w.Recompute(ctx, userID)
	if err != nil {
		w.failed.Add(1)
		slog.Error("issuer status recompute failed",
			"user_id", userID,
			"error", err,
		)
		return err
	}

	payload, err := json.Marshal(status)
	if err != nil {
		w.failed.Add(1)
		return err
	}
	if err := w.bus.Publish(ctx, userID, domain.TopicIssuerStatus, payload); err != nil {
		w.failed.Add(1)
		slog.Error("failed to publish issuer status",
			"user_id", userID,
			"error", err,
		)
		return err
	}

	w.processed.Add(1)
	slog.Info("issuer status recomputed",
		"user_id", userID,
		"card_id", evt.CardID,
		"action", evt.Action,
		"catalog_version", status.CatalogVersion,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Recompute builds the issuer summary for a user from stored history and
// the active catalog.
func (w *Worker) Recompute(ctx context.Context, userID string) (*domain.IssuerStatusEvent, error) {
	cat := w.store.Load()
	if cat == nil {
		return nil, ErrNoCatalog
	}

	cards, err := w.repo.ListCards(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}

	asOf := calendar.StartOfDay(w.now().UTC())
	return &domain.IssuerStatusEvent{
		UserID:         userID,
		CatalogVersion: cat.Version,
		AsOf:           asOf,
		Issuers:        rules.Summarize(cards, cat, asOf),
	}, nil
}

// handleCatalogUpdated installs the latest persisted snapshot when it differs
// from the active one.
func (w *Worker) handleCatalogUpdated(ctx context.Context, msg *domain.Message) error {
	var evt domain.CatalogUpdatedEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		w.failed.Add(1)
		return err
	}

	if cur := w.store.Load(); cur != nil && cur.Version == evt.Version {
		return nil
	}

	version, raw, err := w.repo.LatestCatalogSnapshot(ctx)
	if err != nil {
		w.failed.Add(1)
		slog.Error("failed to load catalog snapshot",
			"catalog_version", evt.Version,
			"error", err,
		)
		return err
	}

	cat, err := catalog.Parse(raw)
	if err != nil {
		w.failed.Add(1)
		slog.Error("stored catalog snapshot is invalid",
			"catalog_version", version,
			"error", err,
		)
		return err
	}

	w.store.Swap(cat)
	w.reloads.Add(1)
	slog.Info("catalog reloaded",
		"catalog_version", cat.Version,
		"warnings", len(cat.Warnings),
	)
	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
	CatalogReloads    int64    `json:"catalogReloads"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	w.mu.Unlock()

	return Stats{
		SubscriptionCount: len(topics),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
		CatalogReloads:    w.reloads.Load(),
	}
}
