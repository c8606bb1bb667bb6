package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/calendar"
	"github.com/opensource-finance/harrier/internal/catalog"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
)

const testCatalog = `{
  "version": "%s",
  "issuers": [{"id": "chase", "name": "Chase"}, {"id": "amex", "name": "American Express"}],
  "products": [{"id": "sapphire", "issuer": "chase", "name": "Sapphire", "annualFee": 95}],
  "rules": [{
    "id": "chase-524",
    "issuer": "chase",
    "ruleKind": "application",
    "category": "velocity_limit",
    "windowMonths": 24,
    "maxCount": 5,
    "countsAcrossAllIssuers": true,
    "businessCardsExempt": true
  }]
}`

var fixedNow = time.Date(2026, 10, 18, 15, 30, 0, 0, time.UTC)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "harrier-worker-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func parseCatalog(t *testing.T, version string) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Parse([]byte(fmt.Sprintf(testCatalog, version)))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	return c
}

func newTestWorker(t *testing.T, eventBus domain.EventBus, repo domain.Repository, store *catalog.Store) *Worker {
	w := NewWorker(eventBus, repo, store)
	w.now = func() time.Time { return fixedNow }
	return w
}

func seedFiveNewAccounts(t *testing.T, repo domain.Repository, userID string) {
	t.Helper()
	for i := 0; i < 5; i++ {
		card := &domain.UserCard{
			ID:        fmt.Sprintf("card-%d", i),
			ProductID: "p",
			Issuer:    "amex",
			OpenDate:  calendar.SubMonths(fixedNow, 2+i),
		}
		if err := repo.SaveCard(context.Background(), userID, card); err != nil {
			t.Fatalf("SaveCard failed: %v", err)
		}
	}
}

func waitFor(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	repo := newTestRepo(t)
	store := catalog.NewStore(parseCatalog(t, "v1"))

	t.Run("StartAndStop", func(t *testing.T) {
		w := newTestWorker(t, eventBus, repo, store)

		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions, got %d", stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("RecomputesIssuerStatus", func(t *testing.T) {
		userID := "user-blocked"
		seedFiveNewAccounts(t, repo, userID)

		w := newTestWorker(t, eventBus, repo, store)
		w.Start(Config{})
		defer w.Stop()

		statusCh := make(chan *domain.Message, 1)
		sub, _ := eventBus.Subscribe(context.Background(), userID, domain.TopicIssuerStatus, func(ctx context.Context, msg *domain.Message) error {
			statusCh <- msg
			return nil
		})
		defer sub.Unsubscribe()

		payload, _ := json.Marshal(domain.CardsChangedEvent{UserID: userID, CardID: "card-0", Action: "saved"})
		if err := eventBus.Publish(context.Background(), domain.GlobalScope, domain.TopicCardsChanged, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		msg := waitFor(t, statusCh)

		var evt domain.IssuerStatusEvent
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			t.Fatalf("failed to parse status: %v", err)
		}
		if evt.UserID != userID || evt.CatalogVersion != "v1" {
			t.Errorf("unexpected event identity %s/%s", evt.UserID, evt.CatalogVersion)
		}
		if !evt.AsOf.Equal(calendar.StartOfDay(fixedNow)) {
			t.Errorf("expected asOf at start of day, got %s", evt.AsOf)
		}
		if len(evt.Issuers) != 2 {
			t.Fatalf("expected 2 issuers, got %d", len(evt.Issuers))
		}

		var chase *domain.IssuerStatus
		for i := range evt.Issuers {
			if evt.Issuers[i].Issuer == "chase" {
				chase = &evt.Issuers[i]
			}
		}
		if chase == nil || chase.Level != domain.StatusBlocked {
			t.Errorf("expected chase blocked, got %+v", chase)
		}
		if got := w.GetStats().Processed; got != 1 {
			t.Errorf("expected 1 processed event, got %d", got)
		}
	})

	t.Run("ScopedUsers", func(t *testing.T) {
		w := newTestWorker(t, eventBus, repo, store)
		w.Start(Config{UserIDs: []string{"user-a", "user-b"}})
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 3 {
			t.Errorf("expected 2 user subscriptions plus catalog, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("UserFromScope", func(t *testing.T) {
		w := newTestWorker(t, eventBus, repo, store)
		msg := &domain.Message{ID: "m", Scope: "user-blocked", Payload: []byte(`{"action":"saved"}`)}
		if err := w.handleCardsChanged(context.Background(), msg); err != nil {
			t.Errorf("expected scope to supply the user, got %v", err)
		}
	})

	t.Run("BadPayload", func(t *testing.T) {
		w := newTestWorker(t, eventBus, repo, store)
		msg := &domain.Message{ID: "m", Scope: domain.GlobalScope, Payload: []byte("not json")}
		if err := w.handleCardsChanged(context.Background(), msg); err == nil {
			t.Error("expected parse error")
		}
		if w.GetStats().Failed != 1 {
			t.Errorf("expected failure counted, got %d", w.GetStats().Failed)
		}
	})
}

func TestRecomputeWithoutCatalog(t *testing.T) {
	w := newTestWorker(t, bus.NewChannelBus(1), newTestRepo(t), catalog.NewStore(nil))
	if _, err := w.Recompute(context.Background(), "user-001"); !errors.Is(err, ErrNoCatalog) {
		t.Errorf("expected ErrNoCatalog, got %v", err)
	}
}

func TestCatalogReload(t *testing.T) {
	repo := newTestRepo(t)
	store := catalog.NewStore(parseCatalog(t, "v1"))
	w := newTestWorker(t, bus.NewChannelBus(1), repo, store)
	ctx := context.Background()

	raw := []byte(fmt.Sprintf(testCatalog, "v2"))
	if err := repo.SaveCatalogSnapshot(ctx, "v2", raw); err != nil {
		t.Fatalf("SaveCatalogSnapshot failed: %v", err)
	}

	t.Run("SameVersionIgnored", func(t *testing.T) {
		payload, _ := json.Marshal(domain.CatalogUpdatedEvent{Version: "v1"})
		if err := w.handleCatalogUpdated(ctx, &domain.Message{Payload: payload}); err != nil {
			t.Fatalf("handleCatalogUpdated failed: %v", err)
		}
		if store.Load().Version != "v1" || w.GetStats().CatalogReloads != 0 {
			t.Error("matching version should not reload")
		}
	})

	t.Run("NewVersionLoaded", func(t *testing.T) {
		payload, _ := json.Marshal(domain.CatalogUpdatedEvent{Version: "v2"})
		if err := w.handleCatalogUpdated(ctx, &domain.Message{Payload: payload}); err != nil {
			t.Fatalf("handleCatalogUpdated failed: %v", err)
		}
		if store.Load().Version != "v2" {
			t.Errorf("expected v2 active, got %s", store.Load().Version)
		}
		if w.GetStats().CatalogReloads != 1 {
			t.Errorf("expected 1 reload, got %d", w.GetStats().CatalogReloads)
		}
	})
}
