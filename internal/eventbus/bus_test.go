package eventbus

import (
	"testing"
	"time"
)

func TestPublishDeliversToTopicSubscribers(t *testing.T) {
	bus := New()

	var got []string
	bus.Subscribe("pos-core", SaleCompleted, func(e Event) {
		got = append(got, "first")
	})
	bus.Subscribe("pos-core", SaleCompleted, func(e Event) {
		got = append(got, "second")
	})
	bus.Subscribe("pos-core", SaleCancelled, func(e Event) {
		got = append(got, "other-type")
	})
	bus.Subscribe("pos-inventory", SaleCompleted, func(e Event) {
		got = append(got, "other-module")
	})

	bus.Publish(SaleCompleted, "pos-core", nil)

	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d: %v", len(got), got)
	}
	if got[0] != "first" || got[1] != "second" {
		t.Fatalf("handlers must be called in subscription order, got %v", got)
	}
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := New()

	count := 0
	bus.SubscribeAll(func(e Event) {
		count++
	})

	bus.Publish(SaleStarted, "pos-core", nil)
	bus.Publish(LowStockAlert, "pos-inventory", nil)

	if count != 2 {
		t.Fatalf("expected 2 events, got %d", count)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New()

	count := 0
	id := bus.Subscribe("pos-core", SaleCompleted, func(e Event) {
		count++
	})

	bus.Publish(SaleCompleted, "pos-core", nil)
	bus.Unsubscribe(id)
	bus.Publish(SaleCompleted, "pos-core", nil)

	if count != 1 {
		t.Fatalf("expected 1 delivery after unsubscribe, got %d", count)
	}
}

func TestPublishFromHandlerDoesNotDeadlock(t *testing.T) {
	bus := New()

	var chain []string
	bus.Subscribe("pos-core", SaleCompleted, func(e Event) {
		chain = append(chain, "completed")
		bus.Publish(SyncStarted, "system", nil)
	})
	bus.Subscribe("system", SyncStarted, func(e Event) {
		chain = append(chain, "sync")
	})

	done := make(chan struct{})
	go func() {
		bus.Publish(SaleCompleted, "pos-core", nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish from handler deadlocked")
	}

	if len(chain) != 2 || chain[0] != "completed" || chain[1] != "sync" {
		t.Fatalf("unexpected delivery chain: %v", chain)
	}
}

func TestEventFieldsPopulated(t *testing.T) {
	bus := New()

	e := bus.Publish(SaleStarted, "pos-core", map[string]interface{}{"sale_id": "s1"})

	if e.ID == "" {
		t.Fatal("event id must be set")
	}
	if e.Type != SaleStarted || e.ModuleID != "pos-core" {
		t.Fatalf("unexpected event identity: %s from %s", e.Type, e.ModuleID)
	}
	if e.Timestamp.IsZero() {
		t.Fatal("event timestamp must be set")
	}
	if e.Version != 1 {
		t.Fatalf("expected version 1, got %d", e.Version)
	}
}

func TestHistoryFiltering(t *testing.T) {
	bus := New()

	bus.Publish(SaleStarted, "pos-core", nil)
	cut := time.Now()
	bus.Publish(LowStockAlert, "pos-inventory", nil)
	bus.Publish(SaleCompleted, "pos-core", nil)

	all := bus.History("", time.Time{})
	if len(all) != 3 {
		t.Fatalf("expected 3 events in history, got %d", len(all))
	}

	core := bus.History("pos-core", time.Time{})
	if len(core) != 2 {
		t.Fatalf("expected 2 pos-core events, got %d", len(core))
	}

	recent := bus.History("", cut)
	if len(recent) != 2 {
		t.Fatalf("expected 2 events after cutoff, got %d", len(recent))
	}

	bus.ClearHistory()
	if len(bus.History("", time.Time{})) != 0 {
		t.Fatal("history must be empty after clear")
	}
}

func TestHistoryLimitDropsOldest(t *testing.T) {
	bus := NewWithHistoryLimit(2)

	bus.Publish(SaleStarted, "pos-core", nil)
	bus.Publish(ItemAdded, "pos-core", nil)
	bus.Publish(SaleCompleted, "pos-core", nil)

	events := bus.History("", time.Time{})
	if len(events) != 2 {
		t.Fatalf("expected history capped at 2, got %d", len(events))
	}
	if events[0].Type != ItemAdded || events[1].Type != SaleCompleted {
		t.Fatalf("expected oldest event dropped, got %s, %s", events[0].Type, events[1].Type)
	}
}
