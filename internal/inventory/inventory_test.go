package inventory

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/mmeshcher/pos-terminal-system/internal/eventbus"
	"github.com/mmeshcher/pos-terminal-system/internal/model"
	"github.com/mmeshcher/pos-terminal-system/internal/module"
	"github.com/mmeshcher/pos-terminal-system/internal/payment"
	"github.com/mmeshcher/pos-terminal-system/internal/pos"
	"github.com/mmeshcher/pos-terminal-system/internal/storage"
)

func newTestInventory(t *testing.T) (*Inventory, *eventbus.Bus) {
	t.Helper()

	bus := eventbus.New()
	store := storage.NewWithBackend(storage.NewMemoryBackend(""), zap.NewNop())
	return NewInventory(bus, store, zap.NewNop()), bus
}

func seedProduct(t *testing.T, inv *Inventory, p model.Product) model.Product {
	t.Helper()

	saved, err := inv.AddProduct(context.Background(), p)
	if err != nil {
		t.Fatalf("add product: %v", err)
	}
	return saved
}

func publishSale(bus *eventbus.Bus, items ...model.CartItem) {
	bus.Publish(eventbus.SaleCompleted, module.CoreModuleID, pos.SaleCompletedEvent{
		Sale: model.Sale{
			ID:     "s1",
			Items:  items,
			Status: model.SaleStatusCompleted,
		},
		Payment: payment.Result{Success: true},
	})
}

func TestAddProductValidation(t *testing.T) {
	inv, _ := newTestInventory(t)
	ctx := context.Background()

	if _, err := inv.AddProduct(ctx, model.Product{Name: "", Price: 100}); !errors.Is(err, ErrInvalidProduct) {
		t.Fatalf("expected ErrInvalidProduct for empty name, got %v", err)
	}
	if _, err := inv.AddProduct(ctx, model.Product{Name: "x", Price: -1}); !errors.Is(err, ErrInvalidProduct) {
		t.Fatalf("expected ErrInvalidProduct for negative price, got %v", err)
	}
	if _, err := inv.AddProduct(ctx, model.Product{Name: "x", Price: 100, Barcode: "1234567890123"}); !errors.Is(err, ErrInvalidProduct) {
		t.Fatalf("expected ErrInvalidProduct for bad barcode, got %v", err)
	}

	p, err := inv.AddProduct(ctx, model.Product{Name: "Agua", Price: 100, Barcode: "4006381333931"})
	if err != nil {
		t.Fatalf("valid product rejected: %v", err)
	}
	if p.ID == "" || !p.Active {
		t.Fatalf("expected generated id and active product, got %+v", p)
	}
}

func TestSaleCompletedDecrementsStock(t *testing.T) {
	inv, bus := newTestInventory(t)
	ctx := context.Background()

	p := seedProduct(t, inv, model.Product{Name: "Pan", Price: 85000, Stock: 10})

	publishSale(bus, model.CartItem{ProductID: p.ID, Quantity: 3})

	got, err := inv.Product(ctx, p.ID)
	if err != nil {
		t.Fatalf("product: %v", err)
	}
	if got.Stock != 7 {
		t.Fatalf("expected stock 7, got %d", got.Stock)
	}

	movements, err := inv.Movements(ctx, p.ID)
	if err != nil {
		t.Fatalf("movements: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("expected 1 movement, got %d", len(movements))
	}
	m := movements[0]
	if m.Type != MovementSale || m.Quantity != -3 || m.SaleID != "s1" {
		t.Fatalf("unexpected movement: %+v", m)
	}
}

func TestSaleOfUnknownProductIsIgnored(t *testing.T) {
	inv, bus := newTestInventory(t)

	publishSale(bus, model.CartItem{ProductID: "ghost", Quantity: 1})

	alerts, err := inv.ActiveAlerts(context.Background())
	if err != nil || len(alerts) != 0 {
		t.Fatalf("expected no alerts, got %v, err %v", alerts, err)
	}
}

func TestLowStockAlertEmittedAndCleared(t *testing.T) {
	inv, bus := newTestInventory(t)
	ctx := context.Background()

	var alertEvents int
	bus.Subscribe(ModuleID, eventbus.LowStockAlert, func(e eventbus.Event) {
		alertEvents++
	})

	p := seedProduct(t, inv, model.Product{Name: "Leche", Price: 120000, Stock: 5, MinStock: 3})

	publishSale(bus, model.CartItem{ProductID: p.ID, Quantity: 3})

	if alertEvents != 1 {
		t.Fatalf("expected 1 low stock event, got %d", alertEvents)
	}

	alerts, _ := inv.ActiveAlerts(ctx)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 active alert, got %d", len(alerts))
	}
	if alerts[0].ProductID != p.ID || alerts[0].Stock != 2 {
		t.Fatalf("unexpected alert: %+v", alerts[0])
	}

	// Приход выше порога снимает оповещение.
	if _, err := inv.AdjustStock(ctx, p.ID, 10, "restock"); err != nil {
		t.Fatalf("adjust stock: %v", err)
	}

	alerts, _ = inv.ActiveAlerts(ctx)
	if len(alerts) != 0 {
		t.Fatalf("expected alert cleared, got %d", len(alerts))
	}
}

// Снятие оповещения ставится в очередь синхронизации только когда оповещение
// действительно существовало: здоровые движения не должны порождать удаления.
func TestAlertDeleteEnqueuedOnlyWhenAlertExists(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.New()
	store := storage.NewWithBackend(storage.NewMemoryBackend(""), zap.NewNop())
	inv := NewInventory(bus, store, zap.NewNop())

	p := seedProduct(t, inv, model.Product{Name: "Fideos", Price: 70000, Stock: 20, MinStock: 3})

	publishSale(bus, model.CartItem{ProductID: p.ID, Quantity: 2})

	queue, err := store.SyncQueue(ctx)
	if err != nil {
		t.Fatalf("sync queue: %v", err)
	}
	for _, e := range queue {
		if e.Operation == storage.OperationDelete {
			t.Fatalf("healthy movement must not enqueue deletes: %+v", e)
		}
	}

	// Остаток падает ниже порога и восстанавливается: ровно одно удаление
	// оповещения попадает в очередь.
	publishSale(bus, model.CartItem{ProductID: p.ID, Quantity: 16})
	if _, err := inv.AdjustStock(ctx, p.ID, 10, "delivery"); err != nil {
		t.Fatalf("restock: %v", err)
	}

	queue, err = store.SyncQueue(ctx)
	if err != nil {
		t.Fatalf("sync queue: %v", err)
	}
	deletes := 0
	for _, e := range queue {
		if e.Operation == storage.OperationDelete {
			deletes++
			if e.Collection != "pos-inventory:alerts" || e.Key != p.ID {
				t.Fatalf("unexpected delete entry: %+v", e)
			}
		}
	}
	if deletes != 1 {
		t.Fatalf("expected exactly 1 alert delete in queue, got %d", deletes)
	}
}

func TestStockClampedAtZero(t *testing.T) {
	inv, bus := newTestInventory(t)
	ctx := context.Background()

	p := seedProduct(t, inv, model.Product{Name: "Yerba", Price: 500000, Stock: 1})

	publishSale(bus, model.CartItem{ProductID: p.ID, Quantity: 5})

	got, _ := inv.Product(ctx, p.ID)
	if got.Stock != 0 {
		t.Fatalf("expected stock clamped to 0, got %d", got.Stock)
	}
}

func TestAdjustStockMovementTypes(t *testing.T) {
	inv, _ := newTestInventory(t)
	ctx := context.Background()

	p := seedProduct(t, inv, model.Product{Name: "Azúcar", Price: 90000, Stock: 5})

	if _, err := inv.AdjustStock(ctx, p.ID, 10, "delivery"); err != nil {
		t.Fatalf("restock: %v", err)
	}
	if _, err := inv.AdjustStock(ctx, p.ID, -2, "breakage"); err != nil {
		t.Fatalf("adjustment: %v", err)
	}

	movements, _ := inv.Movements(ctx, p.ID)
	if len(movements) != 2 {
		t.Fatalf("expected 2 movements, got %d", len(movements))
	}
	if movements[0].Type != MovementRestock || movements[1].Type != MovementAdjustment {
		t.Fatalf("unexpected movement types: %s, %s", movements[0].Type, movements[1].Type)
	}

	got, _ := inv.Product(ctx, p.ID)
	if got.Stock != 13 {
		t.Fatalf("expected stock 13, got %d", got.Stock)
	}
}

func TestAdjustUnknownProduct(t *testing.T) {
	inv, _ := newTestInventory(t)

	if _, err := inv.AdjustStock(context.Background(), "ghost", 1, ""); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}
