package pos_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/pos-terminal-system/internal/customers"
	"github.com/mmeshcher/pos-terminal-system/internal/eventbus"
	"github.com/mmeshcher/pos-terminal-system/internal/inventory"
	"github.com/mmeshcher/pos-terminal-system/internal/model"
	"github.com/mmeshcher/pos-terminal-system/internal/payment"
	"github.com/mmeshcher/pos-terminal-system/internal/pos"
	"github.com/mmeshcher/pos-terminal-system/internal/storage"
)

type instantEngine struct{}

func (instantEngine) Attempt(ctx context.Context, req payment.Request) payment.Result {
	return payment.Result{Success: true, SettlementRef: "ref"}
}

// Завершение продажи должно доводить побочные эффекты до модулей склада и
// покупателей через одно и то же имя события: рассинхронизация имён у издателя
// и подписчиков ломает списание остатков и начисление баллов молча.
func TestSaleCompletedReachesSubscriberModules(t *testing.T) {
	ctx := context.Background()

	bus := eventbus.New()
	store := storage.NewWithBackend(storage.NewMemoryBackend(""), zap.NewNop())
	logger := zap.NewNop()

	inv := inventory.NewInventory(bus, store, logger)
	cust := customers.NewCustomers(bus, store, logger)
	core := pos.NewCore(ctx, bus, store, instantEngine{}, time.Hour, logger)

	product, err := inv.AddProduct(ctx, model.Product{Name: "Pan francés", Price: 85000, Stock: 10, TaxRate: 21})
	if err != nil {
		t.Fatalf("add product: %v", err)
	}

	buyer, err := cust.Register(ctx, model.Customer{Name: "Doña Rosa", CreditLimit: 5000000})
	if err != nil {
		t.Fatalf("register customer: %v", err)
	}

	if _, err := core.StartSale(ctx); err != nil {
		t.Fatalf("start sale: %v", err)
	}
	if _, err := core.AddProductToCart(ctx, product, 3); err != nil {
		t.Fatalf("add to cart: %v", err)
	}

	_, res, err := core.Checkout(ctx, model.PaymentRequest{
		Method:     model.PaymentMethodAccountCredit,
		Amount:     308550,
		CustomerID: buyer.ID,
	})
	if err != nil || !res.Success {
		t.Fatalf("checkout: %v, %+v", err, res)
	}

	// Склад отреагировал: остаток списан.
	got, err := inv.Product(ctx, product.ID)
	if err != nil {
		t.Fatalf("product: %v", err)
	}
	if got.Stock != 7 {
		t.Fatalf("stock decrement did not fire: expected 7, got %d", got.Stock)
	}

	// Покупатели отреагировали: долг и баллы начислены.
	gotCust, err := cust.Customer(ctx, buyer.ID)
	if err != nil {
		t.Fatalf("customer: %v", err)
	}
	if gotCust.CurrentDebt != 308550 {
		t.Fatalf("fiado debt did not fire: expected 308550, got %d", gotCust.CurrentDebt)
	}
	if gotCust.LoyaltyPoints != 30 {
		t.Fatalf("loyalty accrual did not fire: expected 30, got %d", gotCust.LoyaltyPoints)
	}
}
