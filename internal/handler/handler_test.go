package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/pos-terminal-system/internal/inventory"
	"github.com/mmeshcher/pos-terminal-system/internal/model"
	"github.com/mmeshcher/pos-terminal-system/internal/module"
	"github.com/mmeshcher/pos-terminal-system/internal/payment"
	"github.com/mmeshcher/pos-terminal-system/internal/pos"
	"github.com/mmeshcher/pos-terminal-system/internal/storage"
)

type stubSales struct {
	startErr     error
	checkoutSale model.Sale
	checkoutRes  payment.Result
	checkoutErr  error
	checkoutReq  *model.PaymentRequest
	current      *model.Sale
	cartState    model.CartState
	added        *model.Product
	addedQty     int
	stats        model.SalesStats
}

func (s *stubSales) StartSale(ctx context.Context) (string, error) {
	return "sale-1", s.startErr
}

func (s *stubSales) AddProductToCart(ctx context.Context, p model.Product, quantity int) (model.CartItem, error) {
	s.added = &p
	s.addedQty = quantity
	return model.CartItem{ID: "item-1", ProductID: p.ID, Name: p.Name, UnitPrice: p.Price, Quantity: quantity, TaxRate: p.TaxRate}, nil
}

func (s *stubSales) RemoveProductFromCart(ctx context.Context, itemID string) error { return nil }
func (s *stubSales) UpdateQuantity(ctx context.Context, itemID string, q int) error { return nil }
func (s *stubSales) ApplyDiscount(ctx context.Context, amount float64, p bool) error {
	return nil
}
func (s *stubSales) CartState() model.CartState { return s.cartState }
func (s *stubSales) CurrentSale() *model.Sale   { return s.current }

func (s *stubSales) Checkout(ctx context.Context, req model.PaymentRequest) (model.Sale, payment.Result, error) {
	s.checkoutReq = &req
	return s.checkoutSale, s.checkoutRes, s.checkoutErr
}

func (s *stubSales) CancelSale(ctx context.Context) error { return nil }

func (s *stubSales) SalesStats(ctx context.Context, windowDays int) (model.SalesStats, error) {
	return s.stats, nil
}

type stubCatalog struct {
	products map[string]model.Product
	alerts   []inventory.StockAlert
}

func (s *stubCatalog) AddProduct(ctx context.Context, p model.Product) (model.Product, error) {
	p.ID = "prod-1"
	return p, nil
}

func (s *stubCatalog) Product(ctx context.Context, id string) (model.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return model.Product{}, inventory.ErrProductNotFound
	}
	return p, nil
}

func (s *stubCatalog) Products(ctx context.Context) ([]model.Product, error) { return nil, nil }

func (s *stubCatalog) ActiveAlerts(ctx context.Context) ([]inventory.StockAlert, error) {
	return s.alerts, nil
}

type stubModules struct {
	statuses    []module.Status
	activateErr error
}

func (s *stubModules) Modules() []module.Status                        { return s.statuses }
func (s *stubModules) Activate(ctx context.Context, id string) error   { return s.activateErr }
func (s *stubModules) Deactivate(ctx context.Context, id string) error { return nil }
func (s *stubModules) Uninstall(ctx context.Context, id string) error  { return nil }

type stubSync struct {
	status storage.SyncStatus
}

func (s *stubSync) Status(ctx context.Context) (storage.SyncStatus, error) {
	return s.status, nil
}

func newTestHandler(sales *stubSales, catalog *stubCatalog) *Handler {
	var c Catalog
	if catalog != nil {
		c = catalog
	}
	return New(sales, c, nil, &stubModules{}, &stubSync{}, zap.NewNop())
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestStartSale(t *testing.T) {
	h := newTestHandler(&stubSales{}, nil)

	rr := doJSON(t, h.Router(), http.MethodPost, "/api/sale", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]string
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["sale_id"] != "sale-1" {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestStartSaleConflict(t *testing.T) {
	h := newTestHandler(&stubSales{startErr: pos.ErrCheckoutInProgress}, nil)

	rr := doJSON(t, h.Router(), http.MethodPost, "/api/sale", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestCurrentSaleEmpty(t *testing.T) {
	h := newTestHandler(&stubSales{}, nil)

	rr := doJSON(t, h.Router(), http.MethodGet, "/api/sale", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Fatalf("204 response must have no body, got %q", rr.Body.String())
	}
}

func TestCartState(t *testing.T) {
	sales := &stubSales{cartState: model.CartState{
		Items:     []model.CartItem{{ID: "i1", Name: "Pan francés", UnitPrice: 85000, Quantity: 3, TaxRate: 21}},
		ItemCount: 3,
		Subtotal:  255000,
		Tax:       53550,
		Total:     308550,
	}}
	h := newTestHandler(sales, nil)

	rr := doJSON(t, h.Router(), http.MethodGet, "/api/sale/cart", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp cartStateDTO
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Total != 3085.50 || resp.Tax != 535.50 || resp.ItemCount != 3 {
		t.Fatalf("unexpected cart state: %+v", resp)
	}
}

func TestAddItemResolvesCatalogProduct(t *testing.T) {
	sales := &stubSales{}
	catalog := &stubCatalog{products: map[string]model.Product{
		"bread": {ID: "bread", Name: "Pan francés", Price: 85000, TaxRate: 21},
	}}
	h := newTestHandler(sales, catalog)

	rr := doJSON(t, h.Router(), http.MethodPost, "/api/sale/items", map[string]interface{}{
		"product_id": "bread",
		"quantity":   3,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if sales.added == nil || sales.added.Price != 85000 || sales.addedQty != 3 {
		t.Fatalf("catalog product not passed through: %+v qty %d", sales.added, sales.addedQty)
	}

	var resp struct {
		Item cartItemDTO `json:"item"`
	}
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Item.UnitPrice != 850.00 {
		t.Fatalf("price must be in currency units, got %v", resp.Item.UnitPrice)
	}
}

func TestAddItemInlineProduct(t *testing.T) {
	sales := &stubSales{}
	h := newTestHandler(sales, nil)

	rr := doJSON(t, h.Router(), http.MethodPost, "/api/sale/items", map[string]interface{}{
		"product_id": "adhoc",
		"quantity":   1,
		"name":       "Venta libre",
		"price":      123.45,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if sales.added == nil || sales.added.Price != 12345 {
		t.Fatalf("inline price must convert to cents, got %+v", sales.added)
	}
}

func TestCheckoutConvertsAmountToCents(t *testing.T) {
	sales := &stubSales{
		checkoutSale: model.Sale{ID: "sale-1", Status: model.SaleStatusCompleted, ReceiptNumber: "rcpt-42"},
		checkoutRes:  payment.Result{Success: true, Change: 1450},
	}
	h := newTestHandler(sales, nil)

	rr := doJSON(t, h.Router(), http.MethodPost, "/api/sale/checkout", map[string]interface{}{
		"method": "cash",
		"amount": 3100.00,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if sales.checkoutReq == nil || sales.checkoutReq.Amount != 310000 {
		t.Fatalf("amount must be converted to cents: %+v", sales.checkoutReq)
	}
	if sales.checkoutReq.Method != model.PaymentMethodCash {
		t.Fatalf("unexpected method: %s", sales.checkoutReq.Method)
	}

	var resp checkoutResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Change != 14.50 {
		t.Fatalf("change must be in currency units, got %v", resp.Change)
	}
	if resp.ReceiptNumber != "rcpt-42" {
		t.Fatalf("receipt number must be returned on success, got %q", resp.ReceiptNumber)
	}
}

func TestCheckoutDeclineReturns402(t *testing.T) {
	sales := &stubSales{checkoutRes: payment.Result{Reason: payment.ReasonCardDeclined}}
	h := newTestHandler(sales, nil)

	rr := doJSON(t, h.Router(), http.MethodPost, "/api/sale/checkout", map[string]interface{}{
		"method": "credit_card",
		"amount": 3085.50,
	})
	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rr.Code)
	}
}

func TestCheckoutInsufficientCashReturns402(t *testing.T) {
	sales := &stubSales{checkoutErr: pos.ErrInsufficientCash}
	h := newTestHandler(sales, nil)

	rr := doJSON(t, h.Router(), http.MethodPost, "/api/sale/checkout", map[string]interface{}{
		"method": "cash",
		"amount": 10.00,
	})
	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rr.Code)
	}
}

func TestCheckoutEmptyCartReturns409(t *testing.T) {
	sales := &stubSales{checkoutErr: pos.ErrEmptyCart}
	h := newTestHandler(sales, nil)

	rr := doJSON(t, h.Router(), http.MethodPost, "/api/sale/checkout", map[string]interface{}{
		"method": "cash",
		"amount": 10.00,
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestSalesStatsQueryValidation(t *testing.T) {
	sales := &stubSales{stats: model.SalesStats{Count: 2, TotalAmount: 300000, AverageTicket: 150000, PeriodDays: 7}}
	h := newTestHandler(sales, nil)

	rr := doJSON(t, h.Router(), http.MethodGet, "/api/sale/stats?days=abc", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad days, got %d", rr.Code)
	}

	rr = doJSON(t, h.Router(), http.MethodGet, "/api/sale/stats?days=7", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp salesStatsResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.TotalAmount != 3000.00 || resp.AverageTicket != 1500.00 {
		t.Fatalf("amounts must be in currency units: %+v", resp)
	}
}

func TestSyncStatus(t *testing.T) {
	now := time.Now()
	h := New(&stubSales{}, nil, nil, &stubModules{}, &stubSync{status: storage.SyncStatus{
		Online:       true,
		PendingCount: 4,
		LastSyncAt:   now,
	}}, zap.NewNop())

	rr := doJSON(t, h.Router(), http.MethodGet, "/api/sync/status", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp syncStatusResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if !resp.Online || resp.PendingCount != 4 || resp.LastSyncAt == nil {
		t.Fatalf("unexpected status: %+v", resp)
	}
}

func TestModuleLifecycleRoutes(t *testing.T) {
	h := New(&stubSales{}, nil, nil, &stubModules{activateErr: module.ErrNotRegistered}, &stubSync{}, zap.NewNop())

	rr := doJSON(t, h.Router(), http.MethodPost, "/api/modules/ghost/activate", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	rr = doJSON(t, h.Router(), http.MethodPost, "/api/modules/pos-inventory/deactivate", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestInventoryRoutesWithoutModule(t *testing.T) {
	h := newTestHandler(&stubSales{}, nil)

	rr := doJSON(t, h.Router(), http.MethodGet, "/api/inventory/alerts", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without inventory module, got %d", rr.Code)
	}
}

func TestStockAlerts(t *testing.T) {
	catalog := &stubCatalog{alerts: []inventory.StockAlert{
		{ProductID: "bread", Name: "Pan", Stock: 1, MinStock: 3},
	}}
	h := newTestHandler(&stubSales{}, catalog)

	rr := doJSON(t, h.Router(), http.MethodGet, "/api/inventory/alerts", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp []stockAlertDTO
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if len(resp) != 1 || resp[0].ProductID != "bread" {
		t.Fatalf("unexpected alerts: %+v", resp)
	}
}
