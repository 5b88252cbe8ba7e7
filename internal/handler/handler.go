// Package handler содержит HTTP-обработчики терминала. Денежные суммы на границе
// JSON передаются в единицах валюты (с плавающей точкой), внутри — в центах.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/pos-terminal-system/internal/cart"
	"github.com/mmeshcher/pos-terminal-system/internal/customers"
	"github.com/mmeshcher/pos-terminal-system/internal/inventory"
	mw "github.com/mmeshcher/pos-terminal-system/internal/middleware"
	"github.com/mmeshcher/pos-terminal-system/internal/model"
	"github.com/mmeshcher/pos-terminal-system/internal/module"
	"github.com/mmeshcher/pos-terminal-system/internal/payment"
	"github.com/mmeshcher/pos-terminal-system/internal/pos"
	"github.com/mmeshcher/pos-terminal-system/internal/storage"
)

// SaleService описывает операции текущей продажи, используемые обработчиками.
type SaleService interface {
	StartSale(ctx context.Context) (string, error)
	AddProductToCart(ctx context.Context, product model.Product, quantity int) (model.CartItem, error)
	RemoveProductFromCart(ctx context.Context, itemID string) error
	UpdateQuantity(ctx context.Context, itemID string, quantity int) error
	ApplyDiscount(ctx context.Context, amount float64, isPercent bool) error
	CartState() model.CartState
	CurrentSale() *model.Sale
	Checkout(ctx context.Context, req model.PaymentRequest) (model.Sale, payment.Result, error)
	CancelSale(ctx context.Context) error
	SalesStats(ctx context.Context, windowDays int) (model.SalesStats, error)
}

// Catalog описывает операции каталога товаров, используемые обработчиками.
type Catalog interface {
	AddProduct(ctx context.Context, p model.Product) (model.Product, error)
	Product(ctx context.Context, id string) (model.Product, error)
	Products(ctx context.Context) ([]model.Product, error)
	ActiveAlerts(ctx context.Context) ([]inventory.StockAlert, error)
}

// CustomerDirectory описывает операции модуля покупателей, используемые обработчиками.
type CustomerDirectory interface {
	Register(ctx context.Context, c model.Customer) (model.Customer, error)
	Customer(ctx context.Context, id string) (model.Customer, error)
	List(ctx context.Context) ([]model.Customer, error)
	RegisterPayment(ctx context.Context, customerID string, amount int64) (model.Customer, error)
}

// ModuleManager описывает управление жизненным циклом модулей.
type ModuleManager interface {
	Modules() []module.Status
	Activate(ctx context.Context, id string) error
	Deactivate(ctx context.Context, id string) error
	Uninstall(ctx context.Context, id string) error
}

// SyncStatusProvider возвращает состояние синхронизации хранилища.
type SyncStatusProvider interface {
	Status(ctx context.Context) (storage.SyncStatus, error)
}

// Handler объединяет HTTP-обработчики терминала.
type Handler struct {
	sales     SaleService
	catalog   Catalog
	customers CustomerDirectory
	modules   ModuleManager
	sync      SyncStatusProvider
	logger    *zap.Logger
}

// New создаёт обработчики. Каталог и покупатели могут быть nil, если
// соответствующие модули не активированы.
func New(sales SaleService, catalog Catalog, customers CustomerDirectory, modules ModuleManager, sync SyncStatusProvider, logger *zap.Logger) *Handler {
	return &Handler{
		sales:     sales,
		catalog:   catalog,
		customers: customers,
		modules:   modules,
		sync:      sync,
		logger:    logger,
	}
}

// Router собирает маршруты терминала.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(mw.Logger(h.logger))
	r.Use(mw.Gzip)

	r.Route("/api", func(r chi.Router) {
		r.Route("/sale", func(r chi.Router) {
			r.Post("/", h.startSale)
			r.Get("/", h.currentSale)
			r.Delete("/", h.cancelSale)
			r.Post("/items", h.addItem)
			r.Patch("/items/{itemID}", h.updateItem)
			r.Delete("/items/{itemID}", h.removeItem)
			r.Get("/cart", h.cartState)
			r.Post("/discount", h.applyDiscount)
			r.Post("/checkout", h.checkout)
			r.Get("/stats", h.salesStats)
		})

		r.Get("/sync/status", h.syncStatus)

		r.Route("/modules", func(r chi.Router) {
			r.Get("/", h.listModules)
			r.Post("/{moduleID}/activate", h.activateModule)
			r.Post("/{moduleID}/deactivate", h.deactivateModule)
			r.Delete("/{moduleID}", h.uninstallModule)
		})

		r.Route("/inventory", func(r chi.Router) {
			r.Get("/products", h.listProducts)
			r.Post("/products", h.addProduct)
			r.Get("/alerts", h.stockAlerts)
		})

		r.Route("/customers", func(r chi.Router) {
			r.Get("/", h.listCustomers)
			r.Post("/", h.registerCustomer)
			r.Get("/{customerID}", h.getCustomer)
			r.Post("/{customerID}/payments", h.registerDebtPayment)
		})
	})

	return r
}

func toCents(amount float64) int64 {
	return int64(math.Floor(amount*100 + 0.5))
}

func fromCents(cents int64) float64 {
	return float64(cents) / 100
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError сопоставляет доменные ошибки статусам HTTP.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, pos.ErrInsufficientCash):
		status = http.StatusPaymentRequired
	case errors.Is(err, pos.ErrNoActiveSale),
		errors.Is(err, pos.ErrSaleNotPending),
		errors.Is(err, pos.ErrEmptyCart),
		errors.Is(err, pos.ErrCheckoutInProgress),
		errors.Is(err, module.ErrModuleActive),
		errors.Is(err, module.ErrDependencyInactive),
		errors.Is(err, module.ErrInvalidTransition),
		errors.Is(err, module.ErrAlreadyRegistered):
		status = http.StatusConflict
	case errors.Is(err, pos.ErrInvalidPaymentMethod),
		errors.Is(err, pos.ErrInvalidAmount),
		errors.Is(err, pos.ErrAmountMismatch),
		errors.Is(err, pos.ErrCustomerRequired),
		errors.Is(err, pos.ErrInvalidQuantity),
		errors.Is(err, cart.ErrInvalidItem),
		errors.Is(err, inventory.ErrInvalidProduct),
		errors.Is(err, customers.ErrInvalidCustomer),
		errors.Is(err, customers.ErrInvalidPayment):
		status = http.StatusBadRequest
	case errors.Is(err, cart.ErrItemNotFound),
		errors.Is(err, inventory.ErrProductNotFound),
		errors.Is(err, customers.ErrCustomerNotFound),
		errors.Is(err, module.ErrNotRegistered),
		errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("internal error", zap.Error(err))
	}

	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}
