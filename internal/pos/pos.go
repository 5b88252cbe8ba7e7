// Package pos реализует базовый модуль терминала: состояние текущей продажи,
// связку корзины с движком платежей и публикацию доменных событий.
package pos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/pos-terminal-system/internal/cart"
	"github.com/mmeshcher/pos-terminal-system/internal/eventbus"
	"github.com/mmeshcher/pos-terminal-system/internal/model"
	"github.com/mmeshcher/pos-terminal-system/internal/module"
	"github.com/mmeshcher/pos-terminal-system/internal/payment"
	"github.com/mmeshcher/pos-terminal-system/internal/storage"
)

const (
	salesCollection  = "sales"
	configCollection = "config"

	// Ставка НДС по умолчанию для товаров без явной ставки.
	defaultTaxRate = 21
)

// ErrNoActiveSale возвращается, если операция требует начатой продажи.
var (
	ErrNoActiveSale = errors.New("no active sale")
	// ErrSaleNotPending возвращается при попытке оплатить завершённую или отменённую продажу.
	ErrSaleNotPending = errors.New("sale is not pending")
	// ErrEmptyCart возвращается при попытке оплатить пустую корзину.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrCheckoutInProgress возвращается, пока идёт проведение оплаты.
	ErrCheckoutInProgress = errors.New("checkout in progress")
	// ErrInvalidPaymentMethod возвращается для неизвестного способа оплаты.
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	// ErrInvalidAmount возвращается для неположительной суммы оплаты.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInsufficientCash возвращается, если наличных меньше итога продажи.
	ErrInsufficientCash = errors.New("cash amount is less than total")
	// ErrAmountMismatch возвращается, если безналичная сумма не равна итогу продажи.
	ErrAmountMismatch = errors.New("amount must equal sale total")
	// ErrCustomerRequired возвращается для оплаты в кредит без покупателя.
	ErrCustomerRequired = errors.New("customer required for account credit")
	// ErrInvalidQuantity возвращается для неположительного количества товара.
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// SaleCompletedEvent — полезная нагрузка события sale.completed.
// Подписчикам передаётся полная продажа, повторное чтение не требуется.
type SaleCompletedEvent struct {
	Sale    model.Sale     `json:"sale"`
	Payment payment.Result `json:"payment"`
}

// Config описывает настройки базового модуля, хранящиеся в его коллекции config.
type Config struct {
	DefaultTaxRate       float64             `json:"default_tax_rate"`
	DefaultPaymentMethod model.PaymentMethod `json:"default_payment_method"`
	Currency             string              `json:"currency"`
}

// PaymentEngine описывает движок платежей со стороны оркестратора продаж.
type PaymentEngine interface {
	Attempt(ctx context.Context, req payment.Request) payment.Result
}

// Core — базовый модуль POS. Владеет текущей продажей; все вызовы сериализуются,
// одна продажа в работе на терминал.
type Core struct {
	*module.Base
	logger   *zap.Logger
	payments PaymentEngine
	cart     *cart.Cart

	mu               sync.Mutex
	current          *model.Sale
	checkoutInFlight bool
	now              func() time.Time
}

// Descriptor возвращает дескриптор базового модуля.
func Descriptor() module.Descriptor {
	return module.Descriptor{
		ID:           module.CoreModuleID,
		Name:         "POS Core",
		Version:      "1.0.0",
		Dependencies: nil,
		Optional:     false,
		MonthlyPrice: 1200000,
		TrialDays:    30,
		Description:  "Терминал продаж: корзина, оплата, история продаж",
	}
}

// NewCore создаёт базовый модуль и восстанавливает снимок корзины, если он свежий.
func NewCore(ctx context.Context, bus *eventbus.Bus, store *storage.OfflineStore, payments PaymentEngine, cartMaxAge time.Duration, logger *zap.Logger) *Core {
	base := module.NewBase(Descriptor(), bus, store)

	return &Core{
		Base:     base,
		logger:   logger,
		payments: payments,
		cart:     cart.New(ctx, base.Storage(), cartMaxAge, logger),
		now:      time.Now,
	}
}

// Install инициализирует конфигурацию модуля значениями по умолчанию.
func (c *Core) Install(ctx context.Context) error {
	var cfg Config
	err := c.Storage().Get(ctx, configCollection, "core", &cfg)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load config: %w", err)
	}

	cfg = Config{
		DefaultTaxRate:       defaultTaxRate,
		DefaultPaymentMethod: model.PaymentMethodCash,
		Currency:             "ARS",
	}
	if err := c.Storage().Set(ctx, configCollection, "core", cfg, false); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	return nil
}

// Uninstall сохраняет резервную копию незавершённой продажи перед удалением модуля.
func (c *Core) Uninstall(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		if err := c.Storage().Set(ctx, configCollection, "sale_backup", c.current, false); err != nil {
			return fmt.Errorf("backup current sale: %w", err)
		}
	}

	return nil
}

// GetConfig возвращает конфигурацию модуля.
func (c *Core) GetConfig(ctx context.Context) (Config, error) {
	var cfg Config
	if err := c.Storage().Get(ctx, configCollection, "core", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// StartSale начинает новую продажу и очищает корзину от предыдущей.
func (c *Core) StartSale(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.checkoutInFlight {
		return "", ErrCheckoutInProgress
	}

	sale := &model.Sale{
		ID:        uuid.NewString(),
		CreatedAt: c.now(),
		Status:    model.SaleStatusPending,
	}
	c.current = sale
	c.cart.Clear(ctx)

	c.Emit(eventbus.SaleStarted, map[string]interface{}{
		"sale_id": sale.ID,
	})
	c.logger.Info("sale started", zap.String("sale_id", sale.ID))

	return sale.ID, nil
}

func (c *Core) requirePendingSale() error {
	if c.current == nil {
		return ErrNoActiveSale
	}
	if c.current.Status != model.SaleStatusPending {
		return ErrSaleNotPending
	}
	return nil
}

// Вызывается под блокировкой.
func (c *Core) refreshTotals() {
	c.current.Items = c.cart.Items()
	c.current.Subtotal = c.cart.Subtotal()
	c.current.Tax = c.cart.Tax()
	c.current.Discount = c.cart.Discount()
	c.current.Total = c.cart.Total()
}

// AddProductToCart добавляет товар в корзину текущей продажи.
func (c *Core) AddProductToCart(ctx context.Context, product model.Product, quantity int) (model.CartItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requirePendingSale(); err != nil {
		return model.CartItem{}, err
	}
	if quantity <= 0 {
		return model.CartItem{}, ErrInvalidQuantity
	}

	taxRate := product.TaxRate
	if taxRate == 0 {
		taxRate = defaultTaxRate
	}

	item, err := c.cart.AddItem(ctx, model.CartItem{
		ProductID: product.ID,
		Name:      product.Name,
		UnitPrice: product.Price,
		Quantity:  quantity,
		TaxRate:   taxRate,
	})
	if err != nil {
		return model.CartItem{}, err
	}

	c.refreshTotals()
	c.Emit(eventbus.ItemAdded, map[string]interface{}{
		"sale_id":    c.current.ID,
		"item":       item,
		"cart_total": c.current.Total,
	})

	return item, nil
}

// RemoveProductFromCart удаляет позицию из корзины текущей продажи.
func (c *Core) RemoveProductFromCart(ctx context.Context, itemID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requirePendingSale(); err != nil {
		return err
	}

	item, _ := c.cart.Item(itemID)
	if err := c.cart.RemoveItem(ctx, itemID); err != nil {
		return err
	}

	c.refreshTotals()
	c.Emit(eventbus.ItemRemoved, map[string]interface{}{
		"sale_id":    c.current.ID,
		"item":       item,
		"cart_total": c.current.Total,
	})

	return nil
}

// UpdateQuantity изменяет количество позиции; неположительное количество удаляет её.
func (c *Core) UpdateQuantity(ctx context.Context, itemID string, quantity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requirePendingSale(); err != nil {
		return err
	}

	if err := c.cart.UpdateQuantity(ctx, itemID, quantity); err != nil {
		return err
	}

	c.refreshTotals()
	return nil
}

// ApplyDiscount устанавливает скидку на продажу: фиксированную сумму в центах
// или процент от подытога.
func (c *Core) ApplyDiscount(ctx context.Context, amount float64, isPercent bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requirePendingSale(); err != nil {
		return err
	}

	var err error
	if isPercent {
		err = c.cart.SetDiscountPercent(ctx, amount)
	} else {
		err = c.cart.SetDiscount(ctx, int64(amount))
	}
	if err != nil {
		return err
	}

	c.refreshTotals()
	return nil
}

// CartState возвращает состояние корзины.
func (c *Core) CartState() model.CartState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cart.State()
}

// CurrentSale возвращает копию текущей продажи или nil, если продажа не начата.
func (c *Core) CurrentSale() *model.Sale {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return nil
	}

	sale := *c.current
	sale.Items = append([]model.CartItem(nil), c.current.Items...)
	return &sale
}

func (c *Core) validateCheckout(req model.PaymentRequest, total int64) error {
	if !model.IsValidPaymentMethod(req.Method) {
		return ErrInvalidPaymentMethod
	}
	if req.Amount <= 0 {
		return ErrInvalidAmount
	}

	switch req.Method {
	case model.PaymentMethodCash, model.PaymentMethodMixed:
		if req.Amount < total {
			return ErrInsufficientCash
		}
	case model.PaymentMethodAccountCredit:
		if req.CustomerID == "" {
			return ErrCustomerRequired
		}
		if req.Amount != total {
			return ErrAmountMismatch
		}
	default:
		if req.Amount != total {
			return ErrAmountMismatch
		}
	}

	return nil
}

// Checkout проводит оплату текущей продажи и возвращает завершённую продажу
// вместе с результатом расчёта. Ошибки валидации и конфликтов состояния
// возвращаются как error до обращения к движку платежей; отказ расчёта
// возвращается результатом, продажа остаётся PENDING и может быть оплачена
// повторно.
func (c *Core) Checkout(ctx context.Context, req model.PaymentRequest) (model.Sale, payment.Result, error) {
	c.mu.Lock()

	if c.checkoutInFlight {
		c.mu.Unlock()
		return model.Sale{}, payment.Result{}, ErrCheckoutInProgress
	}
	if err := c.requirePendingSale(); err != nil {
		c.mu.Unlock()
		return model.Sale{}, payment.Result{}, err
	}
	if c.cart.IsEmpty() {
		c.mu.Unlock()
		return model.Sale{}, payment.Result{}, ErrEmptyCart
	}

	total := c.cart.Total()
	if err := c.validateCheckout(req, total); err != nil {
		c.mu.Unlock()
		return model.Sale{}, payment.Result{}, err
	}

	saleID := c.current.ID
	c.checkoutInFlight = true
	c.mu.Unlock()

	// Попытка оплаты может приостанавливаться на время обмена со шлюзом;
	// блокировка на это время отпускается, отмена продажи заблокирована флагом.
	res := c.payments.Attempt(ctx, payment.Request{
		SaleID:     saleID,
		Method:     req.Method,
		Amount:     req.Amount,
		Owed:       total,
		CustomerID: req.CustomerID,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkoutInFlight = false

	if !res.Success {
		// Корзина не тронута, продажа остаётся PENDING для повторной попытки.
		return model.Sale{}, res, nil
	}

	c.refreshTotals()

	sale := *c.current
	sale.PaymentMethod = req.Method
	sale.CustomerID = req.CustomerID
	sale.Status = model.SaleStatusCompleted
	sale.ReceiptNumber = uuid.NewString()

	// Продажа сохраняется до публикации события и до смены статуса в памяти:
	// при сбое записи продажа остаётся PENDING, событие не публикуется, а
	// состоявшийся расчёт фиксируется в журнале для ручной сверки.
	if err := c.Storage().Set(ctx, salesCollection, sale.ID, sale, false); err != nil {
		c.logger.Error("persist sale after settlement failed",
			zap.String("sale_id", sale.ID),
			zap.String("settlement_ref", res.SettlementRef),
			zap.Error(err))
		return model.Sale{}, res, fmt.Errorf("persist sale: %w", err)
	}

	c.Emit(eventbus.SaleCompleted, SaleCompletedEvent{
		Sale:    sale,
		Payment: res,
	})
	c.logger.Info("sale completed",
		zap.String("sale_id", sale.ID),
		zap.Int64("total", sale.Total),
		zap.String("method", string(sale.PaymentMethod)))

	c.current = nil
	c.cart.Clear(ctx)

	return sale, res, nil
}

// CancelSale отменяет текущую продажу и очищает корзину. Отмена запрещена,
// пока идёт проведение оплаты, и недопустима для завершённой продажи.
func (c *Core) CancelSale(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.checkoutInFlight {
		return ErrCheckoutInProgress
	}
	if c.current == nil {
		return ErrNoActiveSale
	}
	if c.current.Status != model.SaleStatusPending {
		return ErrSaleNotPending
	}

	saleID := c.current.ID
	c.current.Status = model.SaleStatusCancelled

	c.Emit(eventbus.SaleCancelled, map[string]interface{}{
		"sale_id": saleID,
	})
	c.logger.Info("sale cancelled", zap.String("sale_id", saleID))

	c.current = nil
	c.cart.Clear(ctx)

	return nil
}

// SalesStats возвращает агрегаты по завершённым продажам за последние windowDays дней.
func (c *Core) SalesStats(ctx context.Context, windowDays int) (model.SalesStats, error) {
	if windowDays <= 0 {
		windowDays = 30
	}

	records, err := c.Storage().GetAll(ctx, salesCollection)
	if err != nil {
		return model.SalesStats{}, fmt.Errorf("load sales history: %w", err)
	}

	since := c.now().AddDate(0, 0, -windowDays)

	stats := model.SalesStats{PeriodDays: windowDays}
	for _, rec := range records {
		var sale model.Sale
		if err := json.Unmarshal(rec.Data, &sale); err != nil {
			c.logger.Warn("skip malformed sale record", zap.String("key", rec.Key), zap.Error(err))
			continue
		}

		if sale.Status != model.SaleStatusCompleted || sale.CreatedAt.Before(since) {
			continue
		}

		stats.Count++
		stats.TotalAmount += sale.Total
	}

	if stats.Count > 0 {
		stats.AverageTicket = float64(stats.TotalAmount) / float64(stats.Count)
	}

	return stats, nil
}
