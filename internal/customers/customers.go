// Package customers реализует модуль покупателей: продажи в кредит (fiado),
// бонусные баллы и статистику покупок. Долг и баллы обновляются по событию
// sale.completed.
package customers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/pos-terminal-system/internal/eventbus"
	"github.com/mmeshcher/pos-terminal-system/internal/model"
	"github.com/mmeshcher/pos-terminal-system/internal/module"
	"github.com/mmeshcher/pos-terminal-system/internal/pos"
	"github.com/mmeshcher/pos-terminal-system/internal/storage"
)

// ModuleID — идентификатор модуля покупателей.
const ModuleID = "pos-customers"

const (
	customersCollection = "customers"
	paymentsCollection  = "payments"
	statsCollection     = "stats"

	// Один бонусный балл за каждые полные 100 единиц валюты (10000 центов).
	loyaltyPointCost = 10000
)

// ErrCustomerNotFound возвращается, если покупатель не найден.
var (
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrInvalidCustomer возвращается для покупателя с некорректными данными.
	ErrInvalidCustomer = errors.New("invalid customer")
	// ErrInvalidPayment возвращается для неположительной суммы погашения долга.
	ErrInvalidPayment = errors.New("payment amount must be positive")
)

// DebtPayment описывает погашение долга покупателя.
type DebtPayment struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	Amount     int64     `json:"amount"`
	At         time.Time `json:"at"`
}

// PurchaseStats содержит накопленную статистику покупок покупателя.
type PurchaseStats struct {
	PurchaseCount int       `json:"purchase_count"`
	TotalSpent    int64     `json:"total_spent"`
	LastPurchase  time.Time `json:"last_purchase"`
}

// Customers — модуль покупателей. Подписан на завершение продаж базового модуля.
type Customers struct {
	*module.Base
	logger *zap.Logger

	// Сериализует изменения долга и баллов: запись покупателя читается и перезаписывается.
	mu sync.Mutex
}

// Descriptor возвращает дескриптор модуля покупателей.
func Descriptor() module.Descriptor {
	return module.Descriptor{
		ID:           ModuleID,
		Name:         "Customers",
		Version:      "1.0.0",
		Dependencies: []string{module.CoreModuleID},
		Optional:     true,
		MonthlyPrice: 600000,
		TrialDays:    30,
		Description:  "Покупатели, продажи в кредит и бонусные баллы",
	}
}

// NewCustomers создаёт модуль покупателей и подписывает его на завершение продаж.
func NewCustomers(bus *eventbus.Bus, store *storage.OfflineStore, logger *zap.Logger) *Customers {
	c := &Customers{
		Base:   module.NewBase(Descriptor(), bus, store),
		logger: logger,
	}

	c.Subscribe(module.CoreModuleID, eventbus.SaleCompleted, c.handleSaleCompleted)

	return c
}

// Install инициализирует модуль покупателей.
func (c *Customers) Install(ctx context.Context) error {
	return nil
}

// Uninstall освобождает ресурсы модуля покупателей.
func (c *Customers) Uninstall(ctx context.Context) error {
	return nil
}

// Register добавляет покупателя.
func (c *Customers) Register(ctx context.Context, cust model.Customer) (model.Customer, error) {
	if cust.Name == "" {
		return model.Customer{}, fmt.Errorf("%w: empty name", ErrInvalidCustomer)
	}
	if cust.CreditLimit < 0 {
		return model.Customer{}, fmt.Errorf("%w: negative credit limit", ErrInvalidCustomer)
	}

	if cust.ID == "" {
		cust.ID = uuid.NewString()
	}
	cust.CurrentDebt = 0
	cust.LoyaltyPoints = 0
	cust.CreatedAt = time.Now()

	if err := c.Storage().Set(ctx, customersCollection, cust.ID, cust, false); err != nil {
		return model.Customer{}, fmt.Errorf("save customer: %w", err)
	}

	c.logger.Info("customer registered",
		zap.String("customer_id", cust.ID),
		zap.String("name", cust.Name))

	return cust, nil
}

// Customer возвращает покупателя по идентификатору.
func (c *Customers) Customer(ctx context.Context, id string) (model.Customer, error) {
	var cust model.Customer
	if err := c.Storage().Get(ctx, customersCollection, id, &cust); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Customer{}, fmt.Errorf("%w: %s", ErrCustomerNotFound, id)
		}
		return model.Customer{}, err
	}
	return cust, nil
}

// List возвращает всех покупателей, отсортированных по имени.
func (c *Customers) List(ctx context.Context) ([]model.Customer, error) {
	records, err := c.Storage().GetAll(ctx, customersCollection)
	if err != nil {
		return nil, err
	}

	res := make([]model.Customer, 0, len(records))
	for _, rec := range records {
		var cust model.Customer
		if err := json.Unmarshal(rec.Data, &cust); err != nil {
			c.logger.Warn("skip malformed customer record", zap.String("key", rec.Key), zap.Error(err))
			continue
		}
		res = append(res, cust)
	}

	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

// CreditAvailable возвращает остаток кредитного лимита покупателя.
func (c *Customers) CreditAvailable(ctx context.Context, id string) (int64, error) {
	cust, err := c.Customer(ctx, id)
	if err != nil {
		return 0, err
	}

	available := cust.CreditLimit - cust.CurrentDebt
	if available < 0 {
		available = 0
	}
	return available, nil
}

// RegisterPayment погашает долг покупателя на указанную сумму в центах.
// Переплата обнуляет долг, отрицательный долг не накапливается.
func (c *Customers) RegisterPayment(ctx context.Context, customerID string, amount int64) (model.Customer, error) {
	if amount <= 0 {
		return model.Customer{}, ErrInvalidPayment
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cust, err := c.Customer(ctx, customerID)
	if err != nil {
		return model.Customer{}, err
	}

	cust.CurrentDebt -= amount
	if cust.CurrentDebt < 0 {
		cust.CurrentDebt = 0
	}

	if err := c.Storage().Set(ctx, customersCollection, cust.ID, cust, false); err != nil {
		return model.Customer{}, fmt.Errorf("save customer: %w", err)
	}

	payment := DebtPayment{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Amount:     amount,
		At:         time.Now(),
	}
	if err := c.Storage().Set(ctx, paymentsCollection, payment.ID, payment, false); err != nil {
		c.logger.Error("save debt payment failed", zap.Error(err))
	}

	c.logger.Info("debt payment registered",
		zap.String("customer_id", customerID),
		zap.Int64("amount", amount),
		zap.Int64("debt", cust.CurrentDebt))

	return cust, nil
}

// Stats возвращает статистику покупок покупателя.
func (c *Customers) Stats(ctx context.Context, customerID string) (PurchaseStats, error) {
	var stats PurchaseStats
	err := c.Storage().Get(ctx, statsCollection, customerID, &stats)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return PurchaseStats{}, err
	}
	return stats, nil
}

// handleSaleCompleted обновляет долг, бонусные баллы и статистику покупателя.
// Обработчик вызывается из публикации события, собственного контекста у него нет.
func (c *Customers) handleSaleCompleted(e eventbus.Event) {
	completed, ok := e.Payload.(pos.SaleCompletedEvent)
	if !ok {
		c.logger.Warn("unexpected sale.completed payload", zap.String("event_id", e.ID))
		return
	}

	sale := completed.Sale
	if sale.CustomerID == "" {
		return
	}

	ctx := context.Background()

	c.mu.Lock()
	defer c.mu.Unlock()

	cust, err := c.Customer(ctx, sale.CustomerID)
	if err != nil {
		c.logger.Warn("sale for unknown customer",
			zap.String("sale_id", sale.ID),
			zap.String("customer_id", sale.CustomerID))
		return
	}

	if sale.PaymentMethod == model.PaymentMethodAccountCredit {
		newDebt := cust.CurrentDebt + sale.Total
		if newDebt > cust.CreditLimit {
			// Долг не увеличивается, продажа уже завершена: решение о взыскании
			// остаётся за оператором.
			c.Emit(eventbus.CreditLimitExceeded, map[string]interface{}{
				"customer_id":  cust.ID,
				"sale_id":      sale.ID,
				"credit_limit": cust.CreditLimit,
				"current_debt": cust.CurrentDebt,
				"sale_total":   sale.Total,
			})
			c.logger.Warn("credit limit exceeded",
				zap.String("customer_id", cust.ID),
				zap.Int64("limit", cust.CreditLimit),
				zap.Int64("debt", cust.CurrentDebt),
				zap.Int64("total", sale.Total))
		} else {
			cust.CurrentDebt = newDebt
		}
	}

	cust.LoyaltyPoints += sale.Total / loyaltyPointCost
	cust.LastPurchase = sale.CreatedAt

	if err := c.Storage().Set(ctx, customersCollection, cust.ID, cust, false); err != nil {
		c.logger.Error("save customer failed", zap.Error(err))
		return
	}

	var stats PurchaseStats
	if err := c.Storage().Get(ctx, statsCollection, cust.ID, &stats); err != nil && !errors.Is(err, storage.ErrNotFound) {
		c.logger.Error("load purchase stats failed", zap.Error(err))
		return
	}

	stats.PurchaseCount++
	stats.TotalSpent += sale.Total
	stats.LastPurchase = sale.CreatedAt

	if err := c.Storage().Set(ctx, statsCollection, cust.ID, stats, false); err != nil {
		c.logger.Error("save purchase stats failed", zap.Error(err))
	}
}
