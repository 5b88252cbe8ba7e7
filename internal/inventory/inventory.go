// Package inventory реализует модуль склада: каталог товаров, движения остатков
// и оповещения о низком остатке. Остатки списываются по событию sale.completed.
package inventory

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
	"github.com/mmeshcher/pos-terminal-system/internal/validation"
)

// ModuleID — идентификатор модуля склада.
const ModuleID = "pos-inventory"

const (
	productsCollection  = "products"
	movementsCollection = "movements"
	alertsCollection    = "alerts"
)

// ErrProductNotFound возвращается, если товар не найден в каталоге.
var (
	ErrProductNotFound = errors.New("product not found")
	// ErrInvalidProduct возвращается для товара с некорректными данными.
	ErrInvalidProduct = errors.New("invalid product")
)

// MovementType описывает причину движения остатка.
type MovementType string

const (
	MovementSale       MovementType = "sale"
	MovementAdjustment MovementType = "adjustment"
	MovementRestock    MovementType = "restock"
)

// Movement описывает одно движение остатка товара.
type Movement struct {
	ID        string       `json:"id"`
	ProductID string       `json:"product_id"`
	Type      MovementType `json:"type"`
	Quantity  int          `json:"quantity"`
	SaleID    string       `json:"sale_id,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	At        time.Time    `json:"at"`
}

// StockAlert описывает действующее оповещение о низком остатке.
type StockAlert struct {
	ProductID string    `json:"product_id"`
	Name      string    `json:"name"`
	Stock     int       `json:"stock"`
	MinStock  int       `json:"min_stock"`
	At        time.Time `json:"at"`
}

// Inventory — модуль склада. Подписан на завершение продаж базового модуля.
type Inventory struct {
	*module.Base
	logger *zap.Logger

	// Сериализует списания и корректировки: остаток читается и перезаписывается.
	mu sync.Mutex
}

// Descriptor возвращает дескриптор модуля склада.
func Descriptor() module.Descriptor {
	return module.Descriptor{
		ID:           ModuleID,
		Name:         "Inventory",
		Version:      "1.0.0",
		Dependencies: []string{module.CoreModuleID},
		Optional:     true,
		MonthlyPrice: 800000,
		TrialDays:    30,
		Description:  "Каталог товаров, остатки и оповещения о низком остатке",
	}
}

// NewInventory создаёт модуль склада и подписывает его на завершение продаж.
func NewInventory(bus *eventbus.Bus, store *storage.OfflineStore, logger *zap.Logger) *Inventory {
	inv := &Inventory{
		Base:   module.NewBase(Descriptor(), bus, store),
		logger: logger,
	}

	inv.Subscribe(module.CoreModuleID, eventbus.SaleCompleted, inv.handleSaleCompleted)

	return inv
}

// Install инициализирует модуль склада.
func (inv *Inventory) Install(ctx context.Context) error {
	return nil
}

// Uninstall освобождает ресурсы модуля склада.
func (inv *Inventory) Uninstall(ctx context.Context) error {
	return nil
}

func validateProduct(p model.Product) error {
	if p.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidProduct)
	}
	if p.Price < 0 {
		return fmt.Errorf("%w: negative price", ErrInvalidProduct)
	}
	if p.MinStock < 0 {
		return fmt.Errorf("%w: negative min stock", ErrInvalidProduct)
	}
	if p.Barcode != "" && !validation.IsValidEAN13(p.Barcode) {
		return fmt.Errorf("%w: invalid barcode %s", ErrInvalidProduct, p.Barcode)
	}
	return nil
}

// AddProduct добавляет товар в каталог. Штрихкод, если указан, проверяется
// по контрольной цифре EAN-13.
func (inv *Inventory) AddProduct(ctx context.Context, p model.Product) (model.Product, error) {
	if err := validateProduct(p); err != nil {
		return model.Product{}, err
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Active = true

	inv.mu.Lock()
	defer inv.mu.Unlock()

	if err := inv.Storage().Set(ctx, productsCollection, p.ID, p, false); err != nil {
		return model.Product{}, fmt.Errorf("save product: %w", err)
	}

	inv.logger.Info("product added",
		zap.String("product_id", p.ID),
		zap.String("name", p.Name))

	return p, nil
}

// Product возвращает товар по идентификатору.
func (inv *Inventory) Product(ctx context.Context, id string) (model.Product, error) {
	var p model.Product
	if err := inv.Storage().Get(ctx, productsCollection, id, &p); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, id)
		}
		return model.Product{}, err
	}
	return p, nil
}

// Products возвращает каталог товаров.
func (inv *Inventory) Products(ctx context.Context) ([]model.Product, error) {
	records, err := inv.Storage().GetAll(ctx, productsCollection)
	if err != nil {
		return nil, err
	}

	res := make([]model.Product, 0, len(records))
	for _, rec := range records {
		var p model.Product
		if err := json.Unmarshal(rec.Data, &p); err != nil {
			inv.logger.Warn("skip malformed product record", zap.String("key", rec.Key), zap.Error(err))
			continue
		}
		res = append(res, p)
	}

	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

// AdjustStock изменяет остаток товара на delta и записывает движение.
// Положительная дельта — приход, отрицательная — корректировка в минус.
func (inv *Inventory) AdjustStock(ctx context.Context, productID string, delta int, reason string) (model.Product, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	movType := MovementAdjustment
	if delta > 0 {
		movType = MovementRestock
	}

	return inv.applyMovement(ctx, productID, delta, Movement{
		Type:   movType,
		Reason: reason,
	})
}

// Вызывается под блокировкой.
func (inv *Inventory) applyMovement(ctx context.Context, productID string, delta int, mov Movement) (model.Product, error) {
	var p model.Product
	if err := inv.Storage().Get(ctx, productsCollection, productID, &p); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		return model.Product{}, err
	}

	p.Stock += delta
	if p.Stock < 0 {
		// Продажа без учтённого прихода: остаток фиксируется нулевым,
		// расхождение остаётся в журнале движений.
		inv.logger.Warn("stock went negative, clamped to zero",
			zap.String("product_id", productID),
			zap.Int("delta", delta))
		p.Stock = 0
	}

	if err := inv.Storage().Set(ctx, productsCollection, p.ID, p, false); err != nil {
		return model.Product{}, fmt.Errorf("save product: %w", err)
	}

	mov.ID = uuid.NewString()
	mov.ProductID = productID
	mov.Quantity = delta
	mov.At = time.Now()
	if err := inv.Storage().Set(ctx, movementsCollection, mov.ID, mov, false); err != nil {
		inv.logger.Error("save stock movement failed", zap.Error(err))
	}

	inv.checkLowStock(ctx, p)

	return p, nil
}

func (inv *Inventory) checkLowStock(ctx context.Context, p model.Product) {
	if p.MinStock <= 0 {
		return
	}

	if p.Stock > p.MinStock {
		// Снимается только действующее оповещение: удаление без проверки
		// ставило бы в очередь синхронизации запись на каждое здоровое движение.
		var existing StockAlert
		if err := inv.Storage().Get(ctx, alertsCollection, p.ID, &existing); err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				inv.logger.Warn("read stock alert failed", zap.Error(err))
			}
			return
		}
		if err := inv.Storage().Delete(ctx, alertsCollection, p.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			inv.logger.Warn("clear stock alert failed", zap.Error(err))
		}
		return
	}

	alert := StockAlert{
		ProductID: p.ID,
		Name:      p.Name,
		Stock:     p.Stock,
		MinStock:  p.MinStock,
		At:        time.Now(),
	}

	if err := inv.Storage().Set(ctx, alertsCollection, p.ID, alert, false); err != nil {
		inv.logger.Error("save stock alert failed", zap.Error(err))
	}

	inv.Emit(eventbus.LowStockAlert, alert)
	inv.logger.Warn("low stock",
		zap.String("product_id", p.ID),
		zap.Int("stock", p.Stock),
		zap.Int("min_stock", p.MinStock))
}

// ActiveAlerts возвращает действующие оповещения о низком остатке.
func (inv *Inventory) ActiveAlerts(ctx context.Context) ([]StockAlert, error) {
	records, err := inv.Storage().GetAll(ctx, alertsCollection)
	if err != nil {
		return nil, err
	}

	res := make([]StockAlert, 0, len(records))
	for _, rec := range records {
		var a StockAlert
		if err := json.Unmarshal(rec.Data, &a); err != nil {
			continue
		}
		res = append(res, a)
	}

	sort.Slice(res, func(i, j int) bool { return res[i].At.Before(res[j].At) })
	return res, nil
}

// Movements возвращает журнал движений по товару.
func (inv *Inventory) Movements(ctx context.Context, productID string) ([]Movement, error) {
	records, err := inv.Storage().GetAll(ctx, movementsCollection)
	if err != nil {
		return nil, err
	}

	res := make([]Movement, 0)
	for _, rec := range records {
		var m Movement
		if err := json.Unmarshal(rec.Data, &m); err != nil {
			continue
		}
		if productID == "" || m.ProductID == productID {
			res = append(res, m)
		}
	}

	sort.Slice(res, func(i, j int) bool { return res[i].At.Before(res[j].At) })
	return res, nil
}

// handleSaleCompleted списывает остатки по позициям завершённой продажи.
// Обработчик вызывается из публикации события, собственного контекста у него нет.
func (inv *Inventory) handleSaleCompleted(e eventbus.Event) {
	completed, ok := e.Payload.(pos.SaleCompletedEvent)
	if !ok {
		inv.logger.Warn("unexpected sale.completed payload", zap.String("event_id", e.ID))
		return
	}

	ctx := context.Background()

	inv.mu.Lock()
	defer inv.mu.Unlock()

	for _, item := range completed.Sale.Items {
		_, err := inv.applyMovement(ctx, item.ProductID, -item.Quantity, Movement{
			Type:   MovementSale,
			SaleID: completed.Sale.ID,
		})
		if err != nil {
			if errors.Is(err, ErrProductNotFound) {
				// Товар мог быть продан вне каталога, списывать нечего.
				continue
			}
			inv.logger.Error("apply sale movement failed",
				zap.String("sale_id", completed.Sale.ID),
				zap.String("product_id", item.ProductID),
				zap.Error(err))
		}
	}
}
