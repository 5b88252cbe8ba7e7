// Package cart реализует корзину текущей продажи: позиции, суммы, налоги,
// скидки и снимок для восстановления после сбоя.
package cart

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/pos-terminal-system/internal/model"
	"github.com/mmeshcher/pos-terminal-system/internal/storage"
)

// DefaultSnapshotMaxAge — срок, по истечении которого сохранённый снимок корзины
// считается устаревшим и не восстанавливается.
const DefaultSnapshotMaxAge = 24 * time.Hour

const (
	snapshotCollection = "cart"
	snapshotKey        = "current"
)

// ErrInvalidItem возвращается для позиции с некорректными данными.
var (
	ErrInvalidItem = errors.New("invalid cart item")
	// ErrItemNotFound возвращается, если позиция не найдена в корзине.
	ErrItemNotFound = errors.New("cart item not found")
)

type snapshot struct {
	Items    []model.CartItem `json:"items"`
	Discount int64            `json:"discount"`
	SavedAt  time.Time        `json:"saved_at"`
}

// Cart хранит позиции текущей продажи и вычисляет суммы в центах.
// Каждая мутация синхронно сохраняет полный снимок корзины.
type Cart struct {
	store  *storage.Namespace
	maxAge time.Duration
	logger *zap.Logger
	now    func() time.Time

	items    []model.CartItem
	discount int64
}

// New создаёт корзину и восстанавливает сохранённый снимок, если его возраст
// меньше maxAge. Устаревший снимок отбрасывается.
func New(ctx context.Context, store *storage.Namespace, maxAge time.Duration, logger *zap.Logger) *Cart {
	if maxAge <= 0 {
		maxAge = DefaultSnapshotMaxAge
	}

	c := &Cart{
		store:  store,
		maxAge: maxAge,
		logger: logger,
		now:    time.Now,
	}
	c.restore(ctx)

	return c
}

func (c *Cart) restore(ctx context.Context) {
	if c.store == nil {
		return
	}

	var snap snapshot
	if err := c.store.Get(ctx, snapshotCollection, snapshotKey, &snap); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("restore cart snapshot error", zap.Error(err))
		}
		return
	}

	if c.now().Sub(snap.SavedAt) > c.maxAge {
		c.logger.Info("stale cart snapshot discarded", zap.Time("saved_at", snap.SavedAt))
		if err := c.store.Delete(ctx, snapshotCollection, snapshotKey); err != nil {
			c.logger.Warn("delete stale cart snapshot error", zap.Error(err))
		}
		return
	}

	c.items = snap.Items
	c.discount = snap.Discount
	c.logger.Info("cart restored from snapshot", zap.Int("items", len(c.items)))
}

func (c *Cart) persist(ctx context.Context) {
	if c.store == nil {
		return
	}

	snap := snapshot{
		Items:    c.items,
		Discount: c.discount,
		SavedAt:  c.now(),
	}

	// Снимок корзины — локальное состояние терминала, в авторитетное хранилище
	// не выгружается, поэтому пишется как синхронизированный.
	if err := c.store.Set(ctx, snapshotCollection, snapshotKey, snap, true); err != nil {
		c.logger.Error("persist cart snapshot error", zap.Error(err))
	}
}

func validateItem(item model.CartItem) error {
	if item.ProductID == "" {
		return fmt.Errorf("%w: empty product id", ErrInvalidItem)
	}
	if item.UnitPrice < 0 {
		return fmt.Errorf("%w: negative unit price", ErrInvalidItem)
	}
	if item.Quantity <= 0 {
		return fmt.Errorf("%w: non-positive quantity", ErrInvalidItem)
	}
	if item.TaxRate < 0 || item.TaxRate > 100 {
		return fmt.Errorf("%w: tax rate out of range", ErrInvalidItem)
	}
	if item.Discount < 0 {
		return fmt.Errorf("%w: negative discount", ErrInvalidItem)
	}
	return nil
}

// AddItem добавляет позицию. Если в корзине уже есть позиция с теми же товаром,
// ценой и ставкой налога, количества складываются вместо создания новой строки.
func (c *Cart) AddItem(ctx context.Context, item model.CartItem) (model.CartItem, error) {
	if err := validateItem(item); err != nil {
		return model.CartItem{}, err
	}

	for i := range c.items {
		existing := &c.items[i]
		if existing.ProductID == item.ProductID &&
			existing.UnitPrice == item.UnitPrice &&
			existing.TaxRate == item.TaxRate {
			existing.Quantity += item.Quantity
			c.persist(ctx)
			return *existing, nil
		}
	}

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	c.items = append(c.items, item)
	c.persist(ctx)

	return item, nil
}

// RemoveItem удаляет позицию по идентификатору.
func (c *Cart) RemoveItem(ctx context.Context, itemID string) error {
	for i := range c.items {
		if c.items[i].ID == itemID {
			c.items = append(c.items[:i:i], c.items[i+1:]...)
			c.persist(ctx)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
}

// UpdateQuantity устанавливает количество позиции. Неположительное количество
// удаляет позицию.
func (c *Cart) UpdateQuantity(ctx context.Context, itemID string, quantity int) error {
	if quantity <= 0 {
		return c.RemoveItem(ctx, itemID)
	}

	for i := range c.items {
		if c.items[i].ID == itemID {
			c.items[i].Quantity = quantity
			c.persist(ctx)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
}

// SetItemDiscount устанавливает скидку на отдельную позицию.
func (c *Cart) SetItemDiscount(ctx context.Context, itemID string, discount int64) error {
	if discount < 0 {
		return fmt.Errorf("%w: negative discount", ErrInvalidItem)
	}

	for i := range c.items {
		if c.items[i].ID == itemID {
			c.items[i].Discount = discount
			c.persist(ctx)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
}

// SetDiscount устанавливает общую скидку на корзину в центах.
func (c *Cart) SetDiscount(ctx context.Context, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative discount", ErrInvalidItem)
	}

	c.discount = amount
	c.persist(ctx)
	return nil
}

// SetDiscountPercent устанавливает общую скидку как процент от текущего подытога.
func (c *Cart) SetDiscountPercent(ctx context.Context, percent float64) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: percent out of range", ErrInvalidItem)
	}

	c.discount = roundHalfUp(float64(c.Subtotal()) * percent / 100)
	c.persist(ctx)
	return nil
}

// Item возвращает позицию по идентификатору.
func (c *Cart) Item(itemID string) (model.CartItem, bool) {
	for _, item := range c.items {
		if item.ID == itemID {
			return item, true
		}
	}
	return model.CartItem{}, false
}

// Items возвращает копию списка позиций в порядке добавления.
func (c *Cart) Items() []model.CartItem {
	res := make([]model.CartItem, len(c.items))
	copy(res, c.items)
	return res
}

// ItemCount возвращает суммарное количество единиц товара в корзине.
func (c *Cart) ItemCount() int {
	count := 0
	for _, item := range c.items {
		count += item.Quantity
	}
	return count
}

func lineSubtotal(item model.CartItem) int64 {
	sub := item.UnitPrice*int64(item.Quantity) - item.Discount
	if sub < 0 {
		return 0
	}
	return sub
}

// Subtotal возвращает подытог: сумму позиций за вычетом скидок по позициям,
// каждая строка ограничена снизу нулём.
func (c *Cart) Subtotal() int64 {
	var sum int64
	for _, item := range c.items {
		sum += lineSubtotal(item)
	}
	return sum
}

// Tax возвращает сумму налогов по всем позициям, округлённую до цента
// по правилу half-up.
func (c *Cart) Tax() int64 {
	var sum float64
	for _, item := range c.items {
		sum += float64(lineSubtotal(item)) * item.TaxRate / 100
	}
	return roundHalfUp(sum)
}

// Discount возвращает общую скидку на корзину. Скидки по позициям уже учтены
// в подытоге и здесь не дублируются.
func (c *Cart) Discount() int64 {
	return c.discount
}

// Total возвращает итог: подытог плюс налог минус общая скидка, не меньше нуля.
func (c *Cart) Total() int64 {
	total := c.Subtotal() + c.Tax() - c.discount
	if total < 0 {
		return 0
	}
	return total
}

// IsEmpty сообщает, пуста ли корзина.
func (c *Cart) IsEmpty() bool {
	return len(c.items) == 0
}

// Clear очищает корзину и сбрасывает скидку.
func (c *Cart) Clear(ctx context.Context) {
	c.items = nil
	c.discount = 0
	c.persist(ctx)
}

// State возвращает состояние корзины для внешних слоёв.
func (c *Cart) State() model.CartState {
	return model.CartState{
		Items:     c.Items(),
		ItemCount: c.ItemCount(),
		Subtotal:  c.Subtotal(),
		Tax:       c.Tax(),
		Discount:  c.Discount(),
		Total:     c.Total(),
		IsEmpty:   c.IsEmpty(),
	}
}

func roundHalfUp(x float64) int64 {
	return int64(math.Floor(x + 0.5))
}
