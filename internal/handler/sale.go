package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/pos-terminal-system/internal/inventory"
	"github.com/mmeshcher/pos-terminal-system/internal/model"
	"github.com/mmeshcher/pos-terminal-system/internal/payment"
)

type cartItemDTO struct {
	ID        string  `json:"id"`
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
	TaxRate   float64 `json:"tax_rate"`
	Discount  float64 `json:"discount,omitempty"`
}

func toCartItemDTO(item model.CartItem) cartItemDTO {
	return cartItemDTO{
		ID:        item.ID,
		ProductID: item.ProductID,
		Name:      item.Name,
		UnitPrice: fromCents(item.UnitPrice),
		Quantity:  item.Quantity,
		TaxRate:   item.TaxRate,
		Discount:  fromCents(item.Discount),
	}
}

type cartStateDTO struct {
	Items     []cartItemDTO `json:"items"`
	ItemCount int           `json:"item_count"`
	Subtotal  float64       `json:"subtotal"`
	Tax       float64       `json:"tax"`
	Discount  float64       `json:"discount"`
	Total     float64       `json:"total"`
	IsEmpty   bool          `json:"is_empty"`
}

func toCartStateDTO(state model.CartState) cartStateDTO {
	items := make([]cartItemDTO, 0, len(state.Items))
	for _, item := range state.Items {
		items = append(items, toCartItemDTO(item))
	}

	return cartStateDTO{
		Items:     items,
		ItemCount: state.ItemCount,
		Subtotal:  fromCents(state.Subtotal),
		Tax:       fromCents(state.Tax),
		Discount:  fromCents(state.Discount),
		Total:     fromCents(state.Total),
		IsEmpty:   state.IsEmpty,
	}
}

type saleDTO struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Cart          cartStateDTO `json:"cart"`
	PaymentMethod string       `json:"payment_method,omitempty"`
	CustomerID    string       `json:"customer_id,omitempty"`
	CreatedAt     string       `json:"created_at"`
	ReceiptNumber string       `json:"receipt_number,omitempty"`
}

func (h *Handler) startSale(w http.ResponseWriter, r *http.Request) {
	saleID, err := h.sales.StartSale(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"sale_id": saleID})
}

func (h *Handler) currentSale(w http.ResponseWriter, r *http.Request) {
	sale := h.sales.CurrentSale()
	if sale == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, http.StatusOK, saleDTO{
		ID:            sale.ID,
		Status:        string(sale.Status),
		Cart:          toCartStateDTO(h.sales.CartState()),
		PaymentMethod: string(sale.PaymentMethod),
		CustomerID:    sale.CustomerID,
		CreatedAt:     sale.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		ReceiptNumber: sale.ReceiptNumber,
	})
}

func (h *Handler) cancelSale(w http.ResponseWriter, r *http.Request) {
	if err := h.sales.CancelSale(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addItemRequest struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Name      string  `json:"name,omitempty"`
	Price     float64 `json:"price,omitempty"`
	TaxRate   float64 `json:"tax_rate,omitempty"`
}

// addItem добавляет товар в корзину. Товар ищется в каталоге по product_id;
// при отсутствии каталога или товара в нём принимаются встроенные имя и цена.
func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	product := model.Product{
		ID:      req.ProductID,
		Name:    req.Name,
		Price:   toCents(req.Price),
		TaxRate: req.TaxRate,
	}

	if h.catalog != nil && req.ProductID != "" {
		p, err := h.catalog.Product(r.Context(), req.ProductID)
		switch {
		case err == nil:
			product = p
		case !errors.Is(err, inventory.ErrProductNotFound):
			h.writeError(w, err)
			return
		}
	}

	item, err := h.sales.AddProductToCart(r.Context(), product, req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"item": toCartItemDTO(item),
		"cart": toCartStateDTO(h.sales.CartState()),
	})
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.sales.UpdateQuantity(r.Context(), itemID, req.Quantity); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toCartStateDTO(h.sales.CartState()))
}

func (h *Handler) cartState(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, toCartStateDTO(h.sales.CartState()))
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	if err := h.sales.RemoveProductFromCart(r.Context(), itemID); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toCartStateDTO(h.sales.CartState()))
}

type discountRequest struct {
	Amount    float64 `json:"amount"`
	IsPercent bool    `json:"is_percent"`
}

func (h *Handler) applyDiscount(w http.ResponseWriter, r *http.Request) {
	var req discountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	amount := req.Amount
	if !req.IsPercent {
		amount = float64(toCents(req.Amount))
	}

	if err := h.sales.ApplyDiscount(r.Context(), amount, req.IsPercent); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toCartStateDTO(h.sales.CartState()))
}

type checkoutRequest struct {
	Method     string  `json:"method"`
	Amount     float64 `json:"amount"`
	CustomerID string  `json:"customer_id,omitempty"`
}

type checkoutResponse struct {
	Success       bool    `json:"success"`
	SettlementRef string  `json:"settlement_ref,omitempty"`
	AuthCode      string  `json:"auth_code,omitempty"`
	Change        float64 `json:"change,omitempty"`
	Reason        string  `json:"reason,omitempty"`
	ReceiptNumber string  `json:"receipt_number,omitempty"`
}

func toCheckoutResponse(res payment.Result, receipt string) checkoutResponse {
	return checkoutResponse{
		Success:       res.Success,
		SettlementRef: res.SettlementRef,
		AuthCode:      res.AuthCode,
		Change:        fromCents(res.Change),
		Reason:        res.Reason,
		ReceiptNumber: receipt,
	}
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sale, res, err := h.sales.Checkout(r.Context(), model.PaymentRequest{
		Method:     model.PaymentMethod(req.Method),
		Amount:     toCents(req.Amount),
		CustomerID: req.CustomerID,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	if !res.Success {
		h.writeJSON(w, http.StatusPaymentRequired, toCheckoutResponse(res, ""))
		return
	}

	h.writeJSON(w, http.StatusOK, toCheckoutResponse(res, sale.ReceiptNumber))
}

type salesStatsResponse struct {
	Count         int     `json:"count"`
	TotalAmount   float64 `json:"total_amount"`
	AverageTicket float64 `json:"average_ticket"`
	PeriodDays    int     `json:"period_days"`
}

func (h *Handler) salesStats(w http.ResponseWriter, r *http.Request) {
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid days parameter", http.StatusBadRequest)
			return
		}
		days = parsed
	}

	stats, err := h.sales.SalesStats(r.Context(), days)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, salesStatsResponse{
		Count:         stats.Count,
		TotalAmount:   fromCents(stats.TotalAmount),
		AverageTicket: stats.AverageTicket / 100,
		PeriodDays:    stats.PeriodDays,
	})
}
