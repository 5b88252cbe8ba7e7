package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/pos-terminal-system/internal/model"
)

type syncStatusResponse struct {
	Online       bool       `json:"online"`
	PendingCount int        `json:"pending_count"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
}

func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.sync.Status(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := syncStatusResponse{
		Online:       status.Online,
		PendingCount: status.PendingCount,
	}
	if !status.LastSyncAt.IsZero() {
		resp.LastSyncAt = &status.LastSyncAt
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listModules(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.modules.Modules())
}

func (h *Handler) activateModule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "moduleID")

	if err := h.modules.Activate(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deactivateModule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "moduleID")

	if err := h.modules.Deactivate(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) uninstallModule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "moduleID")

	if err := h.modules.Uninstall(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type productDTO struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Category string  `json:"category,omitempty"`
	Barcode  string  `json:"barcode,omitempty"`
	Stock    int     `json:"stock"`
	MinStock int     `json:"min_stock"`
	TaxRate  float64 `json:"tax_rate"`
	Active   bool    `json:"active"`
}

func toProductDTO(p model.Product) productDTO {
	return productDTO{
		ID:       p.ID,
		Name:     p.Name,
		Price:    fromCents(p.Price),
		Category: p.Category,
		Barcode:  p.Barcode,
		Stock:    p.Stock,
		MinStock: p.MinStock,
		TaxRate:  p.TaxRate,
		Active:   p.Active,
	}
}

func (h *Handler) requireCatalog(w http.ResponseWriter) bool {
	if h.catalog == nil {
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "inventory module is not active"})
		return false
	}
	return true
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	if !h.requireCatalog(w) {
		return
	}

	products, err := h.catalog.Products(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	res := make([]productDTO, 0, len(products))
	for _, p := range products {
		res = append(res, toProductDTO(p))
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) addProduct(w http.ResponseWriter, r *http.Request) {
	if !h.requireCatalog(w) {
		return
	}

	var req productDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p, err := h.catalog.AddProduct(r.Context(), model.Product{
		ID:       req.ID,
		Name:     req.Name,
		Price:    toCents(req.Price),
		Category: req.Category,
		Barcode:  req.Barcode,
		Stock:    req.Stock,
		MinStock: req.MinStock,
		TaxRate:  req.TaxRate,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, toProductDTO(p))
}

type stockAlertDTO struct {
	ProductID string    `json:"product_id"`
	Name      string    `json:"name"`
	Stock     int       `json:"stock"`
	MinStock  int       `json:"min_stock"`
	At        time.Time `json:"at"`
}

func (h *Handler) stockAlerts(w http.ResponseWriter, r *http.Request) {
	if !h.requireCatalog(w) {
		return
	}

	alerts, err := h.catalog.ActiveAlerts(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	res := make([]stockAlertDTO, 0, len(alerts))
	for _, a := range alerts {
		res = append(res, stockAlertDTO(a))
	}
	h.writeJSON(w, http.StatusOK, res)
}

type customerDTO struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Phone         string     `json:"phone,omitempty"`
	CreditLimit   float64    `json:"credit_limit"`
	CurrentDebt   float64    `json:"current_debt"`
	LoyaltyPoints int64      `json:"loyalty_points"`
	CreatedAt     time.Time  `json:"created_at"`
	LastPurchase  *time.Time `json:"last_purchase,omitempty"`
}

func toCustomerDTO(c model.Customer) customerDTO {
	dto := customerDTO{
		ID:            c.ID,
		Name:          c.Name,
		Phone:         c.Phone,
		CreditLimit:   fromCents(c.CreditLimit),
		CurrentDebt:   fromCents(c.CurrentDebt),
		LoyaltyPoints: c.LoyaltyPoints,
		CreatedAt:     c.CreatedAt,
	}
	if !c.LastPurchase.IsZero() {
		t := c.LastPurchase
		dto.LastPurchase = &t
	}
	return dto
}

func (h *Handler) requireCustomers(w http.ResponseWriter) bool {
	if h.customers == nil {
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "customers module is not active"})
		return false
	}
	return true
}

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	if !h.requireCustomers(w) {
		return
	}

	list, err := h.customers.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	res := make([]customerDTO, 0, len(list))
	for _, c := range list {
		res = append(res, toCustomerDTO(c))
	}
	h.writeJSON(w, http.StatusOK, res)
}

type registerCustomerRequest struct {
	Name        string  `json:"name"`
	Phone       string  `json:"phone,omitempty"`
	CreditLimit float64 `json:"credit_limit"`
}

func (h *Handler) registerCustomer(w http.ResponseWriter, r *http.Request) {
	if !h.requireCustomers(w) {
		return
	}

	var req registerCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c, err := h.customers.Register(r.Context(), model.Customer{
		Name:        req.Name,
		Phone:       req.Phone,
		CreditLimit: toCents(req.CreditLimit),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, toCustomerDTO(c))
}

func (h *Handler) getCustomer(w http.ResponseWriter, r *http.Request) {
	if !h.requireCustomers(w) {
		return
	}

	c, err := h.customers.Customer(r.Context(), chi.URLParam(r, "customerID"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

type debtPaymentRequest struct {
	Amount float64 `json:"amount"`
}

func (h *Handler) registerDebtPayment(w http.ResponseWriter, r *http.Request) {
	if !h.requireCustomers(w) {
		return
	}

	var req debtPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c, err := h.customers.RegisterPayment(r.Context(), chi.URLParam(r, "customerID"), toCents(req.Amount))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toCustomerDTO(c))
}
