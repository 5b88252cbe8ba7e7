// Package model содержит доменные сущности POS-терминала.
package model

import "time"

// SaleStatus описывает статус продажи.
type SaleStatus string

const (
	SaleStatusPending   SaleStatus = "PENDING"
	SaleStatusCompleted SaleStatus = "COMPLETED"
	SaleStatusCancelled SaleStatus = "CANCELLED"
	SaleStatusRefunded  SaleStatus = "REFUNDED"
)

// PaymentMethod описывает способ оплаты.
type PaymentMethod string

const (
	PaymentMethodCash          PaymentMethod = "cash"
	PaymentMethodCreditCard    PaymentMethod = "credit_card"
	PaymentMethodDebitCard     PaymentMethod = "debit_card"
	PaymentMethodWallet        PaymentMethod = "wallet"
	PaymentMethodQR            PaymentMethod = "qr"
	PaymentMethodAccountCredit PaymentMethod = "account_credit"
	PaymentMethodMixed         PaymentMethod = "mixed"
)

// IsValidPaymentMethod сообщает, поддерживается ли способ оплаты терминалом.
func IsValidPaymentMethod(m PaymentMethod) bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCreditCard, PaymentMethodDebitCard,
		PaymentMethodWallet, PaymentMethodQR, PaymentMethodAccountCredit, PaymentMethodMixed:
		return true
	}
	return false
}

// CartItem описывает позицию корзины. Все денежные суммы хранятся в центах.
type CartItem struct {
	ID        string  `json:"id"`
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	UnitPrice int64   `json:"unit_price"`
	Quantity  int     `json:"quantity"`
	TaxRate   float64 `json:"tax_rate"`
	Discount  int64   `json:"discount"`
}

// Sale описывает продажу. Изменяется только корзинными операциями в статусе PENDING,
// после завершения или отмены становится неизменяемой.
type Sale struct {
	ID            string        `json:"id"`
	Items         []CartItem    `json:"items"`
	Subtotal      int64         `json:"subtotal"`
	Tax           int64         `json:"tax"`
	Discount      int64         `json:"discount"`
	Total         int64         `json:"total"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	CustomerID    string        `json:"customer_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	Status        SaleStatus    `json:"status"`
	ReceiptNumber string        `json:"receipt_number,omitempty"`
}

// Product описывает товар в каталоге терминала.
type Product struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    int64   `json:"price"`
	Category string  `json:"category,omitempty"`
	Barcode  string  `json:"barcode,omitempty"`
	Stock    int     `json:"stock"`
	MinStock int     `json:"min_stock"`
	TaxRate  float64 `json:"tax_rate"`
	Active   bool    `json:"active"`
}

// Customer описывает покупателя с лимитом кредита (fiado) и бонусным счётом.
type Customer struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone,omitempty"`
	CreditLimit   int64     `json:"credit_limit"`
	CurrentDebt   int64     `json:"current_debt"`
	LoyaltyPoints int64     `json:"loyalty_points"`
	CreatedAt     time.Time `json:"created_at"`
	LastPurchase  time.Time `json:"last_purchase,omitempty"`
}

// PaymentRequest описывает запрос на оплату текущей продажи.
type PaymentRequest struct {
	Method     PaymentMethod `json:"method"`
	Amount     int64         `json:"amount"`
	CustomerID string        `json:"customer_id,omitempty"`
}

// CartState описывает состояние корзины для внешних слоёв.
type CartState struct {
	Items     []CartItem `json:"items"`
	ItemCount int        `json:"item_count"`
	Subtotal  int64      `json:"subtotal"`
	Tax       int64      `json:"tax"`
	Discount  int64      `json:"discount"`
	Total     int64      `json:"total"`
	IsEmpty   bool       `json:"is_empty"`
}

// SalesStats содержит агрегаты по завершённым продажам за период.
type SalesStats struct {
	Count         int     `json:"count"`
	TotalAmount   int64   `json:"total_amount"`
	AverageTicket float64 `json:"average_ticket"`
	PeriodDays    int     `json:"period_days"`
}
