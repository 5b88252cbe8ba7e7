// Package payment реализует движок проведения платежей с имитацией обмена
// с внешним шлюзом. Все исходы возвращаются типизированным результатом,
// ошибки за границу движка не выходят.
package payment

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/pos-terminal-system/internal/eventbus"
	"github.com/mmeshcher/pos-terminal-system/internal/model"
)

// DefaultTimeout — предельная длительность одной попытки оплаты.
const DefaultTimeout = 30 * time.Second

const (
	cardDeclineRate   = 0.05
	walletDeclineRate = 0.02
)

// Причины отказов, возвращаемые движком.
const (
	ReasonTimeout          = "payment timed out"
	ReasonInvalidMethod    = "unsupported payment method"
	ReasonInvalidAmount    = "amount must be positive"
	ReasonCardDeclined     = "card declined by gateway"
	ReasonWalletRejected   = "wallet payment rejected"
	ReasonCustomerRequired = "customer required for account credit"
)

// Request описывает попытку оплаты. Owed — сумма к оплате, определённая
// оркестратором; сам движок итог продажи не знает.
type Request struct {
	SaleID     string
	Method     model.PaymentMethod
	Amount     int64
	Owed       int64
	CustomerID string
}

// Result описывает исход попытки оплаты.
type Result struct {
	Success       bool   `json:"success"`
	SettlementRef string `json:"settlement_ref,omitempty"`
	AuthCode      string `json:"auth_code,omitempty"`
	Change        int64  `json:"change,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Engine проводит платежи и публикует события жизненного цикла оплаты.
type Engine struct {
	bus      *eventbus.Bus
	moduleID string
	timeout  time.Duration
	logger   *zap.Logger

	randFloat func() float64
	delays    map[model.PaymentMethod]time.Duration
}

// NewEngine создаёт движок платежей, публикующий события от имени указанного модуля.
func NewEngine(bus *eventbus.Bus, moduleID string, timeout time.Duration, logger *zap.Logger) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Engine{
		bus:       bus,
		moduleID:  moduleID,
		timeout:   timeout,
		logger:    logger,
		randFloat: rand.Float64,
		delays: map[model.PaymentMethod]time.Duration{
			model.PaymentMethodCash:          100 * time.Millisecond,
			model.PaymentMethodCreditCard:    2 * time.Second,
			model.PaymentMethodDebitCard:     2 * time.Second,
			model.PaymentMethodWallet:        3 * time.Second,
			model.PaymentMethodQR:            1500 * time.Millisecond,
			model.PaymentMethodAccountCredit: 500 * time.Millisecond,
		},
	}
}

// Attempt проводит одну попытку оплаты. Попытка не отменяется после запуска:
// вызов выполняется до успеха, отказа или истечения тайм-аута.
func (e *Engine) Attempt(ctx context.Context, req Request) Result {
	e.bus.Publish(eventbus.PaymentStarted, e.moduleID, map[string]interface{}{
		"sale_id": req.SaleID,
		"method":  string(req.Method),
		"amount":  req.Amount,
	})

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	res := e.settle(ctx, req)

	if res.Success {
		e.bus.Publish(eventbus.PaymentCompleted, e.moduleID, map[string]interface{}{
			"sale_id": req.SaleID,
			"method":  string(req.Method),
			"result":  res,
		})
	} else {
		e.bus.Publish(eventbus.PaymentFailed, e.moduleID, map[string]interface{}{
			"sale_id": req.SaleID,
			"method":  string(req.Method),
			"reason":  res.Reason,
		})
		e.logger.Warn("payment failed",
			zap.String("sale_id", req.SaleID),
			zap.String("method", string(req.Method)),
			zap.String("reason", res.Reason))
	}

	return res
}

func (e *Engine) settle(ctx context.Context, req Request) Result {
	if !model.IsValidPaymentMethod(req.Method) {
		return Result{Reason: ReasonInvalidMethod}
	}
	if req.Amount <= 0 {
		return Result{Reason: ReasonInvalidAmount}
	}

	switch req.Method {
	case model.PaymentMethodCash:
		return e.settleCash(ctx, req)
	case model.PaymentMethodCreditCard, model.PaymentMethodDebitCard:
		return e.settleCard(ctx, req)
	case model.PaymentMethodWallet:
		return e.settleWallet(ctx, req)
	case model.PaymentMethodQR:
		return e.settleQR(ctx, req)
	case model.PaymentMethodAccountCredit:
		return e.settleAccountCredit(ctx, req)
	case model.PaymentMethodMixed:
		// Многокомпонентная оплата пока сводится к наличным.
		return e.settleCash(ctx, req)
	default:
		return Result{Reason: ReasonInvalidMethod}
	}
}

func (e *Engine) settleCash(ctx context.Context, req Request) Result {
	if err := e.wait(ctx, model.PaymentMethodCash); err != nil {
		return Result{Reason: ReasonTimeout}
	}

	change := req.Amount - req.Owed
	if change < 0 {
		change = 0
	}

	return Result{
		Success:       true,
		SettlementRef: uuid.NewString(),
		Change:        change,
	}
}

func (e *Engine) settleCard(ctx context.Context, req Request) Result {
	if err := e.wait(ctx, req.Method); err != nil {
		return Result{Reason: ReasonTimeout}
	}

	if e.randFloat() < cardDeclineRate {
		return Result{Reason: ReasonCardDeclined}
	}

	return Result{
		Success:       true,
		SettlementRef: uuid.NewString(),
		AuthCode:      e.authCode(""),
	}
}

func (e *Engine) settleWallet(ctx context.Context, req Request) Result {
	if err := e.wait(ctx, req.Method); err != nil {
		return Result{Reason: ReasonTimeout}
	}

	if e.randFloat() < walletDeclineRate {
		return Result{Reason: ReasonWalletRejected}
	}

	return Result{
		Success:       true,
		SettlementRef: uuid.NewString(),
		AuthCode:      e.authCode("W"),
	}
}

func (e *Engine) settleQR(ctx context.Context, req Request) Result {
	if err := e.wait(ctx, req.Method); err != nil {
		return Result{Reason: ReasonTimeout}
	}

	return Result{
		Success:       true,
		SettlementRef: uuid.NewString(),
		AuthCode:      e.authCode("QR"),
	}
}

// settleAccountCredit фиксирует оплату в кредит (fiado). Лимит кредита проверяет
// модуль покупателей по событию sale.completed, а не движок платежей.
func (e *Engine) settleAccountCredit(ctx context.Context, req Request) Result {
	if req.CustomerID == "" {
		return Result{Reason: ReasonCustomerRequired}
	}

	if err := e.wait(ctx, req.Method); err != nil {
		return Result{Reason: ReasonTimeout}
	}

	return Result{
		Success:       true,
		SettlementRef: uuid.NewString(),
		AuthCode:      "CREDIT_" + req.CustomerID,
	}
}

func (e *Engine) wait(ctx context.Context, method model.PaymentMethod) error {
	delay := e.delays[method]
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

const authCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func (e *Engine) authCode(prefix string) string {
	code := make([]byte, 6)
	for i := range code {
		code[i] = authCodeAlphabet[int(e.randFloat()*float64(len(authCodeAlphabet)))%len(authCodeAlphabet)]
	}
	if prefix == "" {
		return string(code)
	}
	return prefix + "_" + string(code)
}
