package eventbus

// Канонические имена системных событий. Имена являются контрактом между модулями:
// издатель и подписчик обязаны использовать одни и те же константы.
const (
	ModuleInstalled   = "module.installed"
	ModuleUninstalled = "module.uninstalled"
	ModuleActivated   = "module.activated"
	ModuleDeactivated = "module.deactivated"

	SaleStarted   = "sale.started"
	SaleCompleted = "sale.completed"
	SaleCancelled = "sale.cancelled"
	ItemAdded     = "sale.item.added"
	ItemRemoved   = "sale.item.removed"

	PaymentStarted   = "payment.started"
	PaymentCompleted = "payment.completed"
	PaymentFailed    = "payment.failed"

	LowStockAlert       = "inventory.low_stock_alert"
	CreditLimitExceeded = "customers.credit_limit_exceeded"

	SyncStarted   = "sync.started"
	SyncCompleted = "sync.completed"
)
