// Package module реализует среду выполнения платных модулей POS: дескрипторы,
// жизненный цикл, проверку лицензий и приватное хранилище модуля.
package module

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mmeshcher/pos-terminal-system/internal/eventbus"
	"github.com/mmeshcher/pos-terminal-system/internal/storage"
)

// CoreModuleID — идентификатор базового модуля, лицензия которого всегда действительна.
const CoreModuleID = "pos-core"

// State описывает состояние жизненного цикла модуля.
type State string

const (
	StateUninstalled State = "UNINSTALLED"
	StateInstalled   State = "INSTALLED"
	StateActive      State = "ACTIVE"
	StateDeactivated State = "DEACTIVATED"
)

// Descriptor объявляет идентичность модуля и его зависимости.
// После конструирования не изменяется.
type Descriptor struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Dependencies []string `json:"dependencies"`
	Optional     bool     `json:"optional"`
	MonthlyPrice int64    `json:"monthly_price"`
	TrialDays    int      `json:"trial_days"`
	Description  string   `json:"description"`
}

// Module описывает обязательные операции конкретного модуля.
// Жизненным циклом (активация, деактивация) управляет Runtime.
type Module interface {
	Descriptor() Descriptor
	Install(ctx context.Context) error
	Uninstall(ctx context.Context) error
	Version() string
}

// Base предоставляет конкретным модулям общую функциональность: доступ к шине,
// приватное хранилище с префиксом идентификатора модуля и проверку лицензии.
type Base struct {
	desc    Descriptor
	bus     *eventbus.Bus
	storage *storage.Namespace
}

// NewBase создаёт основу модуля с хранилищем, именованным по идентификатору модуля.
func NewBase(desc Descriptor, bus *eventbus.Bus, store *storage.OfflineStore) *Base {
	return &Base{
		desc:    desc,
		bus:     bus,
		storage: store.Namespace(desc.ID),
	}
}

// Descriptor возвращает дескриптор модуля.
func (b *Base) Descriptor() Descriptor {
	return b.desc
}

// Version возвращает версию модуля.
func (b *Base) Version() string {
	return b.desc.Version
}

// Storage возвращает приватное хранилище модуля.
func (b *Base) Storage() *storage.Namespace {
	return b.storage
}

// Bus возвращает шину событий.
func (b *Base) Bus() *eventbus.Bus {
	return b.bus
}

// Emit публикует событие от имени модуля.
func (b *Base) Emit(eventType string, payload interface{}) eventbus.Event {
	return b.bus.Publish(eventType, b.desc.ID, payload)
}

// Subscribe подписывает обработчик на события другого модуля.
func (b *Base) Subscribe(moduleID, eventType string, h eventbus.Handler) eventbus.SubscriptionID {
	return b.bus.Subscribe(moduleID, eventType, h)
}

// ValidateLicense проверяет лицензионный ключ модуля. Базовый модуль действителен
// всегда, для остальных ожидается формат POS-<ID>-<ГГГГММ>-<6 символов>.
func (b *Base) ValidateLicense(key string) bool {
	if b.desc.ID == CoreModuleID {
		return true
	}

	pattern := fmt.Sprintf(`^POS-%s-\d{6}-[A-Z0-9]{6}$`, regexp.QuoteMeta(strings.ToUpper(b.desc.ID)))
	matched, err := regexp.MatchString(pattern, key)
	return err == nil && matched
}
