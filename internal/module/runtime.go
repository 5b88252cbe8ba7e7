package module

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/mmeshcher/pos-terminal-system/internal/eventbus"
)

// ErrNotRegistered возвращается при обращении к незарегистрированному модулю.
var (
	ErrNotRegistered = errors.New("module not registered")
	// ErrAlreadyRegistered возвращается при повторной регистрации модуля.
	ErrAlreadyRegistered = errors.New("module already registered")
	// ErrDependencyInactive возвращается, если зависимость модуля не активна.
	ErrDependencyInactive = errors.New("module dependency is not active")
	// ErrModuleActive возвращается при попытке удалить активный модуль.
	ErrModuleActive = errors.New("module is active")
	// ErrInvalidTransition возвращается при недопустимом переходе жизненного цикла.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)

type managedModule struct {
	// Переходы жизненного цикла каждого модуля сериализуются этим мьютексом;
	// он же защищает state: две конкурентные активации не должны одновременно
	// выполнить Install, а чтение состояния не должно гоняться с переходом.
	mu     sync.Mutex
	module Module
	state  State
}

func (mm *managedModule) currentState() State {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.state
}

// Status описывает модуль и его текущее состояние.
type Status struct {
	Descriptor Descriptor `json:"descriptor"`
	State      State      `json:"state"`
}

// Runtime владеет жизненным циклом зарегистрированных модулей.
type Runtime struct {
	bus    *eventbus.Bus
	logger *zap.Logger

	mu      sync.Mutex
	modules map[string]*managedModule
}

// NewRuntime создаёт среду выполнения модулей.
func NewRuntime(bus *eventbus.Bus, logger *zap.Logger) *Runtime {
	return &Runtime{
		bus:     bus,
		logger:  logger,
		modules: make(map[string]*managedModule),
	}
}

// Register добавляет модуль в среду выполнения в состоянии UNINSTALLED.
func (r *Runtime) Register(m Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := m.Descriptor().ID
	if _, ok := r.modules[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
	}

	r.modules[id] = &managedModule{module: m, state: StateUninstalled}
	r.logger.Info("module registered",
		zap.String("module", id),
		zap.String("version", m.Version()))

	return nil
}

func (r *Runtime) managed(id string) (*managedModule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mm, ok := r.modules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	return mm, nil
}

// Activate переводит модуль в состояние ACTIVE, при необходимости предварительно
// устанавливая его. Повторная активация активного модуля не является ошибкой.
func (r *Runtime) Activate(ctx context.Context, id string) error {
	mm, err := r.managed(id)
	if err != nil {
		return err
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()

	if mm.state == StateActive {
		return nil
	}

	for _, dep := range mm.module.Descriptor().Dependencies {
		state, err := r.State(dep)
		if err != nil {
			return fmt.Errorf("%w: %s requires %s", ErrDependencyInactive, id, dep)
		}
		if state != StateActive {
			return fmt.Errorf("%w: %s requires %s", ErrDependencyInactive, id, dep)
		}
	}

	if mm.state == StateUninstalled {
		if err := mm.module.Install(ctx); err != nil {
			return fmt.Errorf("install module %s: %w", id, err)
		}
		mm.state = StateInstalled
		r.bus.Publish(eventbus.ModuleInstalled, id, map[string]interface{}{
			"module_id": id,
			"version":   mm.module.Version(),
		})
	}

	mm.state = StateActive
	r.bus.Publish(eventbus.ModuleActivated, id, map[string]interface{}{
		"module_id": id,
	})
	r.logger.Info("module activated", zap.String("module", id))

	return nil
}

// Deactivate переводит активный модуль в состояние DEACTIVATED. Подписки модуля
// не снимаются.
func (r *Runtime) Deactivate(ctx context.Context, id string) error {
	mm, err := r.managed(id)
	if err != nil {
		return err
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()

	if mm.state != StateActive {
		return fmt.Errorf("%w: deactivate from %s", ErrInvalidTransition, mm.state)
	}

	mm.state = StateDeactivated
	r.bus.Publish(eventbus.ModuleDeactivated, id, map[string]interface{}{
		"module_id": id,
	})
	r.logger.Info("module deactivated", zap.String("module", id))

	return nil
}

// Uninstall удаляет модуль. Допускается только из состояний INSTALLED и DEACTIVATED.
func (r *Runtime) Uninstall(ctx context.Context, id string) error {
	mm, err := r.managed(id)
	if err != nil {
		return err
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()

	switch mm.state {
	case StateActive:
		return fmt.Errorf("%w: %s", ErrModuleActive, id)
	case StateUninstalled:
		return fmt.Errorf("%w: uninstall from %s", ErrInvalidTransition, mm.state)
	}

	if err := mm.module.Uninstall(ctx); err != nil {
		return fmt.Errorf("uninstall module %s: %w", id, err)
	}

	mm.state = StateUninstalled
	r.bus.Publish(eventbus.ModuleUninstalled, id, map[string]interface{}{
		"module_id": id,
	})
	r.logger.Info("module uninstalled", zap.String("module", id))

	return nil
}

// State возвращает текущее состояние модуля.
func (r *Runtime) State(id string) (State, error) {
	mm, err := r.managed(id)
	if err != nil {
		return "", err
	}
	return mm.currentState(), nil
}

// Modules возвращает список зарегистрированных модулей с их состояниями,
// отсортированный по идентификатору.
func (r *Runtime) Modules() []Status {
	r.mu.Lock()
	mms := make([]*managedModule, 0, len(r.modules))
	for _, mm := range r.modules {
		mms = append(mms, mm)
	}
	r.mu.Unlock()

	res := make([]Status, 0, len(mms))
	for _, mm := range mms {
		res = append(res, Status{
			Descriptor: mm.module.Descriptor(),
			State:      mm.currentState(),
		})
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].Descriptor.ID < res[j].Descriptor.ID
	})

	return res
}
