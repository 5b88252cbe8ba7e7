package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	systemCollection = "system:config"
	lastSyncKey      = "last_sync"
)

// OfflineStore предоставляет всем компонентам единый API доступа к коллекциям
// независимо от того, доступно ли долговечное хранилище. Каждая локальная запись
// помечается как несинхронизированная и попадает в очередь на выгрузку.
type OfflineStore struct {
	backend Backend
	logger  *zap.Logger

	mu       sync.Mutex
	online   bool
	lastSync time.Time
}

// Open открывает долговечное хранилище по указанному пути. При ошибке происходит
// деградация до хранилища в памяти с JSON-зеркалом: операция не завершается
// ошибкой, проблема только логируется.
func Open(path string, logger *zap.Logger) *OfflineStore {
	backend, err := NewSQLiteBackend(path)
	if err != nil {
		logger.Warn("durable store unavailable, falling back to in-memory store",
			zap.String("path", path), zap.Error(err))
		return NewWithBackend(NewMemoryBackend(path+".fallback.json"), logger)
	}

	return NewWithBackend(backend, logger)
}

// NewWithBackend создаёт хранилище поверх готового бэкенда.
func NewWithBackend(backend Backend, logger *zap.Logger) *OfflineStore {
	s := &OfflineStore{
		backend: backend,
		logger:  logger,
	}
	s.restoreLastSync()
	return s
}

func (s *OfflineStore) restoreLastSync() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec, err := s.backend.Get(ctx, systemCollection, lastSyncKey)
	if err != nil {
		return
	}

	var ts time.Time
	if err := json.Unmarshal(rec.Data, &ts); err == nil {
		s.lastSync = ts
	}
}

// Close закрывает хранилище.
func (s *OfflineStore) Close() error {
	return s.backend.Close()
}

// Set сохраняет значение в коллекции. Запись оборачивается в Record; для локальных
// записей (fromRemote=false) изменение дополнительно ставится в очередь синхронизации.
func (s *OfflineStore) Set(ctx context.Context, collection, key string, value interface{}, fromRemote bool) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}

	op := OperationCreate
	if _, err := s.backend.Get(ctx, collection, key); err == nil {
		op = OperationUpdate
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	rec := Record{
		Key:       key,
		Data:      data,
		WrittenAt: time.Now(),
		Synced:    fromRemote,
	}

	if err := s.backend.Set(ctx, collection, rec); err != nil {
		return err
	}

	if fromRemote {
		return nil
	}

	_, err = s.backend.Enqueue(ctx, QueueEntry{
		Operation:  op,
		Collection: collection,
		Key:        key,
		Payload:    data,
		EnqueuedAt: rec.WrittenAt,
	})
	return err
}

// Get загружает значение из коллекции по ключу и десериализует его в dest.
func (s *OfflineStore) Get(ctx context.Context, collection, key string, dest interface{}) error {
	rec, err := s.backend.Get(ctx, collection, key)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(rec.Data, dest); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}

	return nil
}

// GetRecord возвращает запись коллекции вместе с метаданными.
func (s *OfflineStore) GetRecord(ctx context.Context, collection, key string) (*Record, error) {
	return s.backend.Get(ctx, collection, key)
}

// GetAll возвращает все записи коллекции.
func (s *OfflineStore) GetAll(ctx context.Context, collection string) ([]Record, error) {
	return s.backend.GetAll(ctx, collection)
}

// Delete удаляет значение из коллекции и ставит удаление в очередь синхронизации.
func (s *OfflineStore) Delete(ctx context.Context, collection, key string) error {
	if err := s.backend.Delete(ctx, collection, key); err != nil {
		return err
	}

	_, err := s.backend.Enqueue(ctx, QueueEntry{
		Operation:  OperationDelete,
		Collection: collection,
		Key:        key,
		EnqueuedAt: time.Now(),
	})
	return err
}

// SyncQueue возвращает очередь несинхронизированных изменений в порядке постановки.
func (s *OfflineStore) SyncQueue(ctx context.Context) ([]QueueEntry, error) {
	return s.backend.Queue(ctx)
}

// CompleteQueueEntry удаляет воспроизведённую запись из очереди и помечает
// соответствующую запись коллекции как синхронизированную.
func (s *OfflineStore) CompleteQueueEntry(ctx context.Context, e QueueEntry) error {
	if err := s.backend.DeleteQueueEntry(ctx, e.ID); err != nil {
		return err
	}

	if e.Operation == OperationDelete {
		return nil
	}

	if err := s.backend.MarkSynced(ctx, e.Collection, e.Key); err != nil {
		// Запись могла быть перезаписана или удалена после постановки в очередь.
		s.logger.Debug("mark synced failed", zap.String("collection", e.Collection),
			zap.String("key", e.Key), zap.Error(err))
	}

	return nil
}

// SetOnline фиксирует доступность авторитетного хранилища.
func (s *OfflineStore) SetOnline(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = online
}

// MarkSyncCompleted фиксирует момент успешной синхронизации.
func (s *OfflineStore) MarkSyncCompleted(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	s.lastSync = now
	s.mu.Unlock()

	if err := s.Set(ctx, systemCollection, lastSyncKey, now, true); err != nil {
		s.logger.Warn("persist last sync time failed", zap.Error(err))
	}
}

// Status возвращает состояние синхронизации хранилища.
func (s *OfflineStore) Status(ctx context.Context) (SyncStatus, error) {
	queue, err := s.backend.Queue(ctx)
	if err != nil {
		return SyncStatus{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return SyncStatus{
		Online:       s.online,
		PendingCount: len(queue),
		LastSyncAt:   s.lastSync,
	}, nil
}

// Namespace возвращает представление хранилища, в котором имена коллекций
// автоматически получают префикс идентификатора модуля. Коллекции разных
// модулей не пересекаются.
func (s *OfflineStore) Namespace(moduleID string) *Namespace {
	return &Namespace{store: s, moduleID: moduleID}
}

// Namespace — хранилище, приватное для одного модуля.
type Namespace struct {
	store    *OfflineStore
	moduleID string
}

func (n *Namespace) collection(name string) string {
	return n.moduleID + ":" + name
}

// Set сохраняет значение в коллекции модуля.
func (n *Namespace) Set(ctx context.Context, collection, key string, value interface{}, fromRemote bool) error {
	return n.store.Set(ctx, n.collection(collection), key, value, fromRemote)
}

// Get загружает значение из коллекции модуля.
func (n *Namespace) Get(ctx context.Context, collection, key string, dest interface{}) error {
	return n.store.Get(ctx, n.collection(collection), key, dest)
}

// GetRecord возвращает запись коллекции модуля вместе с метаданными.
func (n *Namespace) GetRecord(ctx context.Context, collection, key string) (*Record, error) {
	return n.store.GetRecord(ctx, n.collection(collection), key)
}

// GetAll возвращает все записи коллекции модуля.
func (n *Namespace) GetAll(ctx context.Context, collection string) ([]Record, error) {
	return n.store.GetAll(ctx, n.collection(collection))
}

// Delete удаляет значение из коллекции модуля.
func (n *Namespace) Delete(ctx context.Context, collection, key string) error {
	return n.store.Delete(ctx, n.collection(collection), key)
}
