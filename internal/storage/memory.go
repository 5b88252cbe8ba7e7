package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// MemoryBackend хранит записи в памяти и зеркалирует их в плоский JSON-файл.
// Используется как деградация, когда долговечное хранилище недоступно.
type MemoryBackend struct {
	mu       sync.Mutex
	path     string
	records  map[string]map[string]Record
	queue    []QueueEntry
	nextID   int64
}

type memorySnapshot struct {
	Records map[string]map[string]Record `json:"records"`
	Queue   []QueueEntry                 `json:"queue"`
	NextID  int64                        `json:"next_id"`
}

// NewMemoryBackend создаёт хранилище в памяти. Если файл по указанному пути
// существует, состояние восстанавливается из него. Пустой путь отключает зеркало.
func NewMemoryBackend(path string) *MemoryBackend {
	b := &MemoryBackend{
		path:    path,
		records: make(map[string]map[string]Record),
		nextID:  1,
	}
	b.loadFromFile()
	return b
}

func (b *MemoryBackend) loadFromFile() {
	if b.path == "" {
		return
	}

	data, err := os.ReadFile(b.path)
	if err != nil {
		return
	}

	var snap memorySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return
	}

	if snap.Records != nil {
		b.records = snap.Records
	}
	b.queue = snap.Queue
	if snap.NextID > 0 {
		b.nextID = snap.NextID
	}
}

// Вызывается под блокировкой.
func (b *MemoryBackend) saveToFile() error {
	if b.path == "" {
		return nil
	}

	snap := memorySnapshot{
		Records: b.records,
		Queue:   b.queue,
		NextID:  b.nextID,
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.WriteFile(b.path, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	return nil
}

// Close сбрасывает состояние в файл-зеркало.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saveToFile()
}

// Get возвращает запись коллекции по ключу.
func (b *MemoryBackend) Get(_ context.Context, collection, key string) (*Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[collection][key]
	if !ok {
		return nil, ErrNotFound
	}

	return &rec, nil
}

// Set сохраняет запись коллекции.
func (b *MemoryBackend) Set(_ context.Context, collection string, rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.records[collection] == nil {
		b.records[collection] = make(map[string]Record)
	}
	b.records[collection][rec.Key] = rec

	return b.saveToFile()
}

// GetAll возвращает все записи коллекции, отсортированные по ключу.
func (b *MemoryBackend) GetAll(_ context.Context, collection string) ([]Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	keys := make([]string, 0, len(b.records[collection]))
	for k := range b.records[collection] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	res := make([]Record, 0, len(keys))
	for _, k := range keys {
		res = append(res, b.records[collection][k])
	}

	return res, nil
}

// Delete удаляет запись коллекции по ключу.
func (b *MemoryBackend) Delete(_ context.Context, collection, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.records[collection], key)

	return b.saveToFile()
}

// MarkSynced помечает запись как подтверждённую авторитетным хранилищем.
func (b *MemoryBackend) MarkSynced(_ context.Context, collection, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[collection][key]
	if !ok {
		return nil
	}
	rec.Synced = true
	b.records[collection][key] = rec

	return b.saveToFile()
}

// Enqueue добавляет отложенное изменение в конец очереди синхронизации.
func (b *MemoryBackend) Enqueue(_ context.Context, e QueueEntry) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e.ID = b.nextID
	b.nextID++
	b.queue = append(b.queue, e)

	if err := b.saveToFile(); err != nil {
		return 0, err
	}

	return e.ID, nil
}

// Queue возвращает содержимое очереди синхронизации в порядке постановки.
func (b *MemoryBackend) Queue(_ context.Context) ([]QueueEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	res := make([]QueueEntry, len(b.queue))
	copy(res, b.queue)

	return res, nil
}

// DeleteQueueEntry удаляет обработанную запись из очереди синхронизации.
func (b *MemoryBackend) DeleteQueueEntry(_ context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, e := range b.queue {
		if e.ID == id {
			b.queue = append(b.queue[:i:i], b.queue[i+1:]...)
			break
		}
	}

	return b.saveToFile()
}
