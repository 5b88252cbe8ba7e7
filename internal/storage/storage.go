// Package storage реализует offline-first хранилище POS-терминала: долговечный
// SQLite-бэкенд с деградацией до карты в памяти и очередь несинхронизированных
// изменений для последующей выгрузки в авторитетное хранилище.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound возвращается, если запись не найдена в коллекции.
var ErrNotFound = errors.New("record not found")

// Operation описывает тип отложенной операции в очереди синхронизации.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Record оборачивает каждое сохранённое значение. Synced=false означает, что
// локальная запись ещё не подтверждена авторитетным хранилищем.
type Record struct {
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	WrittenAt time.Time       `json:"written_at"`
	Synced    bool            `json:"synced"`
}

// QueueEntry описывает отложенное изменение в очереди синхронизации.
// Порядок воспроизведения — FIFO по времени постановки.
type QueueEntry struct {
	ID         int64           `json:"id"`
	Operation  Operation       `json:"operation"`
	Collection string          `json:"collection"`
	Key        string          `json:"key"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// SyncStatus описывает состояние синхронизации локального хранилища.
type SyncStatus struct {
	Online       bool      `json:"online"`
	PendingCount int       `json:"pending_count"`
	LastSyncAt   time.Time `json:"last_sync_at,omitempty"`
}

// Backend описывает контракт физического хранилища записей и очереди синхронизации.
type Backend interface {
	Get(ctx context.Context, collection, key string) (*Record, error)
	Set(ctx context.Context, collection string, rec Record) error
	GetAll(ctx context.Context, collection string) ([]Record, error)
	Delete(ctx context.Context, collection, key string) error
	MarkSynced(ctx context.Context, collection, key string) error
	Enqueue(ctx context.Context, e QueueEntry) (int64, error)
	Queue(ctx context.Context) ([]QueueEntry, error)
	DeleteQueueEntry(ctx context.Context, id int64) error
	Close() error
}
