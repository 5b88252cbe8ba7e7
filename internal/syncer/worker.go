// Package syncer реализует фоновую выгрузку очереди несинхронизированных
// изменений в авторитетное хранилище.
package syncer

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/mmeshcher/pos-terminal-system/internal/eventbus"
	"github.com/mmeshcher/pos-terminal-system/internal/storage"
)

const systemModuleID = "system"

// Remote описывает контракт авторитетного хранилища, принимающего отложенные изменения.
type Remote interface {
	Ping(ctx context.Context) error
	Apply(ctx context.Context, e storage.QueueEntry) error
}

// Worker периодически проверяет доступность авторитетного хранилища и
// воспроизводит очередь синхронизации строго в порядке постановки.
type Worker struct {
	store    *storage.OfflineStore
	remote   Remote
	bus      *eventbus.Bus
	interval time.Duration
	logger   *zap.Logger
}

// NewWorker создаёт воркер синхронизации.
func NewWorker(store *storage.OfflineStore, remote Remote, bus *eventbus.Bus, interval time.Duration, logger *zap.Logger) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Worker{
		store:    store,
		remote:   remote,
		bus:      bus,
		interval: interval,
		logger:   logger,
	}
}

// Run запускает цикл синхронизации до отмены контекста.
func (w *Worker) Run(ctx context.Context) {
	if w.remote == nil {
		w.logger.Info("remote store not configured, sync worker disabled")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.DrainOnce(ctx)
		}
	}
}

// DrainOnce выполняет один цикл: проверка связи и воспроизведение очереди.
// Порядок FIFO сохраняется: при устойчивой ошибке воспроизведения обработка
// прерывается, остаток очереди ждёт следующего цикла.
func (w *Worker) DrainOnce(ctx context.Context) {
	if err := w.remote.Ping(ctx); err != nil {
		w.store.SetOnline(false)
		w.logger.Debug("remote store unreachable", zap.Error(err))
		return
	}
	w.store.SetOnline(true)

	queue, err := w.store.SyncQueue(ctx)
	if err != nil {
		w.logger.Error("read sync queue error", zap.Error(err))
		return
	}

	if len(queue) == 0 {
		return
	}

	w.bus.Publish(eventbus.SyncStarted, systemModuleID, map[string]interface{}{
		"pending": len(queue),
	})

	processed := 0
	for _, e := range queue {
		if err := w.applyWithBackoff(ctx, e); err != nil {
			w.store.SetOnline(false)
			w.logger.Warn("replay queue entry failed, stopping batch",
				zap.Int64("entry_id", e.ID),
				zap.String("collection", e.Collection),
				zap.String("key", e.Key),
				zap.Error(err))
			break
		}

		if err := w.store.CompleteQueueEntry(ctx, e); err != nil {
			w.logger.Error("complete queue entry error", zap.Int64("entry_id", e.ID), zap.Error(err))
			break
		}
		processed++
	}

	if processed > 0 {
		w.store.MarkSyncCompleted(ctx)
		w.bus.Publish(eventbus.SyncCompleted, systemModuleID, map[string]interface{}{
			"processed": processed,
			"remaining": len(queue) - processed,
		})
	}
}

func (w *Worker) applyWithBackoff(ctx context.Context, e storage.QueueEntry) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := w.remote.Apply(ctx, e); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
