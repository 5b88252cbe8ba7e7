// Package repository содержит адаптер авторитетного хранилища в PostgreSQL,
// против которого воспроизводится очередь синхронизации терминала.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/pos-terminal-system/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUnknownOperation возвращается для записи очереди с неизвестным типом операции.
var ErrUnknownOperation = errors.New("unknown sync operation")

// PostgresRemote предоставляет доступ к авторитетному хранилищу в PostgreSQL.
type PostgresRemote struct {
	pool *pgxpool.Pool
}

// NewPostgresRemote создаёт адаптер и инициализирует схему БД через миграции.
func NewPostgresRemote(dsn string) (*PostgresRemote, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRemote{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRemote) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRemote) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure и Deadlock, с сетевыми
		// переподключениями pgxpool справляется сам.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRemote) Close() error {
	r.pool.Close()
	return nil
}

// Ping проверяет доступность авторитетного хранилища.
func (r *PostgresRemote) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Apply воспроизводит одну запись очереди синхронизации. Конфликты разрешаются
// по принципу last-writer-wins: побеждает запись с более поздним written_at.
func (r *PostgresRemote) Apply(ctx context.Context, e storage.QueueEntry) error {
	switch e.Operation {
	case storage.OperationCreate, storage.OperationUpdate:
		return r.withRetry(ctx, func() error {
			return r.upsert(ctx, e)
		})
	case storage.OperationDelete:
		return r.withRetry(ctx, func() error {
			return r.deleteRecord(ctx, e)
		})
	default:
		return fmt.Errorf("%w: %s", ErrUnknownOperation, e.Operation)
	}
}

func (r *PostgresRemote) upsert(ctx context.Context, e storage.QueueEntry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO pos_records (collection, key, data, written_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (collection, key)
		 DO UPDATE SET data = excluded.data, written_at = excluded.written_at, received_at = now()
		 WHERE pos_records.written_at <= excluded.written_at`,
		e.Collection, e.Key, []byte(e.Payload), e.EnqueuedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

func (r *PostgresRemote) deleteRecord(ctx context.Context, e storage.QueueEntry) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM pos_records WHERE collection = $1 AND key = $2 AND written_at <= $3`,
		e.Collection, e.Key, e.EnqueuedAt,
	)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}
