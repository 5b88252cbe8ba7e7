package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteBackend предоставляет долговечное локальное хранилище на базе SQLite.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend открывает файл БД и инициализирует схему через миграции.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite не поддерживает конкурентную запись из нескольких соединений.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}

	b := &SQLiteBackend{db: db}

	if err := b.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return b, nil
}

func (b *SQLiteBackend) runMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, b.db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает соединение с БД.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// Get возвращает запись коллекции по ключу.
func (b *SQLiteBackend) Get(ctx context.Context, collection, key string) (*Record, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT key, data, written_at, synced FROM records WHERE collection = ? AND key = ?`,
		collection, key,
	)

	var rec Record
	var synced int
	if err := row.Scan(&rec.Key, &rec.Data, &rec.WrittenAt, &synced); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get record: %w", err)
	}
	rec.Synced = synced == 1

	return &rec, nil
}

// Set сохраняет запись коллекции, замещая существующую с тем же ключом.
func (b *SQLiteBackend) Set(ctx context.Context, collection string, rec Record) error {
	synced := 0
	if rec.Synced {
		synced = 1
	}

	_, err := b.db.ExecContext(ctx,
		`INSERT INTO records (collection, key, data, written_at, synced)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (collection, key)
		 DO UPDATE SET data = excluded.data, written_at = excluded.written_at, synced = excluded.synced`,
		collection, rec.Key, []byte(rec.Data), rec.WrittenAt, synced,
	)
	if err != nil {
		return fmt.Errorf("set record: %w", err)
	}

	return nil
}

// GetAll возвращает все записи коллекции.
func (b *SQLiteBackend) GetAll(ctx context.Context, collection string) ([]Record, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT key, data, written_at, synced FROM records WHERE collection = ? ORDER BY key`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		var rec Record
		var synced int
		if err := rows.Scan(&rec.Key, &rec.Data, &rec.WrittenAt, &synced); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Synced = synced == 1
		res = append(res, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// Delete удаляет запись коллекции по ключу.
func (b *SQLiteBackend) Delete(ctx context.Context, collection, key string) error {
	if _, err := b.db.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND key = ?`,
		collection, key,
	); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// MarkSynced помечает запись как подтверждённую авторитетным хранилищем.
func (b *SQLiteBackend) MarkSynced(ctx context.Context, collection, key string) error {
	if _, err := b.db.ExecContext(ctx,
		`UPDATE records SET synced = 1 WHERE collection = ? AND key = ?`,
		collection, key,
	); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

// Enqueue добавляет отложенное изменение в конец очереди синхронизации.
func (b *SQLiteBackend) Enqueue(ctx context.Context, e QueueEntry) (int64, error) {
	res, err := b.db.ExecContext(ctx,
		`INSERT INTO sync_queue (operation, collection, key, payload, enqueued_at)
		 VALUES (?, ?, ?, ?, ?)`,
		string(e.Operation), e.Collection, e.Key, []byte(e.Payload), e.EnqueuedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}

	return id, nil
}

// Queue возвращает содержимое очереди синхронизации в порядке постановки.
func (b *SQLiteBackend) Queue(ctx context.Context) ([]QueueEntry, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, operation, collection, key, payload, enqueued_at FROM sync_queue ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select queue: %w", err)
	}
	defer rows.Close()

	var res []QueueEntry
	for rows.Next() {
		var e QueueEntry
		var op string
		var payload []byte
		if err := rows.Scan(&e.ID, &op, &e.Collection, &e.Key, &payload, &e.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		e.Operation = Operation(op)
		e.Payload = payload
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// DeleteQueueEntry удаляет обработанную запись из очереди синхронизации.
func (b *SQLiteBackend) DeleteQueueEntry(ctx context.Context, id int64) error {
	if _, err := b.db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE id = ?`,
		id,
	); err != nil {
		return fmt.Errorf("delete queue entry: %w", err)
	}
	return nil
}
