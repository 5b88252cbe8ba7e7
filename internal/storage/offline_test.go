package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func newTestStore() *OfflineStore {
	return NewWithBackend(NewMemoryBackend(""), zap.NewNop())
}

func TestSetEnqueuesExactlyOneEntry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	if err := s.Set(ctx, "sales", "s1", map[string]string{"id": "s1"}, false); err != nil {
		t.Fatalf("set: %v", err)
	}

	queue, err := s.SyncQueue(ctx)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(queue) != 1 {
		t.Fatalf("expected 1 queue entry, got %d", len(queue))
	}
	if queue[0].Operation != OperationCreate {
		t.Fatalf("expected create operation, got %s", queue[0].Operation)
	}

	rec, err := s.GetRecord(ctx, "sales", "s1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.Synced {
		t.Fatal("local write must be marked unsynced")
	}
}

func TestSecondSetEnqueuesUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	s.Set(ctx, "sales", "s1", "v1", false)
	s.Set(ctx, "sales", "s1", "v2", false)

	queue, _ := s.SyncQueue(ctx)
	if len(queue) != 2 {
		t.Fatalf("expected 2 queue entries, got %d", len(queue))
	}
	if queue[1].Operation != OperationUpdate {
		t.Fatalf("expected update operation, got %s", queue[1].Operation)
	}
}

func TestRemoteWriteSkipsQueue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	if err := s.Set(ctx, "sales", "s1", "v", true); err != nil {
		t.Fatalf("set: %v", err)
	}

	queue, _ := s.SyncQueue(ctx)
	if len(queue) != 0 {
		t.Fatalf("remote write must not be queued, got %d entries", len(queue))
	}

	rec, _ := s.GetRecord(ctx, "sales", "s1")
	if !rec.Synced {
		t.Fatal("remote write must be marked synced")
	}
}

func TestDeleteEnqueuesDeleteOperation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	s.Set(ctx, "sales", "s1", "v", false)
	if err := s.Delete(ctx, "sales", "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var dest string
	if err := s.Get(ctx, "sales", "s1", &dest); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	queue, _ := s.SyncQueue(ctx)
	if len(queue) != 2 {
		t.Fatalf("expected 2 queue entries, got %d", len(queue))
	}
	if queue[1].Operation != OperationDelete {
		t.Fatalf("expected delete operation, got %s", queue[1].Operation)
	}
}

func TestQueuePreservesFIFO(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	s.Set(ctx, "sales", "a", "1", false)
	s.Set(ctx, "sales", "b", "2", false)
	s.Set(ctx, "sales", "a", "3", false)

	queue, _ := s.SyncQueue(ctx)
	if len(queue) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(queue))
	}

	keys := []string{queue[0].Key, queue[1].Key, queue[2].Key}
	if keys[0] != "a" || keys[1] != "b" || keys[2] != "a" {
		t.Fatalf("queue order broken: %v", keys)
	}
	if !(queue[0].ID < queue[1].ID && queue[1].ID < queue[2].ID) {
		t.Fatalf("queue ids must be monotonic: %d %d %d", queue[0].ID, queue[1].ID, queue[2].ID)
	}
}

func TestCompleteQueueEntryMarksSynced(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	s.Set(ctx, "sales", "s1", "v", false)
	queue, _ := s.SyncQueue(ctx)

	if err := s.CompleteQueueEntry(ctx, queue[0]); err != nil {
		t.Fatalf("complete: %v", err)
	}

	queue, _ = s.SyncQueue(ctx)
	if len(queue) != 0 {
		t.Fatalf("expected empty queue, got %d entries", len(queue))
	}

	rec, _ := s.GetRecord(ctx, "sales", "s1")
	if !rec.Synced {
		t.Fatal("record must be marked synced after replay")
	}
}

func TestNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	inv := s.Namespace("pos-inventory")
	cust := s.Namespace("pos-customers")

	inv.Set(ctx, "items", "k", "inventory", false)
	cust.Set(ctx, "items", "k", "customers", false)

	var got string
	if err := inv.Get(ctx, "items", "k", &got); err != nil || got != "inventory" {
		t.Fatalf("expected inventory value, got %q, err %v", got, err)
	}
	if err := cust.Get(ctx, "items", "k", &got); err != nil || got != "customers" {
		t.Fatalf("expected customers value, got %q, err %v", got, err)
	}
}

func TestStatusReportsPendingAndLastSync(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	s.Set(ctx, "sales", "s1", "v", false)

	status, err := s.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Online {
		t.Fatal("store must start offline")
	}
	if status.PendingCount != 1 {
		t.Fatalf("expected 1 pending, got %d", status.PendingCount)
	}
	if !status.LastSyncAt.IsZero() {
		t.Fatal("last sync must be zero before first sync")
	}

	s.SetOnline(true)
	s.MarkSyncCompleted(ctx)

	status, _ = s.Status(ctx)
	if !status.Online || status.LastSyncAt.IsZero() {
		t.Fatalf("unexpected status after sync: %+v", status)
	}
}

func TestMemoryBackendMirrorSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	s := NewWithBackend(NewMemoryBackend(path), zap.NewNop())
	s.Set(ctx, "sales", "s1", "v", false)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	restored := NewWithBackend(NewMemoryBackend(path), zap.NewNop())
	var got string
	if err := restored.Get(ctx, "sales", "s1", &got); err != nil || got != "v" {
		t.Fatalf("expected value restored from mirror, got %q, err %v", got, err)
	}

	queue, _ := restored.SyncQueue(ctx)
	if len(queue) != 1 {
		t.Fatalf("expected queue restored from mirror, got %d entries", len(queue))
	}
}

func TestOpenFallsBackToMemory(t *testing.T) {
	// Каталог вместо файла БД делает SQLite недоступным.
	dir := t.TempDir()

	s := Open(dir, zap.NewNop())
	defer s.Close()

	ctx := context.Background()
	if err := s.Set(ctx, "sales", "s1", "v", false); err != nil {
		t.Fatalf("fallback store must accept writes: %v", err)
	}
}
