package recording

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func sampleRecording(id, path string, createdAt time.Time) Recording {
	return Recording{
		ID:          id,
		SessionID:   "sess-1",
		CreatedAt:   createdAt,
		DurationMs:  300000,
		SizeBytes:   9600044,
		Path:        path,
		ContextType: "booking",
		ContextID:   "b1",
		Source:      SourceAuto,
		ExpiresAt:   createdAt.Add(7 * 24 * time.Hour),
	}
}

func runStoreSuite(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	first := sampleRecording("rec-1", "/tmp/rec-1.wav", base)
	second := sampleRecording("rec-2", "/tmp/rec-2.wav", base.Add(time.Hour))
	for _, rec := range []Recording{first, second} {
		if err := store.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert(%s) error = %v", rec.ID, err)
		}
	}

	got, err := store.Get(ctx, "rec-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Path != first.Path || got.Source != first.Source || got.ContextID != first.ContextID {
		t.Fatalf("Get() = %+v, want %+v", got, first)
	}
	if got.CreatedAt.UnixMilli() != first.CreatedAt.UnixMilli() {
		t.Fatalf("Get() CreatedAt = %v, want %v", got.CreatedAt, first.CreatedAt)
	}
	if got.ExpiresAt.UnixMilli() != first.ExpiresAt.UnixMilli() {
		t.Fatalf("Get() ExpiresAt = %v, want %v", got.ExpiresAt, first.ExpiresAt)
	}

	byPath, err := store.GetByPath(ctx, second.Path)
	if err != nil {
		t.Fatalf("GetByPath() error = %v", err)
	}
	if byPath.ID != second.ID {
		t.Fatalf("GetByPath() ID = %q, want %q", byPath.ID, second.ID)
	}

	if _, err := store.Get(ctx, "rec-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := store.GetByPath(ctx, "/tmp/nope.wav"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetByPath(missing) error = %v, want ErrNotFound", err)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 2 || all[0].ID != "rec-1" || all[1].ID != "rec-2" {
		t.Fatalf("List() = %v, want [rec-1 rec-2] ordered by created_at", all)
	}

	// Boundary: a recording expiring exactly now is already expired.
	expired, err := store.ListExpired(ctx, first.ExpiresAt)
	if err != nil {
		t.Fatalf("ListExpired() error = %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "rec-1" {
		t.Fatalf("ListExpired() = %v, want [rec-1]", expired)
	}

	if err := store.Delete(ctx, "rec-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "rec-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete() error = %v, want ErrNotFound", err)
	}
	if _, err := store.GetByPath(ctx, first.Path); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetByPath() after delete error = %v, want ErrNotFound", err)
	}
}

func TestInMemoryStore(t *testing.T) {
	runStoreSuite(t, NewInMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "index.sqlite"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer store.Close()
	runStoreSuite(t, store)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.sqlite")

	store, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	rec := sampleRecording("rec-1", "/tmp/rec-1.wav", time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	if err := store.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Get(ctx, "rec-1")
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if got.Path != rec.Path || got.DurationMs != rec.DurationMs {
		t.Fatalf("Get() after reopen = %+v, want %+v", got, rec)
	}
}

func TestNewStoreFactoryFallbacks(t *testing.T) {
	ctx := context.Background()

	sqliteStore, err := NewStore(ctx, "", filepath.Join(t.TempDir(), "index.sqlite"))
	if err != nil {
		t.Fatalf("NewStore(sqlite) error = %v", err)
	}
	defer sqliteStore.Close()
	if _, ok := sqliteStore.(*SQLiteStore); !ok {
		t.Fatalf("NewStore() = %T, want *SQLiteStore", sqliteStore)
	}

	memStore, err := NewStore(ctx, "", "")
	if err != nil {
		t.Fatalf("NewStore(memory) error = %v", err)
	}
	defer memStore.Close()
	if _, ok := memStore.(*InMemoryStore); !ok {
		t.Fatalf("NewStore() = %T, want *InMemoryStore", memStore)
	}
}
