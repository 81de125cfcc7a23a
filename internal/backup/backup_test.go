package backup

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/julianstephens/ptlog/internal/queue"
)

func setupQueueDB(t *testing.T, keys ...string) (string, *queue.SQLiteStorage) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	s := queue.NewSQLiteStorage(path)
	if err := s.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	q := queue.New(s, "patient-1")
	for _, key := range keys {
		if err := q.Enqueue(context.Background(), key, []byte(`{"idempotency_key":"`+key+`"}`)); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	return path, s
}

// steppingClock returns a clock that advances one second per call.
func steppingClock() func() time.Time {
	t := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func countItems(t *testing.T, path string) int {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM queue_items").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestSnapshotWhileOpen(t *testing.T) {
	path, _ := setupQueueDB(t, "k1", "k2")

	mgr := NewManager(path)
	snap, err := mgr.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if filepath.Dir(snap) != mgr.Dir() {
		t.Errorf("snapshot written to %s", snap)
	}
	if n := countItems(t, snap); n != 2 {
		t.Errorf("snapshot has %d items, want 2", n)
	}
}

func TestSnapshotMissingDatabase(t *testing.T) {
	mgr := NewManager(filepath.Join(t.TempDir(), "missing.db"))
	if _, err := mgr.Snapshot(); err == nil {
		t.Error("expected error for missing database")
	}
}

func TestRotation(t *testing.T) {
	path, _ := setupQueueDB(t, "k1")
	mgr := NewManager(path)
	mgr.now = steppingClock()

	for i := 0; i < MaxBackups+3; i++ {
		if _, err := mgr.Snapshot(); err != nil {
			t.Fatalf("Snapshot #%d failed: %v", i, err)
		}
	}

	snapshots, err := mgr.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(snapshots) != MaxBackups {
		t.Fatalf("kept %d snapshots, want %d", len(snapshots), MaxBackups)
	}
	for i := 1; i < len(snapshots); i++ {
		if !snapshots[i].Timestamp.Before(snapshots[i-1].Timestamp) {
			t.Errorf("snapshots not sorted newest first at %d", i)
		}
	}
	// the three oldest were rotated away
	oldest := time.Date(2026, 3, 1, 8, 0, 4, 0, time.UTC)
	if !snapshots[len(snapshots)-1].Timestamp.Equal(oldest) {
		t.Errorf("oldest kept = %v, want %v", snapshots[len(snapshots)-1].Timestamp, oldest)
	}
}

func TestListIgnoresForeignFiles(t *testing.T) {
	path, _ := setupQueueDB(t)
	mgr := NewManager(path)
	if err := os.MkdirAll(mgr.Dir(), 0700); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"notes.txt", "queue-garbage.db", "other-20260301-080000.000000000.db"} {
		if err := os.WriteFile(filepath.Join(mgr.Dir(), name), []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	snapshots, err := mgr.List()
	if err != nil || len(snapshots) != 0 {
		t.Errorf("List = %+v, %v", snapshots, err)
	}
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	path, s := setupQueueDB(t, "k1", "k2")
	mgr := NewManager(path)
	mgr.now = steppingClock()

	snap, err := mgr.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if _, err := s.Purge(ctx, "patient-1"); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := mgr.Restore(snap); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if n := countItems(t, path); n != 2 {
		t.Errorf("restored queue has %d items, want 2", n)
	}

	// the purged state was kept as its own snapshot
	snapshots, _ := mgr.List()
	if len(snapshots) != 2 {
		t.Errorf("expected pre-restore snapshot, have %d", len(snapshots))
	}
}

func TestRestoreRejectsInvalidFile(t *testing.T) {
	path, _ := setupQueueDB(t)
	bogus := filepath.Join(t.TempDir(), "bogus.db")
	if err := os.WriteFile(bogus, []byte("not a database"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := NewManager(path).Restore(bogus); err == nil {
		t.Error("expected error restoring an invalid file")
	}
}
