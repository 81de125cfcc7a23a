package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/julianstephens/ptlog/internal/errors"
)

func setupSQLite(t *testing.T) *SQLiteStorage {
	t.Helper()
	s := NewSQLiteStorage(filepath.Join(t.TempDir(), "queue.db"))
	if err := s.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// storages runs fn against both implementations.
func storages(t *testing.T, fn func(t *testing.T, s Storage)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, setupSQLite(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStorage()) })
}

func TestEnqueueIsFIFO(t *testing.T) {
	storages(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		q := New(s, "patient-1")
		for _, key := range []string{"k3", "k1", "k2"} {
			if err := q.Enqueue(ctx, key, []byte(`{"idempotency_key":"`+key+`"}`)); err != nil {
				t.Fatalf("Enqueue %s: %v", key, err)
			}
		}

		items, err := q.Pending(ctx)
		if err != nil {
			t.Fatalf("Pending failed: %v", err)
		}
		var got []string
		for _, item := range items {
			got = append(got, item.IdempotencyKey)
		}
		if len(got) != 3 || got[0] != "k3" || got[1] != "k1" || got[2] != "k2" {
			t.Errorf("order = %v", got)
		}
		if string(items[0].Payload) != `{"idempotency_key":"k3"}` {
			t.Errorf("payload = %s", items[0].Payload)
		}
	})
}

func TestEnqueueDuplicate(t *testing.T) {
	storages(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		q := New(s, "patient-1")
		if err := q.Enqueue(ctx, "k1", []byte("{}")); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		if err := q.Enqueue(ctx, "k1", []byte("{}")); !errors.Is(err, ErrDuplicate) {
			t.Errorf("expected ErrDuplicate, got %v", err)
		}

		// the same key under another owner is a different item
		if err := New(s, "patient-2").Enqueue(ctx, "k1", []byte("{}")); err != nil {
			t.Errorf("other owner Enqueue failed: %v", err)
		}
	})
}

func TestOwnerScoping(t *testing.T) {
	storages(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		a, b := New(s, "alice"), New(s, "bob")
		for _, e := range []struct {
			q   *Queue
			key string
		}{{a, "a1"}, {b, "b1"}, {a, "a2"}} {
			if err := e.q.Enqueue(ctx, e.key, []byte("{}")); err != nil {
				t.Fatalf("Enqueue %s: %v", e.key, err)
			}
		}

		items, _ := b.Pending(ctx)
		if len(items) != 1 || items[0].IdempotencyKey != "b1" {
			t.Errorf("bob sees %+v", items)
		}

		owners, err := s.Owners(ctx)
		if err != nil || len(owners) != 2 || owners[0] != "alice" {
			t.Errorf("Owners = %v, %v", owners, err)
		}

		n, err := s.Purge(ctx, "alice")
		if err != nil || n != 2 {
			t.Errorf("Purge = %d, %v", n, err)
		}
		if items, _ := b.Pending(ctx); len(items) != 1 {
			t.Errorf("purge touched another owner: %+v", items)
		}
	})
}

func TestRemoveAndWithdraw(t *testing.T) {
	storages(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		q := New(s, "patient-1")
		for _, key := range []string{"k1", "k2"} {
			if err := q.Enqueue(ctx, key, []byte("{}")); err != nil {
				t.Fatalf("Enqueue %s: %v", key, err)
			}
		}

		if err := q.Claim(ctx, "k1"); err != nil {
			t.Fatalf("Claim failed: %v", err)
		}
		if err := q.Claim(ctx, "k1"); !errors.Is(err, ErrInFlight) {
			t.Errorf("second Claim: expected ErrInFlight, got %v", err)
		}
		if err := q.Withdraw(ctx, "k1"); !errors.Is(err, ErrInFlight) {
			t.Errorf("expected ErrInFlight, got %v", err)
		}
		q.Release(ctx, "k1")

		if err := q.Withdraw(ctx, "k1"); err != nil {
			t.Errorf("Withdraw failed: %v", err)
		}
		if err := q.Withdraw(ctx, "k1"); !errors.Is(err, ErrNotQueued) {
			t.Errorf("expected ErrNotQueued, got %v", err)
		}

		if err := q.Remove(ctx, "k2"); err != nil {
			t.Errorf("Remove failed: %v", err)
		}
		if err := q.Remove(ctx, "k2"); err != nil {
			t.Errorf("second Remove should be a no-op, got %v", err)
		}
		if items, _ := q.Pending(ctx); len(items) != 0 {
			t.Errorf("items left: %+v", items)
		}
	})
}

func TestEnqueueFailureIsQueuePersistenceError(t *testing.T) {
	s := NewMemoryStorage()
	s.FailAppend = errors.New("disk full")

	err := New(s, "patient-1").Enqueue(context.Background(), "k1", []byte("{}"))
	var qe *apperrors.QueuePersistenceError
	if !errors.As(err, &qe) || qe.IdempotencyKey != "k1" {
		t.Fatalf("expected QueuePersistenceError, got %v", err)
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	s := NewSQLiteStorage(path)
	if err := s.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := New(s, "patient-1").Enqueue(ctx, "k1", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	s.Close()

	reopened := NewSQLiteStorage(path)
	if err := reopened.Open(); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	items, err := New(reopened, "patient-1").Pending(ctx)
	if err != nil || len(items) != 1 || string(items[0].Payload) != `{"a":1}` {
		t.Errorf("after reopen: %+v, %v", items, err)
	}
}

func TestSession(t *testing.T) {
	ctx := context.Background()
	s := setupSQLite(t)

	if _, err := s.CurrentSession(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	if err := s.SignIn(ctx, "alice", at); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if err := s.SignIn(ctx, "bob", at.Add(time.Hour)); err != nil {
		t.Fatalf("second SignIn failed: %v", err)
	}
	sess, err := s.CurrentSession(ctx)
	if err != nil || sess.Identity != "bob" || !sess.SignedInAt.Equal(at.Add(time.Hour)) {
		t.Errorf("session = %+v, %v", sess, err)
	}

	if err := s.SignOut(ctx); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}
	if _, err := s.CurrentSession(ctx); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession after SignOut, got %v", err)
	}
}

func TestClaimMissingItem(t *testing.T) {
	storages(t, func(t *testing.T, s Storage) {
		q := New(s, "patient-1")
		if err := q.Claim(context.Background(), "nope"); !errors.Is(err, ErrNotQueued) {
			t.Errorf("expected ErrNotQueued, got %v", err)
		}
	})
}

func TestClaimIsSharedBetweenProcesses(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")
	open := func() *SQLiteStorage {
		s := NewSQLiteStorage(path)
		if err := s.Open(); err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	}

	flusher := New(open(), "patient-1")
	cli := New(open(), "patient-1")

	if err := flusher.Enqueue(ctx, "k1", []byte("{}")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := flusher.Claim(ctx, "k1"); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	if err := cli.Withdraw(ctx, "k1"); !errors.Is(err, ErrInFlight) {
		t.Fatalf("Withdraw from another connection: expected ErrInFlight, got %v", err)
	}
	if err := cli.Claim(ctx, "k1"); !errors.Is(err, ErrInFlight) {
		t.Fatalf("Claim from another connection: expected ErrInFlight, got %v", err)
	}
	items, err := cli.Pending(ctx)
	if err != nil || len(items) != 1 || items[0].ClaimedAt.IsZero() {
		t.Fatalf("Pending = %+v, %v", items, err)
	}

	flusher.Release(ctx, "k1")
	if err := cli.Withdraw(ctx, "k1"); err != nil {
		t.Fatalf("Withdraw after release failed: %v", err)
	}
	if err := flusher.Claim(ctx, "k1"); !errors.Is(err, ErrNotQueued) {
		t.Errorf("Claim after withdraw: expected ErrNotQueued, got %v", err)
	}
}

func TestAbandonedClaimLapses(t *testing.T) {
	storages(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

		crashed := New(s, "patient-1")
		crashed.now = func() time.Time { return start }
		if err := crashed.Enqueue(ctx, "k1", []byte("{}")); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		if err := crashed.Claim(ctx, "k1"); err != nil {
			t.Fatalf("Claim failed: %v", err)
		}

		later := New(s, "patient-1")
		later.now = func() time.Time { return start.Add(later.lease / 2) }
		if err := later.Withdraw(ctx, "k1"); !errors.Is(err, ErrInFlight) {
			t.Fatalf("Withdraw within lease: expected ErrInFlight, got %v", err)
		}

		later.now = func() time.Time { return start.Add(later.lease + time.Second) }
		if err := later.Claim(ctx, "k1"); err != nil {
			t.Fatalf("Claim after lease: %v", err)
		}
		if err := later.Remove(ctx, "k1"); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
	})
}
