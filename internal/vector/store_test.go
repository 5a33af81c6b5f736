package vector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/tanya/internal/models"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), "memory", 2, WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_AppendQueryPersist(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	start, err := s.Append(ctx, "alice", [][]float32{{1, 0}, {0, 1}})
	if err != nil {
		t.Fatal(err)
	}
	if start != 0 {
		t.Errorf("start=%d", start)
	}
	start, _ = s.Append(ctx, "alice", [][]float32{{0.7, 0.7}})
	if start != 2 {
		t.Errorf("start=%d, want 2", start)
	}
	if err := s.Persist("alice"); err != nil {
		t.Fatal(err)
	}

	reopened, _ := NewStore(s.dir, "memory", 2)
	defer reopened.Close()
	n, err := reopened.Size("alice")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("reloaded size=%d, want 3", n)
	}
	hits, _ := reopened.Query(ctx, "alice", []float32{0, 1}, 1)
	if len(hits) != 1 || hits[0].Position != 1 {
		t.Errorf("hits=%+v", hits)
	}
}

func TestStore_UsersIsolated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.Append(ctx, "alice", [][]float32{{1, 0}})

	hits, err := s.Query(ctx, "bob", []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("query on new user: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("bob sees %d hits", len(hits))
	}
}

func TestStore_RebuildEmptyRemovesSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.Append(ctx, "alice", [][]float32{{1, 0}})
	_ = s.Persist("alice")

	path := s.SnapshotPath("alice")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}
	if err := s.Rebuild(ctx, "alice", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("snapshot should be removed, stat err=%v", err)
	}
	if n, _ := s.Size("alice"); n != 0 {
		t.Errorf("size=%d after empty rebuild", n)
	}
}

func TestStore_RebuildRenumbers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.Append(ctx, "alice", [][]float32{{1, 0}, {0, 1}, {1, 1}})

	if err := s.Rebuild(ctx, "alice", [][]float32{{0, 1}, {1, 1}}); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.Size("alice"); n != 2 {
		t.Errorf("size=%d, want 2", n)
	}
	hits, _ := s.Query(ctx, "alice", []float32{0, 1}, 1)
	if hits[0].Position != 0 {
		t.Errorf("top position=%d, want 0", hits[0].Position)
	}
}

func TestStore_CorruptSnapshot(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.SnapshotPath("alice"), []byte("junk"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := s.Query(context.Background(), "alice", []float32{1, 0}, 3)
	if !errors.Is(err, models.ErrIndexLoad) {
		t.Errorf("err=%v, want ErrIndexLoad", err)
	}
}

func TestStore_OverlappingWrite(t *testing.T) {
	s := newTestStore(t)
	done, err := s.beginWrite("alice", "append")
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Append(context.Background(), "alice", [][]float32{{1, 0}})
	if !errors.Is(err, models.ErrConcurrentWrite) {
		t.Errorf("err=%v, want ErrConcurrentWrite", err)
	}
	done()
	if _, err := s.Append(context.Background(), "alice", [][]float32{{1, 0}}); err != nil {
		t.Errorf("append after release: %v", err)
	}
}

func TestStore_SnapshotPath(t *testing.T) {
	s := newTestStore(t)
	if got := filepath.Base(s.SnapshotPath("alice_01")); got != "alice_01.vec" {
		t.Errorf("plain id: %s", got)
	}
	for _, id := range []string{"../etc", "a/b", "..", "user@example.com"} {
		got := filepath.Base(s.SnapshotPath(id))
		if !strings.HasPrefix(got, "u-") {
			t.Errorf("%q mapped to %s", id, got)
		}
		if filepath.Dir(s.SnapshotPath(id)) != s.dir {
			t.Errorf("%q escapes index dir", id)
		}
	}
}

func TestStore_Drop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.Append(ctx, "alice", [][]float32{{1, 0}})
	_ = s.Persist("alice")
	if err := s.Drop("alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(s.SnapshotPath("alice")); !os.IsNotExist(err) {
		t.Error("snapshot still present")
	}
	if n, _ := s.Size("alice"); n != 0 {
		t.Errorf("size=%d", n)
	}
}

func TestStore_RebuildRetiresOldIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.Append(ctx, "alice", [][]float32{{1, 0}, {0, 1}})
	old, err := s.OpenOrCreate("alice")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Rebuild(ctx, "alice", [][]float32{{0, 1}}); err != nil {
		t.Fatal(err)
	}
	if _, err := old.Search(ctx, []float32{0, 1}, 1); !errors.Is(err, ErrIndexClosed) {
		t.Errorf("replaced index search err=%v, want ErrIndexClosed", err)
	}
	hits, err := s.Query(ctx, "alice", []float32{0, 1}, 1)
	if err != nil || len(hits) != 1 || hits[0].Position != 0 {
		t.Errorf("hits=%+v err=%v", hits, err)
	}
}
