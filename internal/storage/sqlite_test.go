package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperjump/tanya/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedDocument(t *testing.T, store *SQLiteStorage, userID, fileID string, positions ...int) {
	t.Helper()
	ctx := context.Background()
	doc := &models.Document{FileID: fileID, UserID: userID, Filename: fileID + ".txt", FileType: "txt"}
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	chunks := make([]*models.Chunk, 0, len(positions))
	for _, p := range positions {
		chunks = append(chunks, &models.Chunk{
			UserID: userID, FileID: fileID, Filename: doc.Filename,
			PageNumber: 1, Content: "text", Preview: "text", Position: p,
		})
	}
	if err := store.CommitChunks(ctx, fileID, 1, chunks); err != nil {
		t.Fatal(err)
	}
}

func TestSQLiteStorage_DocumentLifecycle(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	doc := &models.Document{FileID: "f1", UserID: "alice", Filename: "a.pdf", FileType: "pdf"}
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if doc.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
	if doc.Status != models.StatusProcessing {
		t.Errorf("status=%s, want processing", doc.Status)
	}

	if err := store.CommitChunks(ctx, "f1", 2, []*models.Chunk{
		{UserID: "alice", FileID: "f1", Filename: "a.pdf", PageNumber: 1, Content: "one", Preview: "one", Position: 0},
		{UserID: "alice", FileID: "f1", Filename: "a.pdf", PageNumber: 2, Content: "two", Preview: "two", Position: 1},
	}); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetDocument(ctx, "alice", "f1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusIndexed || got.PageCount != 2 {
		t.Errorf("got %+v", got)
	}

	if _, err := store.GetDocument(ctx, "bob", "f1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("other user should not see document, err=%v", err)
	}

	list, err := store.ListDocuments(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 doc, got %d", len(list))
	}

	existed, err := store.DeleteDocument(ctx, "alice", "f1")
	if err != nil || !existed {
		t.Fatalf("DeleteDocument existed=%v err=%v", existed, err)
	}
	if n, _ := store.CountChunks(ctx, "alice"); n != 0 {
		t.Errorf("chunks left: %d", n)
	}
	existed, err = store.DeleteDocument(ctx, "alice", "f1")
	if err != nil || existed {
		t.Errorf("second delete existed=%v err=%v", existed, err)
	}
}

func TestSQLiteStorage_UpdateDocumentStatus(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	_ = store.CreateDocument(ctx, &models.Document{FileID: "f1", UserID: "alice", Filename: "a", FileType: "txt"})

	if err := store.UpdateDocumentStatus(ctx, "f1", models.StatusFailed, "boom"); err != nil {
		t.Fatal(err)
	}
	got, _ := store.GetDocument(ctx, "alice", "f1")
	if got.Status != models.StatusFailed || got.Error != "boom" {
		t.Errorf("got %+v", got)
	}
	if err := store.UpdateDocumentStatus(ctx, "missing", models.StatusFailed, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("err=%v, want ErrNotFound", err)
	}
}

func TestSQLiteStorage_ChunksByPositionsAndRenumber(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedDocument(t, store, "alice", "f1", 0, 1, 2)
	seedDocument(t, store, "alice", "f2", 3, 4)
	seedDocument(t, store, "bob", "f3", 0)

	found, err := store.ChunksByPositions(ctx, "alice", []int{4, 0, 9})
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 || found[4].FileID != "f2" || found[0].FileID != "f1" {
		t.Errorf("found=%v", found)
	}

	if _, err := store.DeleteDocument(ctx, "alice", "f1"); err != nil {
		t.Fatal(err)
	}
	remaining, _ := store.ListChunks(ctx, "alice")
	if len(remaining) != 2 {
		t.Fatalf("remaining=%d", len(remaining))
	}
	ids := []string{remaining[0].ID, remaining[1].ID}
	if err := store.RenumberChunks(ctx, "alice", ids); err != nil {
		t.Fatal(err)
	}
	renumbered, _ := store.ListChunks(ctx, "alice")
	for i, c := range renumbered {
		if c.Position != i || c.ID != ids[i] {
			t.Errorf("chunk %d: position=%d id=%s", i, c.Position, c.ID)
		}
	}

	bobs, _ := store.ListChunks(ctx, "bob")
	if len(bobs) != 1 || bobs[0].Position != 0 {
		t.Errorf("bob's chunks changed: %+v", bobs)
	}
}

func TestSQLiteStorage_MaxPosition(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	if pos, err := store.MaxPosition(ctx, "alice"); err != nil || pos != -1 {
		t.Errorf("empty: pos=%d err=%v, want -1", pos, err)
	}
	seedDocument(t, store, "alice", "f1", 0, 1)
	seedDocument(t, store, "alice", "f2", 5)
	seedDocument(t, store, "bob", "f3", 9)

	if pos, err := store.MaxPosition(ctx, "alice"); err != nil || pos != 5 {
		t.Errorf("alice: pos=%d err=%v, want 5", pos, err)
	}
}

func TestSQLiteStorage_Turns(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	for _, q := range []string{"q1", "q2", "q3"} {
		turn := &models.Turn{UserID: "alice", Question: q, Answer: "a-" + q,
			Sources: []models.Source{{Filename: "a.pdf", Page: 1}}}
		if err := store.AppendTurn(ctx, turn); err != nil {
			t.Fatal(err)
		}
	}

	turns, err := store.RecentTurns(ctx, "alice", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 || turns[0].Question != "q3" || turns[1].Question != "q2" {
		t.Fatalf("turns=%+v", turns)
	}
	if len(turns[0].Sources) != 1 || turns[0].Sources[0].Filename != "a.pdf" {
		t.Errorf("sources=%+v", turns[0].Sources)
	}

	if err := store.DeleteTurns(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	turns, _ = store.RecentTurns(ctx, "alice", 6)
	if len(turns) != 0 {
		t.Errorf("turns after delete: %d", len(turns))
	}
}

func TestSQLiteStorage_DeleteUserData(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedDocument(t, store, "alice", "f1", 0)
	seedDocument(t, store, "bob", "f2", 0)
	_ = store.AppendTurn(ctx, &models.Turn{UserID: "alice", Question: "q", Answer: "a"})

	if err := store.DeleteUserData(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if n, _ := store.CountDocuments(ctx, "alice"); n != 0 {
		t.Errorf("alice documents=%d", n)
	}
	if n, _ := store.CountDocuments(ctx, ""); n != 1 {
		t.Errorf("total documents=%d, want 1", n)
	}
	if turns, _ := store.RecentTurns(ctx, "alice", 6); len(turns) != 0 {
		t.Errorf("alice turns=%d", len(turns))
	}
	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
