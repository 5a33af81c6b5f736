package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/config"
	"github.com/hyperjump/tanya/internal/embedding"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/storage"
	"github.com/hyperjump/tanya/internal/vector"
)

const testDims = 16

type testEnv struct {
	idx      *Indexer
	store    *storage.SQLiteStorage
	vectors  *vector.Store
	embedder embedding.Embedder
}

func newTestEnv(t *testing.T, embedder embedding.Embedder, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	for _, m := range mutate {
		m(cfg)
	}

	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	vectors, err := vector.NewStore(filepath.Join(dir, "indices"), "memory", testDims)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = vectors.Close() })
	if embedder == nil {
		embedder = embedding.NewHashEmbedder(testDims)
	}
	idx := NewIndexer(store, embedder, vectors, cfg, WithLogger(zap.NewNop()))
	return &testEnv{idx: idx, store: store, vectors: vectors, embedder: embedder}
}

func pages(texts ...string) []models.Page {
	out := make([]models.Page, len(texts))
	for i, t := range texts {
		out[i] = models.Page{Number: i + 1, Text: t}
	}
	return out
}

func (e *testEnv) ingest(t *testing.T, user, filename string, texts ...string) *models.Document {
	t.Helper()
	doc, err := e.idx.Ingest(context.Background(), IngestRequest{
		UserID: user, Filename: filename, FileType: "pdf", Pages: pages(texts...),
	})
	if err != nil {
		t.Fatalf("Ingest(%s): %v", filename, err)
	}
	return doc
}

func (e *testEnv) size(t *testing.T, user string) int {
	t.Helper()
	n, err := e.vectors.Size(user)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestIngest_TwoPagesTwoPositions(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	doc := env.ingest(t, "u1", "a.pdf", "First page text.", "Second page text.")

	if doc.Status != models.StatusIndexed || doc.PageCount != 2 {
		t.Errorf("doc=%+v", doc)
	}
	if n := env.size(t, "u1"); n != 2 {
		t.Errorf("index size=%d, want 2", n)
	}
	chunks, _ := env.store.ListChunks(ctx, "u1")
	if len(chunks) != 2 {
		t.Fatalf("chunks=%d", len(chunks))
	}
	for i, c := range chunks {
		if c.Position != i || c.PageNumber != i+1 || c.FileID != doc.FileID {
			t.Errorf("chunk %d: %+v", i, c)
		}
	}
	stored, err := env.store.GetDocument(ctx, "u1", doc.FileID)
	if err != nil || stored.Status != models.StatusIndexed {
		t.Errorf("stored=%+v err=%v", stored, err)
	}
	if _, err := os.Stat(env.vectors.SnapshotPath("u1")); err != nil {
		t.Errorf("snapshot not persisted: %v", err)
	}
}

func TestIngest_PositionsResolveToOwnContent(t *testing.T) {
	env := newTestEnv(t, nil, func(c *config.Config) {
		c.Chunking.Size = 40
		c.Chunking.Overlap = 10
	})
	ctx := context.Background()
	env.ingest(t, "u1", "a.pdf",
		"Rivers carry water from mountains down to the sea across many valleys.",
		"Bridges span rivers so that travellers can cross safely.")
	env.ingest(t, "u1", "b.pdf", "Owls hunt at night using sharp hearing and silent flight.")

	chunks, _ := env.store.ListChunks(ctx, "u1")
	if n := env.size(t, "u1"); n != len(chunks) {
		t.Fatalf("index size=%d, chunks=%d", n, len(chunks))
	}
	for _, c := range chunks {
		vec, _ := env.embedder.Embed(ctx, c.Content)
		hits, err := env.vectors.Query(ctx, "u1", vec, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != 1 || hits[0].Position != c.Position {
			t.Errorf("self-retrieval for position %d returned %+v", c.Position, hits)
		}
	}
}

func TestIngest_EmptyPagesYieldNoChunks(t *testing.T) {
	env := newTestEnv(t, nil)
	doc := env.ingest(t, "u1", "blank.pdf", "", "   ")
	if doc.Status != models.StatusIndexed {
		t.Errorf("status=%s", doc.Status)
	}
	if n := env.size(t, "u1"); n != 0 {
		t.Errorf("size=%d", n)
	}
}

func TestDelete_LastDocumentRemovesSnapshot(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	doc := env.ingest(t, "u1", "a.pdf", "First page.", "Second page.")

	existed, err := env.idx.Delete(ctx, "u1", doc.FileID)
	if err != nil || !existed {
		t.Fatalf("Delete existed=%v err=%v", existed, err)
	}
	if n := env.size(t, "u1"); n != 0 {
		t.Errorf("size=%d, want 0", n)
	}
	if chunks, _ := env.store.ListChunks(ctx, "u1"); len(chunks) != 0 {
		t.Errorf("chunks left: %d", len(chunks))
	}
	if _, err := os.Stat(env.vectors.SnapshotPath("u1")); !os.IsNotExist(err) {
		t.Errorf("snapshot should be removed, stat err=%v", err)
	}

	vec, _ := env.embedder.Embed(ctx, "First page.")
	hits, err := env.vectors.Query(ctx, "u1", vec, 3)
	if err != nil || len(hits) != 0 {
		t.Errorf("query after delete: hits=%v err=%v", hits, err)
	}
}

func TestDelete_RebuildRenumbers(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	first := env.ingest(t, "u1", "first.pdf", "alpha one", "alpha two", "alpha three")
	second := env.ingest(t, "u1", "second.pdf", "beta one", "beta two")
	if n := env.size(t, "u1"); n != 5 {
		t.Fatalf("size=%d, want 5", n)
	}

	if _, err := env.idx.Delete(ctx, "u1", first.FileID); err != nil {
		t.Fatal(err)
	}
	if n := env.size(t, "u1"); n != 2 {
		t.Fatalf("size=%d, want 2", n)
	}
	chunks, _ := env.store.ListChunks(ctx, "u1")
	want := []string{"beta one", "beta two"}
	if len(chunks) != 2 {
		t.Fatalf("chunks=%d", len(chunks))
	}
	for i, c := range chunks {
		if c.Position != i || c.FileID != second.FileID || c.Content != want[i] {
			t.Errorf("chunk %d: position=%d file=%s content=%q", i, c.Position, c.FileID, c.Content)
		}
		vec, _ := env.embedder.Embed(ctx, c.Content)
		hits, _ := env.vectors.Query(ctx, "u1", vec, 1)
		if hits[0].Position != i {
			t.Errorf("chunk %q retrieves position %d, want %d", c.Content, hits[0].Position, i)
		}
	}
}

func TestDelete_UnknownIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.ingest(t, "u1", "a.pdf", "Some text.")

	for i := 0; i < 2; i++ {
		existed, err := env.idx.Delete(ctx, "u1", "missing")
		if err != nil || existed {
			t.Errorf("attempt %d: existed=%v err=%v", i, existed, err)
		}
	}
	if n := env.size(t, "u1"); n != 1 {
		t.Errorf("size changed: %d", n)
	}
}

func TestQuery_KLargerThanSize(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.ingest(t, "u1", "a.pdf", "Only chunk.")

	vec, _ := env.embedder.Embed(ctx, "anything")
	hits, err := env.vectors.Query(ctx, "u1", vec, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Errorf("hits=%d, want 1", len(hits))
	}
}

type failingEmbedder struct {
	*embedding.HashEmbedder
	failOn string
	delay  time.Duration
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	for _, t := range texts {
		if f.failOn != "" && strings.Contains(t, f.failOn) {
			return nil, errors.New("embedding service unavailable")
		}
	}
	return f.HashEmbedder.EmbedBatch(ctx, texts)
}

func TestIngest_FailureMarksFailed(t *testing.T) {
	embedder := &failingEmbedder{HashEmbedder: embedding.NewHashEmbedder(testDims), failOn: "poison"}
	env := newTestEnv(t, embedder)
	ctx := context.Background()
	env.ingest(t, "u1", "good.pdf", "Healthy text.")

	doc, err := env.idx.Ingest(ctx, IngestRequest{
		UserID: "u1", Filename: "bad.pdf", FileType: "pdf",
		Pages: pages("Fine page.", "poison page"),
	})
	if !errors.Is(err, models.ErrIngestion) {
		t.Fatalf("err=%v, want ErrIngestion", err)
	}
	if doc.Status != models.StatusFailed || doc.Error == "" {
		t.Errorf("doc=%+v", doc)
	}
	stored, _ := env.store.GetDocument(ctx, "u1", doc.FileID)
	if stored.Status != models.StatusFailed {
		t.Errorf("stored status=%s", stored.Status)
	}
	chunks, _ := env.store.ListChunks(ctx, "u1")
	for _, c := range chunks {
		if c.FileID == doc.FileID {
			t.Errorf("failed document left chunk metadata: %+v", c)
		}
	}
	if len(chunks) != 1 {
		t.Errorf("chunks=%d, want 1", len(chunks))
	}
}

func TestIngest_EmbedTimeout(t *testing.T) {
	embedder := &failingEmbedder{HashEmbedder: embedding.NewHashEmbedder(testDims), delay: time.Second}
	env := newTestEnv(t, embedder, func(c *config.Config) {
		c.Embedding.Timeout = 20 * time.Millisecond
	})
	_, err := env.idx.Ingest(context.Background(), IngestRequest{
		UserID: "u1", Filename: "slow.pdf", Pages: pages("text"),
	})
	if !errors.Is(err, models.ErrIngestion) || !errors.Is(err, models.ErrTimeout) {
		t.Errorf("err=%v, want ingestion timeout", err)
	}
	if models.Kind(err) != "timeout" {
		t.Errorf("Kind=%s", models.Kind(err))
	}
}

func TestRebuild_DropsOrphanedVectors(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.ingest(t, "u1", "a.pdf", "kept text")
	if _, err := env.vectors.Append(ctx, "u1", [][]float32{make([]float32, testDims)}); err != nil {
		t.Fatal(err)
	}
	if n := env.size(t, "u1"); n != 2 {
		t.Fatalf("size=%d", n)
	}
	if err := env.idx.Rebuild(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if n := env.size(t, "u1"); n != 1 {
		t.Errorf("size after rebuild=%d, want 1", n)
	}
}

// renumberHook wraps storage so renumbering can fail or observe the caller going away.
type renumberHook struct {
	storage.Storage
	failures int
	before   func()
}

func (r *renumberHook) RenumberChunks(ctx context.Context, userID string, chunkIDs []string) error {
	if r.before != nil {
		r.before()
	}
	if r.failures > 0 {
		r.failures--
		return errors.New("database is locked")
	}
	return r.Storage.RenumberChunks(ctx, userID, chunkIDs)
}

func (e *testEnv) hookRenumber(h *renumberHook) {
	h.Storage = e.store
	e.idx.storage = h
}

// assertPositionsResolve checks that positions are unique, below the index size, and that
// each chunk's own text retrieves its position.
func (e *testEnv) assertPositionsResolve(t *testing.T, user string) {
	t.Helper()
	ctx := context.Background()
	chunks, err := e.store.ListChunks(ctx, user)
	if err != nil {
		t.Fatal(err)
	}
	size := e.size(t, user)
	seen := make(map[int]string)
	for _, c := range chunks {
		if prev, ok := seen[c.Position]; ok {
			t.Errorf("position %d held by %q and %q", c.Position, prev, c.Content)
		}
		seen[c.Position] = c.Content
		if c.Position >= size {
			t.Errorf("%q at position %d, index size %d", c.Content, c.Position, size)
		}
		vec, _ := e.embedder.Embed(ctx, c.Content)
		hits, err := e.vectors.Query(ctx, user, vec, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != 1 || hits[0].Position != c.Position {
			t.Errorf("%q at position %d retrieves %+v", c.Content, c.Position, hits)
		}
	}
}

func TestDelete_RenumberFailureRepairedByNextIngest(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	first := env.ingest(t, "u1", "first.pdf", "alpha one", "alpha two", "alpha three")
	env.ingest(t, "u1", "second.pdf", "beta one", "beta two")

	env.hookRenumber(&renumberHook{failures: 1})
	if _, err := env.idx.Delete(ctx, "u1", first.FileID); err == nil {
		t.Fatal("Delete should report the renumber failure")
	}

	env.ingest(t, "u1", "third.pdf", "gamma one", "gamma two")
	env.assertPositionsResolve(t, "u1")
	if n := env.size(t, "u1"); n != 4 {
		t.Errorf("size=%d, want 4", n)
	}
}

func TestDelete_UnknownRepairsStaleIndex(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	first := env.ingest(t, "u1", "first.pdf", "alpha one", "alpha two", "alpha three")
	env.ingest(t, "u1", "second.pdf", "beta one", "beta two")

	env.hookRenumber(&renumberHook{failures: 1})
	if _, err := env.idx.Delete(ctx, "u1", first.FileID); err == nil {
		t.Fatal("Delete should report the renumber failure")
	}

	existed, err := env.idx.Delete(ctx, "u1", first.FileID)
	if err != nil || existed {
		t.Fatalf("retry existed=%v err=%v", existed, err)
	}
	env.assertPositionsResolve(t, "u1")

	repaired, err := env.idx.Repair(ctx, "u1")
	if err != nil || repaired {
		t.Errorf("consistent index: repaired=%v err=%v", repaired, err)
	}
}

func TestDelete_RenumberSurvivesCallerCancel(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := env.ingest(t, "u1", "first.pdf", "alpha one", "alpha two", "alpha three")
	env.ingest(t, "u1", "second.pdf", "beta one", "beta two")

	env.hookRenumber(&renumberHook{before: cancel})
	if _, err := env.idx.Delete(ctx, "u1", first.FileID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	env.ingest(t, "u1", "third.pdf", "gamma one", "gamma two")
	env.assertPositionsResolve(t, "u1")
}
