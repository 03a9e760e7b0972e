package ingest

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/docuchat/docuchat-core/internal/data/records"
	"github.com/docuchat/docuchat-core/internal/platform/logger"
	"github.com/docuchat/docuchat-core/internal/testutil"
)

type invalidations struct {
	mu         sync.Mutex
	namespaces []string
}

func (c *invalidations) Invalidate(namespace string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.namespaces = append(c.namespaces, namespace)
}

func (c *invalidations) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.namespaces)
}

type fixture struct {
	store   *testutil.MemObjectStore
	vectors *testutil.MemVectorStore
	embed   *testutil.HashEmbedder
	records *records.MemoryStore
	cache   *invalidations
	indexer Indexer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   testutil.NewMemObjectStore(),
		vectors: testutil.NewMemVectorStore(),
		embed:   &testutil.HashEmbedder{},
		records: records.NewMemoryStore(),
		cache:   &invalidations{},
	}
	ix, err := NewIndexer(logger.NewNop(), f.store, f.vectors, f.embed, f.records, testutil.TextExtractor{}, f.cache, Config{
		ChunkSize:    200,
		ChunkOverlap: 0,
	})
	if err != nil {
		t.Fatalf("NewIndexer: %v", err)
	}
	f.indexer = ix
	return f
}

func (f *fixture) put(t *testing.T, path, text string) {
	t.Helper()
	if err := f.store.Put(context.Background(), path, strings.NewReader(text), "application/pdf"); err != nil {
		t.Fatalf("put %q: %v", path, err)
	}
}

func TestRefreshMirrorsFolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.put(t, "u1/a.pdf", strings.Repeat("alpha ", 100))
	f.put(t, "u1/sub/b.pdf", "beta document")
	f.put(t, "u1/notes.xyz", "unsupported, stays out of the index")

	stats, err := f.indexer.Refresh(ctx, "u1", "u1/")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if stats.SourcesIndexed != 2 {
		t.Fatalf("indexed: want=2 got=%d", stats.SourcesIndexed)
	}

	sources := f.vectors.Sources("u1")
	want := []string{"u1/a.pdf", "u1/sub/b.pdf"}
	if len(sources) != len(want) || sources[0] != want[0] || sources[1] != want[1] {
		t.Fatalf("indexed sources: want=%v got=%v", want, sources)
	}
	if f.vectors.Count("u1") != stats.ChunksUpserted {
		t.Fatalf("vector count %d != chunks upserted %d", f.vectors.Count("u1"), stats.ChunksUpserted)
	}
}

func TestRefreshIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.put(t, "u1/a.pdf", "alpha document")
	if _, err := f.indexer.Refresh(ctx, "u1", "u1/"); err != nil {
		t.Fatalf("first Refresh: %v", err)
	}
	countAfterFirst := f.vectors.Count("u1")
	embedCalls := f.embed.Calls

	stats, err := f.indexer.Refresh(ctx, "u1", "u1/")
	if err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	if stats.SourcesIndexed != 0 || stats.SourcesSkipped != 1 {
		t.Fatalf("second run: want skip, got %+v", stats)
	}
	if f.vectors.Count("u1") != countAfterFirst {
		t.Fatalf("vector count changed on no-op refresh: %d -> %d", countAfterFirst, f.vectors.Count("u1"))
	}
	if f.embed.Calls != embedCalls {
		t.Fatalf("unchanged document was re-embedded")
	}
}

func TestRefreshRemovesDeletedDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.put(t, "u1/a.pdf", "alpha document")
	f.put(t, "u1/b.pdf", "beta document")
	if _, err := f.indexer.Refresh(ctx, "u1", "u1/"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if err := f.store.Delete(ctx, "u1/b.pdf"); err != nil {
		t.Fatalf("delete object: %v", err)
	}

	stats, err := f.indexer.Refresh(ctx, "u1", "u1/")
	if err != nil {
		t.Fatalf("Refresh after delete: %v", err)
	}
	if stats.SourcesRemoved != 1 {
		t.Fatalf("removed: want=1 got=%d", stats.SourcesRemoved)
	}
	sources := f.vectors.Sources("u1")
	if len(sources) != 1 || sources[0] != "u1/a.pdf" {
		t.Fatalf("sources after delete: got=%v", sources)
	}

	recs, _ := f.records.List(ctx, "u1")
	if len(recs) != 1 || recs[0].Source != "u1/a.pdf" {
		t.Fatalf("records after delete: got=%+v", recs)
	}
}

func TestRefreshReindexesChangedDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.put(t, "u1/a.pdf", "first revision")
	if _, err := f.indexer.Refresh(ctx, "u1", "u1/"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	f.put(t, "u1/a.pdf", "second revision, rather longer than the first one")
	stats, err := f.indexer.Refresh(ctx, "u1", "u1/")
	if err != nil {
		t.Fatalf("Refresh after overwrite: %v", err)
	}
	if stats.SourcesIndexed != 1 {
		t.Fatalf("overwrite not reindexed: %+v", stats)
	}

	// Exactly the new revision's chunks remain.
	recs, _ := f.records.List(ctx, "u1")
	if len(recs) != 1 {
		t.Fatalf("records: got=%+v", recs)
	}
	if f.vectors.Count("u1") != recs[0].ChunkCount {
		t.Fatalf("stale chunks left behind: vectors=%d record=%d", f.vectors.Count("u1"), recs[0].ChunkCount)
	}
}

func TestRefreshInvalidatesCacheOnlyOnChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.put(t, "u1/a.pdf", "alpha document")
	if _, err := f.indexer.Refresh(ctx, "u1", "u1/"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if f.cache.count() != 1 {
		t.Fatalf("invalidations after first refresh: want=1 got=%d", f.cache.count())
	}

	if _, err := f.indexer.Refresh(ctx, "u1", "u1/"); err != nil {
		t.Fatalf("no-op Refresh: %v", err)
	}
	if f.cache.count() != 1 {
		t.Fatalf("no-op refresh invalidated cache")
	}
}

func TestRefreshEmptyFolderClearsNamespace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.put(t, "u1/a.pdf", "alpha document")
	if _, err := f.indexer.Refresh(ctx, "u1", "u1/"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if err := f.store.Delete(ctx, "u1/a.pdf"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	stats, err := f.indexer.Refresh(ctx, "u1", "u1/")
	if err != nil {
		t.Fatalf("Refresh on empty folder: %v", err)
	}
	if stats.SourcesRemoved != 1 || f.vectors.Count("u1") != 0 {
		t.Fatalf("namespace not emptied: stats=%+v count=%d", stats, f.vectors.Count("u1"))
	}
}

func TestPurgeNamespace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.put(t, "u1/a.pdf", "alpha document")
	if _, err := f.indexer.Refresh(ctx, "u1", "u1/"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if err := f.indexer.PurgeNamespace(ctx, "u1"); err != nil {
		t.Fatalf("PurgeNamespace: %v", err)
	}
	if f.vectors.Count("u1") != 0 {
		t.Fatalf("vectors remain after purge")
	}
	recs, _ := f.records.List(ctx, "u1")
	if len(recs) != 0 {
		t.Fatalf("records remain after purge: %+v", recs)
	}
}

func TestChunkIDsDeterministic(t *testing.T) {
	a := ChunkIDs("u1", "u1/a.pdf", "fp", 3)
	b := ChunkIDs("u1", "u1/a.pdf", "fp", 3)
	if len(a) != 3 {
		t.Fatalf("len: want=3 got=%d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("ids not deterministic at %d: %q vs %q", i, a[i], b[i])
		}
	}
	if a[0] == a[1] {
		t.Fatalf("ordinals collide")
	}
	if c := ChunkIDs("u1", "u1/a.pdf", "fp2", 1); c[0] == a[0] {
		t.Fatalf("fingerprint not part of identity")
	}
}

func TestRefreshFailureLeavesNoOrphanVectors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two embed batches; the second fails after the first already landed.
	f.put(t, "u1/big.pdf", strings.Repeat("abcdefghij", 1300))
	f.embed.FailOnCall = 2

	if _, err := f.indexer.Refresh(ctx, "u1", "u1/"); err == nil {
		t.Fatalf("expected refresh error")
	}
	if got := f.vectors.Count("u1"); got != 0 {
		t.Fatalf("partial refresh left %d vectors", got)
	}

	// Even once the blob is gone, a later reconcile must stay clean: no
	// record row exists for the aborted revision, so any leftover vectors
	// would be unreachable forever.
	f.embed.FailOnCall = 0
	if err := f.store.Delete(ctx, "u1/big.pdf"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.indexer.Refresh(ctx, "u1", "u1/"); err != nil {
		t.Fatalf("reconcile refresh: %v", err)
	}
	if got := f.vectors.Count("u1"); got != 0 {
		t.Fatalf("%d orphan vectors after reconcile of empty folder", got)
	}
}

func TestRefreshCoalescesConcurrentCalls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.put(t, "u1/a.pdf", "alpha document")

	f.embed.Started = make(chan struct{}, 1)
	f.embed.Release = make(chan struct{})

	type result struct {
		stats RefreshStats
		err   error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			stats, err := f.indexer.Refresh(ctx, "u1", "u1/")
			results <- result{stats, err}
		}()
	}

	// Hold the first embed open so the second caller arrives while the
	// refresh is in flight, then let it finish.
	<-f.embed.Started
	close(f.embed.Release)

	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("refresh: %v", r.err)
		}
	}
	if f.embed.Calls != 1 {
		t.Fatalf("concurrent refreshes embedded %d times, want 1", f.embed.Calls)
	}
	if got := f.vectors.Count("u1"); got != 1 {
		t.Fatalf("vector count: want=1 got=%d", got)
	}
}
