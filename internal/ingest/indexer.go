package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/docuchat/docuchat-core/internal/data/records"
	"github.com/docuchat/docuchat-core/internal/platform/gcs"
	"github.com/docuchat/docuchat-core/internal/platform/logger"
	"github.com/docuchat/docuchat-core/internal/platform/pinecone"
)

// Embedder is the slice of the OpenAI client the indexer needs.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	EmbeddingIdentity() string
}

// Invalidator drops cached retrievers for a namespace after its vectors
// change.
type Invalidator interface {
	Invalidate(namespace string)
}

type RefreshStats struct {
	SourcesIndexed int
	SourcesSkipped int
	SourcesRemoved int
	ChunksUpserted int
	ChunksDeleted  int
}

func (s RefreshStats) Mutated() bool {
	return s.SourcesIndexed > 0 || s.SourcesRemoved > 0
}

// Indexer keeps a vector namespace mirroring a storage folder: after a
// successful Refresh the namespace holds exactly the chunks of the
// documents currently under the folder, nothing more and nothing less.
type Indexer interface {
	Refresh(ctx context.Context, namespace, folder string) (RefreshStats, error)
	// PurgeNamespace drops every vector and record for the namespace.
	PurgeNamespace(ctx context.Context, namespace string) error
}

type Config struct {
	ChunkSize    int
	ChunkOverlap int
}

type indexer struct {
	log      *logger.Logger
	store    gcs.ObjectStore
	vectors  pinecone.VectorStore
	embedder Embedder
	records  records.Store
	extract  Extractor
	cache    Invalidator

	chunkSize    int
	chunkOverlap int

	group singleflight.Group
}

// NewIndexer wires the refresh pipeline. cache may be nil when no retriever
// cache exists in the process (the reindex CLI).
func NewIndexer(log *logger.Logger, store gcs.ObjectStore, vectors pinecone.VectorStore, embedder Embedder, recs records.Store, extract Extractor, cache Invalidator, cfg Config) (Indexer, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if store == nil || vectors == nil || embedder == nil || recs == nil || extract == nil {
		return nil, fmt.Errorf("indexer dependencies missing")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = DefaultChunkOverlap
	}
	return &indexer{
		log:          log.With("service", "Indexer"),
		store:        store,
		vectors:      vectors,
		embedder:     embedder,
		records:      recs,
		extract:      extract,
		cache:        cache,
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
	}, nil
}

// chunkID is deterministic so a re-run of the same content produces the
// same vector IDs and upserts overwrite instead of duplicating.
func chunkID(namespace, source, fingerprint string, ordinal int) string {
	h := sha256.Sum256([]byte(namespace + "|" + source + "|" + fingerprint + "|" + strconv.Itoa(ordinal)))
	return hex.EncodeToString(h[:])
}

// ChunkIDs re-derives every chunk ID a document produced, which lets stale
// vectors be deleted without listing the index.
func ChunkIDs(namespace, source, fingerprint string, n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, chunkID(namespace, source, fingerprint, i))
	}
	return out
}

// sourceFingerprint identifies a stored object's revision from listing
// metadata alone. Overwriting an object changes its Created time, so a
// changed document always gets a new fingerprint.
func sourceFingerprint(e gcs.Entry) string {
	h := sha256.Sum256([]byte(e.Path + "|" + strconv.FormatInt(e.Size, 10) + "|" + strconv.FormatInt(e.Created.UnixNano(), 10)))
	return hex.EncodeToString(h[:16])
}

func (ix *indexer) Refresh(ctx context.Context, namespace, folder string) (RefreshStats, error) {
	// Concurrent refreshes of one namespace coalesce into a single run.
	v, err, _ := ix.group.Do(namespace, func() (any, error) {
		return ix.refresh(ctx, namespace, folder)
	})
	if err != nil {
		return RefreshStats{}, err
	}
	return v.(RefreshStats), nil
}

func (ix *indexer) refresh(ctx context.Context, namespace, folder string) (RefreshStats, error) {
	var stats RefreshStats

	entries, err := ix.store.List(ctx, folder, gcs.ListOptions{Files: true, Recursive: true})
	if err != nil {
		return stats, fmt.Errorf("list folder %q: %w", folder, err)
	}

	current := make(map[string]string)
	for _, e := range entries {
		if !ix.extract.Supported(e.Path) {
			continue
		}
		current[e.Path] = sourceFingerprint(e)
	}

	prev, err := ix.records.List(ctx, namespace)
	if err != nil {
		return stats, fmt.Errorf("list records for %q: %w", namespace, err)
	}
	prevBySource := make(map[string]records.IndexRecord, len(prev))
	for _, r := range prev {
		prevBySource[r.Source] = r
	}

	// Remove vectors of documents that no longer exist in storage.
	var removedSources []string
	var staleIDs []string
	for _, r := range prev {
		if _, ok := current[r.Source]; ok {
			continue
		}
		removedSources = append(removedSources, r.Source)
		staleIDs = append(staleIDs, ChunkIDs(namespace, r.Source, r.Fingerprint, r.ChunkCount)...)
	}
	if len(removedSources) > 0 {
		if err := ix.vectors.DeleteIDs(ctx, namespace, staleIDs); err != nil {
			return stats, fmt.Errorf("delete stale vectors: %w", err)
		}
		if err := ix.records.Delete(ctx, namespace, removedSources); err != nil {
			return stats, fmt.Errorf("delete stale records: %w", err)
		}
		stats.SourcesRemoved = len(removedSources)
		stats.ChunksDeleted += len(staleIDs)
	}

	// Index new and changed documents. Sorted so runs are reproducible.
	sources := make([]string, 0, len(current))
	for s := range current {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	for _, source := range sources {
		fp := current[source]
		old, existed := prevBySource[source]
		if existed && old.Fingerprint == fp {
			stats.SourcesSkipped++
			continue
		}

		n, err := ix.indexSource(ctx, namespace, source, fp)
		if err != nil {
			return stats, fmt.Errorf("index %q: %w", source, err)
		}

		// Old-revision vectors have different IDs; drop them after the new
		// ones land so the document never disappears from search.
		if existed && old.ChunkCount > 0 {
			oldIDs := ChunkIDs(namespace, source, old.Fingerprint, old.ChunkCount)
			if err := ix.vectors.DeleteIDs(ctx, namespace, oldIDs); err != nil {
				return stats, fmt.Errorf("delete old revision of %q: %w", source, err)
			}
			stats.ChunksDeleted += len(oldIDs)
		}

		if err := ix.records.Upsert(ctx, records.IndexRecord{
			Namespace:   namespace,
			Source:      source,
			Fingerprint: fp,
			ChunkCount:  n,
		}); err != nil {
			return stats, fmt.Errorf("record %q: %w", source, err)
		}

		stats.SourcesIndexed++
		stats.ChunksUpserted += n
	}

	if stats.Mutated() && ix.cache != nil {
		ix.cache.Invalidate(namespace)
	}

	ix.log.Info("Namespace refreshed",
		"namespace", namespace,
		"folder", folder,
		"indexed", stats.SourcesIndexed,
		"skipped", stats.SourcesSkipped,
		"removed", stats.SourcesRemoved,
		"chunks_upserted", stats.ChunksUpserted,
		"chunks_deleted", stats.ChunksDeleted,
	)
	return stats, nil
}

const embedBatch = 64

func (ix *indexer) indexSource(ctx context.Context, namespace, source, fingerprint string) (int, error) {
	rc, err := ix.store.Download(ctx, source)
	if err != nil {
		return 0, err
	}
	text, err := ix.extract.Extract(ctx, source, rc)
	_ = rc.Close()
	if err != nil {
		return 0, err
	}

	chunks := SplitIntoChunks(text, ix.chunkSize, ix.chunkOverlap)
	if len(chunks) == 0 {
		ix.log.Warn("Document produced no text", "source", source)
		return 0, nil
	}

	for start := 0; start < len(chunks); start += embedBatch {
		end := start + embedBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		vecs, err := ix.embedder.Embed(ctx, batch)
		if err != nil {
			ix.unwindPartialSource(ctx, namespace, source, fingerprint, end)
			return 0, fmt.Errorf("embed: %w", err)
		}
		if len(vecs) != len(batch) {
			ix.unwindPartialSource(ctx, namespace, source, fingerprint, end)
			return 0, fmt.Errorf("embed returned %d vectors for %d chunks", len(vecs), len(batch))
		}

		vectors := make([]pinecone.Vector, len(batch))
		for i := range batch {
			vectors[i] = pinecone.Vector{
				ID:     chunkID(namespace, source, fingerprint, start+i),
				Values: vecs[i],
				Metadata: map[string]any{
					"source": source,
					"text":   batch[i],
				},
			}
		}
		if err := ix.vectors.Upsert(ctx, namespace, vectors); err != nil {
			ix.unwindPartialSource(ctx, namespace, source, fingerprint, end)
			return 0, fmt.Errorf("upsert: %w", err)
		}
	}

	return len(chunks), nil
}

// unwindPartialSource removes the vectors a failed indexSource run may have
// written. No record row exists for the new fingerprint yet, so without this
// the orphans would be invisible to every later reconcile.
func (ix *indexer) unwindPartialSource(ctx context.Context, namespace, source, fingerprint string, attempted int) {
	if attempted <= 0 {
		return
	}
	ids := ChunkIDs(namespace, source, fingerprint, attempted)
	if err := ix.vectors.DeleteIDs(ctx, namespace, ids); err != nil {
		ix.log.Error("Failed to remove partially indexed chunks",
			"namespace", namespace, "source", source, "chunks", attempted, "error", err)
	}
}

func (ix *indexer) PurgeNamespace(ctx context.Context, namespace string) error {
	if err := ix.vectors.DeleteNamespace(ctx, namespace); err != nil {
		return fmt.Errorf("purge vectors for %q: %w", namespace, err)
	}
	if err := ix.records.DeleteNamespace(ctx, namespace); err != nil {
		return fmt.Errorf("purge records for %q: %w", namespace, err)
	}
	if ix.cache != nil {
		ix.cache.Invalidate(namespace)
	}
	return nil
}
