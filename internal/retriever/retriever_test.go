package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/docuchat/docuchat-core/internal/domain"
	"github.com/docuchat/docuchat-core/internal/platform/logger"
	"github.com/docuchat/docuchat-core/internal/platform/pinecone"
	"github.com/docuchat/docuchat-core/internal/testutil"
)

func seed(t *testing.T, vs *testutil.MemVectorStore, emb *testutil.HashEmbedder, namespace string, texts map[string]string) {
	t.Helper()
	ctx := context.Background()
	for source, text := range texts {
		vecs, err := emb.Embed(ctx, []string{text})
		if err != nil {
			t.Fatalf("embed: %v", err)
		}
		err = vs.Upsert(ctx, namespace, []pinecone.Vector{{
			ID:     source,
			Values: vecs[0],
			Metadata: map[string]any{
				"source": source,
				"text":   text,
			},
		}})
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
}

func TestTopDocumentsRanksExactMatchFirst(t *testing.T) {
	vs := testutil.NewMemVectorStore()
	emb := &testutil.HashEmbedder{}
	seed(t, vs, emb, "u1", map[string]string{
		"u1/a.pdf": "quarterly revenue report",
		"u1/b.pdf": "employee onboarding guide",
	})

	r, err := New(logger.NewNop(), emb, vs, "u1", 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := r.TopDocuments(context.Background(), "quarterly revenue report", 2)
	if err != nil {
		t.Fatalf("TopDocuments: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("result count: want=2 got=%d", len(got))
	}
	if got[0].Source != "u1/a.pdf" {
		t.Fatalf("top result: want=u1/a.pdf got=%q", got[0].Source)
	}
	if got[0].Score < got[1].Score {
		t.Fatalf("results not sorted by score: %v", got)
	}
	if got[0].Text == "" {
		t.Fatalf("missing chunk text")
	}
}

func TestTopDocumentsEmptyQuery(t *testing.T) {
	vs := testutil.NewMemVectorStore()
	emb := &testutil.HashEmbedder{}

	r, err := New(logger.NewNop(), emb, vs, "u1", 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := r.TopDocuments(context.Background(), "  ", 4); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("want ErrInvalidArgument, got=%v", err)
	}
}

func TestTopDocumentsEmptyNamespace(t *testing.T) {
	vs := testutil.NewMemVectorStore()
	emb := &testutil.HashEmbedder{}

	r, err := New(logger.NewNop(), emb, vs, "u-empty", 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := r.TopDocuments(context.Background(), "anything", 4)
	if err != nil {
		t.Fatalf("TopDocuments: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("want no results, got=%v", got)
	}
}

func TestCacheMemoizesPerNamespace(t *testing.T) {
	vs := testutil.NewMemVectorStore()
	emb := &testutil.HashEmbedder{}
	c := NewCache(logger.NewNop(), emb, vs, 4)

	r1, err := c.Get("u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	r2, err := c.Get("u1")
	if err != nil {
		t.Fatalf("Get again: %v", err)
	}
	if r1 != r2 {
		t.Fatalf("expected memoized retriever")
	}

	other, err := c.Get("u2")
	if err != nil {
		t.Fatalf("Get u2: %v", err)
	}
	if other == r1 {
		t.Fatalf("namespaces share a retriever")
	}
}

func TestCacheInvalidateRebuilds(t *testing.T) {
	vs := testutil.NewMemVectorStore()
	emb := &testutil.HashEmbedder{}
	c := NewCache(logger.NewNop(), emb, vs, 4)

	r1, _ := c.Get("u1")
	c.Invalidate("u1")
	r2, err := c.Get("u1")
	if err != nil {
		t.Fatalf("Get after invalidate: %v", err)
	}
	if r1 == r2 {
		t.Fatalf("invalidate did not drop the cached retriever")
	}

	// Other namespaces are untouched.
	u2a, _ := c.Get("u2")
	c.Invalidate("u1")
	u2b, _ := c.Get("u2")
	if u2a != u2b {
		t.Fatalf("invalidate leaked across namespaces")
	}
}
