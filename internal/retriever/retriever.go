package retriever

import (
	"context"
	"fmt"
	"strings"

	"github.com/docuchat/docuchat-core/internal/domain"
	"github.com/docuchat/docuchat-core/internal/platform/logger"
	"github.com/docuchat/docuchat-core/internal/platform/pinecone"
)

const DefaultTopK = 4

// Embedder is the slice of the OpenAI client retrieval needs.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	EmbeddingIdentity() string
}

// Retriever answers similarity queries over one namespace.
type Retriever interface {
	TopDocuments(ctx context.Context, query string, k int) ([]domain.RetrievedChunk, error)
}

type vectorRetriever struct {
	log       *logger.Logger
	embedder  Embedder
	vectors   pinecone.VectorStore
	namespace string
	topK      int
}

func New(log *logger.Logger, embedder Embedder, vectors pinecone.VectorStore, namespace string, topK int) (Retriever, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if embedder == nil || vectors == nil {
		return nil, fmt.Errorf("retriever dependencies missing")
	}
	if strings.TrimSpace(namespace) == "" {
		return nil, fmt.Errorf("namespace required")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &vectorRetriever{
		log:       log.With("service", "Retriever"),
		embedder:  embedder,
		vectors:   vectors,
		namespace: namespace,
		topK:      topK,
	}, nil
}

func (r *vectorRetriever) TopDocuments(ctx context.Context, query string, k int) ([]domain.RetrievedChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalidArgument)
	}
	if k <= 0 {
		k = r.topK
	}

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}

	matches, err := r.vectors.QueryMatches(ctx, r.namespace, vecs[0], k, nil)
	if err != nil {
		return nil, fmt.Errorf("query namespace %q: %w", r.namespace, err)
	}

	out := make([]domain.RetrievedChunk, 0, len(matches))
	for _, m := range matches {
		text, _ := m.Metadata["text"].(string)
		if strings.TrimSpace(text) == "" {
			// Vectors without text payload are unusable as context.
			continue
		}
		source, _ := m.Metadata["source"].(string)
		out = append(out, domain.RetrievedChunk{
			Source: source,
			Text:   text,
			Score:  m.Score,
		})
	}
	return out, nil
}
