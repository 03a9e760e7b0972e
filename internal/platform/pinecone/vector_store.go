package pinecone

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/docuchat/docuchat-core/internal/platform/logger"
)

// VectorStore is the upsert/query/delete surface the indexing and retrieval
// layers consume. Namespaces passed in are logical (one per user); the store
// qualifies them with a deployment prefix before they hit the wire.
type VectorStore interface {
	Upsert(ctx context.Context, namespace string, vectors []Vector) error
	// QueryMatches returns the topK nearest vectors with scores (higher is
	// better) and, when requested at upsert time, their metadata.
	QueryMatches(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]VectorMatch, error)
	DeleteIDs(ctx context.Context, namespace string, ids []string) error
	// DeleteNamespace removes every vector in the namespace. Missing
	// namespaces are not an error.
	DeleteNamespace(ctx context.Context, namespace string) error
	// Identity distinguishes two stores pointed at different indexes. It is
	// stable across process restarts and safe to embed in cache keys.
	Identity() string
}

type VectorMatch struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

type vectorStore struct {
	log       *logger.Logger
	pc        Client
	indexName string
	indexHost string
	nsPrefix  string
}

func NewVectorStore(log *logger.Logger, pc Client) (VectorStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if pc == nil {
		return nil, fmt.Errorf("pinecone client required")
	}

	indexName := strings.TrimSpace(os.Getenv("PINECONE_INDEX_NAME"))
	if indexName == "" {
		return nil, fmt.Errorf("missing PINECONE_INDEX_NAME")
	}

	host := strings.TrimSpace(os.Getenv("PINECONE_INDEX_HOST"))

	nsPrefix := strings.TrimSpace(os.Getenv("PINECONE_NAMESPACE_PREFIX"))
	if nsPrefix == "" {
		nsPrefix = "dc"
	}

	// If host missing, bootstrap via describe_index (fine for local/dev; avoid in prod).
	if host == "" {
		desc, err := pc.DescribeIndex(context.Background(), indexName)
		if err != nil {
			return nil, fmt.Errorf("pinecone describe_index failed: %w", err)
		}
		host = strings.TrimSpace(desc.Host)
		if host == "" {
			return nil, fmt.Errorf("pinecone describe_index returned empty host")
		}
		log.Warn("PINECONE_INDEX_HOST not set; resolved via describe_index (avoid this in production)",
			"index_name", indexName,
			"index_host", host,
		)
	}

	return &vectorStore{
		log:       log.With("service", "PineconeVectorStore"),
		pc:        pc,
		indexName: indexName,
		indexHost: host,
		nsPrefix:  nsPrefix,
	}, nil
}

func (s *vectorStore) Identity() string {
	return "pinecone:" + s.indexName + ":" + s.nsPrefix
}

func (s *vectorStore) Upsert(ctx context.Context, namespace string, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	ns := s.qualifyNamespace(namespace)
	// The data plane caps upsert batches; stay under it.
	const batch = 100
	for start := 0; start < len(vectors); start += batch {
		end := start + batch
		if end > len(vectors) {
			end = len(vectors)
		}
		if _, err := s.pc.UpsertVectors(ctx, s.indexHost, UpsertRequest{
			Namespace: ns,
			Vectors:   vectors[start:end],
		}); err != nil {
			return fmt.Errorf("upsert batch [%d:%d): %w", start, end, err)
		}
	}
	return nil
}

func (s *vectorStore) QueryMatches(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]VectorMatch, error) {
	ns := s.qualifyNamespace(namespace)
	resp, err := s.pc.Query(ctx, s.indexHost, QueryRequest{
		Namespace:       ns,
		Vector:          q,
		TopK:            topK,
		Filter:          filter,
		IncludeValues:   false,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, err
	}
	out := make([]VectorMatch, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if strings.TrimSpace(m.ID) == "" {
			continue
		}
		out = append(out, VectorMatch{ID: m.ID, Score: m.Score, Metadata: m.Metadata})
	}
	return out, nil
}

func (s *vectorStore) DeleteIDs(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ns := s.qualifyNamespace(namespace)
	const batch = 1000
	for start := 0; start < len(ids); start += batch {
		end := start + batch
		if end > len(ids) {
			end = len(ids)
		}
		if err := s.pc.DeleteVectors(ctx, s.indexHost, DeleteRequest{
			Namespace: ns,
			IDs:       ids[start:end],
		}); err != nil {
			return fmt.Errorf("delete batch [%d:%d): %w", start, end, err)
		}
	}
	return nil
}

func (s *vectorStore) DeleteNamespace(ctx context.Context, namespace string) error {
	ns := s.qualifyNamespace(namespace)
	err := s.pc.DeleteVectors(ctx, s.indexHost, DeleteRequest{
		Namespace: ns,
		DeleteAll: true,
	})
	// Pinecone answers 404 for a namespace that never held vectors.
	if err != nil && strings.Contains(err.Error(), "http 404") {
		return nil
	}
	return err
}

func (s *vectorStore) qualifyNamespace(ns string) string {
	ns = strings.TrimSpace(ns)
	if ns == "" {
		return s.nsPrefix
	}
	return s.nsPrefix + ":" + ns
}
