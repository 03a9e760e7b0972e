package domain

// Chunk is the atomic unit of retrieval: one embedded span of text from one
// source document. Chunks are never mutated; a changed document replaces its
// whole chunk set during the next index refresh.
type Chunk struct {
	ID        string
	Namespace string
	Source    string
	Ordinal   int
	Text      string
}

// RetrievedChunk is a chunk returned from a similarity query, with the score
// reported by the vector index (higher is better).
type RetrievedChunk struct {
	Source string
	Text   string
	Score  float64
}
