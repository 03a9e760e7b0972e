package testutil

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docuchat/docuchat-core/internal/domain"
	"github.com/docuchat/docuchat-core/internal/platform/gcs"
	"github.com/docuchat/docuchat-core/internal/platform/pinecone"
)

// ---------------- object store ----------------

type memObject struct {
	data        []byte
	contentType string
	created     time.Time
}

// MemObjectStore is an in-process gcs.ObjectStore with the same folder
// marker semantics as the real bucket.
type MemObjectStore struct {
	mu      sync.Mutex
	objects map[string]memObject
	clock   time.Time
}

func NewMemObjectStore() *MemObjectStore {
	return &MemObjectStore{
		objects: make(map[string]memObject),
		clock:   time.Unix(1700000000, 0),
	}
}

func (m *MemObjectStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *MemObjectStore) Put(ctx context.Context, path string, r io.Reader, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = memObject{data: data, contentType: contentType, created: m.tick()}
	return nil
}

func (m *MemObjectStore) PutFolder(ctx context.Context, folderPath string) error {
	if !strings.HasSuffix(folderPath, "/") {
		folderPath += "/"
	}
	return m.Put(ctx, folderPath, strings.NewReader(""), "")
}

func (m *MemObjectStore) Exists(ctx context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

func (m *MemObjectStore) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	obj, ok := m.objects[path]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("download %q: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemObjectStore) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !strings.HasSuffix(path, "/") {
		if _, ok := m.objects[path]; !ok {
			return fmt.Errorf("delete %q: %w", path, domain.ErrNotFound)
		}
		delete(m.objects, path)
		return nil
	}

	deleted := 0
	for p := range m.objects {
		if strings.HasPrefix(p, path) {
			delete(m.objects, p)
			deleted++
		}
	}
	if deleted == 0 {
		return fmt.Errorf("delete %q: %w", path, domain.ErrNotFound)
	}
	return nil
}

func (m *MemObjectStore) List(ctx context.Context, folderPath string, opts gcs.ListOptions) ([]gcs.Entry, error) {
	prefix := folderPath
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(prefix, opts), nil
}

func (m *MemObjectStore) list(prefix string, opts gcs.ListOptions) []gcs.Entry {
	var files []gcs.Entry
	folderSet := make(map[string]bool)

	for p, obj := range m.objects {
		if !strings.HasPrefix(p, prefix) || p == prefix {
			continue
		}
		rest := p[len(prefix):]
		if i := strings.Index(rest, "/"); i >= 0 {
			folderSet[prefix+rest[:i+1]] = true
			continue
		}
		files = append(files, gcs.Entry{
			Path:        p,
			Size:        int64(len(obj.data)),
			ContentType: obj.contentType,
			Created:     obj.created,
		})
	}

	folders := make([]string, 0, len(folderSet))
	for f := range folderSet {
		folders = append(folders, f)
	}
	sort.Strings(folders)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	var out []gcs.Entry
	if opts.Files {
		out = append(out, files...)
	}
	if opts.Folders {
		for _, f := range folders {
			out = append(out, gcs.Entry{Path: f, Folder: true})
		}
	}
	if opts.Recursive {
		for _, f := range folders {
			out = append(out, m.list(f, opts)...)
		}
	}
	return out
}

// Paths returns every object path, folder markers included.
func (m *MemObjectStore) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for p := range m.objects {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ---------------- vector store ----------------

type storedVector struct {
	values   []float32
	metadata map[string]any
}

// MemVectorStore is an in-process pinecone.VectorStore with brute-force
// cosine similarity search.
type MemVectorStore struct {
	mu         sync.Mutex
	namespaces map[string]map[string]storedVector

	UpsertErr error
	DeleteErr error
}

func NewMemVectorStore() *MemVectorStore {
	return &MemVectorStore{namespaces: make(map[string]map[string]storedVector)}
}

func (m *MemVectorStore) Identity() string { return "mem:test-index" }

func (m *MemVectorStore) Upsert(ctx context.Context, namespace string, vectors []pinecone.Vector) error {
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.namespaces[namespace] == nil {
		m.namespaces[namespace] = make(map[string]storedVector)
	}
	for _, v := range vectors {
		m.namespaces[namespace][v.ID] = storedVector{values: v.Values, metadata: v.Metadata}
	}
	return nil
}

func (m *MemVectorStore) QueryMatches(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]pinecone.VectorMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]pinecone.VectorMatch, 0, len(m.namespaces[namespace]))
	for id, v := range m.namespaces[namespace] {
		out = append(out, pinecone.VectorMatch{ID: id, Score: cosine(q, v.values), Metadata: v.metadata})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (m *MemVectorStore) DeleteIDs(ctx context.Context, namespace string, ids []string) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.namespaces[namespace], id)
	}
	return nil
}

func (m *MemVectorStore) DeleteNamespace(ctx context.Context, namespace string) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.namespaces, namespace)
	return nil
}

// Count reports how many vectors a namespace holds.
func (m *MemVectorStore) Count(namespace string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.namespaces[namespace])
}

// Sources reports the distinct source metadata values in a namespace.
func (m *MemVectorStore) Sources(namespace string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := make(map[string]bool)
	for _, v := range m.namespaces[namespace] {
		if s, ok := v.metadata["source"].(string); ok {
			set[s] = true
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// ---------------- embedder ----------------

// HashEmbedder produces deterministic vectors: identical text embeds to an
// identical vector, so similarity search behaves predictably in tests.
// FailOnCall makes the Nth Embed call fail; the gate channels let a test
// hold an Embed call open to exercise concurrent refreshes.
type HashEmbedder struct {
	mu    sync.Mutex
	Calls int

	FailOnCall int
	FailErr    error

	Started chan struct{}
	Release chan struct{}
}

func (e *HashEmbedder) EmbeddingIdentity() string { return "hash:test" }

func (e *HashEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	e.mu.Lock()
	e.Calls++
	call := e.Calls
	e.mu.Unlock()

	if e.Started != nil {
		select {
		case e.Started <- struct{}{}:
		default:
		}
	}
	if e.Release != nil {
		<-e.Release
	}

	if e.FailOnCall > 0 && call >= e.FailOnCall {
		if e.FailErr != nil {
			return nil, e.FailErr
		}
		return nil, errors.New("embedder unavailable")
	}

	out := make([][]float32, len(inputs))
	for i, s := range inputs {
		h := sha256.Sum256([]byte(s))
		vec := make([]float32, 8)
		for j := range vec {
			vec[j] = float32(h[j])/255 + 0.01
		}
		out[i] = vec
	}
	return out, nil
}

// ---------------- extractor ----------------

// TextExtractor treats every supported file as plain text.
type TextExtractor struct{}

func (TextExtractor) Supported(path string) bool {
	return strings.HasSuffix(path, ".pdf") || strings.HasSuffix(path, ".txt") || strings.HasSuffix(path, ".md")
}

func (TextExtractor) Extract(ctx context.Context, path string, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ---------------- LLM ----------------

// ScriptedLLM returns canned text and records the prompts it saw.
type ScriptedLLM struct {
	mu      sync.Mutex
	Answers []string
	next    int

	Systems []string
	Users   []string

	Err error
}

func (l *ScriptedLLM) take(system, user string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return "", l.Err
	}
	l.Systems = append(l.Systems, system)
	l.Users = append(l.Users, user)
	if l.next < len(l.Answers) {
		a := l.Answers[l.next]
		l.next++
		return a, nil
	}
	return "scripted answer", nil
}

func (l *ScriptedLLM) GenerateText(ctx context.Context, system, user string) (string, error) {
	return l.take(system, user)
}

func (l *ScriptedLLM) StreamText(ctx context.Context, system, user string, onDelta func(delta string)) (string, error) {
	full, err := l.take(system, user)
	if err != nil {
		return "", err
	}
	if onDelta != nil {
		// Emit word-sized deltas so streaming consumers see several events.
		for _, w := range strings.SplitAfter(full, " ") {
			if w != "" {
				onDelta(w)
			}
		}
	}
	return full, nil
}
