// Package index provides top-k nearest-neighbor search over item embeddings.
// The in-memory index serves single-process catalogs; the Postgres index
// persists the catalog in pgvector for duplicate detection across processes.
package index

import (
	"context"
	"sort"
	"sync"

	"github.com/doujins-org/compkit/embedder"
)

// Entry is one nearest-neighbor hit.
type Entry struct {
	ID    string
	Score float32
}

// Index supports insertion and top-k cosine-similarity queries over unit
// vectors produced by the embedder service.
type Index interface {
	Insert(ctx context.Context, id string, vec []float32) error
	Search(ctx context.Context, vec []float32, k int) ([]Entry, error)
}

// Memory is a brute-force in-memory index. Reads share an RWMutex read lock;
// inserts take the write lock only long enough to swap the slice.
type Memory struct {
	mu   sync.RWMutex
	ids  []string
	vecs [][]float32
	byID map[string]int
}

func NewMemory() *Memory {
	return &Memory{byID: map[string]int{}}
}

// Insert adds or replaces the vector stored under id.
func (m *Memory) Insert(_ context.Context, id string, vec []float32) error {
	cp := make([]float32, len(vec))
	copy(cp, vec)

	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.byID[id]; ok {
		m.vecs[i] = cp
		return nil
	}
	m.byID[id] = len(m.ids)
	m.ids = append(m.ids, id)
	m.vecs = append(m.vecs, cp)
	return nil
}

// Size returns the number of stored vectors.
func (m *Memory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Search scores vec against every stored vector and returns the top k,
// highest similarity first, ties broken by ID.
func (m *Memory) Search(_ context.Context, vec []float32, k int) ([]Entry, error) {
	if len(vec) == 0 || k <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	ids := m.ids
	vecs := m.vecs
	m.mu.RUnlock()

	out := make([]Entry, 0, len(ids))
	for i, id := range ids {
		out = append(out, Entry{ID: id, Score: embedder.Dot(vec, vecs[i])})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}
