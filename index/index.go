// Package index implements a flat inner-product vector index. Vectors are
// identified by insertion order, so the positional id of a row doubles as the
// chunk's vector_id. The index has no delete operation; callers rebuild it
// wholesale when rows must go away.
package index

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// FlatIP holds all vectors in memory and searches them by brute-force dot
// product. Embeddings are expected to be L2-normalized, which makes inner
// product equivalent to cosine similarity. The index itself is not
// goroutine-safe; the retrieval engine serializes access.
type FlatIP struct {
	dim     int
	vectors [][]float32
}

func NewFlatIP(dim int) (*FlatIP, error) {
	if dim <= 0 {
		return nil, errors.New("index: dimension must be positive")
	}
	return &FlatIP{dim: dim}, nil
}

func (idx *FlatIP) Dim() int   { return idx.dim }
func (idx *FlatIP) Count() int { return len(idx.vectors) }

func (idx *FlatIP) Add(vectors [][]float32) error {
	for _, v := range vectors {
		if len(v) != idx.dim {
			return fmt.Errorf("index: vector dimension %d, want %d", len(v), idx.dim)
		}
	}
	idx.vectors = append(idx.vectors, vectors...)
	return nil
}

// Search returns the top-k rows by inner product, scores descending. Both
// slices always have length k; absent slots carry id -1 and score 0.
func (idx *FlatIP) Search(query []float32, k int) ([]float32, []int64, error) {
	if len(query) != idx.dim {
		return nil, nil, fmt.Errorf("index: query dimension %d, want %d", len(query), idx.dim)
	}
	if k <= 0 {
		return nil, nil, errors.New("index: k must be positive")
	}

	type hit struct {
		id    int64
		score float32
	}
	hits := make([]hit, len(idx.vectors))
	for i, v := range idx.vectors {
		var dot float32
		for j := range v {
			dot += v[j] * query[j]
		}
		hits[i] = hit{id: int64(i), score: dot}
	}
	sort.Slice(hits, func(a, b int) bool { return hits[a].score > hits[b].score })

	scores := make([]float32, k)
	ids := make([]int64, k)
	for i := range ids {
		ids[i] = -1
	}
	for i := 0; i < k && i < len(hits); i++ {
		scores[i] = hits[i].score
		ids[i] = hits[i].id
	}
	return scores, ids, nil
}

func (idx *FlatIP) Reset() {
	idx.vectors = nil
}

// Truncate drops every row at position n and above. Used to roll the index
// back when persisting an upload fails partway.
func (idx *FlatIP) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n < len(idx.vectors) {
		idx.vectors = idx.vectors[:n]
	}
}

type indexFile struct {
	Dim     int
	Vectors [][]float32
}

// Save writes the index atomically: gob to a temp file, then rename.
func (idx *FlatIP) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("index: create dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("index: create %s: %w", tmp, err)
	}
	if err := gob.NewEncoder(f).Encode(indexFile{Dim: idx.dim, Vectors: idx.vectors}); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("index: encode: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("index: close: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadOrCreate reads an index file if one exists, otherwise creates an empty
// index and persists it, mirroring first-run behavior.
func LoadOrCreate(path string, dim int) (*FlatIP, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		idx, err := NewFlatIP(dim)
		if err != nil {
			return nil, err
		}
		if err := idx.Save(path); err != nil {
			return nil, err
		}
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %w", path, err)
	}
	defer f.Close()

	var file indexFile
	if err := gob.NewDecoder(f).Decode(&file); err != nil {
		return nil, fmt.Errorf("index: decode %s: %w", path, err)
	}
	if file.Dim != dim {
		return nil, fmt.Errorf("index: stored dimension %d, want %d", file.Dim, dim)
	}
	return &FlatIP{dim: file.Dim, vectors: file.Vectors}, nil
}
