package rag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"mercurial/index"
	"mercurial/store"
	"mercurial/types"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder returns canned vectors per text; unknown texts embed to the
// zero vector so they never match anything.
type fakeEmbedder struct {
	dim  int
	vecs map[string][]float32
}

func (f *fakeEmbedder) Dim() int { return f.dim }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.vecs[t]; ok {
			out[i] = v
		} else {
			out[i] = make([]float32, f.dim)
		}
	}
	return out, nil
}

// fakeStore is an in-memory DBStorer with transaction-like semantics for
// SaveDocumentTx: nothing is recorded when the persist hook fails.
type fakeStore struct {
	docs        map[uuid.UUID]types.Document
	chunks      []types.Chunk
	nextChunkID int64
	profile     types.UserProfile
	prefs       types.UserPrefs
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:        make(map[uuid.UUID]types.Document),
		nextChunkID: 1,
		prefs: types.UserPrefs{
			Language:   "zh",
			Tone:       "专业但可爱",
			FormatHint: "先给结论，再分点说明",
			CiteStyle:  "在回答末尾输出引用标签",
		},
	}
}

func (f *fakeStore) SaveDocumentTx(_ context.Context, doc types.Document, chunks []types.Chunk, persist func() error) error {
	if persist != nil {
		if err := persist(); err != nil {
			return err
		}
	}
	f.docs[doc.ID] = doc
	for _, c := range chunks {
		c.ID = f.nextChunkID
		f.nextChunkID++
		f.chunks = append(f.chunks, c)
	}
	return nil
}

func (f *fakeStore) ListDocuments(context.Context) ([]types.Document, error) {
	var out []types.Document
	for _, d := range f.docs {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeStore) GetDocumentByID(_ context.Context, docID uuid.UUID) (*types.Document, error) {
	d, ok := f.docs[docID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (f *fakeStore) DeleteDocument(_ context.Context, docID uuid.UUID) error {
	if _, ok := f.docs[docID]; !ok {
		return store.ErrNotFound
	}
	delete(f.docs, docID)
	var kept []types.Chunk
	for _, c := range f.chunks {
		if c.DocumentID != docID {
			kept = append(kept, c)
		}
	}
	f.chunks = kept
	return nil
}

func (f *fakeStore) FetchChunksByVectorIDs(_ context.Context, vectorIDs []int64) ([]store.RetrievedChunk, error) {
	byVID := make(map[int64]store.RetrievedChunk)
	for _, c := range f.chunks {
		byVID[c.VectorID] = store.RetrievedChunk{
			VectorID: c.VectorID,
			Content:  c.Content,
			Locator:  c.Locator,
			Filename: f.docs[c.DocumentID].Filename,
		}
	}
	out := make([]store.RetrievedChunk, 0, len(vectorIDs))
	for _, vid := range vectorIDs {
		rc, ok := byVID[vid]
		if !ok {
			return nil, fmt.Errorf("chunk with vector_id %d not in store", vid)
		}
		out = append(out, rc)
	}
	return out, nil
}

func (f *fakeStore) AllChunksOrdered(context.Context) ([]types.Chunk, error) {
	out := make([]types.Chunk, len(f.chunks))
	copy(out, f.chunks)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) UpdateChunkVectors(_ context.Context, updates []store.ChunkVectorUpdate) error {
	for _, u := range updates {
		for i := range f.chunks {
			if f.chunks[i].ID == u.ChunkID {
				f.chunks[i].VectorID = u.VectorID
				f.chunks[i].Embedding = u.Embedding
			}
		}
	}
	return nil
}

func (f *fakeStore) GetProfile(context.Context) (types.UserProfile, error) { return f.profile, nil }
func (f *fakeStore) SetProfile(_ context.Context, memory string) error {
	f.profile.Memory = memory
	return nil
}
func (f *fakeStore) GetPrefs(context.Context) (types.UserPrefs, error) { return f.prefs, nil }
func (f *fakeStore) SetPrefs(_ context.Context, prefs types.UserPrefs) error {
	f.prefs = prefs
	return nil
}

func newTestEngine(t *testing.T, emb *fakeEmbedder, fs *fakeStore) *Engine {
	t.Helper()
	idx, err := index.NewFlatIP(emb.dim)
	require.NoError(t, err)
	eng, err := NewEngine(EngineConfig{
		MinScore:         0.18,
		MaxCharsPerChunk: 700,
		MaxContextChunks: 8,
		ChunkSize:        900,
		ChunkOverlap:     150,
		IndexPath:        filepath.Join(t.TempDir(), "vec.index"),
	}, idx, fs, emb)
	require.NoError(t, err)
	return eng
}

// seedDocument puts chunks straight into the store and index, bypassing file
// extraction.
func seedDocument(t *testing.T, eng *Engine, fs *fakeStore, filename string, contents []string, locators []int, emb *fakeEmbedder) uuid.UUID {
	t.Helper()
	doc := types.Document{ID: uuid.New(), Filename: filename, CreatedAt: time.Now()}

	vecs, err := emb.Embed(context.Background(), contents)
	require.NoError(t, err)

	start := eng.index.Count()
	chunks := make([]types.Chunk, len(contents))
	for i := range contents {
		chunks[i] = types.Chunk{
			DocumentID: doc.ID,
			Locator:    locators[i],
			Content:    contents[i],
			VectorID:   int64(start + i),
			Embedding:  vecs[i],
		}
	}
	require.NoError(t, fs.SaveDocumentTx(context.Background(), doc, chunks, nil))
	require.NoError(t, eng.index.Add(vecs))
	return doc.ID
}

func TestRetrieveEmptyIndex(t *testing.T) {
	emb := &fakeEmbedder{dim: 3, vecs: map[string][]float32{}}
	eng := newTestEngine(t, emb, newFakeStore())

	lines, used, retrieved, err := eng.Retrieve(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.Empty(t, used)
	assert.Empty(t, retrieved)
}

func TestRetrieveThresholdSplit(t *testing.T) {
	// Two-page document: two chunks on page 1, one on page 2. The query
	// scores 0.5 against the first page-1 chunk and 0.1 against the page-2
	// chunk, so only the former passes min_score 0.18.
	emb := &fakeEmbedder{dim: 3, vecs: map[string][]float32{
		"page one a": {1, 0, 0},
		"page one b": {0, 0, 1},
		"page two":   {0, 1, 0},
		"the query":  {0.5, 0.1, 0},
	}}
	fs := newFakeStore()
	eng := newTestEngine(t, emb, fs)

	seedDocument(t, eng, fs, "doc.pdf",
		[]string{"page one a", "page one b", "page two"},
		[]int{1, 1, 2}, emb)
	require.Equal(t, 3, eng.VectorCount())

	lines, used, retrieved, err := eng.Retrieve(context.Background(), "the query", 2)
	require.NoError(t, err)

	require.Len(t, retrieved, 2)
	assert.Equal(t, "[cand1]", retrieved[0].Tag)
	assert.Equal(t, "[cand2]", retrieved[1].Tag)
	assert.Equal(t, 0.5, retrieved[0].Score)
	assert.Equal(t, 0.1, retrieved[1].Score)

	require.Len(t, used, 1)
	assert.Equal(t, "[1]", used[0].Tag)
	assert.Equal(t, 1, used[0].Locator)
	assert.Equal(t, "doc.pdf", used[0].Filename)
	assert.Equal(t, 0.5, used[0].Score)

	require.Len(t, lines, 1)
	assert.Equal(t, "[1] file: doc.pdf location: 1\ncontent: page one a", lines[0])
}

func TestRetrieveUsedIsPrefixOfRetrieved(t *testing.T) {
	emb := &fakeEmbedder{dim: 2, vecs: map[string][]float32{
		"a": {1, 0},
		"b": {0.6, 0},
		"c": {0.05, 0},
		"q": {1, 0},
	}}
	fs := newFakeStore()
	eng := newTestEngine(t, emb, fs)
	seedDocument(t, eng, fs, "f.txt", []string{"a", "b", "c"}, []int{1, 2, 3}, emb)

	_, used, retrieved, err := eng.Retrieve(context.Background(), "q", 3)
	require.NoError(t, err)
	require.Len(t, retrieved, 3)
	require.Len(t, used, 2)

	// Same rank order: used citations mirror the retrieved head.
	for i := range used {
		assert.Equal(t, retrieved[i].Filename, used[i].Filename)
		assert.Equal(t, retrieved[i].Locator, used[i].Locator)
		assert.Equal(t, retrieved[i].Score, used[i].Score)
		assert.GreaterOrEqual(t, used[i].Score, 0.18)
	}
	// Tags are contiguous and 1-indexed.
	assert.Equal(t, "[1]", used[0].Tag)
	assert.Equal(t, "[2]", used[1].Tag)
}

func TestRetrieveNothingPassesThreshold(t *testing.T) {
	emb := &fakeEmbedder{dim: 2, vecs: map[string][]float32{
		"weak": {0.1, 0},
		"q":    {1, 0},
	}}
	fs := newFakeStore()
	eng := newTestEngine(t, emb, fs)
	seedDocument(t, eng, fs, "f.txt", []string{"weak"}, []int{1}, emb)

	lines, used, retrieved, err := eng.Retrieve(context.Background(), "q", 4)
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.Empty(t, used)
	require.Len(t, retrieved, 1)
	assert.Equal(t, "[cand1]", retrieved[0].Tag)
}

func TestRetrieveClampsTopK(t *testing.T) {
	vecs := map[string][]float32{"q": {1, 0}}
	var contents []string
	var locators []int
	for i := 0; i < 12; i++ {
		c := fmt.Sprintf("chunk %d", i)
		vecs[c] = []float32{1, 0}
		contents = append(contents, c)
		locators = append(locators, i+1)
	}
	emb := &fakeEmbedder{dim: 2, vecs: vecs}
	fs := newFakeStore()
	eng := newTestEngine(t, emb, fs)
	seedDocument(t, eng, fs, "f.txt", contents, locators, emb)

	_, _, retrieved, err := eng.Retrieve(context.Background(), "q", 50)
	require.NoError(t, err)
	assert.Len(t, retrieved, 8) // MaxContextChunks

	_, _, retrieved, err = eng.Retrieve(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Len(t, retrieved, 1) // clamped up to 1
}

func TestSnippetTruncation(t *testing.T) {
	long := ""
	for i := 0; i < 800; i++ {
		long += "x"
	}
	emb := &fakeEmbedder{dim: 2, vecs: map[string][]float32{
		long: {1, 0},
		"q":  {1, 0},
	}}
	fs := newFakeStore()
	eng := newTestEngine(t, emb, fs)
	seedDocument(t, eng, fs, "f.txt", []string{long}, []int{1}, emb)

	_, used, _, err := eng.Retrieve(context.Background(), "q", 1)
	require.NoError(t, err)
	require.Len(t, used, 1)
	assert.Len(t, used[0].Snippet, 703) // 700 chars + "..."
}

func TestIngestFileTxt(t *testing.T) {
	content := "first paragraph\n\nsecond paragraph\n"
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	emb := &fakeEmbedder{dim: 2, vecs: map[string][]float32{}}
	fs := newFakeStore()
	eng := newTestEngine(t, emb, fs)

	doc, n, err := eng.IngestFile(context.Background(), "notes.txt", path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, eng.VectorCount())
	assert.Contains(t, fs.docs, doc.ID)
	require.Len(t, fs.chunks, 1)
	assert.Equal(t, int64(0), fs.chunks[0].VectorID)
	assert.Equal(t, 1, fs.chunks[0].Locator)
}

func TestIngestRollsBackWhenPersistFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("some text"), 0644))

	emb := &fakeEmbedder{dim: 2, vecs: map[string][]float32{}}
	fs := newFakeStore()

	idx, err := index.NewFlatIP(2)
	require.NoError(t, err)

	// Index path nested under a regular file: Save must fail.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	eng, err := NewEngine(EngineConfig{
		MinScore:         0.18,
		MaxCharsPerChunk: 700,
		MaxContextChunks: 8,
		ChunkSize:        900,
		ChunkOverlap:     150,
		IndexPath:        filepath.Join(blocker, "sub", "vec.index"),
	}, idx, fs, emb)
	require.NoError(t, err)

	_, _, err = eng.IngestFile(context.Background(), "notes.txt", path)
	require.Error(t, err)

	// Neither the store nor the in-memory index recorded anything.
	assert.Empty(t, fs.docs)
	assert.Empty(t, fs.chunks)
	assert.Equal(t, 0, eng.VectorCount())
}

func TestRebuildReassignsVectorIDs(t *testing.T) {
	emb := &fakeEmbedder{dim: 2, vecs: map[string][]float32{
		"a": {1, 0}, "b": {0, 1}, "c": {0.7, 0.7},
	}}
	fs := newFakeStore()
	eng := newTestEngine(t, emb, fs)

	docA := seedDocument(t, eng, fs, "a.txt", []string{"a"}, []int{1}, emb)
	seedDocument(t, eng, fs, "b.txt", []string{"b", "c"}, []int{1, 2}, emb)
	require.Equal(t, 3, eng.VectorCount())

	require.NoError(t, eng.DeleteDocument(context.Background(), docA))
	assert.Equal(t, 2, eng.VectorCount())

	chunks, err := fs.AllChunksOrdered(context.Background())
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for i, c := range chunks {
		assert.Equal(t, int64(i), c.VectorID, "vector_id must equal rank in ascending id order")
	}

	// Rebuilding again with no intervening writes changes nothing.
	require.NoError(t, eng.Rebuild(context.Background()))
	assert.Equal(t, 2, eng.VectorCount())
	again, err := fs.AllChunksOrdered(context.Background())
	require.NoError(t, err)
	assert.Equal(t, chunks, again)
}

func TestDeleteOnlyDocumentEmptiesIndex(t *testing.T) {
	emb := &fakeEmbedder{dim: 2, vecs: map[string][]float32{
		"only": {1, 0},
		"q":    {1, 0},
	}}
	fs := newFakeStore()
	eng := newTestEngine(t, emb, fs)
	docID := seedDocument(t, eng, fs, "only.txt", []string{"only"}, []int{1}, emb)

	require.NoError(t, eng.DeleteDocument(context.Background(), docID))
	assert.Equal(t, 0, eng.VectorCount())

	lines, used, retrieved, err := eng.Retrieve(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.Empty(t, used)
	assert.Empty(t, retrieved)
}

func TestDeleteUnknownDocument(t *testing.T) {
	emb := &fakeEmbedder{dim: 2, vecs: map[string][]float32{}}
	eng := newTestEngine(t, emb, newFakeStore())

	err := eng.DeleteDocument(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}
