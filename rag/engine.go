package rag

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"mercurial/extract"
	"mercurial/index"
	"mercurial/model"
	"mercurial/store"
	"mercurial/types"

	"github.com/google/uuid"
)

type EngineConfig struct {
	MinScore         float64
	MaxCharsPerChunk int
	MaxContextChunks int
	ChunkSize        int
	ChunkOverlap     int
	IndexPath        string
}

// Engine orchestrates the vector index, the document store and the embedder.
// A single RWMutex serializes index access: Retrieve runs under the read
// lock, ingest/delete/rebuild under the write lock, so a rebuild can never
// race a search into reading rows mid-swap.
type Engine struct {
	mu       sync.RWMutex
	cfg      EngineConfig
	index    *index.FlatIP
	store    store.DBStorer
	embedder model.Embedder
}

func NewEngine(cfg EngineConfig, idx *index.FlatIP, s store.DBStorer, e model.Embedder) (*Engine, error) {
	if idx.Dim() != e.Dim() {
		return nil, fmt.Errorf("index dimension %d does not match embedder dimension %d", idx.Dim(), e.Dim())
	}
	if cfg.MaxContextChunks <= 0 {
		cfg.MaxContextChunks = 8
	}
	return &Engine{cfg: cfg, index: idx, store: s, embedder: e}, nil
}

// VectorCount reports the current number of indexed vectors.
func (eng *Engine) VectorCount() int {
	eng.mu.RLock()
	defer eng.mu.RUnlock()
	return eng.index.Count()
}

// Retrieve embeds the query, searches the index and splits the candidates
// into the used set (score passed the threshold, injected into the prompt)
// and the retrieved set (all top-k candidates, for display). With an empty
// index all three outputs are empty.
func (eng *Engine) Retrieve(ctx context.Context, query string, topK int) (usedLines []string, used, retrieved []types.Citation, err error) {
	if topK < 1 {
		topK = 1
	}
	if topK > eng.cfg.MaxContextChunks {
		topK = eng.cfg.MaxContextChunks
	}

	eng.mu.RLock()
	defer eng.mu.RUnlock()

	if eng.index.Count() == 0 {
		return nil, nil, nil, nil
	}

	vecs, err := eng.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("embed query: %w", err)
	}

	scores, ids, err := eng.index.Search(vecs[0], topK)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("index search: %w", err)
	}

	type pair struct {
		score float64
		id    int64
	}
	var pairs []pair
	for i, id := range ids {
		if id == -1 {
			continue
		}
		pairs = append(pairs, pair{score: float64(scores[i]), id: id})
	}
	// The index may not guarantee strict ordering under ties.
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].score > pairs[j].score })
	if len(pairs) == 0 {
		return nil, nil, nil, nil
	}

	// Retrieved set: every candidate, threshold notwithstanding.
	allIDs := make([]int64, len(pairs))
	for i, p := range pairs {
		allIDs[i] = p.id
	}
	allChunks, err := eng.store.FetchChunksByVectorIDs(ctx, allIDs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fetch candidates: %w", err)
	}
	for i, rc := range allChunks {
		retrieved = append(retrieved, types.Citation{
			Tag:      fmt.Sprintf("[cand%d]", i+1),
			Filename: rc.Filename,
			Locator:  rc.Locator,
			Snippet:  eng.snippet(rc.Content),
			Score:    round3(pairs[i].score),
		})
	}

	// Used set: only candidates above the relevance bar are injected.
	var filtered []pair
	for _, p := range pairs {
		if p.score >= eng.cfg.MinScore {
			filtered = append(filtered, p)
		}
	}
	if len(filtered) == 0 {
		return nil, nil, retrieved, nil
	}

	usedIDs := make([]int64, len(filtered))
	for i, p := range filtered {
		usedIDs[i] = p.id
	}
	usedChunks, err := eng.store.FetchChunksByVectorIDs(ctx, usedIDs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fetch used chunks: %w", err)
	}
	for i, rc := range usedChunks {
		tag := fmt.Sprintf("[%d]", i+1)
		snippet := eng.snippet(rc.Content)
		usedLines = append(usedLines, fmt.Sprintf("%s file: %s location: %d\ncontent: %s", tag, rc.Filename, rc.Locator, snippet))
		used = append(used, types.Citation{
			Tag:      tag,
			Filename: rc.Filename,
			Locator:  rc.Locator,
			Snippet:  snippet,
			Score:    round3(filtered[i].score),
		})
	}
	return usedLines, used, retrieved, nil
}

// IngestFile extracts, chunks, embeds and stores one uploaded file. The
// chunk rows and the index rows are written as a unit: the store transaction
// commits only after the index has been persisted, and the in-memory index
// is truncated back on any failure.
func (eng *Engine) IngestFile(ctx context.Context, filename, path string) (*types.Document, int, error) {
	parts, err := extract.Extract(path)
	if err != nil {
		return nil, 0, err
	}

	var contents []string
	var locators []int
	for _, part := range parts {
		chunks, err := ChunkText(part.Text, eng.cfg.ChunkSize, eng.cfg.ChunkOverlap)
		if err != nil {
			return nil, 0, err
		}
		for _, ch := range chunks {
			contents = append(contents, ch)
			locators = append(locators, part.Locator)
		}
	}

	doc := &types.Document{
		ID:        uuid.New(),
		Filename:  filename,
		Filepath:  path,
		CreatedAt: time.Now(),
	}

	if len(contents) == 0 {
		if err := eng.store.SaveDocumentTx(ctx, *doc, nil, nil); err != nil {
			return nil, 0, err
		}
		return doc, 0, nil
	}

	vecs, err := eng.embedder.Embed(ctx, contents)
	if err != nil {
		return nil, 0, fmt.Errorf("embed chunks: %w", err)
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()

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

	err = eng.store.SaveDocumentTx(ctx, *doc, chunks, func() error {
		if err := eng.index.Add(vecs); err != nil {
			return err
		}
		return eng.index.Save(eng.cfg.IndexPath)
	})
	if err != nil {
		// Undo the in-memory add; re-persist so disk matches the rollback.
		eng.index.Truncate(start)
		if serr := eng.index.Save(eng.cfg.IndexPath); serr != nil {
			log.Printf("[INGEST] failed to restore index file after rollback: %v", serr)
		}
		return nil, 0, err
	}

	log.Printf("[INGEST] %s: %d chunks, index count %d", filename, len(chunks), eng.index.Count())
	return doc, len(chunks), nil
}

// DeleteDocument removes the document and its chunks from the store, removes
// the uploaded file best-effort, and rebuilds the index since the flat index
// has no delete primitive. O(total remaining chunks); a latency spike on
// large corpora is expected and accepted.
func (eng *Engine) DeleteDocument(ctx context.Context, docID uuid.UUID) error {
	doc, err := eng.store.GetDocumentByID(ctx, docID)
	if err != nil {
		return err
	}

	if err := eng.store.DeleteDocument(ctx, docID); err != nil {
		return err
	}

	if doc.Filepath != "" {
		if err := os.Remove(doc.Filepath); err != nil && !os.IsNotExist(err) {
			log.Printf("[DELETE] could not remove %s: %v", doc.Filepath, err)
		}
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.rebuildLocked(ctx)
}

// Rebuild re-derives the whole index from the store: every remaining chunk
// in stable row order is re-embedded in one batch, the index is reset and
// refilled, and each chunk's vector_id is rewritten to its new position.
func (eng *Engine) Rebuild(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.rebuildLocked(ctx)
}

func (eng *Engine) rebuildLocked(ctx context.Context) error {
	chunks, err := eng.store.AllChunksOrdered(ctx)
	if err != nil {
		return fmt.Errorf("load chunks: %w", err)
	}

	if len(chunks) == 0 {
		eng.index.Reset()
		if err := eng.index.Save(eng.cfg.IndexPath); err != nil {
			return fmt.Errorf("save empty index: %w", err)
		}
		log.Printf("[REBUILD] index reset, no chunks remain")
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := eng.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("re-embed chunks: %w", err)
	}

	eng.index.Reset()
	if err := eng.index.Add(vecs); err != nil {
		return err
	}
	if err := eng.index.Save(eng.cfg.IndexPath); err != nil {
		return fmt.Errorf("save index: %w", err)
	}

	updates := make([]store.ChunkVectorUpdate, len(chunks))
	for i, c := range chunks {
		updates[i] = store.ChunkVectorUpdate{ChunkID: c.ID, VectorID: int64(i), Embedding: vecs[i]}
	}
	if err := eng.store.UpdateChunkVectors(ctx, updates); err != nil {
		return fmt.Errorf("rewrite vector ids: %w", err)
	}

	log.Printf("[REBUILD] index rebuilt with %d vectors", eng.index.Count())
	return nil
}

func (eng *Engine) snippet(content string) string {
	s := strings.TrimSpace(strings.ReplaceAll(content, "\n", " "))
	if r := []rune(s); len(r) > eng.cfg.MaxCharsPerChunk {
		s = string(r[:eng.cfg.MaxCharsPerChunk]) + "..."
	}
	return s
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
