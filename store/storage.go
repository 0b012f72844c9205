package store

import (
	"context"
	"errors"
	"fmt"
	"log"

	"mercurial/types"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

var ErrNotFound = errors.New("not found")

// RetrievedChunk is the row shape the retrieval engine consumes: chunk
// content joined with the owning document's filename.
type RetrievedChunk struct {
	VectorID int64
	Content  string
	Locator  int
	Filename string
}

// ChunkVectorUpdate rewrites one chunk's index position after a rebuild.
type ChunkVectorUpdate struct {
	ChunkID   int64
	VectorID  int64
	Embedding []float32
}

type DBStorer interface {
	// SaveDocumentTx inserts the document and its chunks inside one
	// transaction and calls persist before committing. If persist fails the
	// transaction rolls back, so the store never records chunks pointing at
	// vectors that were not durably written.
	SaveDocumentTx(ctx context.Context, doc types.Document, chunks []types.Chunk, persist func() error) error
	ListDocuments(ctx context.Context) ([]types.Document, error)
	GetDocumentByID(ctx context.Context, docID uuid.UUID) (*types.Document, error)
	DeleteDocument(ctx context.Context, docID uuid.UUID) error

	// FetchChunksByVectorIDs returns rows in the order of the requested ids;
	// citation tag numbering depends on rank order, not storage order.
	FetchChunksByVectorIDs(ctx context.Context, vectorIDs []int64) ([]RetrievedChunk, error)
	AllChunksOrdered(ctx context.Context) ([]types.Chunk, error)
	UpdateChunkVectors(ctx context.Context, updates []ChunkVectorUpdate) error

	GetProfile(ctx context.Context) (types.UserProfile, error)
	SetProfile(ctx context.Context, memory string) error
	GetPrefs(ctx context.Context) (types.UserPrefs, error)
	SetPrefs(ctx context.Context, prefs types.UserPrefs) error
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Init(ctx context.Context) error {
	query := `
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS documents (
		id UUID PRIMARY KEY,
		filename TEXT NOT NULL,
		filepath TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id BIGSERIAL PRIMARY KEY,
		document_id UUID NOT NULL REFERENCES documents(id),
		locator INT NOT NULL,
		content TEXT NOT NULL,
		vector_id BIGINT NOT NULL,
		embedding vector(768)
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_vector_id ON chunks(vector_id);

	CREATE TABLE IF NOT EXISTS user_profile (
		id INT PRIMARY KEY CHECK (id = 1),
		memory TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS user_prefs (
		id INT PRIMARY KEY CHECK (id = 1),
		language TEXT NOT NULL DEFAULT 'zh',
		tone TEXT NOT NULL DEFAULT '专业但可爱',
		format_hint TEXT NOT NULL DEFAULT '先给结论，再分点说明，必要时给下一步',
		cite_style TEXT NOT NULL DEFAULT '在回答末尾输出引用标签，如：[1][2]'
	);

	INSERT INTO user_profile(id, memory) VALUES(1, '') ON CONFLICT (id) DO NOTHING;
	INSERT INTO user_prefs(id) VALUES(1) ON CONFLICT (id) DO NOTHING;
	`
	_, err := p.pool.Exec(ctx, query)
	return err
}

func (p *PostgresStore) SaveDocumentTx(ctx context.Context, doc types.Document, chunks []types.Chunk, persist func() error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO documents (id, filename, filepath, created_at) VALUES ($1, $2, $3, $4)`,
		doc.ID, doc.Filename, doc.Filepath, doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(
			`INSERT INTO chunks (document_id, locator, content, vector_id, embedding) VALUES ($1, $2, $3, $4, $5)`,
			c.DocumentID, c.Locator, c.Content, c.VectorID, pgvector.NewVector(c.Embedding),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}

	if persist != nil {
		if err := persist(); err != nil {
			return fmt.Errorf("persist index: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (p *PostgresStore) ListDocuments(ctx context.Context) ([]types.Document, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, filename, filepath, created_at FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []types.Document
	for rows.Next() {
		var d types.Document
		if err := rows.Scan(&d.ID, &d.Filename, &d.Filepath, &d.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (p *PostgresStore) GetDocumentByID(ctx context.Context, docID uuid.UUID) (*types.Document, error) {
	doc := &types.Document{}
	err := p.pool.QueryRow(ctx,
		`SELECT id, filename, filepath, created_at FROM documents WHERE id = $1`, docID,
	).Scan(&doc.ID, &doc.Filename, &doc.Filepath, &doc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (p *PostgresStore) DeleteDocument(ctx context.Context, docID uuid.UUID) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, docID); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, docID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) FetchChunksByVectorIDs(ctx context.Context, vectorIDs []int64) ([]RetrievedChunk, error) {
	if len(vectorIDs) == 0 {
		return nil, nil
	}

	rows, err := p.pool.Query(ctx, `
		SELECT c.vector_id, c.content, c.locator, d.filename
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.vector_id = ANY($1)
	`, vectorIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byVectorID := make(map[int64]RetrievedChunk, len(vectorIDs))
	for rows.Next() {
		var rc RetrievedChunk
		if err := rows.Scan(&rc.VectorID, &rc.Content, &rc.Locator, &rc.Filename); err != nil {
			return nil, err
		}
		byVectorID[rc.VectorID] = rc
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reorder into the requested id order.
	out := make([]RetrievedChunk, 0, len(vectorIDs))
	for _, vid := range vectorIDs {
		rc, ok := byVectorID[vid]
		if !ok {
			return nil, fmt.Errorf("chunk with vector_id %d not in store", vid)
		}
		out = append(out, rc)
	}
	return out, nil
}

func (p *PostgresStore) AllChunksOrdered(ctx context.Context) ([]types.Chunk, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, document_id, locator, content FROM chunks ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []types.Chunk
	for rows.Next() {
		var c types.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Locator, &c.Content); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (p *PostgresStore) UpdateChunkVectors(ctx context.Context, updates []ChunkVectorUpdate) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(
			`UPDATE chunks SET vector_id = $1, embedding = $2 WHERE id = $3`,
			u.VectorID, pgvector.NewVector(u.Embedding), u.ChunkID,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) GetProfile(ctx context.Context) (types.UserProfile, error) {
	var profile types.UserProfile
	err := p.pool.QueryRow(ctx, `SELECT memory FROM user_profile WHERE id = 1`).Scan(&profile.Memory)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.UserProfile{}, nil
	}
	return profile, err
}

func (p *PostgresStore) SetProfile(ctx context.Context, memory string) error {
	_, err := p.pool.Exec(ctx, `UPDATE user_profile SET memory = $1 WHERE id = 1`, memory)
	return err
}

func (p *PostgresStore) GetPrefs(ctx context.Context) (types.UserPrefs, error) {
	var prefs types.UserPrefs
	err := p.pool.QueryRow(ctx,
		`SELECT language, tone, format_hint, cite_style FROM user_prefs WHERE id = 1`,
	).Scan(&prefs.Language, &prefs.Tone, &prefs.FormatHint, &prefs.CiteStyle)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.UserPrefs{Language: "zh"}, nil
	}
	return prefs, err
}

func (p *PostgresStore) SetPrefs(ctx context.Context, prefs types.UserPrefs) error {
	if prefs.Language == "" {
		prefs.Language = "zh"
	}
	_, err := p.pool.Exec(ctx,
		`UPDATE user_prefs SET language = $1, tone = $2, format_hint = $3, cite_style = $4 WHERE id = 1`,
		prefs.Language, prefs.Tone, prefs.FormatHint, prefs.CiteStyle)
	return err
}

func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		log.Println("Postgres connection pool is closed")
	}
	return nil
}
