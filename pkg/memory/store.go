// Package memory implements the orchestrator.Memory contract (spec §4.4) on
// top of a Postgres/pgvector chunk index: PreLoad embeds the current user
// turn and retrieves the most similar prior chunks; ExtractAndSave embeds
// and stores the turn's own content so later turns can retrieve it.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/lokutor-ai/voice-orchestrator/pkg/orchestrator"
)

const ddlChunks = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_chunks (
    id          TEXT         PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    role        TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memory_chunks_session_id
    ON memory_chunks (session_id);

CREATE INDEX IF NOT EXISTS idx_memory_chunks_embedding
    ON memory_chunks USING hnsw (embedding vector_cosine_ops);
`

// Chunk is one embedded, retrievable unit of conversation history.
type Chunk struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	Embedding []float32
	CreatedAt time.Time
}

// ChunkResult pairs a retrieved chunk with its cosine distance from the
// query embedding; lower is more similar.
type ChunkResult struct {
	Chunk    Chunk
	Distance float64
}

// Store is a pgvector-backed implementation of orchestrator.Memory. One
// Store serves a single conversation session; callers construct one per
// ManagedStream (or share one keyed by session ID — Store itself is
// stateless beyond the pool and is safe for concurrent use).
type Store struct {
	pool      *pgxpool.Pool
	embedder  Embedder
	sessionID string
	topK      int
}

// NewStore opens a pgx pool against dsn and returns a Store bound to
// sessionID. Callers should call Migrate once per database (not per Store).
func NewStore(ctx context.Context, dsn, sessionID string, embedder Embedder, topK int) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("memory: connect: %w", err)
	}
	if topK <= 0 {
		topK = 4
	}
	return &Store{pool: pool, embedder: embedder, sessionID: sessionID, topK: topK}, nil
}

// Migrate creates the memory_chunks table and its pgvector index if they do
// not already exist. embeddingDimensions must match the embedder in use
// (1536 for OpenAI text-embedding-3-small).
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, fmt.Sprintf(ddlChunks, embeddingDimensions)); err != nil {
		return fmt.Errorf("memory: migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() { s.pool.Close() }

// PreLoad implements orchestrator.Memory. It embeds query and returns the
// topK most similar prior chunks for this session, formatted as a single
// block of text suitable for the retrieved-context system prompt block.
func (s *Store) PreLoad(ctx context.Context, query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", nil
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("memory: embed query: %w", err)
	}

	results, err := s.search(ctx, vec, s.topK)
	if err != nil {
		return "", err
	}
	return formatRetrieved(results), nil
}

// ExtractAndSave implements orchestrator.Memory. It embeds and stores every
// non-empty user and assistant message in messages as a new chunk with a
// fresh ID; it does not check whether a message was stored by an earlier
// call. The Turn Processor passes the full message log after each turn, so
// earlier messages are stored again on every call.
func (s *Store) ExtractAndSave(ctx context.Context, messages []orchestrator.Message) error {
	for _, m := range messages {
		if m.Role != orchestrator.RoleUser && m.Role != orchestrator.RoleAssistant {
			continue
		}
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		vec, err := s.embedder.Embed(ctx, content)
		if err != nil {
			return fmt.Errorf("memory: embed turn content: %w", err)
		}
		chunk := Chunk{
			ID:        uuid.NewString(),
			SessionID: s.sessionID,
			Role:      m.Role,
			Content:   content,
			Embedding: vec,
			CreatedAt: time.Now(),
		}
		if err := s.index(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) index(ctx context.Context, chunk Chunk) error {
	const q = `
		INSERT INTO memory_chunks (id, session_id, role, content, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
		    content   = EXCLUDED.content,
		    embedding = EXCLUDED.embedding`

	_, err := s.pool.Exec(ctx, q,
		chunk.ID, chunk.SessionID, chunk.Role, chunk.Content,
		pgvector.NewVector(chunk.Embedding), chunk.CreatedAt)
	if err != nil {
		return fmt.Errorf("memory: index chunk: %w", err)
	}
	return nil
}

func (s *Store) search(ctx context.Context, embedding []float32, topK int) ([]ChunkResult, error) {
	const q = `
		SELECT id, session_id, role, content, embedding, created_at,
		       embedding <=> $1 AS distance
		FROM   memory_chunks
		WHERE  session_id = $2
		ORDER  BY distance
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), s.sessionID, topK)
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ChunkResult, error) {
		var (
			cr  ChunkResult
			vec pgvector.Vector
		)
		if err := row.Scan(&cr.Chunk.ID, &cr.Chunk.SessionID, &cr.Chunk.Role,
			&cr.Chunk.Content, &vec, &cr.Chunk.CreatedAt, &cr.Distance); err != nil {
			return ChunkResult{}, err
		}
		cr.Chunk.Embedding = vec.Slice()
		return cr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory: scan rows: %w", err)
	}
	return results, nil
}

// formatRetrieved renders retrieved chunks into the flat text block the
// retrieved-context system prompt section expects, most similar first.
func formatRetrieved(results []ChunkResult) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- (%s) %s", r.Chunk.Role, r.Chunk.Content)
	}
	return b.String()
}
