package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/arturoeanton/go-repo-rag/internal/domain"
)

// VectorStore handles pgvector-specific operations for source code
// embeddings. Persistence is two-phase: the scalar fields are inserted
// first and the vector is written as a follow-up update; rows without a
// vector are invisible to similarity search.
type VectorStore struct {
	store     *PostgresStore
	dimension int
}

// NewVectorStore creates a vector store backed by the given Postgres store.
func NewVectorStore(store *PostgresStore, dimension int) *VectorStore {
	return &VectorStore{store: store, dimension: dimension}
}

// InsertEmbedding persists the scalar fields of an embedding record and
// returns the new record's id. The vector column stays NULL until SetVector.
func (v *VectorStore) InsertEmbedding(ctx context.Context, e domain.SourceCodeEmbedding) (string, error) {
	query := `INSERT INTO source_code_embeddings (id, project_id, file_name, source_code, summary)
	          VALUES ($1, $2, $3, $4, $5)
	          RETURNING id`

	var id string
	err := v.store.db.QueryRowContext(ctx, query,
		uuid.NewString(), e.ProjectID, e.FileName, sanitizeSource(e.SourceCode), e.Summary,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert embedding: %w", err)
	}
	return id, nil
}

// SetVector writes the embedding vector for an existing record. The vector
// must match the dimension the store was configured with; pgvector would
// reject a mismatch anyway, but failing here names the problem.
func (v *VectorStore) SetVector(ctx context.Context, id string, vector []float32) error {
	if v.dimension > 0 && len(vector) != v.dimension {
		return fmt.Errorf("set vector: got %d dimensions, store expects %d", len(vector), v.dimension)
	}
	query := `UPDATE source_code_embeddings SET summary_embedding = $1::vector WHERE id = $2`
	_, err := v.store.db.ExecContext(ctx, query, vectorToString(vector), id)
	if err != nil {
		return fmt.Errorf("set vector: %w", err)
	}
	return nil
}

// SearchSimilar ranks a project's embedding records by cosine similarity to
// queryVector, best first. Rows without a vector are excluded.
func (v *VectorStore) SearchSimilar(ctx context.Context, projectID string, queryVector []float32, limit int) ([]domain.SimilarFile, error) {
	vectorStr := vectorToString(queryVector)
	query := `SELECT file_name, source_code, summary,
	                 1 - (summary_embedding <=> $1::vector) AS similarity
	          FROM source_code_embeddings
	          WHERE project_id = $2 AND summary_embedding IS NOT NULL
	          ORDER BY summary_embedding <=> $1::vector
	          LIMIT $3`

	rows, err := v.store.db.QueryContext(ctx, query, vectorStr, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("search similar: %w", err)
	}
	defer rows.Close()

	var results []domain.SimilarFile
	for rows.Next() {
		var sf domain.SimilarFile
		if err := rows.Scan(&sf.FileName, &sf.SourceCode, &sf.Summary, &sf.Similarity); err != nil {
			return nil, fmt.Errorf("scan similar: %w", err)
		}
		results = append(results, sf)
	}
	return results, rows.Err()
}

// sanitizeSource enforces the canonical encoding for stored source text:
// always raw text. A payload that arrives JSON-stringified is unquoted
// here, at the persistence boundary, so render paths never special-case it.
func sanitizeSource(src string) string {
	trimmed := strings.TrimSpace(src)
	if len(trimmed) < 2 || !strings.HasPrefix(trimmed, `"`) || !strings.HasSuffix(trimmed, `"`) {
		return src
	}
	var unquoted string
	if err := json.Unmarshal([]byte(trimmed), &unquoted); err != nil {
		return src
	}
	return unquoted
}

// vectorToString converts a float32 slice to pgvector string format: [0.1,0.2,0.3].
func vectorToString(v []float32) string {
	parts := make([]string, len(v))
	for i, val := range v {
		parts[i] = fmt.Sprintf("%g", val)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
