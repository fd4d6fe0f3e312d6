package domain

import "time"

// SourceCodeEmbedding is the persisted semantic artifact for one file:
// its raw source, an AI-generated summary, and the summary's vector.
// The vector is written in a follow-up step and may be absent; records
// without a vector never participate in similarity search.
type SourceCodeEmbedding struct {
	ID         string    `json:"id"          db:"id"`
	ProjectID  string    `json:"project_id"  db:"project_id"`
	FileName   string    `json:"file_name"   db:"file_name"`
	SourceCode string    `json:"source_code" db:"source_code"`
	Summary    string    `json:"summary"     db:"summary"`
	Vector     []float32 `json:"-"           db:"summary_embedding"`
	CreatedAt  time.Time `json:"created_at"  db:"created_at"`
}

// SimilarFile is returned by semantic search, including similarity score.
type SimilarFile struct {
	FileName   string  `json:"file_name"`
	SourceCode string  `json:"source_code"`
	Summary    string  `json:"summary"`
	Similarity float64 `json:"similarity"`
}
