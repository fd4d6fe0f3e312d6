package domain

// FileDocument is one loaded repository file. It is produced by the crawler
// and consumed by the ingestion pipeline; it is never persisted directly.
type FileDocument struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	SizeBytes int64  `json:"size_bytes"`
}
