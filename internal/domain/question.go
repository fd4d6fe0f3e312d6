package domain

import "time"

// Question is a saved Q&A exchange, kept so answers can be revisited
// without re-running generation.
type Question struct {
	ID         string        `json:"id"         db:"id"`
	ProjectID  string        `json:"project_id" db:"project_id"`
	UserID     string        `json:"user_id"    db:"user_id"`
	Question   string        `json:"question"   db:"question"`
	Answer     string        `json:"answer"     db:"answer"`
	References []SimilarFile `json:"references" db:"references"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
}
