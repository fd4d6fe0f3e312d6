package domain

import "time"

// Commit is a summarized commit stored per project. At most one record
// exists per (project_id, commit_hash); the commit pipeline enforces this
// by filtering already-stored hashes before ingesting.
type Commit struct {
	ID                 string    `json:"id"                   db:"id"`
	ProjectID          string    `json:"project_id"           db:"project_id"`
	CommitHash         string    `json:"commit_hash"          db:"commit_hash"`
	CommitMessage      string    `json:"commit_message"       db:"commit_message"`
	CommitAuthorName   string    `json:"commit_author_name"   db:"commit_author_name"`
	CommitAuthorAvatar string    `json:"commit_author_avatar" db:"commit_author_avatar"`
	CommitDate         time.Time `json:"commit_date"          db:"commit_date"`
	Summary            string    `json:"summary"              db:"summary"`
	CreatedAt          time.Time `json:"created_at"           db:"created_at"`
}
