package domain

import (
	"fmt"
	"strings"
	"time"
)

// Project represents an ingested repository owned by a user.
type Project struct {
	ID            string     `json:"id"             db:"id"`
	UserID        string     `json:"user_id"        db:"user_id"`
	Name          string     `json:"name"           db:"name"`
	RepoURL       string     `json:"repo_url"       db:"repo_url"`
	DefaultBranch string     `json:"default_branch" db:"default_branch"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	CreatedAt     time.Time  `json:"created_at"     db:"created_at"`
}

// RepositoryRef is the immutable input to a crawl. The credential is carried
// for the duration of the request only and is never persisted.
type RepositoryRef struct {
	URL           string `json:"url"`
	DefaultBranch string `json:"default_branch"`
	Credential    string `json:"-"`
}

// OwnerRepo splits the hosting URL into owner and repository name.
// Tolerates trailing slashes and a .git suffix; anything else malformed
// yields an invalid repository URL error.
func (r RepositoryRef) OwnerRepo() (string, string, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(r.URL), "/")
	trimmed = strings.TrimSuffix(trimmed, ".git")

	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("invalid repository URL %q", r.URL)
	}
	owner := parts[len(parts)-2]
	name := parts[len(parts)-1]
	if owner == "" || name == "" || strings.ContainsAny(owner, ":.") {
		return "", "", fmt.Errorf("invalid repository URL %q", r.URL)
	}
	return owner, name, nil
}

// Branch returns the configured branch, falling back to main.
func (r RepositoryRef) Branch() string {
	if r.DefaultBranch == "" {
		return "main"
	}
	return r.DefaultBranch
}
