package port

import (
	"context"
	"time"

	"github.com/arturoeanton/go-repo-rag/internal/domain"
)

// TreeEntry is one entry of a repository directory listing.
type TreeEntry struct {
	Path string
	Type string // "file" or "dir"
	Size int64
}

// TreeEntry type constants as reported by the hosting API.
const (
	EntryTypeFile = "file"
	EntryTypeDir  = "dir"
)

// CommitMeta is commit metadata as returned by the hosting API.
type CommitMeta struct {
	Hash         string
	Message      string
	AuthorName   string
	AuthorAvatar string
	AuthorDate   time.Time
}

// HostingProvider abstracts the repository hosting API (GitHub and
// compatible forges). Calls carry the ref's optional bearer credential;
// without one, only public repositories are reachable and the provider's
// implicit rate ceiling is lower.
type HostingProvider interface {
	// ListCommits returns recent commit metadata for the repository.
	ListCommits(ctx context.Context, ref domain.RepositoryRef) ([]CommitMeta, error)

	// ListDirectory returns the entries of a directory ("" for the root).
	ListDirectory(ctx context.Context, ref domain.RepositoryRef, path string) ([]TreeEntry, error)

	// GetFile returns the decoded content of a single file.
	GetFile(ctx context.Context, ref domain.RepositoryRef, path string) ([]byte, error)

	// GetCommitDiff returns the unified diff text introduced by a commit.
	GetCommitDiff(ctx context.Context, ref domain.RepositoryRef, hash string) (string, error)
}
