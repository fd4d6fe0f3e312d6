// Package hosting implements port.HostingProvider against the GitHub
// REST API. Requests optionally carry the ref's bearer credential;
// unauthenticated requests work for public repositories only.
package hosting

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/arturoeanton/go-repo-rag/internal/domain"
	"github.com/arturoeanton/go-repo-rag/internal/port"
)

const defaultAPIBase = "https://api.github.com"

// GitHubProvider talks to the GitHub REST API.
type GitHubProvider struct {
	apiBase    string
	httpClient *http.Client
}

// NewGitHubProvider creates a GitHub hosting provider. apiBase overrides the
// API endpoint (used for GitHub Enterprise and tests); empty means github.com.
func NewGitHubProvider(apiBase string) *GitHubProvider {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &GitHubProvider{
		apiBase:    strings.TrimSuffix(apiBase, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type ghCommit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name string    `json:"name"`
			Date time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	Author *struct {
		AvatarURL string `json:"avatar_url"`
	} `json:"author"`
}

// ListCommits returns recent commit metadata for the repository.
func (g *GitHubProvider) ListCommits(ctx context.Context, ref domain.RepositoryRef) ([]port.CommitMeta, error) {
	owner, repo, err := ref.OwnerRepo()
	if err != nil {
		return nil, err
	}

	body, err := g.get(ctx, ref, fmt.Sprintf("/repos/%s/%s/commits", owner, repo), "application/vnd.github+json")
	if err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}

	var raw []ghCommit
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("list commits decode: %w", err)
	}

	commits := make([]port.CommitMeta, 0, len(raw))
	for _, c := range raw {
		meta := port.CommitMeta{
			Hash:       c.SHA,
			Message:    c.Commit.Message,
			AuthorName: c.Commit.Author.Name,
			AuthorDate: c.Commit.Author.Date,
		}
		if c.Author != nil {
			meta.AuthorAvatar = c.Author.AvatarURL
		}
		commits = append(commits, meta)
	}
	return commits, nil
}

type ghContent struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Type     string `json:"type"`
	Size     int64  `json:"size"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// ListDirectory returns the entries of a directory ("" for the root).
func (g *GitHubProvider) ListDirectory(ctx context.Context, ref domain.RepositoryRef, path string) ([]port.TreeEntry, error) {
	body, err := g.get(ctx, ref, g.contentsPath(ref, path), "application/vnd.github+json")
	if err != nil {
		return nil, fmt.Errorf("list directory %q: %w", path, err)
	}

	var raw []ghContent
	if err := json.Unmarshal(body, &raw); err != nil {
		// A single object means the path is a file, not a directory.
		var single ghContent
		if err2 := json.Unmarshal(body, &single); err2 == nil && single.Type == port.EntryTypeFile {
			return []port.TreeEntry{{Path: single.Path, Type: single.Type, Size: single.Size}}, nil
		}
		return nil, fmt.Errorf("list directory %q decode: %w", path, err)
	}

	entries := make([]port.TreeEntry, 0, len(raw))
	for _, e := range raw {
		entries = append(entries, port.TreeEntry{Path: e.Path, Type: e.Type, Size: e.Size})
	}
	return entries, nil
}

// GetFile returns the decoded content of a single file.
func (g *GitHubProvider) GetFile(ctx context.Context, ref domain.RepositoryRef, path string) ([]byte, error) {
	body, err := g.get(ctx, ref, g.contentsPath(ref, path), "application/vnd.github+json")
	if err != nil {
		return nil, fmt.Errorf("get file %q: %w", path, err)
	}

	var file ghContent
	if err := json.Unmarshal(body, &file); err != nil {
		return nil, fmt.Errorf("get file %q decode: %w", path, err)
	}
	if file.Type != port.EntryTypeFile {
		return nil, fmt.Errorf("get file %q: not a file (%s)", path, file.Type)
	}

	if file.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
		if err != nil {
			return nil, fmt.Errorf("get file %q: decode base64: %w", path, err)
		}
		return decoded, nil
	}
	return []byte(file.Content), nil
}

// GetCommitDiff fetches the unified diff for a commit by requesting the
// diff media type instead of the default JSON commit representation.
func (g *GitHubProvider) GetCommitDiff(ctx context.Context, ref domain.RepositoryRef, hash string) (string, error) {
	owner, repo, err := ref.OwnerRepo()
	if err != nil {
		return "", err
	}

	body, err := g.get(ctx, ref, fmt.Sprintf("/repos/%s/%s/commits/%s", owner, repo, hash), "application/vnd.github.v3.diff")
	if err != nil {
		return "", fmt.Errorf("get diff for %s: %w", hash, err)
	}
	return string(body), nil
}

func (g *GitHubProvider) contentsPath(ref domain.RepositoryRef, path string) string {
	owner, repo, err := ref.OwnerRepo()
	if err != nil {
		// get() re-derives and surfaces the error; keep the path inert here.
		return "/repos/invalid/invalid/contents/"
	}

	escaped := make([]string, 0, 8)
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		escaped = append(escaped, url.PathEscape(seg))
	}
	p := fmt.Sprintf("/repos/%s/%s/contents/%s", owner, repo, strings.Join(escaped, "/"))
	return p + "?ref=" + url.QueryEscape(ref.Branch())
}

// get issues a GET and maps the response status onto the error taxonomy.
func (g *GitHubProvider) get(ctx context.Context, ref domain.RepositoryRef, path, accept string) ([]byte, error) {
	if _, _, err := ref.OwnerRepo(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiBase+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	if ref.Credential != "" {
		req.Header.Set("Authorization", "Bearer "+ref.Credential)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &port.TransientError{Err: fmt.Errorf("github request: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return io.ReadAll(resp.Body)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", path, port.ErrRepoNotFound)
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return nil, &port.RateLimitError{Provider: "github", RetryAfter: retryAfter(resp)}
	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(resp.Body)
		return nil, &port.TransientError{Err: fmt.Errorf("github API error (%d): %s", resp.StatusCode, string(body))}
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("github API error (%d): %s", resp.StatusCode, string(body))
	}
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
