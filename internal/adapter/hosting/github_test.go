package hosting

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-repo-rag/internal/domain"
	"github.com/arturoeanton/go-repo-rag/internal/port"
)

func testRef(url string) domain.RepositoryRef {
	return domain.RepositoryRef{URL: url}
}

func TestListDirectoryBuildsContentsURL(t *testing.T) {
	var gotPath, gotQuery, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte(`[{"path":"main.go","type":"file","size":120},{"path":"internal","type":"dir","size":0}]`))
	}))
	defer srv.Close()

	g := NewGitHubProvider(srv.URL)
	entries, err := g.ListDirectory(context.Background(), testRef("https://github.com/octocat/hello-world"), "")

	require.NoError(t, err)
	assert.Equal(t, "/repos/octocat/hello-world/contents/", gotPath)
	assert.Equal(t, "ref=main", gotQuery)
	assert.Equal(t, "application/vnd.github+json", gotAccept)
	require.Len(t, entries, 2)
	assert.Equal(t, port.TreeEntry{Path: "main.go", Type: "file", Size: 120}, entries[0])
	assert.Equal(t, port.TreeEntry{Path: "internal", Type: "dir", Size: 0}, entries[1])
}

func TestTrailingSlashAndGitSuffixStripped(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	g := NewGitHubProvider(srv.URL)
	_, err := g.ListDirectory(context.Background(), testRef("https://github.com/octocat/hello-world.git/"), "")

	require.NoError(t, err)
	assert.Equal(t, "/repos/octocat/hello-world/contents/", gotPath)
}

func TestInvalidRepositoryURLRejectedBeforeRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	g := NewGitHubProvider(srv.URL)
	_, err := g.ListDirectory(context.Background(), testRef("https://github.com/owner-only"), "")

	require.Error(t, err)
	assert.False(t, called, "invalid URLs must not reach the network")
}

func TestGetFileDecodesBase64(t *testing.T) {
	content := "package main\n\nfunc main() {}\n"
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	// GitHub wraps base64 content with newlines.
	wrapped := encoded[:10] + `\n` + encoded[10:]

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"path":"main.go","type":"file","size":29,"encoding":"base64","content":"` + wrapped + `"}`))
	}))
	defer srv.Close()

	g := NewGitHubProvider(srv.URL)
	got, err := g.GetFile(context.Background(), testRef("https://github.com/octocat/hello-world"), "main.go")

	require.NoError(t, err)
	assert.Equal(t, content, string(got))
}

func TestGetCommitDiffUsesDiffMediaType(t *testing.T) {
	var gotAccept, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		gotPath = r.URL.Path
		w.Write([]byte("diff --git a/main.go b/main.go\n"))
	}))
	defer srv.Close()

	g := NewGitHubProvider(srv.URL)
	diff, err := g.GetCommitDiff(context.Background(), testRef("https://github.com/octocat/hello-world"), "abc123")

	require.NoError(t, err)
	assert.Equal(t, "application/vnd.github.v3.diff", gotAccept)
	assert.Equal(t, "/repos/octocat/hello-world/commits/abc123", gotPath)
	assert.Contains(t, diff, "diff --git")
}

func TestCredentialSentAsBearer(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	g := NewGitHubProvider(srv.URL)
	ref := domain.RepositoryRef{URL: "https://github.com/octocat/hello-world", Credential: "ghp_secret"}
	_, err := g.ListCommits(context.Background(), ref)

	require.NoError(t, err)
	assert.Equal(t, "Bearer ghp_secret", gotAuth)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		headers map[string]string
		check   func(t *testing.T, err error)
	}{
		{
			name:   "404 maps to repo not found",
			status: http.StatusNotFound,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, port.ErrRepoNotFound)
			},
		},
		{
			name:    "429 maps to rate limit with retry-after",
			status:  http.StatusTooManyRequests,
			headers: map[string]string{"Retry-After": "30"},
			check: func(t *testing.T, err error) {
				assert.True(t, port.IsRateLimited(err))
				var rl *port.RateLimitError
				require.ErrorAs(t, err, &rl)
				assert.Equal(t, 30*time.Second, rl.RetryAfter)
			},
		},
		{
			name:    "403 with exhausted quota maps to rate limit",
			status:  http.StatusForbidden,
			headers: map[string]string{"X-RateLimit-Remaining": "0"},
			check: func(t *testing.T, err error) {
				assert.True(t, port.IsRateLimited(err))
			},
		},
		{
			name:   "403 without quota header is fatal",
			status: http.StatusForbidden,
			check: func(t *testing.T, err error) {
				assert.False(t, port.IsRateLimited(err))
				assert.False(t, port.IsTransient(err))
			},
		},
		{
			name:   "500 maps to transient",
			status: http.StatusInternalServerError,
			check: func(t *testing.T, err error) {
				assert.True(t, port.IsTransient(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			g := NewGitHubProvider(srv.URL)
			_, err := g.ListDirectory(context.Background(), testRef("https://github.com/octocat/hello-world"), "")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestListDirectoryFilePathFallsBackToSingleObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"path":"README.md","type":"file","size":42}`))
	}))
	defer srv.Close()

	g := NewGitHubProvider(srv.URL)
	entries, err := g.ListDirectory(context.Background(), testRef("https://github.com/octocat/hello-world"), "README.md")

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, port.TreeEntry{Path: "README.md", Type: "file", Size: 42}, entries[0])
}
