package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-repo-rag/internal/domain"
	"github.com/arturoeanton/go-repo-rag/internal/port"
	"github.com/arturoeanton/go-repo-rag/internal/ratelimit"
)

// fakeHosting serves a repository tree from memory.
type fakeHosting struct {
	mu       sync.Mutex
	dirs     map[string][]port.TreeEntry // path -> entries
	files    map[string][]byte           // path -> content
	commits  []port.CommitMeta
	diffs    map[string]string // hash -> diff
	listErr  error
	fileErr  map[string]error
	inflight atomic.Int32
	maxSeen  atomic.Int32
}

func newFakeHosting() *fakeHosting {
	return &fakeHosting{
		dirs:    map[string][]port.TreeEntry{},
		files:   map[string][]byte{},
		diffs:   map[string]string{},
		fileErr: map[string]error{},
	}
}

func (f *fakeHosting) addFile(dir, path string, content []byte) {
	f.dirs[dir] = append(f.dirs[dir], port.TreeEntry{Path: path, Type: port.EntryTypeFile, Size: int64(len(content))})
	f.files[path] = content
}

func (f *fakeHosting) addDir(parent, path string) {
	f.dirs[parent] = append(f.dirs[parent], port.TreeEntry{Path: path, Type: port.EntryTypeDir})
}

func (f *fakeHosting) ListCommits(ctx context.Context, ref domain.RepositoryRef) ([]port.CommitMeta, error) {
	return f.commits, nil
}

func (f *fakeHosting) ListDirectory(ctx context.Context, ref domain.RepositoryRef, path string) ([]port.TreeEntry, error) {
	cur := f.inflight.Add(1)
	for {
		max := f.maxSeen.Load()
		if cur <= max || f.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	time.Sleep(time.Millisecond) // widen the concurrency observation window
	defer f.inflight.Add(-1)

	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, ok := f.dirs[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, port.ErrRepoNotFound)
	}
	return entries, nil
}

func (f *fakeHosting) GetFile(ctx context.Context, ref domain.RepositoryRef, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fileErr[path]; ok {
		return nil, err
	}
	content, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, port.ErrRepoNotFound)
	}
	return content, nil
}

func (f *fakeHosting) GetCommitDiff(ctx context.Context, ref domain.RepositoryRef, hash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.diffs[hash], nil
}

func testExec() *ratelimit.Executor {
	return ratelimit.NewExecutor("test", nil, 1, time.Millisecond)
}

func crawlRef() domain.RepositoryRef {
	return domain.RepositoryRef{URL: "https://github.com/octocat/hello-world"}
}

func TestCountMatchesLoad(t *testing.T) {
	host := newFakeHosting()
	host.addFile("", "main.go", []byte("package main"))
	host.addFile("", "go.mod", []byte("module example"))
	host.addDir("", "internal")
	host.addFile("internal", "internal/service.go", []byte("package internal"))

	crawler := NewCrawlerService(host, testExec(), CrawlerConfig{})

	count, err := crawler.CountEligibleFiles(context.Background(), crawlRef())
	require.NoError(t, err)

	docs, err := crawler.LoadFiles(context.Background(), crawlRef())
	require.NoError(t, err)

	assert.Equal(t, count, len(docs), "pre-flight count must match loaded files")
	assert.Equal(t, 3, count)
}

func TestIgnoredFilesSkipped(t *testing.T) {
	host := newFakeHosting()
	for i := 0; i < 12; i++ {
		host.addFile("", fmt.Sprintf("file%02d.go", i), []byte("package x"))
	}
	host.addFile("", "package-lock.json", []byte("{}"))
	host.addFile("", "yarn.lock", []byte("# lock"))

	crawler := NewCrawlerService(host, testExec(), CrawlerConfig{})

	count, err := crawler.CountEligibleFiles(context.Background(), crawlRef())
	require.NoError(t, err)
	assert.Equal(t, 12, count)
}

func TestIgnoreListMatchesBaseNameInSubdirectories(t *testing.T) {
	host := newFakeHosting()
	host.addDir("", "web")
	host.addFile("web", "web/package-lock.json", []byte("{}"))
	host.addFile("web", "web/app.js", []byte("let x = 1"))

	crawler := NewCrawlerService(host, testExec(), CrawlerConfig{})

	docs, err := crawler.LoadFiles(context.Background(), crawlRef())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "web/app.js", docs[0].Path)
}

func TestOversizedFilesExcludedFromBothPasses(t *testing.T) {
	big := make([]byte, 2048)
	for i := range big {
		big[i] = 'a'
	}
	host := newFakeHosting()
	host.addFile("", "small.go", []byte("package main"))
	host.addFile("", "big.bin", big)

	crawler := NewCrawlerService(host, testExec(), CrawlerConfig{MaxFileBytes: 1024})

	count, err := crawler.CountEligibleFiles(context.Background(), crawlRef())
	require.NoError(t, err)

	docs, err := crawler.LoadFiles(context.Background(), crawlRef())
	require.NoError(t, err)

	assert.Equal(t, 1, count)
	assert.Equal(t, count, len(docs))
}

func TestBinaryFilesSkippedAtLoad(t *testing.T) {
	host := newFakeHosting()
	host.addFile("", "main.go", []byte("package main"))
	host.addFile("", "logo.png", []byte{0x89, 'P', 'N', 'G', 0x00, 0x0d})

	crawler := NewCrawlerService(host, testExec(), CrawlerConfig{})

	docs, err := crawler.LoadFiles(context.Background(), crawlRef())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "main.go", docs[0].Path)
}

func TestLoadFilesSortedByPath(t *testing.T) {
	host := newFakeHosting()
	host.addFile("", "zebra.go", []byte("package z"))
	host.addFile("", "alpha.go", []byte("package a"))
	host.addFile("", "mid.go", []byte("package m"))

	crawler := NewCrawlerService(host, testExec(), CrawlerConfig{})

	docs, err := crawler.LoadFiles(context.Background(), crawlRef())
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "alpha.go", docs[0].Path)
	assert.Equal(t, "mid.go", docs[1].Path)
	assert.Equal(t, "zebra.go", docs[2].Path)
}

func TestCrawlConcurrencyBounded(t *testing.T) {
	host := newFakeHosting()
	for i := 0; i < 20; i++ {
		dir := fmt.Sprintf("dir%02d", i)
		host.addDir("", dir)
		host.addFile(dir, dir+"/file.go", []byte("package x"))
	}

	crawler := NewCrawlerService(host, testExec(), CrawlerConfig{Concurrency: 5})

	_, err := crawler.CountEligibleFiles(context.Background(), crawlRef())
	require.NoError(t, err)
	assert.LessOrEqual(t, host.maxSeen.Load(), int32(5), "no more than 5 listings in flight")
}

func TestWalkRejectsInvalidURL(t *testing.T) {
	crawler := NewCrawlerService(newFakeHosting(), testExec(), CrawlerConfig{})

	_, err := crawler.CountEligibleFiles(context.Background(), domain.RepositoryRef{URL: "not-a-repo"})
	require.Error(t, err)
}

func TestLoadFilesPropagatesFetchFailure(t *testing.T) {
	host := newFakeHosting()
	host.addFile("", "main.go", []byte("package main"))
	host.fileErr["main.go"] = fmt.Errorf("boom")

	crawler := NewCrawlerService(host, testExec(), CrawlerConfig{})

	_, err := crawler.LoadFiles(context.Background(), crawlRef())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "main.go")
}
