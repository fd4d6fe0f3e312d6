package service

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/arturoeanton/go-repo-rag/internal/domain"
	"github.com/arturoeanton/go-repo-rag/internal/port"
	"github.com/arturoeanton/go-repo-rag/internal/ratelimit"
)

// DefaultIgnoreFiles are skipped during crawling: lockfiles carry no
// semantic content worth summarizing.
var DefaultIgnoreFiles = []string{
	"package-lock.json",
	"yarn.lock",
	"pnpm-lock.yaml",
	"bun.lockb",
}

// CrawlerConfig tunes the repository crawler.
type CrawlerConfig struct {
	IgnoreFiles  []string // file base names to skip; nil = DefaultIgnoreFiles
	MaxFileBytes int64    // size ceiling for eligible files
	Concurrency  int      // max in-flight directory listings
}

// CrawlerService walks a remote repository tree through the hosting API.
// Counting and loading share one walk implementation with identical filter
// rules, so the pre-flight credit count always matches what a subsequent
// load will actually ingest.
type CrawlerService struct {
	hosting      port.HostingProvider
	exec         *ratelimit.Executor
	ignore       map[string]struct{}
	maxFileBytes int64
	concurrency  int
}

// NewCrawlerService creates a crawler. Zero config fields get defaults.
func NewCrawlerService(hosting port.HostingProvider, exec *ratelimit.Executor, cfg CrawlerConfig) *CrawlerService {
	ignoreFiles := cfg.IgnoreFiles
	if ignoreFiles == nil {
		ignoreFiles = DefaultIgnoreFiles
	}
	ignore := make(map[string]struct{}, len(ignoreFiles))
	for _, name := range ignoreFiles {
		ignore[name] = struct{}{}
	}

	maxBytes := cfg.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	return &CrawlerService{
		hosting:      hosting,
		exec:         exec,
		ignore:       ignore,
		maxFileBytes: maxBytes,
		concurrency:  concurrency,
	}
}

// CountEligibleFiles returns how many files a load would ingest. The count
// translates 1:1 into the credit amount debited for the project.
func (s *CrawlerService) CountEligibleFiles(ctx context.Context, ref domain.RepositoryRef) (int, error) {
	count := 0
	err := s.walk(ctx, ref, func(port.TreeEntry) {
		count++
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// LoadFiles walks the tree and fetches the content of every eligible file.
// Binary files are skipped with a diagnostic rather than aborting the load.
func (s *CrawlerService) LoadFiles(ctx context.Context, ref domain.RepositoryRef) ([]domain.FileDocument, error) {
	var entries []port.TreeEntry
	if err := s.walk(ctx, ref, func(e port.TreeEntry) {
		entries = append(entries, e)
	}); err != nil {
		return nil, err
	}

	var (
		mu   sync.Mutex
		docs []domain.FileDocument
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, entry := range entries {
		g.Go(func() error {
			content, err := ratelimit.Do(gctx, s.exec, func(ctx context.Context) ([]byte, error) {
				return s.hosting.GetFile(ctx, ref, entry.Path)
			})
			if err != nil {
				return fmt.Errorf("load %s: %w", entry.Path, err)
			}
			if isBinary(content) {
				slog.Warn("skipping binary file", "path", entry.Path, "size", entry.Size)
				return nil
			}

			mu.Lock()
			docs = append(docs, domain.FileDocument{
				Path:      entry.Path,
				Content:   string(content),
				SizeBytes: entry.Size,
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Completion order is nondeterministic; keep output stable.
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })

	slog.Info("repository loaded", "url", ref.URL, "files", len(docs))
	return docs, nil
}

// walk traverses the tree breadth-first, level by level, listing at most
// s.concurrency directories in flight. visit is called serially for every
// eligible file entry.
func (s *CrawlerService) walk(ctx context.Context, ref domain.RepositoryRef, visit func(port.TreeEntry)) error {
	if _, _, err := ref.OwnerRepo(); err != nil {
		return err
	}

	var mu sync.Mutex
	level := []string{""}

	for len(level) > 0 {
		next := make([][]string, len(level))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency)
		for i, dir := range level {
			g.Go(func() error {
				entries, err := ratelimit.Do(gctx, s.exec, func(ctx context.Context) ([]port.TreeEntry, error) {
					return s.hosting.ListDirectory(ctx, ref, dir)
				})
				if err != nil {
					return err
				}

				var dirs []string
				for _, e := range entries {
					if e.Type == port.EntryTypeDir {
						dirs = append(dirs, e.Path)
						continue
					}
					if !s.eligible(e) {
						continue
					}
					mu.Lock()
					visit(e)
					mu.Unlock()
				}
				next[i] = dirs
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		level = level[:0]
		for _, dirs := range next {
			level = append(level, dirs...)
		}
	}
	return nil
}

// eligible applies the shared filter rules: real files only, not on the
// ignore list, under the size ceiling. Both counting and loading go
// through here.
func (s *CrawlerService) eligible(e port.TreeEntry) bool {
	if e.Type != port.EntryTypeFile {
		return false
	}
	if _, ignored := s.ignore[path.Base(e.Path)]; ignored {
		return false
	}
	if e.Size > s.maxFileBytes {
		slog.Debug("file over size ceiling", "path", e.Path, "size", e.Size)
		return false
	}
	return true
}

// isBinary flags content that cannot be treated as source text.
func isBinary(content []byte) bool {
	if len(content) == 0 {
		return false
	}
	if strings.ContainsRune(string(content[:min(len(content), 8000)]), '\x00') {
		return true
	}
	return !utf8.Valid(content)
}
