package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-repo-rag/internal/domain"
	"github.com/arturoeanton/go-repo-rag/internal/port"
)

// fakeAI is a scriptable AI provider.
type fakeAI struct {
	mu            sync.Mutex
	completeCalls int
	embedCalls    int
	completeFn    func(userPrompt string) (string, error)
	embedFn       func(text string) ([]float32, error)
	streamFn      func(ctx context.Context) (<-chan port.StreamDelta, error)
	inflight      atomic.Int32
	maxSeen       atomic.Int32
}

func (f *fakeAI) ModelName() string { return "fake" }

func (f *fakeAI) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.embedCalls++
	f.mu.Unlock()
	if f.embedFn != nil {
		return f.embedFn(text)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeAI) Complete(ctx context.Context, systemPrompt, userPrompt string, opts port.CompletionOptions) (string, error) {
	cur := f.inflight.Add(1)
	for {
		seen := f.maxSeen.Load()
		if cur <= seen || f.maxSeen.CompareAndSwap(seen, cur) {
			break
		}
	}
	defer f.inflight.Add(-1)

	f.mu.Lock()
	f.completeCalls++
	f.mu.Unlock()
	if f.completeFn != nil {
		return f.completeFn(userPrompt)
	}
	return "a summary", nil
}

func (f *fakeAI) CompleteStream(ctx context.Context, systemPrompt, userPrompt string, opts port.CompletionOptions) (<-chan port.StreamDelta, error) {
	if f.streamFn != nil {
		return f.streamFn(ctx)
	}
	ch := make(chan port.StreamDelta, 1)
	ch <- port.StreamDelta{Content: "answer"}
	close(ch)
	return ch, nil
}

// fakeWriter records embedding writes in memory.
type fakeWriter struct {
	mu        sync.Mutex
	nextID    int
	inserted  []domain.SourceCodeEmbedding
	vectors   map[string][]float32
	insertErr error
	vectorErr error
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{vectors: map[string][]float32{}}
}

func (w *fakeWriter) InsertEmbedding(ctx context.Context, e domain.SourceCodeEmbedding) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.insertErr != nil {
		return "", w.insertErr
	}
	w.nextID++
	id := fmt.Sprintf("emb-%d", w.nextID)
	e.ID = id
	w.inserted = append(w.inserted, e)
	return id, nil
}

func (w *fakeWriter) SetVector(ctx context.Context, id string, vector []float32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.vectorErr != nil {
		return w.vectorErr
	}
	w.vectors[id] = vector
	return nil
}

func newTestIngest(host *fakeHosting, ai *fakeAI, writer *fakeWriter, cfg IngestConfig) *IngestService {
	crawler := NewCrawlerService(host, testExec(), CrawlerConfig{})
	return NewIngestService(crawler, ai, testExec(), testExec(), writer, cfg)
}

func TestIngestRepositoryHappyPath(t *testing.T) {
	host := newFakeHosting()
	host.addFile("", "main.go", []byte("package main"))
	host.addFile("", "util.go", []byte("package util"))

	ai := &fakeAI{}
	writer := newFakeWriter()
	svc := newTestIngest(host, ai, writer, IngestConfig{})

	report, err := svc.IngestRepository(context.Background(), "proj-1", crawlRef(), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 2, report.Succeeded)
	assert.Empty(t, report.Failed)
	assert.Len(t, writer.inserted, 2)
	assert.Len(t, writer.vectors, 2, "every inserted row gets its vector")
	for _, e := range writer.inserted {
		assert.Equal(t, "proj-1", e.ProjectID)
		assert.Equal(t, "a summary", e.Summary)
	}
}

func TestIngestFailureIsolatedPerFile(t *testing.T) {
	host := newFakeHosting()
	host.addFile("", "good.go", []byte("package good"))
	host.addFile("", "bad.go", []byte("package bad"))

	ai := &fakeAI{completeFn: func(prompt string) (string, error) {
		if strings.Contains(prompt, "bad.go") {
			return "", errors.New("model refused")
		}
		return "a summary", nil
	}}
	writer := newFakeWriter()
	svc := newTestIngest(host, ai, writer, IngestConfig{})

	report, err := svc.IngestRepository(context.Background(), "proj-1", crawlRef(), nil)
	require.NoError(t, err, "one bad file must not abort the run")

	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Succeeded)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "bad.go", report.Failed[0].FileName)
}

func TestIngestSummaryCacheDeduplicatesContent(t *testing.T) {
	host := newFakeHosting()
	// Same content at three paths.
	host.addFile("", "LICENSE", []byte("MIT License"))
	host.addFile("", "docs/LICENSE.txt", []byte("MIT License"))
	host.addFile("", "vendor/LICENSE.md", []byte("MIT License"))

	ai := &fakeAI{}
	writer := newFakeWriter()
	svc := newTestIngest(host, ai, writer, IngestConfig{Workers: 1})

	report, err := svc.IngestRepository(context.Background(), "proj-1", crawlRef(), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 1, ai.completeCalls, "identical content generates one summary")
	assert.Len(t, writer.inserted, 3, "each path still gets its own row")
}

func TestIngestWorkerBound(t *testing.T) {
	host := newFakeHosting()
	for i := 0; i < 12; i++ {
		host.addFile("", fmt.Sprintf("f%02d.go", i), []byte(fmt.Sprintf("package f%d", i)))
	}

	ai := &fakeAI{}
	writer := newFakeWriter()
	svc := newTestIngest(host, ai, writer, IngestConfig{Workers: 3})

	_, err := svc.IngestRepository(context.Background(), "proj-1", crawlRef(), nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, ai.maxSeen.Load(), int32(3), "no more than 3 files in flight")
}

func TestIngestPromptTruncation(t *testing.T) {
	content := strings.Repeat("x", 12000)
	host := newFakeHosting()
	host.addFile("", "big.go", []byte(content))

	var gotPrompt string
	ai := &fakeAI{completeFn: func(prompt string) (string, error) {
		gotPrompt = prompt
		return "a summary", nil
	}}
	writer := newFakeWriter()
	svc := newTestIngest(host, ai, writer, IngestConfig{MaxPromptChars: 10000})

	_, err := svc.IngestRepository(context.Background(), "proj-1", crawlRef(), nil)
	require.NoError(t, err)

	assert.NotContains(t, gotPrompt, strings.Repeat("x", 10001))
	assert.Contains(t, gotPrompt, strings.Repeat("x", 10000))
}

func TestIngestEmbedFailureLeavesScalarRow(t *testing.T) {
	host := newFakeHosting()
	host.addFile("", "main.go", []byte("package main"))

	ai := &fakeAI{embedFn: func(string) ([]float32, error) {
		return nil, errors.New("embed down")
	}}
	writer := newFakeWriter()
	svc := newTestIngest(host, ai, writer, IngestConfig{})

	report, err := svc.IngestRepository(context.Background(), "proj-1", crawlRef(), nil)
	require.NoError(t, err)

	require.Len(t, report.Failed, 1)
	assert.Len(t, writer.inserted, 1, "scalar row persisted before embed failed")
	assert.Empty(t, writer.vectors)
}

func TestIngestProgressCallback(t *testing.T) {
	host := newFakeHosting()
	host.addFile("", "a.go", []byte("package a"))
	host.addFile("", "b.go", []byte("package b"))

	var mu sync.Mutex
	var seen []int
	progress := func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 2, total)
		seen = append(seen, done)
	}

	svc := newTestIngest(host, &fakeAI{}, newFakeWriter(), IngestConfig{Workers: 1})
	_, err := svc.IngestRepository(context.Background(), "proj-1", crawlRef(), progress)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, seen)
}
