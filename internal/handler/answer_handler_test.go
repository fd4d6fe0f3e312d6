package handler

import (
	"bufio"
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-repo-rag/internal/domain"
	"github.com/arturoeanton/go-repo-rag/internal/service"
)

// flakyWriter accepts failAfter writes, then refuses everything. Each SSE
// event is one flush, so failAfter counts delivered events.
type flakyWriter struct {
	failAfter int
	writes    int
	buf       bytes.Buffer
}

func (f *flakyWriter) Write(p []byte) (int, error) {
	if f.writes >= f.failAfter {
		return 0, errors.New("broken pipe")
	}
	f.writes++
	return f.buf.Write(p)
}

func streamedAnswer(chunks ...string) *service.Answer {
	ch := make(chan string, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return &service.Answer{
		Output:     ch,
		References: []domain.SimilarFile{{FileName: "auth.go", Summary: "login handler"}},
	}
}

func TestStreamAnswerEmitsEventsAndPersists(t *testing.T) {
	var buf bytes.Buffer
	var persisted string

	streamAnswer(bufio.NewWriter(&buf), streamedAnswer("The login ", "lives in auth.go."), func() {}, func(full string) (string, error) {
		persisted = full
		return "q-123", nil
	})

	out := buf.String()
	assert.Contains(t, out, "event: references")
	assert.Contains(t, out, "auth.go")
	assert.Contains(t, out, `{"content":"The login "}`)
	assert.Contains(t, out, `{"content":"lives in auth.go."}`)
	assert.Contains(t, out, `{"question_id":"q-123"}`)
	assert.Equal(t, "The login lives in auth.go.", persisted)
}

func TestStreamAnswerPersistsPartialAnswerOnDisconnect(t *testing.T) {
	// References flush succeeds, the first delta flush hits a dead client.
	fw := &flakyWriter{failAfter: 1}
	cancelled := false
	var persisted string

	streamAnswer(bufio.NewWriter(fw), streamedAnswer("part one", " part two"), func() { cancelled = true }, func(full string) (string, error) {
		persisted = full
		return "q-456", nil
	})

	assert.True(t, cancelled, "producer must be cancelled when the client is gone")
	assert.Equal(t, "part one part two", persisted, "everything generated is still saved")
	assert.NotContains(t, fw.buf.String(), "event: done", "no events after the client is gone")
}

func TestStreamAnswerPersistFailureStillCompletesStream(t *testing.T) {
	var buf bytes.Buffer

	streamAnswer(bufio.NewWriter(&buf), streamedAnswer("hello"), func() {}, func(full string) (string, error) {
		return "", errors.New("db down")
	})

	require.Contains(t, buf.String(), "event: done\ndata: {}")
}
