package service

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/arturoeanton/go-repo-rag/internal/metrics"
)

// summaryCache deduplicates summary generation by content hash. Concurrent
// requests for the same content share one in-flight call; completed
// summaries are served from memory for the lifetime of the ingestion run.
type summaryCache struct {
	mu     sync.RWMutex
	done   map[string]string
	flight singleflight.Group
}

func newSummaryCache() *summaryCache {
	return &summaryCache{done: make(map[string]string)}
}

func (c *summaryCache) get(content string, generate func() (string, error)) (string, error) {
	key := contentKey(content)

	c.mu.RLock()
	summary, ok := c.done[key]
	c.mu.RUnlock()
	if ok {
		metrics.SummaryCached()
		return summary, nil
	}

	v, err, shared := c.flight.Do(key, func() (any, error) {
		summary, err := generate()
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.done[key] = summary
		c.mu.Unlock()
		return summary, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		metrics.SummaryCached()
	}
	return v.(string), nil
}

func contentKey(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
