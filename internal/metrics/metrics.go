// Package metrics exposes Prometheus collectors for the ingestion and
// answering pipelines. Collectors register lazily on first use so tests
// that never touch them keep a clean default registry.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type pipelineMetrics struct {
	once sync.Once

	providerRequests *prometheus.CounterVec
	providerRetries  *prometheus.CounterVec
	rateLimitWaits   *prometheus.CounterVec

	filesIngested   prometheus.Counter
	filesFailed     prometheus.Counter
	summariesCached prometheus.Counter
	commitsIngested prometheus.Counter
	answersStreamed prometheus.Counter
}

var m pipelineMetrics

func (p *pipelineMetrics) init() {
	p.once.Do(func() {
		p.providerRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reposage_provider_requests_total",
			Help: "Provider calls by provider and outcome",
		}, []string{"provider", "outcome"})
		p.providerRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reposage_provider_retries_total",
			Help: "Retry attempts by provider",
		}, []string{"provider"})
		p.rateLimitWaits = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reposage_rate_limit_waits_total",
			Help: "Times a caller slept waiting for the sliding window to free",
		}, []string{"provider"})

		p.filesIngested = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reposage_files_ingested_total",
			Help: "Files summarized, embedded and persisted",
		})
		p.filesFailed = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reposage_files_failed_total",
			Help: "Files skipped after exhausting retries",
		})
		p.summariesCached = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reposage_summaries_cached_total",
			Help: "Summaries served from the run-scoped prompt cache",
		})
		p.commitsIngested = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reposage_commits_ingested_total",
			Help: "Commit records persisted",
		})
		p.answersStreamed = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reposage_answers_streamed_total",
			Help: "Answer streams started",
		})

		prometheus.MustRegister(
			p.providerRequests, p.providerRetries, p.rateLimitWaits,
			p.filesIngested, p.filesFailed, p.summariesCached,
			p.commitsIngested, p.answersStreamed,
		)
	})
}

// Record helpers used by the pipelines.

func ProviderRequest(provider, outcome string) {
	m.init()
	m.providerRequests.WithLabelValues(provider, outcome).Inc()
}

func ProviderRetry(provider string) {
	m.init()
	m.providerRetries.WithLabelValues(provider).Inc()
}

func RateLimitWait(provider string) {
	m.init()
	m.rateLimitWaits.WithLabelValues(provider).Inc()
}

func FileIngested()    { m.init(); m.filesIngested.Inc() }
func FileFailed()      { m.init(); m.filesFailed.Inc() }
func SummaryCached()   { m.init(); m.summariesCached.Inc() }
func CommitsIngested(n int) {
	m.init()
	m.commitsIngested.Add(float64(n))
}
func AnswerStreamed() { m.init(); m.answersStreamed.Inc() }
