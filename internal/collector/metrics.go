package collector

import (
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/johnayoung/cexdata/internal/errors"
)

// metricsCollector tracks collection performance and statistics
type metricsCollector struct {
	// Atomic counters for thread-safe updates
	fetchAttempts    int64
	fetchFailures    int64
	retries          int64
	rateLimitHits    int64
	windowsCompleted int64
	windowsFailed    int64
	candlesCollected int64
	candlesStored    int64

	// Response time tracking
	totalResponseTime int64 // nanoseconds
	responseCount     int64

	seriesByStatus map[SeriesStatus]int64
	seriesMutex    sync.Mutex

	// Start time for calculating uptime
	startTime time.Time
}

// newMetricsCollector creates a new metrics collector
func newMetricsCollector() *metricsCollector {
	return &metricsCollector{
		seriesByStatus: make(map[SeriesStatus]int64),
		startTime:      time.Now(),
	}
}

// recordAttempt records one exchange call and its outcome
func (m *metricsCollector) recordAttempt(duration time.Duration, err error) {
	atomic.AddInt64(&m.fetchAttempts, 1)
	atomic.AddInt64(&m.totalResponseTime, duration.Nanoseconds())
	atomic.AddInt64(&m.responseCount, 1)

	if err == nil {
		return
	}
	atomic.AddInt64(&m.fetchFailures, 1)
	if apperrors.Classify(err) == apperrors.ErrorTypeRateLimit {
		atomic.AddInt64(&m.rateLimitHits, 1)
	}
}

// recordRetry records a failed attempt that will be retried
func (m *metricsCollector) recordRetry() {
	atomic.AddInt64(&m.retries, 1)
}

// recordWindow records a window that resolved, successfully or not
func (m *metricsCollector) recordWindow(rows int, ok bool) {
	if !ok {
		atomic.AddInt64(&m.windowsFailed, 1)
		return
	}
	atomic.AddInt64(&m.windowsCompleted, 1)
	atomic.AddInt64(&m.candlesCollected, int64(rows))
}

// recordCandlesStored records the number of candles appended to a series
func (m *metricsCollector) recordCandlesStored(count int) {
	atomic.AddInt64(&m.candlesStored, int64(count))
}

// recordSeries records the final status of one series
func (m *metricsCollector) recordSeries(status SeriesStatus) {
	m.seriesMutex.Lock()
	defer m.seriesMutex.Unlock()
	m.seriesByStatus[status]++
}

// getMetrics returns current metrics snapshot
func (m *metricsCollector) getMetrics() *CollectionMetrics {
	attempts := atomic.LoadInt64(&m.fetchAttempts)
	failures := atomic.LoadInt64(&m.fetchFailures)
	totalResponseTime := atomic.LoadInt64(&m.totalResponseTime)
	responseCount := atomic.LoadInt64(&m.responseCount)

	// Calculate success rate
	var successRate float64
	if attempts > 0 {
		successRate = float64(attempts-failures) / float64(attempts)
	}

	// Calculate average response time
	var avgResponseTime time.Duration
	if responseCount > 0 {
		avgResponseTime = time.Duration(totalResponseTime / responseCount)
	}

	m.seriesMutex.Lock()
	byStatus := make(map[SeriesStatus]int64, len(m.seriesByStatus))
	for status, n := range m.seriesByStatus {
		byStatus[status] = n
	}
	m.seriesMutex.Unlock()

	return &CollectionMetrics{
		FetchAttempts:    attempts,
		FetchFailures:    failures,
		Retries:          atomic.LoadInt64(&m.retries),
		RateLimitHits:    atomic.LoadInt64(&m.rateLimitHits),
		WindowsCompleted: atomic.LoadInt64(&m.windowsCompleted),
		WindowsFailed:    atomic.LoadInt64(&m.windowsFailed),
		CandlesCollected: atomic.LoadInt64(&m.candlesCollected),
		CandlesStored:    atomic.LoadInt64(&m.candlesStored),
		SeriesByStatus:   byStatus,
		SuccessRate:      successRate,
		AvgResponseTime:  avgResponseTime,
		Uptime:           time.Since(m.startTime),
	}
}
