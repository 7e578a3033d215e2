package server

import (
	"sort"
	"sync"
	"time"
)

// Upload failure kinds used as metric labels.
const (
	FailureValidation = "validation"
	FailureTooLarge   = "too_large"
	FailureUpstream   = "upstream"
	FailureUnknown    = "unknown"
)

// Metrics holds in-process counters for one Server.
type Metrics struct {
	mu sync.RWMutex

	uploadsTotal        int64
	uploadBytesTotal    int64
	uploadDurationTotal time.Duration
	uploadFailures      map[string]int64

	requestsTotal   int64
	requestsByClass [6]int64 // index is status/100
}

func NewMetrics() *Metrics {
	return &Metrics{uploadFailures: make(map[string]int64)}
}

// RecordUpload records a successful upload.
func (m *Metrics) RecordUpload(bytes int64, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadsTotal++
	m.uploadBytesTotal += bytes
	m.uploadDurationTotal += duration
}

// RecordUploadFailure records a failed upload under kind.
func (m *Metrics) RecordUploadFailure(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadFailures[kind]++
}

// RecordRequest records an HTTP request.
func (m *Metrics) RecordRequest(statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestsTotal++
	if class := statusCode / 100; class >= 1 && class < len(m.requestsByClass) {
		m.requestsByClass[class]++
	}
}

// Snapshot returns a snapshot of current metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	failures := make(map[string]int64, len(m.uploadFailures))
	var failuresTotal int64
	for kind, n := range m.uploadFailures {
		failures[kind] = n
		failuresTotal += n
	}

	byClass := make(map[string]int64)
	for class, n := range m.requestsByClass {
		if n > 0 {
			byClass[string(rune('0'+class))+"xx"] = n
		}
	}

	return MetricsSnapshot{
		UploadsTotal:          m.uploadsTotal,
		UploadBytesTotal:      m.uploadBytesTotal,
		UploadDurationSeconds: m.uploadDurationTotal.Seconds(),
		UploadAvgDurationMs:   avgDuration(m.uploadDurationTotal, m.uploadsTotal),
		UploadFailuresTotal:   failuresTotal,
		UploadFailuresByKind:  failures,
		RequestsTotal:         m.requestsTotal,
		RequestsByClass:       byClass,
	}
}

// MetricsSnapshot represents a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	UploadsTotal          int64            `json:"uploads_total"`
	UploadBytesTotal      int64            `json:"upload_bytes_total"`
	UploadDurationSeconds float64          `json:"upload_duration_seconds"`
	UploadAvgDurationMs   float64          `json:"upload_avg_duration_ms"`
	UploadFailuresTotal   int64            `json:"upload_failures_total"`
	UploadFailuresByKind  map[string]int64 `json:"upload_failures_by_kind"`

	RequestsTotal   int64            `json:"requests_total"`
	RequestsByClass map[string]int64 `json:"requests_by_class"`
}

// sortedKeys returns the keys of m in order so exposition output is stable.
func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func avgDuration(total time.Duration, count int64) float64 {
	if count == 0 {
		return 0
	}
	return float64(total.Milliseconds()) / float64(count)
}
