// prometheus.go - Prometheus text exposition for the relay metrics.
package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud-image-relay/internal/relay"
)

// PrometheusExporter renders Metrics and breaker state in the Prometheus
// text format.
type PrometheusExporter struct {
	metrics *Metrics
	breaker *relay.CircuitBreaker
	version string
	backend string
	started time.Time
}

func NewPrometheusExporter(metrics *Metrics, breaker *relay.CircuitBreaker, version, backend string) *PrometheusExporter {
	return &PrometheusExporter{
		metrics: metrics,
		breaker: breaker,
		version: version,
		backend: backend,
		started: time.Now(),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint
func (p *PrometheusExporter) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(p.render()))
	}
}

func (p *PrometheusExporter) render() string {
	snapshot := p.metrics.Snapshot()
	var out strings.Builder

	header := func(name, typ, help string) {
		fmt.Fprintf(&out, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, typ)
	}

	header("relay_info", "gauge", "Build and backend information")
	fmt.Fprintf(&out, "relay_info{version=\"%s\",backend=\"%s\"} 1\n\n",
		prometheusLabel(p.version), prometheusLabel(p.backend))

	header("relay_requests_total", "counter", "HTTP requests by status class")
	for _, class := range sortedKeys(snapshot.RequestsByClass) {
		fmt.Fprintf(&out, "relay_requests_total{class=\"%s\"} %d\n", class, snapshot.RequestsByClass[class])
	}
	out.WriteString("\n")

	header("relay_uploads_total", "counter", "Uploads relayed successfully")
	fmt.Fprintf(&out, "relay_uploads_total %d\n\n", snapshot.UploadsTotal)

	header("relay_upload_bytes_total", "counter", "Bytes relayed to the vendor")
	fmt.Fprintf(&out, "relay_upload_bytes_total %d\n\n", snapshot.UploadBytesTotal)

	header("relay_upload_failures_total", "counter", "Failed uploads by kind")
	for _, kind := range []string{FailureValidation, FailureTooLarge, FailureUpstream, FailureUnknown} {
		fmt.Fprintf(&out, "relay_upload_failures_total{kind=\"%s\"} %d\n", kind, snapshot.UploadFailuresByKind[kind])
	}
	out.WriteString("\n")

	header("relay_upload_duration_seconds", "summary", "Time spent in successful vendor uploads")
	fmt.Fprintf(&out, "relay_upload_duration_seconds_sum %.6f\n", snapshot.UploadDurationSeconds)
	fmt.Fprintf(&out, "relay_upload_duration_seconds_count %d\n\n", snapshot.UploadsTotal)

	stats := p.breaker.Stats()
	header("relay_circuit_breaker_state", "gauge", "Vendor circuit breaker state (0 closed, 1 open, 2 half-open)")
	fmt.Fprintf(&out, "relay_circuit_breaker_state %d\n\n", int(stats.State))

	header("relay_circuit_breaker_rejected_total", "counter", "Uploads rejected while the circuit was open")
	fmt.Fprintf(&out, "relay_circuit_breaker_rejected_total %d\n\n", stats.RejectedRequests)

	header("relay_uptime_seconds", "counter", "Process uptime in seconds")
	fmt.Fprintf(&out, "relay_uptime_seconds %.0f\n", time.Since(p.started).Seconds())

	return out.String()
}

func prometheusLabel(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "\\n")
	return value
}
