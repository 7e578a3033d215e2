package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"cloud-image-relay/internal/relay"
)

// HealthStatus represents the overall health of the system
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus represents the health of an individual component
type ComponentStatus string

const (
	ComponentStatusUp       ComponentStatus = "up"
	ComponentStatusDown     ComponentStatus = "down"
	ComponentStatusDegraded ComponentStatus = "degraded"
)

// Health represents the complete health check response
type Health struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents the health of a single system component
type ComponentHealth struct {
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	LatencyMs float64         `json:"latency_ms,omitempty"`
	Details   any             `json:"details,omitempty"`
}

const (
	vendorPingTTL     = 10 * time.Second
	vendorPingTimeout = 5 * time.Second
	vendorSlowLatency = 2 * time.Second
)

// vendorProbe caches the last vendor ping result for ttl. Cloudinary's admin
// API is rate limited per hour.
type vendorProbe struct {
	ping func(context.Context) error
	ttl  time.Duration

	mu      sync.Mutex
	checked time.Time
	latency time.Duration
	err     error
}

func (p *vendorProbe) check(ctx context.Context) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.checked.IsZero() && time.Since(p.checked) < p.ttl {
		return p.latency, p.err
	}

	ctx, cancel := context.WithTimeout(ctx, vendorPingTimeout)
	defer cancel()

	start := time.Now()
	p.err = p.ping(ctx)
	p.latency = time.Since(start)
	p.checked = time.Now()
	return p.latency, p.err
}

// HandleHealth reports vendor and breaker health. Unhealthy maps to 503.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.checkHealth(r.Context())

	statusCode := http.StatusOK
	if health.Status == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, health)
}

// HandleReady is the readiness probe: ready while the vendor answers.
func (s *Server) HandleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.probe.check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "not_ready",
			"message": "vendor unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleLive is the liveness probe.
func (s *Server) HandleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) checkHealth(ctx context.Context) Health {
	health := Health{
		Timestamp:  time.Now().UTC(),
		Version:    s.build.Version,
		Components: make(map[string]ComponentHealth),
	}

	health.Components["vendor"] = s.checkVendorHealth(ctx)
	health.Components["circuit_breaker"] = checkBreakerHealth(s.breaker)
	health.Status = determineOverallHealth(health.Components)

	return health
}

func (s *Server) checkVendorHealth(ctx context.Context) ComponentHealth {
	latency, err := s.probe.check(ctx)
	details := map[string]string{"backend": s.relay.Backend()}
	if err != nil {
		return ComponentHealth{
			Status:  ComponentStatusDown,
			Message: "vendor ping failed: " + err.Error(),
			Details: details,
		}
	}

	status := ComponentStatusUp
	message := "vendor reachable"
	if latency > vendorSlowLatency {
		status = ComponentStatusDegraded
		message = "vendor latency high"
	}

	return ComponentHealth{
		Status:    status,
		Message:   message,
		LatencyMs: float64(latency.Milliseconds()),
		Details:   details,
	}
}

func checkBreakerHealth(cb *relay.CircuitBreaker) ComponentHealth {
	stats := cb.Stats()
	health := ComponentHealth{
		Status:  ComponentStatusUp,
		Message: "circuit " + stats.State.String(),
		Details: map[string]any{
			"failures":          stats.Failures,
			"rejected_requests": stats.RejectedRequests,
		},
	}
	if stats.State != relay.StateClosed {
		health.Status = ComponentStatusDegraded
	}
	return health
}

func determineOverallHealth(components map[string]ComponentHealth) HealthStatus {
	var downCount, degradedCount int
	for _, component := range components {
		switch component.Status {
		case ComponentStatusDown:
			downCount++
		case ComponentStatusDegraded:
			degradedCount++
		}
	}

	switch {
	case downCount > 0:
		return HealthStatusUnhealthy
	case degradedCount > 0:
		return HealthStatusDegraded
	default:
		return HealthStatusHealthy
	}
}
