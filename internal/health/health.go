// Package health provides system health monitoring, status reporting and
// the HTTP surface of the dependency graph.
package health

import (
	"time"

	"github.com/vietddude/taskgraph/internal/infra/resilience"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// StoreHealth is the result of pinging the backing store.
type StoreHealth struct {
	Status  SystemStatus `json:"status"`
	Latency string       `json:"latency"`
	Error   string       `json:"error,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus               `json:"system_status"`
	Store        StoreHealth                `json:"store"`
	Breakers     []resilience.BreakerStatus `json:"breakers"`
	CacheEntries int                        `json:"cache_entries"`
	CheckedAt    time.Time                  `json:"checked_at"`
}
