package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemSnapshot represents the complete /system response.
type SystemSnapshot struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	MQTT          MQTTMetrics       `json:"mqtt"`
	Automations   AutomationMetrics `json:"automations"`
	Blueprints    BlueprintMetrics  `json:"blueprints"`
	Database      DatabaseMetrics   `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected     bool `json:"connected"`
	Subscriptions int  `json:"subscriptions"`
}

// AutomationMetrics contains registry and engine statistics.
type AutomationMetrics struct {
	Total      int `json:"total"`
	Registered int `json:"registered"` // automations live in the engine
}

// BlueprintMetrics contains blueprint library statistics.
type BlueprintMetrics struct {
	Total     int            `json:"total"`
	Instances int            `json:"instances"`
	ByDomain  map[string]int `json:"by_domain,omitempty"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleSystem returns a JSON snapshot of process and subsystem health.
// Prometheus scrape metrics live at /metrics; this endpoint serves UIs
// that want a single structured status document.
func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	libStats := s.library.Statistics()

	snapshot := SystemSnapshot{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Automations: AutomationMetrics{
			Total:      s.registry.Count(),
			Registered: len(s.engine.List()),
		},
		Blueprints: BlueprintMetrics{
			Total:     libStats.TotalBlueprints,
			Instances: libStats.TotalInstances,
			ByDomain:  libStats.ByDomain,
		},
	}

	// MQTT metrics (if available)
	if s.mqtt != nil {
		snapshot.MQTT = MQTTMetrics{
			Connected:     s.mqtt.IsConnected(),
			Subscriptions: s.mqtt.SubscriptionCount(),
		}
	}

	// Database stats (if available)
	if s.db != nil {
		dbStats := s.db.Stats()
		snapshot.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, snapshot)
}
