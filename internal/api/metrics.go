package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
	MQTT          MQTTMetrics      `json:"mqtt"`
	InfluxDB      InfluxMetrics    `json:"influxdb"`
	Directory     DirectoryMetrics `json:"directory"`
	Telemetry     TelemetryMetrics `json:"telemetry"`
	Database      DatabaseMetrics  `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected     bool  `json:"connected"`
	Published     int64 `json:"published"`
	Subscriptions int   `json:"subscriptions"`
}

// InfluxMetrics contains InfluxDB writer statistics.
type InfluxMetrics struct {
	Connected   bool   `json:"connected"`
	Bucket      string `json:"bucket,omitempty"`
	WriteErrors int64  `json:"write_errors"`
}

// DirectoryMetrics describes the cached device list. It never triggers an
// enumeration; an expired or missing list is reported as-is.
type DirectoryMetrics struct {
	Devices     int    `json:"devices"`
	Epoch       string `json:"epoch,omitempty"`
	RefreshedAt string `json:"refreshed_at,omitempty"`
}

// TelemetryMetrics contains telemetry reporter statistics.
type TelemetryMetrics struct {
	Dropped int `json:"dropped"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	// Collect runtime stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	}

	if s.hub != nil {
		metrics.WebSocket.ConnectedClients = s.hub.ClientCount()
	}

	if s.mqtt != nil {
		st := s.mqtt.Stats()
		metrics.MQTT = MQTTMetrics{
			Connected:     st.Connected,
			Published:     st.Published,
			Subscriptions: st.Subscriptions,
		}
	}

	if s.influx != nil {
		st := s.influx.Stats()
		metrics.InfluxDB = InfluxMetrics{
			Connected:   st.Connected,
			Bucket:      st.Bucket,
			WriteErrors: st.WriteErrors,
		}
	}

	if l := s.directory.Cached(); l != nil {
		metrics.Directory = DirectoryMetrics{
			Devices:     l.Len(),
			Epoch:       l.Epoch,
			RefreshedAt: l.RefreshedAt.UTC().Format(time.RFC3339),
		}
	}

	if s.dropped != nil {
		metrics.Telemetry.Dropped = s.dropped()
	}

	// Database stats (if available)
	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
