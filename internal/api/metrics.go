package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string             `json:"timestamp"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Runtime       RuntimeMetrics     `json:"runtime"`
	MQTT          MQTTMetrics        `json:"mqtt"`
	PIM           *PIMMetrics        `json:"pim,omitempty"`
	Dispatcher    *DispatcherMetrics `json:"dispatcher,omitempty"`
	Database      *DatabaseMetrics   `json:"database,omitempty"`
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
	Connected bool `json:"connected"`
}

// PIMMetrics contains PIM transport statistics.
type PIMMetrics struct {
	Connected  bool   `json:"connected"`
	State      string `json:"state"`
	FramesTx   uint64 `json:"frames_tx"`
	FramesRx   uint64 `json:"frames_rx"`
	Errors     uint64 `json:"errors"`
	Reconnects uint64 `json:"reconnects"`
}

// DispatcherMetrics contains inbound frame routing statistics.
type DispatcherMetrics struct {
	FramesIn         uint64 `json:"frames_in"`
	FramesMalformed  uint64 `json:"frames_malformed"`
	ReportsMatched   uint64 `json:"reports_matched"`
	ReportsForwarded uint64 `json:"reports_forwarded"`
	Dropped          uint64 `json:"dropped"`
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

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{
			Connected: s.mqtt.IsConnected(),
		}
	}

	if s.transport != nil {
		stats := s.transport.Stats()
		metrics.PIM = &PIMMetrics{
			Connected:  s.transport.IsConnected(),
			State:      stats.State.String(),
			FramesTx:   stats.FramesTx,
			FramesRx:   stats.FramesRx,
			Errors:     stats.ErrorsTotal,
			Reconnects: stats.ReconnectsTotal,
		}
	}

	if s.dispatcher != nil {
		stats := s.dispatcher.Stats()
		metrics.Dispatcher = &DispatcherMetrics{
			FramesIn:         stats.FramesIn,
			FramesMalformed:  stats.FramesMalformed,
			ReportsMatched:   stats.ReportsMatched,
			ReportsForwarded: stats.ReportsForwarded,
			Dropped:          stats.Dropped,
		}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
