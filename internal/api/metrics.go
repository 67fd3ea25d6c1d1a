package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/aircat-gateway/internal/bridges/aircat"
	"github.com/nerrad567/aircat-gateway/internal/infrastructure/logging"
)

// SystemStats is the /api/v1/stats response.
type SystemStats struct {
	Timestamp     string        `json:"timestamp"`
	Version       string        `json:"version"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Runtime       RuntimeStats  `json:"runtime"`
	WebSocket     WSStats       `json:"websocket"`
	Gateway       *aircat.Stats `json:"gateway,omitempty"`
	Devices       int           `json:"devices"`
}

// RuntimeStats contains Go runtime statistics.
type RuntimeStats struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSStats contains WebSocket hub statistics.
type WSStats struct {
	ConnectedClients int    `json:"connected_clients"`
	DroppedMessages  uint64 `json:"dropped_messages"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stats := SystemStats{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeStats{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
			NumGC:         mem.NumGC,
		},
		WebSocket: WSStats{ConnectedClients: s.hub.ClientCount(), DroppedMessages: s.hub.Dropped()},
		Devices:   s.registry.Count(),
	}
	if s.gateway != nil {
		gs := s.gateway.Stats()
		stats.Gateway = &gs
	}

	writeJSON(w, http.StatusOK, stats)
}

// promErrorLogger routes promhttp errors to the structured logger.
type promErrorLogger struct {
	logger *logging.Logger
}

func (l promErrorLogger) Println(v ...any) {
	l.logger.Error("metrics exposition failed", "error", v)
}
