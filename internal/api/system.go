package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/oikomaticz/oikomaticz-core/internal/device"
	"github.com/oikomaticz/oikomaticz-core/internal/hardware"
	"github.com/oikomaticz/oikomaticz-core/internal/mainworker"
)

// SystemStatus is the response of GET /system/status.
type SystemStatus struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	Worker        mainworker.Stats `json:"worker"`
	Hardware      HardwareSummary  `json:"hardware"`
	Devices       DeviceSummary    `json:"devices"`
	WebSocket     WSMetrics        `json:"websocket"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// HardwareSummary counts adapters by status.
type HardwareSummary struct {
	Total    int                     `json:"total"`
	ByStatus map[hardware.Status]int `json:"by_status"`
}

// DeviceSummary counts devices.
type DeviceSummary struct {
	Total int `json:"total"`
	Used  int `json:"used"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	hw := HardwareSummary{ByStatus: make(map[hardware.Status]int)}
	for _, info := range s.hardware.List() {
		hw.Total++
		hw.ByStatus[info.Status]++
	}

	all := s.devices.List(r.Context(), device.Filter{})
	devices := DeviceSummary{Total: len(all)}
	for i := range all {
		if all[i].Used {
			devices.Used++
		}
	}

	writeJSON(w, http.StatusOK, SystemStatus{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / (1 << 20),
			NumGC:         mem.NumGC,
		},
		Worker:    s.worker.Stats(),
		Hardware:  hw,
		Devices:   devices,
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
	})
}
