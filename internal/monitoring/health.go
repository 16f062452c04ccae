// Package monitoring serves process liveness next to the Prometheus
// metrics endpoint.
package monitoring

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"
)

// Status is the payload served at /health.
type Status struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	GoVersion string    `json:"go_version"`
	OS        string    `json:"os"`
	Arch      string    `json:"arch"`
	NumCPU    int       `json:"num_cpu"`
	MemoryMB  int       `json:"memory_mb"`
}

// Health is an http.Handler reporting liveness; construction marks the
// instant uptime counts from.
type Health struct {
	start time.Time
}

func NewHealth() *Health {
	return &Health{start: time.Now()}
}

func (h *Health) snapshot() Status {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Status{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(h.start).Round(time.Second).String(),
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		NumCPU:    runtime.NumCPU(),
		MemoryMB:  int(m.Alloc / 1024 / 1024),
	}
}

func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.snapshot())
}
