package httpapi

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type hostStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryTotal   uint64  `json:"memory_total_bytes"`
	Goroutines    int     `json:"goroutines"`
}

// health reports store readiness plus a host snapshot. Only an unreachable
// store fails the check; host stat failures are omitted.
func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()

	stats := hostStats{Goroutines: runtime.NumGoroutine()}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemoryPercent = vm.UsedPercent
		stats.MemoryTotal = vm.Total
	}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}

	status, code := "ok", http.StatusOK
	body := map[string]any{}
	if err := h.app.Ready(ctx); err != nil {
		h.log.WithContext(r.Context()).WithError(err).Warn("readiness check failed")
		status, code = "unavailable", http.StatusServiceUnavailable
		body["error"] = err.Error()
	}

	body["status"] = status
	body["services"] = h.app.Services()
	body["host"] = stats
	body["time"] = time.Now().UTC()
	writeJSON(w, code, body)
}

