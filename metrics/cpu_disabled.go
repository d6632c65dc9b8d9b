//go:build ios || js
// +build ios js

package metrics

// ReadCPUStats retrieves the current CPU stats. It's a no-op on platforms
// where gopsutil is unavailable.
func ReadCPUStats(stats *CPUStats) {}
