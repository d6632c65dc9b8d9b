// Package metrics holds the service's instrumentation core: counters and
// gauges collected into a registry and periodically reported to InfluxDB.
package metrics

import (
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/tos-network/refilld/log"
)

// Enabled is checked by the constructors below; unless switched on through
// the --metrics flag, the constructors return no-op metrics.
var Enabled = false

// EnabledExpensive is a soft-flag meant for external packages to check if costly
// metrics gathering is allowed or not.
var EnabledExpensive = false

// enablerFlags is the CLI flag names to use to enable metrics collections.
var enablerFlags = []string{"metrics"}

// expensiveEnablerFlags is the CLI flag names to use to enable metrics collections.
var expensiveEnablerFlags = []string{"metrics.expensive"}

// Init enables or disables the metrics system. Since we need this to run before
// any other code gets to create meters and timers, we'll actually do an ugly hack
// and peek into the command line args for the metrics flag.
func init() {
	for _, arg := range os.Args {
		flag := strings.TrimLeft(arg, "-")

		for _, enabler := range enablerFlags {
			if !Enabled && flag == enabler {
				log.Info("Enabling metrics collection")
				Enabled = true
			}
		}
		for _, enabler := range expensiveEnablerFlags {
			if !EnabledExpensive && flag == enabler {
				log.Info("Enabling expensive metrics collection")
				EnabledExpensive = true
			}
		}
	}
}

// CollectProcessMetrics periodically collects various metrics about the
// running process. It blocks and is meant to run in its own goroutine.
func CollectProcessMetrics(refresh time.Duration) {
	if !Enabled {
		return
	}
	refreshFreq := int64(refresh / time.Second)
	if refreshFreq < 1 {
		refreshFreq = 1
	}

	// Create the double-buffered stats so deltas can be measured.
	var (
		cpuStats = make([]CPUStats, 2)
		memStats = make([]runtime.MemStats, 2)
	)
	var (
		cpuSysLoad  = GetOrRegisterGauge("system/cpu/sysload", DefaultRegistry)
		cpuSysWait  = GetOrRegisterGauge("system/cpu/syswait", DefaultRegistry)
		cpuProcLoad = GetOrRegisterGauge("system/cpu/procload", DefaultRegistry)

		memAllocs = GetOrRegisterCounter("system/memory/allocs", DefaultRegistry)
		memFrees  = GetOrRegisterCounter("system/memory/frees", DefaultRegistry)
		memHeld   = GetOrRegisterGauge("system/memory/held", DefaultRegistry)
		memUsed   = GetOrRegisterGauge("system/memory/used", DefaultRegistry)
		memPauses = GetOrRegisterCounter("system/memory/pauses", DefaultRegistry)
	)
	for i := 1; ; i++ {
		location1 := i % 2
		location2 := (i - 1) % 2

		ReadCPUStats(&cpuStats[location1])
		cpuSysLoad.Update((cpuStats[location1].GlobalTime - cpuStats[location2].GlobalTime) / refreshFreq)
		cpuSysWait.Update((cpuStats[location1].GlobalWait - cpuStats[location2].GlobalWait) / refreshFreq)
		cpuProcLoad.Update((cpuStats[location1].LocalTime - cpuStats[location2].LocalTime) / refreshFreq)

		runtime.ReadMemStats(&memStats[location1])
		memAllocs.Inc(int64(memStats[location1].Mallocs - memStats[location2].Mallocs))
		memFrees.Inc(int64(memStats[location1].Frees - memStats[location2].Frees))
		memHeld.Update(int64(memStats[location1].HeapSys - memStats[location1].HeapReleased))
		memUsed.Update(int64(memStats[location1].Alloc))
		memPauses.Inc(int64(memStats[location1].PauseTotalNs - memStats[location2].PauseTotalNs))

		time.Sleep(refresh)
	}
}
