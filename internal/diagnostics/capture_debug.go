// Package diagnostics captures system state when the delivery pipeline
// reports an abnormal event, such as sustained producer stalls.
package diagnostics

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/chipstream-io/chipstream/internal/logging"
)

// CaptureSystemInfo captures system information, writes it to a debug file
// next to the active config file, and returns it as a string.
func CaptureSystemInfo(eventMessage string) string {
	var info strings.Builder

	separator := "======== DEBUG INFO START ========"
	info.WriteString(fmt.Sprintf("%s\n", separator))
	info.WriteString(fmt.Sprintf("Event: %s\n", eventMessage))

	// CPU utilization over a short sampling window
	cpuPercent, err := cpu.Percent(time.Second, false)
	if err == nil && len(cpuPercent) > 0 {
		info.WriteString(fmt.Sprintf("CPU Utilization: %.2f%%\n", cpuPercent[0]))
	}

	// Load average, the relevant signal for scheduling starvation
	if avg, err := load.Avg(); err == nil {
		info.WriteString(fmt.Sprintf("Load Average: %.2f %.2f %.2f\n", avg.Load1, avg.Load5, avg.Load15))
	}

	// RAM usage
	if vmStat, err := mem.VirtualMemory(); err == nil {
		info.WriteString(fmt.Sprintf("RAM Usage: %.2f%%\n", vmStat.UsedPercent))
	}

	// Swap usage
	if swapStat, err := mem.SwapMemory(); err == nil {
		info.WriteString(fmt.Sprintf("Swap Usage: %.2f%%\n", swapStat.UsedPercent))
	}

	// Go runtime statistics
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	info.WriteString(fmt.Sprintf("Go Runtime: Alloc = %v MiB, TotalAlloc = %v MiB, Sys = %v MiB, NumGC = %v, Goroutines = %d\n",
		bToMb(m.Alloc), bToMb(m.TotalAlloc), bToMb(m.Sys), m.NumGC, runtime.NumGoroutine()))

	info.WriteString(fmt.Sprintf("%s\n", strings.ReplaceAll(separator, "START", "END")))

	writeDebugFile(info.String())

	return info.String()
}

// writeDebugFile persists the capture next to the working directory so an
// operator can attach it to a report.
func writeDebugFile(contents string) {
	now := time.Now()
	debugFileName := fmt.Sprintf("debug_%s.txt", now.Format("2006-01-02_15-04-05"))
	debugFilePath := filepath.Join(".", debugFileName)

	if err := os.WriteFile(debugFilePath, []byte(contents), 0o644); err != nil {
		logging.Error("failed to write debug file", "path", debugFilePath, "error", err)
		return
	}
	logging.Info("abnormal event detected, debug information written", "path", debugFilePath)
}

// bToMb converts bytes to megabytes
func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
