package utils

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"ppe-sentinel/internal/core/processor"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	log "github.com/sirupsen/logrus"
)

var (
	lastCPUTime        time.Time
	lastCPUUsage       float64
	cpuUsageMutex      sync.Mutex
	cpuUsageSampleRate = 500 * time.Millisecond
)

// SystemStats holds host, runtime and engine statistics
type SystemStats struct {
	NumCPU      int     `json:"num_cpu"`
	GoRoutines  int     `json:"go_routines"`
	CPUUsage    float64 `json:"cpu_usage"`
	MemoryAlloc uint64  `json:"memory_alloc"`
	MemorySys   uint64  `json:"memory_sys"`
	HostMemory  float64 `json:"host_memory_percent"`
	MemoryHuman string  `json:"memory_human"`

	ActiveStreams  int `json:"active_streams"`
	PendingStreams int `json:"pending_streams"`
	FiredStreams   int `json:"fired_streams"`
	QueuedFrames   int `json:"queued_frames"`

	Timestamp time.Time `json:"timestamp"`
}

// StreamLister reports the running streams
type StreamLister interface {
	Streams() []processor.StreamStats
}

// FormatBytes formats a byte count as KB, MB or GB
func FormatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d Bytes", bytes)
	}
}

// GetCPUUsage measures the CPU usage with gopsutil, cached for the sample rate
func GetCPUUsage() float64 {
	cpuUsageMutex.Lock()
	defer cpuUsageMutex.Unlock()

	if time.Since(lastCPUTime) < cpuUsageSampleRate && lastCPUTime.Unix() > 0 {
		return lastCPUUsage
	}

	percentages, err := cpu.Percent(200*time.Millisecond, false)
	if err != nil {
		log.Warnf("Failed to measure CPU usage: %v", err)
		return 0.0
	}

	var usage float64
	if len(percentages) > 0 {
		usage = percentages[0]
	}

	lastCPUTime = time.Now()
	lastCPUUsage = usage

	return usage
}

// GetSystemStats collects the current statistics; streams may be nil
func GetSystemStats(streams StreamLister) *SystemStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := &SystemStats{
		NumCPU:      runtime.NumCPU(),
		GoRoutines:  runtime.NumGoroutine(),
		CPUUsage:    GetCPUUsage(),
		MemoryAlloc: memStats.Alloc,
		MemorySys:   memStats.Sys,
		MemoryHuman: FormatBytes(memStats.Alloc),
		Timestamp:   time.Now(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		stats.HostMemory = vm.UsedPercent
	} else {
		log.Debugf("Failed to read host memory: %v", err)
	}

	if streams != nil {
		for _, s := range streams.Streams() {
			stats.ActiveStreams++
			stats.QueuedFrames += s.Queued
			switch s.State {
			case "pending":
				stats.PendingStreams++
			case "fired":
				stats.FiredStreams++
			}
		}
	}

	return stats
}
