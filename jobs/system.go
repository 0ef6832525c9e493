package jobs

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/docpipe/errors"
)

// SystemMetrics reports worker usage and host memory.
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"`  // jobs holding a worker slot
	WorkersTotal  int     `json:"workers_total"`   // jobs.max_concurrent
	JobsWaiting   int     `json:"jobs_waiting"`    // submitted, waiting for a slot
	MemoryUsedGB  float64 `json:"memory_used_gb"`  // host memory in use
	MemoryTotalGB float64 `json:"memory_total_gb"` // host memory installed
	MemoryPercent float64 `json:"memory_percent"`
	Recommended   int     `json:"recommended_workers"`
}

// SystemMetrics returns current worker and memory usage. Memory fields are
// zero when the host does not report them.
func (o *Orchestrator) SystemMetrics() SystemMetrics {
	o.mu.Lock()
	sm := SystemMetrics{
		WorkersActive: o.active,
		WorkersTotal:  o.cfg.MaxConcurrent,
		JobsWaiting:   o.waiting,
	}
	o.mu.Unlock()

	total, available, err := getMemoryStats()
	if err == nil && total > 0 {
		sm.MemoryTotalGB = bytesToGB(total)
		sm.MemoryUsedGB = bytesToGB(total - available)
		sm.MemoryPercent = sm.MemoryUsedGB / sm.MemoryTotalGB * 100
		sm.Recommended = calculateSafeConcurrency(bytesToGB(available))
	}
	return sm
}

func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

func bytesToGB(b uint64) float64 {
	return float64(b) / 1024 / 1024 / 1024
}

// calculateSafeConcurrency recommends jobs.max_concurrent for the available
// memory. A job keeps up to a session's worth of documents and parse
// results in memory; 1GB per job covers large office and PDF files.
func calculateSafeConcurrency(availableGB float64) int {
	const memoryPerJob = 1.0 // GB
	const memoryBuffer = 2.0 // GB reserved for the parser and the rest of the host

	if availableGB < memoryBuffer {
		return 1
	}
	recommended := int((availableGB - memoryBuffer) / memoryPerJob)
	if recommended < 1 {
		return 1
	}
	if recommended > 64 {
		return 64
	}
	return recommended
}

// checkMemoryPressure returns a warning when max_concurrent exceeds what
// available memory supports, or "" when it fits or memory is unknown.
func (o *Orchestrator) checkMemoryPressure() string {
	total, available, err := getMemoryStats()
	if err != nil {
		return ""
	}
	availableGB := bytesToGB(available)
	totalGB := bytesToGB(total)
	recommended := calculateSafeConcurrency(availableGB)

	if o.cfg.MaxConcurrent > recommended {
		return fmt.Sprintf(
			"jobs.max_concurrent (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB used)",
			o.cfg.MaxConcurrent, recommended, totalGB-availableGB, totalGB)
	}
	return ""
}
