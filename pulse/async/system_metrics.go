package async

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/pulseflow/errors"
)

// SystemMetrics tracks resource usage for worker pool monitoring
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"`  // Workers currently executing jobs
	WorkersTotal  int     `json:"workers_total"`   // Total configured workers
	JobsProcessed int64   `json:"jobs_processed"`  // Jobs completed since start
	JobsFailed    int64   `json:"jobs_failed"`     // Handler failures since start
	MemoryUsedGB  float64 `json:"memory_used_gb"`  // Current memory usage in GB
	MemoryTotalGB float64 `json:"memory_total_gb"` // Total system memory in GB
	MemoryPercent float64 `json:"memory_percent"`  // Memory utilization percentage
	JobsQueued    int     `json:"jobs_queued"`     // Jobs waiting for acquisition
	JobsLocked    int     `json:"jobs_locked"`     // Jobs currently held by a worker
	JobsExhausted int     `json:"jobs_exhausted"`  // Jobs with an open incident
}

// getMemoryStats returns current memory usage in bytes
func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// calculateSafeWorkerCount recommends a worker count for the available memory.
// Continuations are small; the bound mostly protects shared hosts.
func calculateSafeWorkerCount(availableGB float64) int {
	const memoryPerWorker = 0.25 // GB per concurrently executing job
	const memoryBuffer = 1.0     // GB reserved for the rest of the host

	if availableGB < memoryBuffer {
		return 1
	}

	recommended := int((availableGB - memoryBuffer) / memoryPerWorker)
	if recommended < 1 {
		return 1
	}
	if recommended > 64 {
		return 64
	}
	return recommended
}

// GetSystemMetrics returns current system resource usage
func (wp *WorkerPool) GetSystemMetrics(ctx context.Context) SystemMetrics {
	total, available, err := getMemoryStats()

	var memUsedGB, memTotalGB, memPercent float64
	if err == nil && total > 0 {
		memTotalGB = float64(total) / 1024 / 1024 / 1024
		memUsedGB = float64(total-available) / 1024 / 1024 / 1024
		memPercent = (memUsedGB / memTotalGB) * 100
	}

	// Database errors leave the job counts at zero
	stats, err := wp.queue.GetStats(ctx)
	if err != nil {
		stats = &QueueStats{}
	}

	wp.mu.Lock()
	defer wp.mu.Unlock()

	return SystemMetrics{
		WorkersActive: wp.activeWorkers,
		WorkersTotal:  wp.workers,
		JobsProcessed: wp.jobsProcessed,
		JobsFailed:    wp.jobsFailed,
		MemoryUsedGB:  memUsedGB,
		MemoryTotalGB: memTotalGB,
		MemoryPercent: memPercent,
		JobsQueued:    stats.Queued + stats.Failed,
		JobsLocked:    stats.Locked,
		JobsExhausted: stats.Exhausted,
	}
}

// checkMemoryPressure validates worker count against available memory.
// Returns a warning if the worker count may be too high, empty string if OK.
func (wp *WorkerPool) checkMemoryPressure() string {
	total, available, err := getMemoryStats()
	if err != nil {
		return ""
	}

	availableGB := float64(available) / 1024 / 1024 / 1024
	totalGB := float64(total) / 1024 / 1024 / 1024
	recommended := calculateSafeWorkerCount(availableGB)

	if wp.workers > recommended {
		return fmt.Sprintf(
			"Worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB). "+
				"Consider reducing workers to prevent memory pressure.",
			wp.workers, recommended, totalGB-availableGB, totalGB)
	}
	return ""
}
