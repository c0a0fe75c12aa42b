// Package metrics tracks in-memory counters for the scheduling engine:
// scan ticks, boundary firings, job throughput, and generation outcomes.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sundialhq/sundial/internal/job"
)

// Collector is the global metrics collector instance
var (
	globalCollector *Collector
	once            sync.Once
)

// Collector tracks system-wide metrics in memory
type Collector struct {
	// Scanner counters (atomic for thread-safety)
	ticksRun       atomic.Int64
	ticksSkipped   atomic.Int64
	boundariesHit  atomic.Int64
	jobsSuppressed atomic.Int64

	// Execution counters
	totalJobsProcessed atomic.Int64
	totalJobsCompleted atomic.Int64
	totalJobsFailed    atomic.Int64
	totalJobsDropped   atomic.Int64

	// Generation outcome counters
	instancesCreated atomic.Int64
	instancesDeduped atomic.Int64
	tasksRolledOver  atomic.Int64

	// Breakdown tracking (protected by mutex)
	mu             sync.RWMutex
	jobsByKind     map[string]int64
	enqueuedByKind map[string]int64
	queueDepths    map[job.JobPriority]int64
	totalDuration  time.Duration
	startTime      time.Time
	activeWorkers  int64
	totalWorkers   int64
	errorCount     int64
	operationCount int64
}

// Metrics represents a snapshot of current system metrics
type Metrics struct {
	TicksRun           int64                     `json:"ticks_run"`
	TicksSkipped       int64                     `json:"ticks_skipped"`
	BoundariesHit      int64                     `json:"boundaries_hit"`
	JobsSuppressed     int64                     `json:"jobs_suppressed"`
	TotalJobsProcessed int64                     `json:"total_jobs_processed"`
	TotalJobsCompleted int64                     `json:"total_jobs_completed"`
	TotalJobsFailed    int64                     `json:"total_jobs_failed"`
	TotalJobsDropped   int64                     `json:"total_jobs_dropped"`
	InstancesCreated   int64                     `json:"instances_created"`
	InstancesDeduped   int64                     `json:"instances_deduped"`
	TasksRolledOver    int64                     `json:"tasks_rolled_over"`
	JobsByKind         map[string]int64          `json:"jobs_by_kind"`
	EnqueuedByKind     map[string]int64          `json:"enqueued_by_kind"`
	QueueDepths        map[job.JobPriority]int64 `json:"queue_depths"`
	AvgJobDuration     time.Duration             `json:"avg_job_duration"`
	WorkerUtilization  float64                   `json:"worker_utilization"`
	ErrorRate          float64                   `json:"error_rate"`
	Uptime             time.Duration             `json:"uptime"`
}

// Default returns the global metrics collector instance
func Default() *Collector {
	once.Do(func() {
		globalCollector = NewCollector()
	})
	return globalCollector
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		jobsByKind:     make(map[string]int64),
		enqueuedByKind: make(map[string]int64),
		queueDepths:    make(map[job.JobPriority]int64),
		startTime:      time.Now(),
	}
}

// RecordTick records a scan tick that actually ran
func (c *Collector) RecordTick() {
	c.ticksRun.Add(1)
}

// RecordTickSkipped records a scan tick that was skipped because the
// previous tick was still running
func (c *Collector) RecordTickSkipped() {
	c.ticksSkipped.Add(1)
}

// RecordBoundary records a fired local-midnight or trigger-window hit
func (c *Collector) RecordBoundary() {
	c.boundariesHit.Add(1)
}

// RecordEnqueued records the outcome of an enqueue attempt per job kind.
// Suppressed duplicates count separately from accepted jobs.
func (c *Collector) RecordEnqueued(kind string, accepted bool) {
	if !accepted {
		c.jobsSuppressed.Add(1)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueuedByKind[kind]++
}

// RecordJobStarted increments the jobs processed counter
func (c *Collector) RecordJobStarted(kind string) {
	c.totalJobsProcessed.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobsByKind[kind]++
}

// RecordJobCompleted records a successfully completed job
func (c *Collector) RecordJobCompleted(duration time.Duration) {
	c.totalJobsCompleted.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalDuration += duration
	c.operationCount++
}

// RecordJobFailed records a failed job
func (c *Collector) RecordJobFailed(duration time.Duration) {
	c.totalJobsFailed.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalDuration += duration
	c.operationCount++
	c.errorCount++
}

// RecordJobDropped records a terminal job that was completed without
// effect instead of being retried
func (c *Collector) RecordJobDropped(duration time.Duration) {
	c.totalJobsDropped.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalDuration += duration
	c.operationCount++
}

// RecordInstanceCreated records a task instance materialized from a series
func (c *Collector) RecordInstanceCreated() {
	c.instancesCreated.Add(1)
}

// RecordInstanceDeduped records a generation attempt absorbed by the
// storage uniqueness constraint
func (c *Collector) RecordInstanceDeduped() {
	c.instancesDeduped.Add(1)
}

// RecordTasksRolledOver adds to the rolled-over task counter
func (c *Collector) RecordTasksRolledOver(count int64) {
	c.tasksRolledOver.Add(count)
}

// RecordQueueDepth updates the current queue depth for a priority
func (c *Collector) RecordQueueDepth(priority job.JobPriority, depth int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueDepths[priority] = depth
}

// RecordWorkerActivity updates worker utilization metrics
func (c *Collector) RecordWorkerActivity(active, total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeWorkers = active
	c.totalWorkers = total
}

// GetMetrics returns a snapshot of current metrics
func (c *Collector) GetMetrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	jobsByKind := make(map[string]int64, len(c.jobsByKind))
	for k, v := range c.jobsByKind {
		jobsByKind[k] = v
	}

	enqueuedByKind := make(map[string]int64, len(c.enqueuedByKind))
	for k, v := range c.enqueuedByKind {
		enqueuedByKind[k] = v
	}

	queueDepths := make(map[job.JobPriority]int64, len(c.queueDepths))
	for k, v := range c.queueDepths {
		queueDepths[k] = v
	}

	var avgDuration time.Duration
	if c.operationCount > 0 {
		avgDuration = c.totalDuration / time.Duration(c.operationCount)
	}

	var utilization float64
	if c.totalWorkers > 0 {
		utilization = float64(c.activeWorkers) / float64(c.totalWorkers) * 100
	}

	var errorRate float64
	if c.operationCount > 0 {
		errorRate = float64(c.errorCount) / float64(c.operationCount) * 100
	}

	return Metrics{
		TicksRun:           c.ticksRun.Load(),
		TicksSkipped:       c.ticksSkipped.Load(),
		BoundariesHit:      c.boundariesHit.Load(),
		JobsSuppressed:     c.jobsSuppressed.Load(),
		TotalJobsProcessed: c.totalJobsProcessed.Load(),
		TotalJobsCompleted: c.totalJobsCompleted.Load(),
		TotalJobsFailed:    c.totalJobsFailed.Load(),
		TotalJobsDropped:   c.totalJobsDropped.Load(),
		InstancesCreated:   c.instancesCreated.Load(),
		InstancesDeduped:   c.instancesDeduped.Load(),
		TasksRolledOver:    c.tasksRolledOver.Load(),
		JobsByKind:         jobsByKind,
		EnqueuedByKind:     enqueuedByKind,
		QueueDepths:        queueDepths,
		AvgJobDuration:     avgDuration,
		WorkerUtilization:  utilization,
		ErrorRate:          errorRate,
		Uptime:             time.Since(c.startTime),
	}
}

// Reset clears all metrics (useful for testing)
func (c *Collector) Reset() {
	c.ticksRun.Store(0)
	c.ticksSkipped.Store(0)
	c.boundariesHit.Store(0)
	c.jobsSuppressed.Store(0)
	c.totalJobsProcessed.Store(0)
	c.totalJobsCompleted.Store(0)
	c.totalJobsFailed.Store(0)
	c.totalJobsDropped.Store(0)
	c.instancesCreated.Store(0)
	c.instancesDeduped.Store(0)
	c.tasksRolledOver.Store(0)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobsByKind = make(map[string]int64)
	c.enqueuedByKind = make(map[string]int64)
	c.queueDepths = make(map[job.JobPriority]int64)
	c.totalDuration = 0
	c.startTime = time.Now()
	c.activeWorkers = 0
	c.totalWorkers = 0
	c.errorCount = 0
	c.operationCount = 0
}

// GetMetrics returns metrics from the global collector
func GetMetrics() Metrics {
	return Default().GetMetrics()
}

// ResetMetrics resets the global collector
func ResetMetrics() {
	Default().Reset()
}
