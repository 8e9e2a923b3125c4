package db

import "time"

// Database connection constants
const (
	// ConnectionRetrySleep is the sleep duration between connection retries
	ConnectionRetrySleep = 2 * time.Second
	// maxConnectionRetries is the number of retries for initial connection
	maxConnectionRetries = 10
)

// Database pool default constants
const (
	defaultMaxConns          int32         = 25
	defaultMinConns          int32         = 5
	defaultMaxConnIdleTime   time.Duration = 30 * time.Minute
	defaultMaxConnLifetime   time.Duration = time.Hour
	defaultHealthCheckPeriod time.Duration = time.Minute
)

// Write queue defaults
const (
	defaultShardBuffer      = 256
	defaultWriteRetries     = 3
	defaultRetryBackoffBase = 50 * time.Millisecond
	defaultBatchThreshold   = 8
	defaultHighWater        = 1024
	defaultLowWater         = 256
)

// maxConcurrentReads bounds heavy list queries.
const maxConcurrentReads = 16

// Shard keys for serialized writes. Writes touching the same table go
// through the same shard so commutative updates never deadlock each other.
const (
	ShardArticles = "articles"
	ShardSources  = "sources"
	ShardMemory   = "extraction_memory"
	ShardSchedule = "schedule_settings"
	ShardTasks    = "task_queue"
)

// SQLSTATE codes retried by the write queue.
const (
	sqlstateDeadlockDetected = "40P01"
	sqlstateSerialization    = "40001"
	sqlstateLockNotAvailable = "55P03"
)
