package base

import "time"

// Defaults used across the core when a caller does not override them.
var (
	// DefaultOplogBufferCap is the byte cap of the in-memory oplog buffer.
	DefaultOplogBufferCap int64 = 256 * 1024 * 1024

	// MaxInitialSyncFailedAttempts bounds the initial-sync retry loop.
	MaxInitialSyncFailedAttempts = 10

	DefaultInitialSyncRetryWait  = 5 * time.Second
	DefaultSyncSourceRetryWait   = 1 * time.Second

	DefaultBlacklistPenaltyForOplogStartMissing   = 10 * time.Minute
	DefaultBlacklistPenaltyForNetworkConnectionError = 1 * time.Minute

	// DefaultApplyBatchMaxDocs/Bytes bound a single applier batch, resolving the
	// "unbounded batch draining" open question left in the source spec.
	DefaultApplyBatchMaxDocs  = 5000
	DefaultApplyBatchMaxBytes int64 = 16 * 1024 * 1024
)

// LockModeIX is the intent-exclusive lock mode passed to
// Executor.ScheduleDBWork for work that writes a single document (a
// missing-doc fetch-and-insert) without needing to exclude every other
// writer the way a full database lock would.
const LockModeIX = "IX"
