package replicator

import (
	"time"

	"github.com/syncset/replcore/base"
)

// ReplicatorOptions configures a Replicator: named fields, typed values,
// one Validate() step at construction instead of checks scattered through
// the hot path.
type ReplicatorOptions struct {
	// SyncSourceOverride is the initial steady-state sync source, and the
	// source chosen whenever no coordinator is configured; with a
	// coordinator, later source choices come from the coordinator.
	SyncSourceOverride base.HostPort

	OplogNamespace base.Namespace

	// StartOptime is the oplog fetcher's start point when nothing has been
	// fetched yet and the coordinator is absent or reports a zero optime.
	StartOptime base.OpTime

	ApplyFunc func(ops []base.Document) (base.Timestamp, error)

	InitialSyncRetryWait time.Duration
	SyncSourceRetryWait  time.Duration

	BlacklistPenaltyForOplogStartMissing      time.Duration
	BlacklistPenaltyForNetworkConnectionError time.Duration

	ApplyBatchMaxDocs  int
	ApplyBatchMaxBytes int64

	OplogBufferCapBytes int64

	MaxInitialSyncFailedAttempts int
}

// DefaultReplicatorOptions returns an options value with every field at its
// package default, ready to be overridden selectively.
func DefaultReplicatorOptions() ReplicatorOptions {
	return ReplicatorOptions{
		OplogNamespace:                             base.Namespace{DB: "local", Collection: "oplog.rs"},
		InitialSyncRetryWait:                       base.DefaultInitialSyncRetryWait,
		SyncSourceRetryWait:                        base.DefaultSyncSourceRetryWait,
		BlacklistPenaltyForOplogStartMissing:       base.DefaultBlacklistPenaltyForOplogStartMissing,
		BlacklistPenaltyForNetworkConnectionError:  base.DefaultBlacklistPenaltyForNetworkConnectionError,
		ApplyBatchMaxDocs:                          base.DefaultApplyBatchMaxDocs,
		ApplyBatchMaxBytes:                         base.DefaultApplyBatchMaxBytes,
		OplogBufferCapBytes:                        base.DefaultOplogBufferCap,
		MaxInitialSyncFailedAttempts:               base.MaxInitialSyncFailedAttempts,
	}
}

// Validate fills in any zero-valued duration/count/size fields with package
// defaults and rejects a nil ApplyFunc, the one field with no sane default.
func (o *ReplicatorOptions) Validate() error {
	if o.ApplyFunc == nil {
		return base.ErrorInvalidInput
	}
	if o.OplogNamespace.DB == "" {
		o.OplogNamespace = base.Namespace{DB: "local", Collection: "oplog.rs"}
	}
	if o.InitialSyncRetryWait <= 0 {
		o.InitialSyncRetryWait = base.DefaultInitialSyncRetryWait
	}
	if o.SyncSourceRetryWait <= 0 {
		o.SyncSourceRetryWait = base.DefaultSyncSourceRetryWait
	}
	if o.BlacklistPenaltyForOplogStartMissing <= 0 {
		o.BlacklistPenaltyForOplogStartMissing = base.DefaultBlacklistPenaltyForOplogStartMissing
	}
	if o.BlacklistPenaltyForNetworkConnectionError <= 0 {
		o.BlacklistPenaltyForNetworkConnectionError = base.DefaultBlacklistPenaltyForNetworkConnectionError
	}
	if o.ApplyBatchMaxDocs <= 0 {
		o.ApplyBatchMaxDocs = base.DefaultApplyBatchMaxDocs
	}
	if o.ApplyBatchMaxBytes <= 0 {
		o.ApplyBatchMaxBytes = base.DefaultApplyBatchMaxBytes
	}
	if o.OplogBufferCapBytes <= 0 {
		o.OplogBufferCapBytes = base.DefaultOplogBufferCap
	}
	if o.MaxInitialSyncFailedAttempts <= 0 {
		o.MaxInitialSyncFailedAttempts = base.MaxInitialSyncFailedAttempts
	}
	return nil
}
