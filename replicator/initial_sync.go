package replicator

import (
	"context"
	"time"

	"github.com/syncset/replcore/base"
	"github.com/syncset/replcore/cloner"
	"github.com/syncset/replcore/common"
	"github.com/syncset/replcore/initialsync"
)

// InitialSync clones every database from a chosen sync source, then streams
// and applies oplog operations across [BeginTimestamp, StopTimestamp]
// through the same bounded buffer and applier the steady state uses,
// retrying the whole attempt up to MaxInitialSyncFailedAttempts times. The
// outer retry loop is a blocking call, as spec'd; the post-clone catch-up it
// drives is callback-driven through doNextActions like everything else.
//
// Preconditions: state must be Uninitialized (called while InitialSync is
// already running fails with InvalidRoleModification; called while
// Steady/Rollback fails with AlreadyInitialized).
func (r *Replicator) InitialSync(ctx context.Context) base.Status {
	r.coreMu.Lock()
	switch r.state.Get() {
	case common.InitialSync:
		r.coreMu.Unlock()
		return base.StatusFromErr("initial sync already running", base.ErrorInvalidRoleModification)
	case common.Steady, common.RollbackState:
		r.coreMu.Unlock()
		return base.StatusFromErr("replicator already initialized", base.ErrorAlreadyInitialized)
	}
	if err := r.state.Set(common.InitialSync, r.id); err != nil {
		r.coreMu.Unlock()
		return base.StatusFromErr("cannot start initial sync", err)
	}
	r.coreMu.Unlock()

	r.Pause()

	maxAttempts := r.opts.MaxInitialSyncFailedAttempts
	if maxAttempts <= 0 {
		maxAttempts = base.MaxInitialSyncFailedAttempts
	}
	retryWait := r.opts.InitialSyncRetryWait

	var ts base.Timestamp
	var status base.Status
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		r.coreMu.Lock()
		r.initialSyncAttemptNum = attempt
		r.coreMu.Unlock()

		ts, status = r.runInitialSyncAttempt(ctx)
		if status.OK() {
			break
		}
		r.logger.Errorf("initial sync attempt %d failed: %v", attempt, status)

		if ctx.Err() != nil {
			status = base.StatusFromErr("initial sync cancelled", ctx.Err())
			break
		}
		if attempt == maxAttempts {
			status = base.NewStatus(base.StatusInitialSyncFailure,
				"maximum number of retries for initial sync exhausted", base.ErrorInitialSyncFailure)
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(retryWait):
		}
		if ctx.Err() != nil {
			status = base.StatusFromErr("initial sync cancelled", ctx.Err())
			break
		}
	}

	r.coreMu.Lock()
	r.paused = false
	if status.OK() {
		r.lastTimestampApplied = ts
		r.lastTimestampFetched = ts
		_ = r.state.Set(common.Uninitialized, r.id)
	}
	r.initialSyncAttempt = nil
	r.initialSyncDone = nil
	r.coreMu.Unlock()

	return status
}

// Resync discards steady-state progress and re-runs initial sync. It is the
// operator-requested path into InitialSync from any state.
func (r *Replicator) Resync(ctx context.Context) base.Status {
	r.coreMu.Lock()
	r.buffer.Clear()
	_ = r.state.Set(common.Uninitialized, r.id)
	r.coreMu.Unlock()
	return r.InitialSync(ctx)
}

// InitialSyncProgress snapshots the currently running (or most recently
// finished) attempt's progress.
func (r *Replicator) InitialSyncProgress() initialsync.Progress {
	r.coreMu.Lock()
	attempt := r.initialSyncAttempt
	n := r.initialSyncAttemptNum
	r.coreMu.Unlock()

	if attempt == nil {
		return initialsync.Progress{Attempt: n}
	}
	return attempt.Progress(n)
}

// runInitialSyncAttempt performs one attempt: choose a source, capture the
// pre-clone oplog top, construct and schedule the oplog fetcher so it starts
// tailing the source concurrently with the clone (fetched documents are
// buffered, not applied, until the clone finishes and the catch-up window's
// stop timestamp is known), start the databases cloner, capture the
// post-clone oplog top, then hand off to the post-clone catch-up. Fetching
// concurrently with the clone, rather than only afterward, keeps a long
// clone from letting the source's oplog roll past beginTimestamp before
// anything has started tailing it.
func (r *Replicator) runInitialSyncAttempt(ctx context.Context) (ts base.Timestamp, status base.Status) {
	r.coreMu.Lock()
	failpoint := r.failpoint
	r.coreMu.Unlock()
	if failpoint != nil && failpoint.Active() {
		return base.Timestamp{}, base.StatusFromErr("failpoint forced invalid sync source", base.ErrorInvalidSyncSource)
	}

	source := r.chooseInitialSyncSource()
	if source.IsZero() {
		return base.Timestamp{}, base.StatusFromErr("no sync source available for initial sync", base.ErrorInvalidSyncSource)
	}

	beginTs, err := r.oplogTop(source)
	if err != nil {
		return base.Timestamp{}, base.StatusFromErr("failed to read oplog top before clone", err)
	}

	attempt := initialsync.NewAttempt(source, beginTs)

	r.coreMu.Lock()
	r.initialSyncAttempt = attempt
	r.syncSource = source
	r.lastTimestampFetched = beginTs
	r.coreMu.Unlock()

	r.exec.ScheduleWork(func() { r.ensureOplogFetcher(source) })

	// A fetcher is now running against source regardless of how this attempt
	// ends. On success it is left in place while InitialSync returns the
	// core to Uninitialized; on any failure below, abandonAttempt tears it down (and the backlog it buffered) so
	// the next retry starts clean against a possibly different source.
	defer func() {
		if !status.OK() {
			r.abandonAttempt()
		}
	}()

	dc := cloner.NewDatabasesCloner(r.exec, source, r.storage, r.clonerFactory, r.listDatabases)
	attempt.DbsCloner = dc

	cloneDone := make(chan base.Status, 1)
	if err := dc.Start(func(status base.Status) { cloneDone <- status }); err != nil {
		return base.Timestamp{}, base.StatusFromErr("failed to start databases cloner", err)
	}

	select {
	case cloneStatus := <-cloneDone:
		if !cloneStatus.OK() {
			return base.Timestamp{}, cloneStatus
		}
	case <-ctx.Done():
		dc.Cancel()
		return base.Timestamp{}, base.StatusFromErr("initial sync cancelled during clone", ctx.Err())
	}

	stopTs, err := r.oplogTop(source)
	if err != nil {
		return base.Timestamp{}, base.StatusFromErr("failed to read oplog top after clone", err)
	}
	attempt.SetStopTimestamp(stopTs)

	if stopTs.LessOrEqual(beginTs) {
		return stopTs, base.Ok()
	}

	return r.runInitialSyncCatchup(ctx, attempt)
}

// abandonAttempt tears down the oplog fetcher and discards whatever it
// buffered after a failed attempt, so the next retry (against a source that
// may differ) starts without stale state left over from this one.
func (r *Replicator) abandonAttempt() {
	r.coreMu.Lock()
	of := r.oplogFetcher
	r.oplogFetcher = nil
	r.pendingOplogDocs = nil
	r.initialSyncAttempt = nil
	r.coreMu.Unlock()

	if of != nil {
		of.Cancel()
	}
	r.buffer.Clear()
}

// chooseInitialSyncSource picks a source for one attempt. Unlike
// chooseSyncSource it does not consult the steady-state blacklist: a failed
// initial-sync attempt is retried wholesale, not by rotating sources within
// an attempt.
func (r *Replicator) chooseInitialSyncSource() base.HostPort {
	if r.coordinator != nil {
		return r.coordinator.ChooseNewSyncSource()
	}
	return r.opts.SyncSourceOverride
}

// runInitialSyncCatchup unpauses the applier by handing the dispatcher an
// attempt with a known StopTimestamp, then blocks until doNextActions'
// InitialSync case (initialSyncProgress) reports the catch-up window fully
// applied by driving the same ensureOplogFetcher/maybeKickApplier pair
// steadyProgress uses. The oplog fetcher is already running by this point —
// started concurrently with the clone in runInitialSyncAttempt — so
// syncSource/lastTimestampFetched are left as they are rather than reset to
// BeginTimestamp, which would roll lastTimestampFetched backward past
// whatever the fetcher already tailed during the clone.
func (r *Replicator) runInitialSyncCatchup(ctx context.Context, attempt *initialsync.Attempt) (base.Timestamp, base.Status) {
	done := make(chan base.Status, 1)

	r.coreMu.Lock()
	r.initialSyncDone = done
	r.coreMu.Unlock()

	r.exec.ScheduleWork(r.doNextActions)

	select {
	case status := <-done:
		if !status.OK() {
			return base.Timestamp{}, status
		}
		return attempt.LastTimestampApplied(), base.Ok()
	case <-ctx.Done():
		r.coreMu.Lock()
		r.initialSyncDone = nil
		r.coreMu.Unlock()
		return base.Timestamp{}, base.StatusFromErr("initial sync cancelled during catch-up", ctx.Err())
	}
}

// initialSyncProgress is the InitialSync half of the dispatcher: it reuses
// ensureOplogFetcher/maybeKickApplier, the same pair steadyProgress uses, to
// consume the post-clone catch-up window, finishing once the cloner is
// inactive and lastTimestampApplied has reached the attempt's stop
// timestamp.
func (r *Replicator) initialSyncProgress() {
	r.coreMu.Lock()
	attempt := r.initialSyncAttempt
	source := r.syncSource
	r.coreMu.Unlock()

	if attempt == nil {
		return
	}
	if _, known := attempt.StopTimestamp(); !known {
		return
	}

	r.ensureOplogFetcher(source)
	r.maybeKickApplier()

	r.coreMu.Lock()
	lastApplied := r.lastTimestampApplied
	r.coreMu.Unlock()
	attempt.SetLastTimestampApplied(lastApplied)

	if attempt.CaughtUp() {
		r.finishInitialSyncCatchup(base.Ok())
	}
}

// finishInitialSyncCatchup signals the waiting runInitialSyncCatchup call
// exactly once; later calls (e.g. a stray doNextActions invocation between
// the signal and InitialSync clearing initialSyncAttempt) see a nil attempt
// and no-op.
func (r *Replicator) finishInitialSyncCatchup(status base.Status) {
	r.coreMu.Lock()
	done := r.initialSyncDone
	r.initialSyncAttempt = nil
	r.initialSyncDone = nil
	r.coreMu.Unlock()

	if done != nil {
		done <- status
	}
}

// failInitialSyncAttempt ends the current attempt's catch-up with a
// failure, letting InitialSync's outer loop retry a fresh attempt (a new
// clone) rather than treating the failure as fatal to the whole replicator,
// the way a Steady/Rollback apply failure is treated by abort.
func (r *Replicator) failInitialSyncAttempt(status base.Status) {
	r.finishInitialSyncCatchup(status)
}
