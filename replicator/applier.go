package replicator

import (
	"errors"

	"github.com/syncset/replcore/base"
	"github.com/syncset/replcore/common"
)

// getNextApplierBatchAndRun drains the buffer into one ordered batch bounded
// by ApplyBatchMaxDocs/ApplyBatchMaxBytes and hands it to a fresh Applier.
// applierActive guards re-entry: at most one batch is ever in flight.
func (r *Replicator) getNextApplierBatchAndRun() {
	r.coreMu.Lock()
	if r.applierActive {
		r.coreMu.Unlock()
		return
	}
	batch := r.buffer.PopBatch(r.opts.ApplyBatchMaxDocs, r.opts.ApplyBatchMaxBytes)
	if len(batch) == 0 {
		r.coreMu.Unlock()
		return
	}
	r.applierActive = true
	factory := r.applierFactory
	apply := r.opts.ApplyFunc
	r.coreMu.Unlock()

	if factory == nil {
		r.onApplyBatchFinish(base.Ok(), batch)
		return
	}

	a := factory(r.exec, batch, apply, r.onApplyBatchFinish)
	r.coreMu.Lock()
	r.applier = a
	r.coreMu.Unlock()

	if err := a.Start(); err != nil {
		r.onApplyBatchFinish(base.StatusFromErr("applier failed to start", err), batch)
	}
}

// onApplyBatchFinish is the Applier's DoneCallback. On success it advances
// lastTimestampApplied, reports to the coordinator, triggers the reporter,
// and re-enters the dispatcher. On failure it hands off to
// handleFailedApplyBatch.
func (r *Replicator) onApplyBatchFinish(status base.Status, ops []base.Document) {
	r.coreMu.Lock()
	r.applierActive = false
	r.coreMu.Unlock()

	if !status.OK() {
		r.handleFailedApplyBatch(status, ops)
		return
	}

	if ts := lastOpTimestamp(ops); !ts.IsZero() {
		r.coreMu.Lock()
		if r.lastTimestampApplied.Less(ts) {
			r.lastTimestampApplied = ts
		}
		coord := r.coordinator
		attempt := r.initialSyncAttempt
		r.coreMu.Unlock()

		if coord != nil {
			coord.SetMyLastOptime(base.OpTime{Ts: ts})
		}
		if attempt != nil {
			attempt.AppliedOps.Add(int64(len(ops)))
		}
	}

	r.coreMu.Lock()
	rep := r.reporter
	r.coreMu.Unlock()
	if rep != nil {
		rep.Trigger()
	}

	r.exec.ScheduleWork(r.doNextActions)
}

func lastOpTimestamp(ops []base.Document) base.Timestamp {
	var last base.Timestamp
	for _, op := range ops {
		if ts, ok := op.Ts(); ok {
			last = ts
		}
	}
	return last
}

// handleFailedApplyBatch branches on the replicator's current state first,
// not on the shape of the error: missing-document recovery is an initial-sync
// only allowance (a fatal apply failure in Steady/Rollback always aborts the
// process, whatever error it carries). Within InitialSync, a
// *base.MissingDocError is retried in place via fetchMissingDocAndRetry;
// anything else during InitialSync fails just the current attempt so the
// outer retry loop redoes the clone.
func (r *Replicator) handleFailedApplyBatch(status base.Status, ops []base.Document) {
	r.coreMu.Lock()
	state := r.state.Get()
	r.coreMu.Unlock()

	if state == common.InitialSync {
		var missingDoc *base.MissingDocError
		if status.Err != nil && errors.As(status.Err, &missingDoc) {
			r.fetchMissingDocAndRetry(missingDoc, ops)
			return
		}

		r.logger.Errorf("apply batch failed during initial sync: %v", status)
		r.failInitialSyncAttempt(status)
		return
	}

	r.logger.Errorf("apply batch failed: %v", status)
	r.abort(status)
}

// fetchMissingDocAndRetry fetches the document a failed apply referenced and
// inserts it through Executor.ScheduleDBWork under an intent-exclusive lock
// on its namespace, then requeues the whole failed batch ahead of the
// buffer for another apply pass, rather than retrying just the one
// document. The fetch and the insert both run inside the scheduled work, so
// a concrete Executor that runs ScheduleDBWork off a worker rather than
// inline never blocks the run thread on the out-of-band read. Only reachable
// from handleFailedApplyBatch while in InitialSync, so its own failure paths
// fail the current attempt rather than abort the whole core, matching every
// other non-recoverable error during initial sync.
func (r *Replicator) fetchMissingDocAndRetry(missingDoc *base.MissingDocError, ops []base.Document) {
	r.coreMu.Lock()
	fetch := r.fetchMissingDoc
	storage := r.storage
	attempt := r.initialSyncAttempt
	r.coreMu.Unlock()

	if fetch == nil {
		r.failInitialSyncAttempt(base.NewStatus(base.StatusInternalError,
			"apply batch referenced a missing document but no FetchMissingDoc hook is configured", missingDoc))
		return
	}

	r.exec.ScheduleDBWork(func() {
		doc, err := fetch(missingDoc.Ns, missingDoc.ID)
		if err != nil {
			r.failInitialSyncAttempt(base.StatusFromErr("failed to fetch document referenced by a failed apply batch", err))
			return
		}

		if storage != nil {
			if err := storage.InsertMissingDoc(nil, missingDoc.Ns, doc); err != nil {
				r.failInitialSyncAttempt(base.StatusFromErr("failed to insert document fetched for a failed apply batch", err))
				return
			}
		}

		if attempt != nil {
			attempt.FetchedMissingDocs.Add(1)
		}

		r.buffer.PushFront(ops)
		r.exec.ScheduleWork(r.doNextActions)
	}, missingDoc.Ns, base.LockModeIX)
}

// abort moves the core straight to shutdown following a fatal, unrecoverable
// apply failure in Steady or Rollback: cancels every owned handle and
// schedules the same drain-and-signal doNextActions performs for Shutdown,
// but records the triggering status in fatalStatus first. It never blocks,
// since it runs on the run thread itself, inside the applier's failure
// callback.
func (r *Replicator) abort(status base.Status) {
	r.coreMu.Lock()
	if r.shuttingDown {
		r.coreMu.Unlock()
		return
	}
	r.fatalStatus = status
	r.shuttingDown = true
	_ = r.state.Set(common.ShuttingDown, r.id)
	r.onShutdown = r.exec.MakeEvent()

	if r.oplogFetcher != nil {
		r.oplogFetcher.Cancel()
	}
	if r.applier != nil {
		r.applier.Cancel()
	}
	if r.reporter != nil {
		r.reporter.Cancel()
	}
	r.coreMu.Unlock()

	r.logger.Errorf("aborting replication after unrecoverable apply failure: %v", status)
	r.exec.ScheduleWork(r.doNextActions)
}
