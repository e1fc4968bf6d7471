package replicator

import (
	"github.com/syncset/replcore/base"
	"github.com/syncset/replcore/common"
	"github.com/syncset/replcore/fetcher"
)

// doNextActions is the single serialization point for state advancement:
// always runs on the executor's run thread, asserted on entry.
func (r *Replicator) doNextActions() {
	if !r.exec.IsRunThread() {
		r.logger.Errorf("doNextActions called off the run thread")
		return
	}

	r.coreMu.Lock()
	shuttingDown := r.shuttingDown
	noHandlesActive := !r.anyHandleActiveLocked()
	state := r.state.Get()
	paused := r.paused
	r.coreMu.Unlock()

	if shuttingDown {
		if noHandlesActive {
			r.coreMu.Lock()
			_ = r.state.Set(common.Shutdown, r.id)
			ev := r.onShutdown
			r.coreMu.Unlock()
			if ev != nil {
				ev.Signal()
			}
		}
		return
	}

	switch state {
	case common.RollbackState:
		r.rollbackProgress()
	case common.InitialSync:
		r.initialSyncProgress()
	case common.Steady:
		if !paused {
			r.steadyProgress()
		}
	}
}

func (r *Replicator) anyHandleActiveLocked() bool {
	if r.oplogFetcher != nil && r.oplogFetcher.IsActive() {
		return true
	}
	if r.applier != nil && r.applier.IsActive() {
		return true
	}
	if r.reporter != nil && r.reporter.IsActive() {
		return true
	}
	return false
}

// rollbackProgress is the Rollback half of the dispatcher. The rollback
// algorithm itself is out of scope; this only logs the common optime.
// Nothing in this core moves the state out of Rollback except Shutdown:
// Start is rejected from Rollback, and the state table has no
// Rollback -> Steady transition.
func (r *Replicator) rollbackProgress() {
	r.logger.Debugf("rollback in progress against common optime %v; algorithm is out of scope, awaiting external completion", r.rollbackCommonOptime)
}

// steadyProgress is the steady-state half of the dispatcher: ensure a sync
// source, ensure an active oplog fetcher, kick the
// applier if idle and the buffer is non-empty, and recreate the reporter if
// it's missing or errored.
func (r *Replicator) steadyProgress() {
	r.coreMu.Lock()
	source := r.syncSource
	r.coreMu.Unlock()

	if source.IsZero() {
		newSource := r.chooseSyncSource()
		if newSource.IsZero() {
			r.exec.ScheduleWorkAt(r.exec.Now().Add(r.opts.SyncSourceRetryWait), r.doNextActions)
			return
		}
		source = newSource
	}

	r.ensureOplogFetcher(source)
	r.maybeKickApplier()
	r.maybeRecreateReporter(source)
}

func (r *Replicator) ensureOplogFetcher(source base.HostPort) {
	r.drainPendingOplogDocs()

	r.coreMu.Lock()
	if len(r.pendingOplogDocs) > 0 {
		r.coreMu.Unlock()
		return
	}
	if r.oplogFetcher != nil && r.oplogFetcher.IsActive() {
		r.coreMu.Unlock()
		return
	}

	startTs := r.lastTimestampFetched
	if startTs.IsZero() && r.coordinator != nil {
		startTs = r.coordinator.GetMyLastOptime().Ts
	}
	if startTs.IsZero() {
		startTs = r.opts.StartOptime.Ts
	}

	of := fetcher.NewOplogFetcher(r.exec, source, r.opts.OplogNamespace, startTs, r.onOplogFetchFinish)
	r.oplogFetcher = of
	r.coreMu.Unlock()

	if err := of.Schedule(); err != nil {
		r.logger.Errorf("failed to schedule oplog fetcher: %v", err)
	}
}

func (r *Replicator) maybeKickApplier() {
	r.coreMu.Lock()
	if r.applierActive {
		r.coreMu.Unlock()
		return
	}
	docs, _ := r.buffer.Size()
	if docs == 0 {
		r.coreMu.Unlock()
		return
	}
	r.coreMu.Unlock()

	r.getNextApplierBatchAndRun()
}

func (r *Replicator) maybeRecreateReporter(source base.HostPort) {
	r.coreMu.Lock()
	needsNew := r.reporter == nil || !r.reporter.GetStatus().OK()
	factory := r.reporterFactory
	coord := r.coordinator
	r.coreMu.Unlock()

	if !needsNew || factory == nil {
		return
	}

	rep := factory(r.exec, coord, source)
	r.coreMu.Lock()
	r.reporter = rep
	r.coreMu.Unlock()
	rep.Trigger()
}
