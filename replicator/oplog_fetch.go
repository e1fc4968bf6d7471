package replicator

import (
	"errors"
	"time"

	gometrics "github.com/rcrowley/go-metrics"

	"github.com/syncset/replcore/base"
	"github.com/syncset/replcore/common"
	"github.com/syncset/replcore/service_def"
)

// onOplogFetchFinish is the OplogFetcher's callback. It runs on the
// executor's single run thread, so it must never block: a full buffer is
// handled by admitOplogDocs stashing whatever doesn't fit onto
// pendingOplogDocs and this callback telling the fetcher to stop (NoAction)
// rather than ever calling the buffer's blocking Push from this thread, the
// only thread that could otherwise drain it. ensureOplogFetcher only
// recreates the fetcher once pendingOplogDocs has fully drained, so nothing
// fetched from the source is ever dropped, just deferred.
func (r *Replicator) onOplogFetchFinish(batch common.Batch, err error, next *common.NextAction) {
	if err != nil {
		*next = common.NoAction
		r.handleOplogFetchError(err)
		return
	}

	r.coreMu.Lock()
	pending := r.pendingOplogDocs
	r.coreMu.Unlock()

	docs := make([]base.Document, 0, len(pending)+len(batch.Documents))
	docs = append(docs, pending...)
	docs = append(docs, batch.Documents...)
	r.admitOplogDocs(docs)

	if ts := lastOpTimestamp(batch.Documents); !ts.IsZero() {
		r.coreMu.Lock()
		if r.lastTimestampFetched.Less(ts) {
			r.lastTimestampFetched = ts
		}
		r.coreMu.Unlock()
	} else if len(batch.Documents) > 0 {
		r.logger.Debugf("oplog batch had no document with a ts field")
	}

	r.coreMu.Lock()
	deferred := len(r.pendingOplogDocs) > 0
	r.coreMu.Unlock()

	if deferred {
		*next = common.NoAction
	} else {
		*next = common.GetMore
	}
	r.exec.ScheduleWork(r.doNextActions)
}

// admitOplogDocs pushes docs into the buffer via TryPush in order, stopping
// at the first one that doesn't fit within the byte budget right now. The
// remainder, including the one that failed, is stashed on pendingOplogDocs
// for drainPendingOplogDocs to retry once the applier has freed space,
// preserving order across calls. Returns the number actually admitted.
func (r *Replicator) admitOplogDocs(docs []base.Document) int {
	for i, doc := range docs {
		if !r.buffer.TryPush(doc) {
			r.coreMu.Lock()
			r.pendingOplogDocs = docs[i:]
			r.coreMu.Unlock()
			return i
		}
	}
	r.coreMu.Lock()
	r.pendingOplogDocs = nil
	r.coreMu.Unlock()
	return len(docs)
}

// drainPendingOplogDocs retries admitting documents a previous batch
// couldn't fit into the buffer. ensureOplogFetcher calls it before deciding
// whether to recreate the fetcher, so the fetcher never resumes past
// lastTimestampFetched while documents retrieved before it are still
// waiting for room.
func (r *Replicator) drainPendingOplogDocs() {
	r.coreMu.Lock()
	pending := r.pendingOplogDocs
	r.coreMu.Unlock()
	if len(pending) == 0 {
		return
	}
	r.admitOplogDocs(pending)
}

func (r *Replicator) handleOplogFetchError(err error) {
	if errors.Is(err, base.ErrorCallbackCanceled) {
		return
	}

	r.coreMu.Lock()
	source := r.syncSource
	lastApplied := r.lastTimestampApplied
	r.coreMu.Unlock()

	if errors.Is(err, base.ErrorOplogStartMissing) {
		r.countRotation("oplog_start_missing")
		if r.needToRollback(source, lastApplied) {
			r.coreMu.Lock()
			_ = r.state.Set(common.RollbackState, r.id)
			r.coreMu.Unlock()
		} else {
			if r.coordinator != nil {
				r.coordinator.SetFollowerMode(service_def.FollowerRecovering)
			}
			r.blacklistCurrentSource(r.opts.BlacklistPenaltyForOplogStartMissing)
		}
	} else {
		r.countRotation("network_error")
		r.blacklistCurrentSource(r.opts.BlacklistPenaltyForNetworkConnectionError)
	}

	r.exec.ScheduleWork(r.doNextActions)
}

// needToRollback calls the pluggable FindCommonPointFunc. If it finds a
// shared optime, that becomes rollbackCommonOptime and
// rollback is taken; otherwise the source is simply discarded.
func (r *Replicator) needToRollback(source base.HostPort, lastApplied base.Timestamp) bool {
	if r.findCommonPoint == nil {
		return false
	}
	commonPoint, ok := r.findCommonPoint(source, lastApplied)
	if !ok {
		return false
	}
	r.coreMu.Lock()
	r.rollbackCommonOptime = commonPoint
	r.coreMu.Unlock()
	return true
}

// chooseSyncSource asks the coordinator for a source, falling back to the
// options-configured override when no coordinator is present. An empty
// return means no eligible source right now.
func (r *Replicator) chooseSyncSource() base.HostPort {
	var chosen base.HostPort
	if r.coordinator != nil {
		chosen = r.coordinator.ChooseNewSyncSource()
	} else {
		chosen = r.opts.SyncSourceOverride
	}

	r.coreMu.Lock()
	if until, blacklisted := r.blacklist[chosen]; blacklisted {
		if r.exec.Now().Before(until) {
			r.coreMu.Unlock()
			return base.HostPort{}
		}
		delete(r.blacklist, chosen)
	}
	if !chosen.IsZero() {
		r.syncSource = chosen
	}
	r.coreMu.Unlock()

	return chosen
}

// blacklistCurrentSource records the penalty with the coordinator (if any)
// and clears the local syncSource so the next progress step requests a new
// one.
func (r *Replicator) blacklistCurrentSource(penalty time.Duration) {
	r.coreMu.Lock()
	source := r.syncSource
	until := r.exec.Now().Add(penalty)
	r.blacklist[source] = until
	r.syncSource = base.HostPort{}
	r.coreMu.Unlock()

	if r.coordinator != nil {
		r.coordinator.BlacklistSyncSource(source, until)
	}
}

// countRotation records, by abandonment reason, why a sync source was
// dropped: detect "source no longer viable", react, and count it.
func (r *Replicator) countRotation(reason string) {
	gometrics.GetOrRegisterCounter("syncsource_rotations_"+reason, r.rotations).Inc(1)
}

// RotationCounts returns a snapshot of abandonment-reason counters for
// observability.
func (r *Replicator) RotationCounts() map[string]int64 {
	out := make(map[string]int64)
	r.rotations.Each(func(name string, metric interface{}) {
		if c, ok := metric.(gometrics.Counter); ok {
			out[name] = c.Count()
		}
	})
	return out
}
