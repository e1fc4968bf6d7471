package fetcher

import (
	"github.com/syncset/replcore/base"
	"github.com/syncset/replcore/common"
	"github.com/syncset/replcore/log"
	"github.com/syncset/replcore/service_def"
)

// OplogFetcherCallback receives each validated batch, or ErrOplogStartMissing
// if the first batch didn't start exactly where requested.
type OplogFetcherCallback func(batch common.Batch, err error, next *common.NextAction)

// OplogFetcher wraps a QueryFetcher against the oplog namespace and
// validates the first batch: if it's empty or its first document's ts
// doesn't match startTs, the requested start point no longer exists
// upstream. The fetcher cancels its cursor and reports
// base.ErrorOplogStartMissing instead of the batch.
//
// This mirrors a change-stream rollback handshake: "the cursor's start
// point is gone, the caller must decide whether to roll back".
type OplogFetcher struct {
	inner     *QueryFetcher
	startTs   base.Timestamp
	firstSeen bool
	cb        OplogFetcherCallback
	logger    *log.CommonLogger

	// AwaitData/OplogReplay are carried on the find command builder but
	// given no special handling by this core; TODO: await-data tailing
	// semantics belong to the transport, not this adapter.
	AwaitData   bool
	OplogReplay bool
}

func NewOplogFetcher(exec service_def.Executor, source base.HostPort, oplogNs base.Namespace, startTs base.Timestamp, cb OplogFetcherCallback) *OplogFetcher {
	of := &OplogFetcher{
		startTs: startTs,
		cb:      cb,
		logger:  log.NewLogger("OplogFetcher", nil),
	}

	cmd := map[string]interface{}{
		"find":        oplogNs.Collection,
		"filter":      map[string]interface{}{"ts": map[string]interface{}{"$gte": startTs}},
		"awaitData":   of.AwaitData,
		"oplogReplay": of.OplogReplay,
	}

	of.inner = NewQueryFetcher(exec, source, oplogNs.DB, cmd, of.onBatch)
	return of
}

func (of *OplogFetcher) onBatch(batch common.Batch, next *common.NextAction) error {
	if !of.firstSeen {
		of.firstSeen = true
		if len(batch.Documents) == 0 || !firstDocMatches(batch.Documents[0], of.startTs) {
			*next = common.NoAction
			of.inner.Cancel()
			of.cb(common.Batch{}, base.ErrorOplogStartMissing, next)
			return nil
		}
	}

	*next = common.GetMore
	of.cb(batch, nil, next)
	return nil
}

func firstDocMatches(doc base.Document, startTs base.Timestamp) bool {
	ts, ok := doc.Ts()
	return ok && ts.Compare(startTs) == 0
}

func (of *OplogFetcher) Schedule() error { return of.inner.Schedule() }
func (of *OplogFetcher) Cancel()         { of.inner.Cancel() }
func (of *OplogFetcher) Wait()           { of.inner.Wait() }
func (of *OplogFetcher) IsActive() bool  { return of.inner.IsActive() }
