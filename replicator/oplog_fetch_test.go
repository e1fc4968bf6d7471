package replicator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syncset/replcore/base"
)

// TestAdmitOplogDocsDefersRatherThanBlocksOnFullBuffer is the regression
// test for the run-thread deadlock a blocking Push used to risk: admission
// must stop and stash the remainder rather than wait for room that nothing
// else can free from this same thread.
func TestAdmitOplogDocsDefersRatherThanBlocksOnFullBuffer(t *testing.T) {
	doc := base.Document{"ts": base.Timestamp{Seconds: 1}}
	capBytes := doc.Size()

	exec := &fakeExecutor{}
	coord := &fakeCoordinator{}
	opts := testOpts(noopApply)
	opts.OplogBufferCapBytes = capBytes
	r := newTestReplicator(t, exec, coord, opts)

	docs := []base.Document{
		{"ts": base.Timestamp{Seconds: 1}},
		{"ts": base.Timestamp{Seconds: 2}},
		{"ts": base.Timestamp{Seconds: 3}},
	}

	admitted := r.admitOplogDocs(docs)
	require.Equal(t, 1, admitted, "only the first document fits within the cap")

	n, _ := r.buffer.Size()
	require.Equal(t, 1, n)

	r.coreMu.Lock()
	pending := r.pendingOplogDocs
	r.coreMu.Unlock()
	require.Len(t, pending, 2, "the rest of the batch must be deferred, not dropped")
	require.Equal(t, docs[1], pending[0])
	require.Equal(t, docs[2], pending[1])
}

func TestDrainPendingOplogDocsRetriesOnceRoomFrees(t *testing.T) {
	doc := base.Document{"ts": base.Timestamp{Seconds: 1}}
	capBytes := doc.Size()

	exec := &fakeExecutor{}
	coord := &fakeCoordinator{}
	opts := testOpts(noopApply)
	opts.OplogBufferCapBytes = capBytes
	r := newTestReplicator(t, exec, coord, opts)

	docs := []base.Document{
		{"ts": base.Timestamp{Seconds: 1}},
		{"ts": base.Timestamp{Seconds: 2}},
	}
	require.Equal(t, 1, r.admitOplogDocs(docs))

	r.drainPendingOplogDocs()
	r.coreMu.Lock()
	stillPending := len(r.pendingOplogDocs)
	r.coreMu.Unlock()
	require.Equal(t, 1, stillPending, "draining without freeing room changes nothing")

	_, ok := r.buffer.TryPop()
	require.True(t, ok)

	r.drainPendingOplogDocs()
	r.coreMu.Lock()
	stillPending = len(r.pendingOplogDocs)
	r.coreMu.Unlock()
	require.Equal(t, 0, stillPending, "freeing one slot admits the deferred document")

	n, _ := r.buffer.Size()
	require.Equal(t, 1, n)
}

func TestEnsureOplogFetcherDefersCreationWhilePendingDocsOutstanding(t *testing.T) {
	doc := base.Document{"ts": base.Timestamp{Seconds: 1}}
	capBytes := doc.Size()

	exec := &fakeExecutor{}
	coord := &fakeCoordinator{source: base.HostPort{Host: "source1", Port: 27017}}
	opts := testOpts(noopApply)
	opts.OplogBufferCapBytes = capBytes
	r := newTestReplicator(t, exec, coord, opts)

	docs := []base.Document{
		{"ts": base.Timestamp{Seconds: 1}},
		{"ts": base.Timestamp{Seconds: 2}},
	}
	require.Equal(t, 1, r.admitOplogDocs(docs))

	r.ensureOplogFetcher(coord.source)
	require.Nil(t, r.oplogFetcher, "a new fetcher must not start while a deferred backlog remains")

	_, ok := r.buffer.TryPop()
	require.True(t, ok)

	r.ensureOplogFetcher(coord.source)
	require.NotNil(t, r.oplogFetcher, "once the backlog drains, the fetcher may be (re)created")
}
