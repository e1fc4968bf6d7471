package replicator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syncset/replcore/base"
	"github.com/syncset/replcore/common"
)

func TestHandleFailedApplyBatchAbortsInSteady(t *testing.T) {
	exec := &fakeExecutor{}
	coord := &fakeCoordinator{}
	r := newTestReplicator(t, exec, coord, testOpts(noopApply))
	require.NoError(t, r.state.Set(common.Steady, r.id))

	failStatus := base.NewStatus(base.StatusInternalError, "disk full", base.ErrorInvalidInput)
	ops := []base.Document{{"ts": base.Timestamp{Seconds: 1}}}
	r.handleFailedApplyBatch(failStatus, ops)

	r.coreMu.Lock()
	shuttingDown := r.shuttingDown
	r.coreMu.Unlock()
	require.True(t, shuttingDown, "a fatal apply failure in Steady must abort rather than continue silently")
	require.Equal(t, failStatus, r.FatalStatus())
	require.True(t, r.onShutdown.IsSignaled(), "abort must still drain to onShutdown with no handles active")
	require.Equal(t, common.Shutdown, r.State(), "abort must be visible through State(), not just the internal shuttingDown flag")
}

func TestHandleFailedApplyBatchAbortsInRollback(t *testing.T) {
	exec := &fakeExecutor{}
	coord := &fakeCoordinator{}
	r := newTestReplicator(t, exec, coord, testOpts(noopApply))
	require.NoError(t, r.state.Set(common.InitialSync, r.id))
	require.NoError(t, r.state.Set(common.RollbackState, r.id))

	failStatus := base.NewStatus(base.StatusInternalError, "write conflict", base.ErrorInvalidInput)
	r.handleFailedApplyBatch(failStatus, []base.Document{{"ts": base.Timestamp{Seconds: 1}}})

	require.True(t, r.FatalStatus().Err != nil)
	r.coreMu.Lock()
	shuttingDown := r.shuttingDown
	r.coreMu.Unlock()
	require.True(t, shuttingDown)
}

func TestHandleFailedApplyBatchFailsAttemptInsteadOfAbortingDuringInitialSync(t *testing.T) {
	exec := &fakeExecutor{}
	coord := &fakeCoordinator{}
	r := newTestReplicator(t, exec, coord, testOpts(noopApply))
	require.NoError(t, r.state.Set(common.InitialSync, r.id))

	done := make(chan base.Status, 1)
	r.coreMu.Lock()
	r.initialSyncDone = done
	r.coreMu.Unlock()

	failStatus := base.NewStatus(base.StatusInternalError, "bad batch", base.ErrorInvalidInput)
	r.handleFailedApplyBatch(failStatus, []base.Document{{"ts": base.Timestamp{Seconds: 1}}})

	select {
	case got := <-done:
		require.Equal(t, failStatus, got)
	default:
		t.Fatal("expected failInitialSyncAttempt to signal initialSyncDone")
	}

	r.coreMu.Lock()
	shuttingDown := r.shuttingDown
	r.coreMu.Unlock()
	require.False(t, shuttingDown, "a recoverable-by-retry initial sync failure must not abort the whole core")
}

func TestFetchMissingDocAndRetryRequeuesWholeBatchThroughScheduleDBWork(t *testing.T) {
	exec := &fakeExecutor{}
	coord := &fakeCoordinator{}
	storage := &fakeStorage{}

	fetchedNs := base.Namespace{DB: "app", Collection: "users"}
	fetchedDoc := base.Document{"_id": "u1", "name": "restored"}

	r, err := NewReplicator("r-missing-doc", Deps{
		Executor:        exec,
		Coordinator:     coord,
		Storage:         storage,
		ApplierFactory:  fakeApplierFactory(),
		ReporterFactory: fakeReporterFactory(),
		FetchMissingDoc: func(ns base.Namespace, id interface{}) (base.Document, error) {
			require.Equal(t, fetchedNs, ns)
			require.Equal(t, "u1", id)
			return fetchedDoc, nil
		},
	}, testOpts(noopApply))
	require.NoError(t, err)
	require.NoError(t, r.state.Set(common.InitialSync, r.id))

	ops := []base.Document{
		{"ts": base.Timestamp{Seconds: 1}, "op": "u"},
		{"ts": base.Timestamp{Seconds: 2}, "op": "u"},
	}
	missingErr := &base.MissingDocError{Ns: fetchedNs, ID: "u1"}
	status := base.NewStatus(base.StatusInternalError, "missing referenced document", missingErr)

	r.handleFailedApplyBatch(status, ops)

	require.False(t, r.shuttingDown, "a missing-document failure during initial sync is recoverable, not fatal")
	require.Len(t, storage.insertedDocs, 1)
	require.Equal(t, fetchedDoc, storage.insertedDocs[0])

	require.Len(t, exec.dbWorkCalls, 1)
	require.Equal(t, fetchedNs, exec.dbWorkCalls[0].Ns)
	require.Equal(t, base.LockModeIX, exec.dbWorkCalls[0].LockMode)

	docs, _ := r.buffer.Size()
	require.Equal(t, len(ops), docs, "the whole failed batch must be requeued, not just the missing document")
}

func TestFetchMissingDocAndRetryFailsAttemptWhenFetchFails(t *testing.T) {
	exec := &fakeExecutor{}
	coord := &fakeCoordinator{}

	r, err := NewReplicator("r-missing-doc-fail", Deps{
		Executor:        exec,
		Coordinator:     coord,
		Storage:         &fakeStorage{},
		ApplierFactory:  fakeApplierFactory(),
		ReporterFactory: fakeReporterFactory(),
		FetchMissingDoc: func(ns base.Namespace, id interface{}) (base.Document, error) {
			return nil, base.ErrorMissingDocNotFound
		},
	}, testOpts(noopApply))
	require.NoError(t, err)
	require.NoError(t, r.state.Set(common.InitialSync, r.id))

	done := make(chan base.Status, 1)
	r.coreMu.Lock()
	r.initialSyncDone = done
	r.coreMu.Unlock()

	missingErr := &base.MissingDocError{Ns: base.Namespace{DB: "app", Collection: "users"}, ID: "u1"}
	status := base.NewStatus(base.StatusInternalError, "missing referenced document", missingErr)

	r.handleFailedApplyBatch(status, []base.Document{{"ts": base.Timestamp{Seconds: 1}}})

	select {
	case <-done:
	default:
		t.Fatal("expected failInitialSyncAttempt to signal initialSyncDone")
	}

	r.coreMu.Lock()
	shuttingDown := r.shuttingDown
	r.coreMu.Unlock()
	require.False(t, shuttingDown, "an unfetchable missing document during initial sync fails the attempt, not the core")
}

func TestHandleFailedApplyBatchAbortsOnMissingDocErrorOutsideInitialSync(t *testing.T) {
	exec := &fakeExecutor{}
	coord := &fakeCoordinator{}
	r := newTestReplicator(t, exec, coord, testOpts(noopApply))
	require.NoError(t, r.state.Set(common.Steady, r.id))

	missingErr := &base.MissingDocError{Ns: base.Namespace{DB: "app", Collection: "users"}, ID: "u1"}
	status := base.NewStatus(base.StatusInternalError, "missing referenced document", missingErr)

	r.handleFailedApplyBatch(status, []base.Document{{"ts": base.Timestamp{Seconds: 1}}})

	require.Empty(t, exec.dbWorkCalls, "missing-document recovery is initial-sync only, must not run in Steady")
	r.coreMu.Lock()
	shuttingDown := r.shuttingDown
	r.coreMu.Unlock()
	require.True(t, shuttingDown, "a fatal apply failure in Steady must abort even when it's a missing-document error")
}
