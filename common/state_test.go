package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplicatorStateHolderAllowsDocumentedTransitions(t *testing.T) {
	cases := []struct {
		from, to ReplicatorState
	}{
		{Uninitialized, InitialSync},
		{Uninitialized, Steady},
		{InitialSync, Steady},
		{InitialSync, RollbackState},
		{InitialSync, Uninitialized},
		{Steady, RollbackState},
		{Steady, InitialSync},
		{RollbackState, InitialSync},
	}

	for _, c := range cases {
		var h ReplicatorStateHolder
		if c.from == RollbackState {
			// Rollback is only reachable from a running state, not directly
			// from the zero-value Uninitialized.
			require.NoError(t, h.Set(Steady, "id"))
		}
		require.NoError(t, h.Set(c.from, "id"))
		require.NoError(t, h.Set(c.to, "id"), "%v -> %v should be legal", c.from, c.to)
	}
}

func TestReplicatorStateHolderRejectsIllegalTransition(t *testing.T) {
	var h ReplicatorStateHolder
	require.NoError(t, h.Set(Steady, "id"))

	err := h.Set(Shutdown, "id")
	require.Error(t, err)
	require.Equal(t, Steady, h.Get(), "state must not change on a rejected transition")
}

func TestReplicatorStateHolderSameStateIsNoop(t *testing.T) {
	var h ReplicatorStateHolder
	require.NoError(t, h.Set(Steady, "id"))
	require.NoError(t, h.Set(Steady, "id"))
	require.Equal(t, Steady, h.Get())
}

func TestReplicatorStateHolderZeroValueStartsUninitialized(t *testing.T) {
	var h ReplicatorStateHolder
	require.Equal(t, Uninitialized, h.Get())
}
