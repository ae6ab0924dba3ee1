package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackendLifecycleFSM_StartsHealthy(t *testing.T) {
	f := NewBackendLifecycleFSM("primary")
	assert.Equal(t, BackendHealthy, f.State())
}

func TestBackendLifecycleFSM_FailoverAndRecoveryPath(t *testing.T) {
	f := NewBackendLifecycleFSM("primary")

	require.NoError(t, f.Transition(EventHealthCheckFailed))
	assert.Equal(t, BackendProbing, f.State())

	require.NoError(t, f.Transition(EventProbePassed))
	assert.Equal(t, BackendRecovering, f.State())

	require.NoError(t, f.Transition(EventSyncConverged))
	assert.Equal(t, BackendHealthy, f.State())
}

func TestBackendLifecycleFSM_ProbeFailureKeepsUnhealthy(t *testing.T) {
	f := NewBackendLifecycleFSM("primary")
	require.NoError(t, f.Transition(EventHealthCheckFailed))
	require.NoError(t, f.Transition(EventProbeFailed))
	assert.Equal(t, BackendUnhealthy, f.State())

	require.NoError(t, f.Transition(EventProbeFailed))
	assert.Equal(t, BackendUnhealthy, f.State())
}

func TestBackendLifecycleFSM_RecoveringDivergesBackToUnhealthy(t *testing.T) {
	f := NewBackendLifecycleFSM("primary")
	require.NoError(t, f.Transition(EventHealthCheckFailed))
	require.NoError(t, f.Transition(EventProbePassed))
	require.NoError(t, f.Transition(EventSyncDiverged))
	assert.Equal(t, BackendUnhealthy, f.State())
}

func TestBackendLifecycleFSM_InvalidTransitionReturnsError(t *testing.T) {
	f := NewBackendLifecycleFSM("primary")
	err := f.Transition(EventSyncConverged)
	require.Error(t, err)

	var transErr *InvalidBackendTransitionError
	require.ErrorAs(t, err, &transErr)
	assert.Equal(t, "primary", transErr.Backend)
	assert.Equal(t, BackendHealthy, transErr.From)
}
