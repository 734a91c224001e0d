package persistence

import (
	"path/filepath"
	"testing"

	"github.com/cuemby/warden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadServiceRoundTrips(t *testing.T) {
	s := openTestStore(t)
	st := ServiceState{State: types.StateYes, PID: 4242, ErrorBits: 0x2, RestartAttempts: 3}
	require.NoError(t, s.SaveService("nginx", st))

	got, found, err := s.LoadService("nginx")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, st, got)
}

func TestLoadServiceMissingReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, found, err := s.LoadService("ghost")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLoadAllReturnsEveryPersistedService(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveService("a", ServiceState{PID: 1}))
	require.NoError(t, s.SaveService("b", ServiceState{PID: 2}))

	all, err := s.LoadAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 1, all["a"].PID)
	assert.Equal(t, 2, all["b"].PID)
}

func TestDeleteServiceRemovesEntry(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveService("nginx", ServiceState{PID: 1}))
	require.NoError(t, s.DeleteService("nginx"))

	_, found, err := s.LoadService("nginx")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSnapshotAndApplyRoundTripServiceFields(t *testing.T) {
	svc := &types.Service{Name: "nginx", State: types.StateYes, PID: 99, ErrorBits: 0x1, RestartAttempts: 2}
	st := Snapshot(svc)

	restored := &types.Service{Name: "nginx"}
	Apply(restored, st)
	assert.Equal(t, svc.State, restored.State)
	assert.Equal(t, svc.PID, restored.PID)
	assert.Equal(t, svc.ErrorBits, restored.ErrorBits)
	assert.Equal(t, svc.RestartAttempts, restored.RestartAttempts)
}

func TestEnsureIdentityGeneratesOnceThenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id")
	first, err := EnsureIdentity(path)
	require.NoError(t, err)
	assert.Len(t, first, 32, "md5 hex digest is 32 characters")

	second, err := EnsureIdentity(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResetIdentityChangesToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id")
	first, err := EnsureIdentity(path)
	require.NoError(t, err)

	second, err := ResetIdentity(path)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	third, err := EnsureIdentity(path)
	require.NoError(t, err)
	assert.Equal(t, second, third)
}

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.pid")
	require.NoError(t, WritePID(path, 1234))

	pid, err := ReadPID(path)
	require.NoError(t, err)
	assert.Equal(t, 1234, pid)

	require.NoError(t, RemovePID(path))
	_, err = ReadPID(path)
	assert.Error(t, err)
}

func TestDetectRebootFalseOnSecondCallWithinSameBoot(t *testing.T) {
	s := openTestStore(t)
	first, err := s.DetectReboot()
	require.NoError(t, err)
	assert.True(t, first, "first observation of a boot must report true")

	second, err := s.DetectReboot()
	require.NoError(t, err)
	assert.False(t, second, "the same boot observed again must not re-trigger")
}
