package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/cuemby/corral/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestListServicesByTopic(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	for _, svc := range []*types.Service{
		{Host: "host2", Topic: types.TopicCompute, CreatedAt: now},
		{Host: "host1", Topic: types.TopicCompute, CreatedAt: now},
		{Host: "host1", Topic: types.TopicVolume, CreatedAt: now},
		{Host: "host3", Topic: "compute2", CreatedAt: now},
	} {
		require.NoError(t, store.RegisterService(svc))
	}

	compute, err := store.ListServicesByTopic(types.TopicCompute)
	require.NoError(t, err)
	require.Len(t, compute, 2)
	assert.Equal(t, "host1", compute[0].Host, "services are ordered by host")
	assert.Equal(t, "host2", compute[1].Host)

	volume, err := store.ListServicesByTopic(types.TopicVolume)
	require.NoError(t, err)
	assert.Len(t, volume, 1)

	all, err := store.ListServices()
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := store.ListServicesByTopic("network")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestServiceSoftDelete(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	require.NoError(t, store.RegisterService(&types.Service{Host: "host1", Topic: types.TopicCompute, CreatedAt: now}))
	require.NoError(t, store.Heartbeat(types.TopicCompute, "host1", now))
	require.NoError(t, store.DeleteService(types.TopicCompute, "host1", now))

	_, err := store.GetServiceByHostAndTopic("host1", types.TopicCompute)
	assert.True(t, errors.Is(err, ErrNotFound))

	services, err := store.ListServicesByTopic(types.TopicCompute)
	require.NoError(t, err)
	assert.Empty(t, services)

	assert.ErrorIs(t, store.Heartbeat(types.TopicCompute, "host1", now), ErrNotFound)

	// Re-registration revives the record with a fresh report count
	later := now.Add(time.Minute)
	require.NoError(t, store.RegisterService(&types.Service{Host: "host1", Topic: types.TopicCompute, CreatedAt: later}))
	svc, err := store.GetServiceByHostAndTopic("host1", types.TopicCompute)
	require.NoError(t, err)
	assert.Equal(t, 0, svc.ReportCount)
	assert.True(t, svc.CreatedAt.Equal(later))
}

func TestRegisterServiceKeepsDisabled(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	require.NoError(t, store.RegisterService(&types.Service{Host: "host1", Topic: types.TopicCompute, AvailabilityZone: "nova", CreatedAt: now}))
	require.NoError(t, store.SetServiceDisabled(types.TopicCompute, "host1", true))
	require.NoError(t, store.RegisterService(&types.Service{Host: "host1", Topic: types.TopicCompute, AvailabilityZone: "zone2", CreatedAt: now.Add(time.Hour)}))

	svc, err := store.GetServiceByHostAndTopic("host1", types.TopicCompute)
	require.NoError(t, err)
	assert.True(t, svc.Disabled)
	assert.Equal(t, "zone2", svc.AvailabilityZone)
	assert.True(t, svc.CreatedAt.Equal(now))
}

func TestHeartbeat(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	require.NoError(t, store.RegisterService(&types.Service{Host: "host1", Topic: types.TopicCompute, CreatedAt: now}))
	require.NoError(t, store.Heartbeat(types.TopicCompute, "host1", now.Add(time.Second)))
	require.NoError(t, store.Heartbeat(types.TopicCompute, "host1", now.Add(2*time.Second)))

	svc, err := store.GetServiceByHostAndTopic("host1", types.TopicCompute)
	require.NoError(t, err)
	assert.Equal(t, 2, svc.ReportCount)
	assert.True(t, svc.LastHeartbeat().Equal(now.Add(2*time.Second)))

	assert.ErrorIs(t, store.Heartbeat(types.TopicCompute, "missing", now), ErrNotFound)
}

func TestSumActiveResource(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	instances := []*types.Instance{
		{ID: "i-1", Host: "host1", VCPUs: 1, State: types.InstanceStateRunning},
		{ID: "i-2", Host: "host1", VCPUs: 2, State: types.InstanceStateRunning},
		{ID: "i-3", Host: "host1", VCPUs: 4, State: types.InstanceStateTerminated},
		{ID: "i-4", Host: "host2", VCPUs: 8, State: types.InstanceStateRunning},
		{ID: "i-5", VCPUs: 16, State: types.InstanceStatePending},
	}
	for _, inst := range instances {
		require.NoError(t, store.CreateInstance(inst))
	}
	volumes := []*types.Volume{
		{ID: "v-1", Host: "host1", SizeGB: 10, Status: types.VolumeStatusAvailable},
		{ID: "v-2", Host: "host1", SizeGB: 5, Status: types.VolumeStatusDeleted},
	}
	for _, vol := range volumes {
		require.NoError(t, store.CreateVolume(vol))
	}

	tests := []struct {
		name     string
		host     string
		kind     types.ResourceKind
		expected int
	}{
		{name: "cores skip terminated", host: "host1", kind: types.ResourceCores, expected: 3},
		{name: "cores other host", host: "host2", kind: types.ResourceCores, expected: 8},
		{name: "cores idle host", host: "host3", kind: types.ResourceCores, expected: 0},
		{name: "gigabytes skip deleted", host: "host1", kind: types.ResourceGigabytes, expected: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			used, err := store.SumActiveResource(tt.host, tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, used)
		})
	}

	_, err := store.SumActiveResource("host1", "bandwidth")
	assert.Error(t, err)

	// Assignment moves the pending instance onto host2
	require.NoError(t, store.AssignInstance("i-5", "host2", types.InstanceStateRunning, now))
	used, err := store.SumActiveResource("host2", types.ResourceCores)
	require.NoError(t, err)
	assert.Equal(t, 24, used)

	assert.ErrorIs(t, store.AssignVolume("v-missing", "host1", types.VolumeStatusAvailable, now), ErrNotFound)
}
