package monitor

import (
	"testing"
	"time"

	"github.com/cuemby/corral/pkg/events"
	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/scheduler"
	"github.com/cuemby/corral/pkg/storage"
	"github.com/cuemby/corral/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckReportsTransitions(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	now := start
	liveness := scheduler.NewLiveness(store, time.Minute, func() time.Time { return now })

	require.NoError(t, store.RegisterService(&types.Service{Host: "host1", Topic: types.TopicCompute, AvailabilityZone: "nova", CreatedAt: start}))
	require.NoError(t, store.RegisterService(&types.Service{Host: "host2", Topic: types.TopicCompute, AvailabilityZone: "nova", CreatedAt: start, Disabled: true}))

	mon := NewMonitor(liveness, time.Hour)

	transitions, err := mon.Check()
	require.NoError(t, err)
	assert.Equal(t, []Transition{{Topic: types.TopicCompute, Host: "host2", Up: false}}, transitions,
		"new services are reported only when down")

	transitions, err = mon.Check()
	require.NoError(t, err)
	assert.Empty(t, transitions)

	// host1 stops heartbeating
	now = start.Add(2 * time.Minute)
	transitions, err = mon.Check()
	require.NoError(t, err)
	assert.Equal(t, []Transition{{Topic: types.TopicCompute, Host: "host1", Up: false}}, transitions)

	// host1 reports again and host2 is enabled
	require.NoError(t, store.Heartbeat(types.TopicCompute, "host1", now))
	require.NoError(t, store.Heartbeat(types.TopicCompute, "host2", now))
	require.NoError(t, store.SetServiceDisabled(types.TopicCompute, "host2", false))
	transitions, err = mon.Check()
	require.NoError(t, err)
	assert.ElementsMatch(t, []Transition{
		{Topic: types.TopicCompute, Host: "host1", Up: true},
		{Topic: types.TopicCompute, Host: "host2", Up: true},
	}, transitions)
}

func TestMonitorStartStop(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	mon := NewMonitor(scheduler.NewLiveness(store, time.Minute, nil), 10*time.Millisecond)
	mon.Start()
	time.Sleep(30 * time.Millisecond)
	mon.Stop()
	mon.Stop()
}

func TestCheckPublishesEvents(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	now := start
	require.NoError(t, store.RegisterService(&types.Service{Host: "host1", Topic: types.TopicCompute, AvailabilityZone: "nova", CreatedAt: start}))

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	mon := NewMonitor(scheduler.NewLiveness(store, time.Minute, func() time.Time { return now }), time.Hour)
	mon.SetEvents(broker)

	_, err = mon.Check()
	require.NoError(t, err)
	now = start.Add(2 * time.Minute)
	_, err = mon.Check()
	require.NoError(t, err)

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventHostDown, ev.Type)
		assert.Equal(t, "host1", ev.Metadata["host"])
		assert.Equal(t, "nova", ev.Metadata["zone"])
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
}

func TestCheckForgetsDeletedServices(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.RegisterService(&types.Service{Host: "vol1", Topic: types.TopicVolume, AvailabilityZone: "nova", CreatedAt: now}))

	mon := NewMonitor(scheduler.NewLiveness(store, time.Minute, func() time.Time { return now }), time.Hour)
	_, err = mon.Check()
	require.NoError(t, err)
	assert.Len(t, mon.last, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HostsUp.WithLabelValues(types.TopicVolume)))

	require.NoError(t, store.DeleteService(types.TopicVolume, "vol1", now))
	transitions, err := mon.Check()
	require.NoError(t, err)
	assert.Empty(t, transitions)
	assert.Empty(t, mon.last)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.HostsUp.WithLabelValues(types.TopicVolume)))
}
