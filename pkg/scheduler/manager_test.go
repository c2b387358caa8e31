package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/corral/pkg/events"
	"github.com/cuemby/corral/pkg/rpc"
	"github.com/cuemby/corral/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inbox records the casts delivered to one worker address
type inbox struct {
	mu   sync.Mutex
	msgs []*rpc.Message
}

func (i *inbox) handle(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.msgs = append(i.msgs, msg)
	return nil, nil
}

func (i *inbox) messages() []*rpc.Message {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]*rpc.Message(nil), i.msgs...)
}

func newTestManager(t *testing.T, driver Driver) (*Manager, *rpc.MemoryBus) {
	t.Helper()
	bus := rpc.NewMemoryBus()
	t.Cleanup(func() { bus.Close() })

	mgr := NewManager(driver, bus)
	require.NoError(t, mgr.Start())
	t.Cleanup(func() { mgr.Stop() })
	return mgr, bus
}

func listen(t *testing.T, bus rpc.Bus, addr string) *inbox {
	t.Helper()
	in := &inbox{}
	_, err := bus.Subscribe(addr, in.handle)
	require.NoError(t, err)
	return in
}

func TestManagerForwardsToChosenHost(t *testing.T) {
	store := newTestStore(t)
	addService(t, store, types.TopicCompute, "host1", "nova", 0, false)
	addService(t, store, types.TopicCompute, "host2", "nova", 0, false)
	addLoad(t, store, "host1", 1)
	addPending(t, store, "i-1", 1, "")

	_, bus := newTestManager(t, newTestDriver(t, store, DriverSimple, nil))
	host1 := listen(t, bus, rpc.Address(types.TopicCompute, "host1"))
	host2 := listen(t, bus, rpc.Address(types.TopicCompute, "host2"))

	err := bus.Call(context.Background(), types.TopicScheduler, &rpc.Message{
		Method: "run_instance",
		Args:   rpc.Args{"instance_id": "i-1", "topic": types.TopicCompute},
	}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(host2.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	msg := host2.messages()[0]
	assert.Equal(t, "run_instance", msg.Method)
	assert.Equal(t, "i-1", msg.Args.String("instance_id"))
	_, hasTopic := msg.Args["topic"]
	assert.False(t, hasTopic, "the routing topic is not forwarded")
	assert.Empty(t, host1.messages())
}

func TestManagerFallbackDispatch(t *testing.T) {
	store := newTestStore(t)
	addService(t, store, types.TopicCompute, "host1", "nova", 0, true)
	addService(t, store, types.TopicCompute, "host2", "nova", 0, false)

	_, bus := newTestManager(t, newTestDriver(t, store, DriverSimple, nil))
	host1 := listen(t, bus, rpc.Address(types.TopicCompute, "host1"))
	host2 := listen(t, bus, rpc.Address(types.TopicCompute, "host2"))

	// no dedicated strategy exists for this action
	err := bus.Call(context.Background(), types.TopicScheduler, &rpc.Message{
		Method: "get_diagnostics",
		Args:   rpc.Args{"topic": types.TopicCompute, "detail": "full"},
	}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(host2.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "get_diagnostics", host2.messages()[0].Method)
	assert.Equal(t, "full", host2.messages()[0].Args.String("detail"))
	assert.Empty(t, host1.messages())
}

func TestManagerDerivesTopicFromAction(t *testing.T) {
	store := newTestStore(t)
	addService(t, store, types.TopicVolume, "vol1", "nova", 0, false)
	require.NoError(t, store.CreateVolume(&types.Volume{ID: "v-1", SizeGB: 10, Status: types.VolumeStatusCreating}))

	_, bus := newTestManager(t, newTestDriver(t, store, DriverSimple, nil))
	vol1 := listen(t, bus, rpc.Address(types.TopicVolume, "vol1"))

	err := bus.Call(context.Background(), types.TopicScheduler, &rpc.Message{
		Method: "create_volume",
		Args:   rpc.Args{"volume_id": "v-1"},
	}, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(vol1.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestManagerErrorsCrossTheBus(t *testing.T) {
	store := newTestStore(t)
	addService(t, store, types.TopicCompute, "host1", "nova", 0, true)
	addPending(t, store, "i-free", 1, "")
	addPending(t, store, "i-bad-pin", 1, "nova:nowhere")

	_, bus := newTestManager(t, newTestDriver(t, store, DriverSimple, nil))
	host1 := listen(t, bus, rpc.Address(types.TopicCompute, "host1"))

	tests := []struct {
		name    string
		msg     *rpc.Message
		wantErr error
	}{
		{
			name:    "no live host",
			msg:     &rpc.Message{Method: "run_instance", Args: rpc.Args{"instance_id": "i-free"}},
			wantErr: ErrNoValidHost,
		},
		{
			name:    "pin to unknown host",
			msg:     &rpc.Message{Method: "run_instance", Args: rpc.Args{"instance_id": "i-bad-pin"}},
			wantErr: ErrWillNotSchedule,
		},
		{
			name:    "action without topic",
			msg:     &rpc.Message{Method: "flush_caches"},
			wantErr: ErrInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := bus.Call(context.Background(), types.TopicScheduler, tt.msg, nil)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// a failed placement never casts
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, host1.messages())
}

func TestManagerZoneDriverRunInstance(t *testing.T) {
	store := newTestStore(t)
	addService(t, store, types.TopicCompute, "host1", "zone1", 0, false)
	addService(t, store, types.TopicCompute, "host2", "zone2", 0, false)

	_, bus := newTestManager(t, newTestDriver(t, store, DriverZone, nil))
	host1 := listen(t, bus, rpc.Address(types.TopicCompute, "host1"))
	host2 := listen(t, bus, rpc.Address(types.TopicCompute, "host2"))

	call := func(az string) error {
		return bus.Call(context.Background(), types.TopicScheduler, &rpc.Message{
			Method: "run_instance",
			Args:   rpc.Args{"instance_id": "i-" + az, "availability_zone": az},
		}, nil)
	}

	require.NoError(t, call("zone2"))
	require.NoError(t, call("zone1:host2"))
	assert.ErrorIs(t, call("zone9"), ErrNoValidHost)

	require.Eventually(t, func() bool { return len(host2.messages()) == 2 }, 2*time.Second, 10*time.Millisecond)
	var zones []string
	for _, msg := range host2.messages() {
		zones = append(zones, msg.Args.String("availability_zone"))
	}
	assert.ElementsMatch(t, []string{"zone2", "zone1:host2"}, zones)
	assert.Empty(t, host1.messages())
}

func TestManagerStartStop(t *testing.T) {
	store := newTestStore(t)
	bus := rpc.NewMemoryBus()
	defer bus.Close()

	mgr := NewManager(newTestDriver(t, store, DriverFallback, nil), bus)
	require.NoError(t, mgr.Start())
	require.NoError(t, mgr.Start(), "start is idempotent")
	require.NoError(t, mgr.Stop())
	require.NoError(t, mgr.Stop())

	err := bus.Call(context.Background(), types.TopicScheduler, &rpc.Message{Method: "ping"}, nil)
	assert.ErrorIs(t, err, rpc.ErrNoResponders)
}

func TestManagerPublishesPlacementEvents(t *testing.T) {
	store := newTestStore(t)
	addService(t, store, types.TopicCompute, "host1", "nova", 0, false)
	addPending(t, store, "i-1", 1, "")
	addPending(t, store, "i-2", 1, "nova:ghost")

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)
	sub := broker.Subscribe()

	mgr, bus := newTestManager(t, newTestDriver(t, store, DriverSimple, nil))
	mgr.SetEvents(broker)
	listen(t, bus, rpc.Address(types.TopicCompute, "host1"))

	ctx := context.Background()
	require.NoError(t, bus.Call(ctx, types.TopicScheduler, &rpc.Message{Method: "run_instance", Args: rpc.Args{"instance_id": "i-1"}}, nil))
	require.ErrorIs(t, bus.Call(ctx, types.TopicScheduler, &rpc.Message{Method: "run_instance", Args: rpc.Args{"instance_id": "i-2"}}, nil), ErrWillNotSchedule)

	next := func() *events.Event {
		select {
		case ev := <-sub:
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("no event")
			return nil
		}
	}

	ev := next()
	assert.Equal(t, events.EventPlacementScheduled, ev.Type)
	assert.Equal(t, "host1", ev.Metadata["host"])

	ev = next()
	assert.Equal(t, events.EventPlacementRejected, ev.Type)
	assert.Equal(t, "nova:ghost", ev.Metadata["placement"])
}
