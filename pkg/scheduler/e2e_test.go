package scheduler_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cuemby/corral/pkg/rpc"
	"github.com/cuemby/corral/pkg/scheduler"
	"github.com/cuemby/corral/pkg/storage"
	"github.com/cuemby/corral/pkg/types"
	"github.com/cuemby/corral/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cluster is a scheduler, a bus and real compute workers over one store
type cluster struct {
	store *storage.BoltStore
	bus   *rpc.MemoryBus
}

func newCluster(t *testing.T, maxCores int, hosts ...string) *cluster {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := rpc.NewMemoryBus()
	t.Cleanup(func() { bus.Close() })

	cfg := scheduler.DefaultConfig()
	cfg.MaxCores = maxCores
	driver, err := scheduler.NewDriver(cfg, scheduler.Deps{Registry: store, Ledger: store})
	require.NoError(t, err)

	mgr := scheduler.NewManager(driver, bus)
	require.NoError(t, mgr.Start())
	t.Cleanup(func() { mgr.Stop() })

	for _, host := range hosts {
		w, err := worker.NewWorker(worker.Config{
			Host:             host,
			Topic:            types.TopicCompute,
			AvailabilityZone: "nova",
			ReportInterval:   time.Hour,
		}, bus, store)
		require.NoError(t, err)
		require.NoError(t, w.Start())
		t.Cleanup(func() { w.Stop() })
	}

	return &cluster{store: store, bus: bus}
}

func (c *cluster) newInstance(t *testing.T, id, zone string) {
	t.Helper()
	require.NoError(t, c.store.CreateInstance(&types.Instance{
		ID:               id,
		VCPUs:            1,
		AvailabilityZone: zone,
		State:            types.InstanceStatePending,
		CreatedAt:        time.Now(),
	}))
}

func (c *cluster) schedule(id string) error {
	return c.bus.Call(context.Background(), types.TopicScheduler, &rpc.Message{
		Method: "run_instance",
		Args:   rpc.Args{"instance_id": id},
	}, nil)
}

// hostOf waits for a worker to pick the instance up and returns its host
func (c *cluster) hostOf(t *testing.T, id string) string {
	t.Helper()
	var host string
	require.Eventually(t, func() bool {
		inst, err := c.store.GetInstance(id)
		if err != nil || inst.State != types.InstanceStateRunning {
			return false
		}
		host = inst.Host
		return true
	}, 2*time.Second, 10*time.Millisecond)
	return host
}

func TestLeastLoadedAfterDirectAssignment(t *testing.T) {
	c := newCluster(t, 4, "host-a", "host-b")

	// fill host-a by talking to its worker directly
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("direct-%d", i)
		c.newInstance(t, id, "")
		require.NoError(t, c.bus.Cast(context.Background(), rpc.Address(types.TopicCompute, "host-a"), &rpc.Message{
			Method: "run_instance",
			Args:   rpc.Args{"instance_id": id},
		}))
	}
	require.Eventually(t, func() bool {
		used, err := c.store.SumActiveResource("host-a", types.ResourceCores)
		return err == nil && used == 4
	}, 2*time.Second, 10*time.Millisecond)

	c.newInstance(t, "i-new", "")
	require.NoError(t, c.schedule("i-new"))
	assert.Equal(t, "host-b", c.hostOf(t, "i-new"))
}

func TestDisabledHostOnlyTakesPins(t *testing.T) {
	c := newCluster(t, 4, "host1")
	require.NoError(t, c.store.SetServiceDisabled(types.TopicCompute, "host1", true))

	c.newInstance(t, "i-free", "")
	err := c.schedule("i-free")
	assert.ErrorIs(t, err, scheduler.ErrNoValidHost)

	c.newInstance(t, "i-pinned", "nova:host1")
	require.NoError(t, c.schedule("i-pinned"))
	assert.Equal(t, "host1", c.hostOf(t, "i-pinned"))

	inst, err := c.store.GetInstance("i-free")
	require.NoError(t, err)
	assert.Empty(t, inst.Host, "a rejected placement is never cast")
}

func TestSequentialPlacementsRespectCapacity(t *testing.T) {
	c := newCluster(t, 2, "host1", "host2")

	perHost := map[string]int{}
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("i-%d", i)
		c.newInstance(t, id, "")
		require.NoError(t, c.schedule(id))
		perHost[c.hostOf(t, id)]++
	}
	assert.Equal(t, map[string]int{"host1": 2, "host2": 2}, perHost)

	c.newInstance(t, "i-overflow", "")
	assert.ErrorIs(t, c.schedule("i-overflow"), scheduler.ErrNoValidHost)
}

func TestGenericActionReachesOneWorker(t *testing.T) {
	c := newCluster(t, 4, "host1", "host2")

	c.newInstance(t, "i-1", "")
	require.NoError(t, c.schedule("i-1"))
	host := c.hostOf(t, "i-1")

	// terminate_instance has no dedicated strategy; pin it back to its host
	require.NoError(t, c.bus.Call(context.Background(), types.TopicScheduler, &rpc.Message{
		Method: "terminate_instance",
		Args:   rpc.Args{"instance_id": "i-1", "availability_zone": "nova:" + host},
	}, nil))

	require.Eventually(t, func() bool {
		inst, err := c.store.GetInstance("i-1")
		return err == nil && inst.State == types.InstanceStateTerminated
	}, 2*time.Second, 10*time.Millisecond)
}
