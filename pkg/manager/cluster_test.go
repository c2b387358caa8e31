package manager_test

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/corral/pkg/api"
	"github.com/cuemby/corral/pkg/client"
	"github.com/cuemby/corral/pkg/conductor"
	"github.com/cuemby/corral/pkg/manager"
	"github.com/cuemby/corral/pkg/rpc"
	"github.com/cuemby/corral/pkg/scheduler"
	"github.com/cuemby/corral/pkg/types"
	"github.com/cuemby/corral/pkg/worker"
	"github.com/stretchr/testify/require"
)

// cluster is one manager and a set of workers talking over an embedded NATS
// server, each worker on its own connection as a separate process would be
type cluster struct {
	mgr    *manager.Manager
	nats   *rpc.EmbeddedServer
	client *client.Client
}

func newCluster(t *testing.T, maxCores int) *cluster {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping cluster test in short mode")
	}

	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   "manager-1",
		BindAddr: "127.0.0.1:0",
		DataDir:  t.TempDir(),
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Bootstrap())
	t.Cleanup(func() { mgr.Shutdown() })
	require.NoError(t, mgr.WaitForLeader(10*time.Second))

	srv, err := rpc.StartEmbeddedServer("127.0.0.1", -1)
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)

	c := &cluster{mgr: mgr, nats: srv}
	bus := c.connect(t, "corral-manager")

	cond := conductor.NewServer(mgr, bus)
	require.NoError(t, cond.Start())
	t.Cleanup(func() { cond.Stop() })

	cfg := scheduler.DefaultConfig()
	cfg.MaxCores = maxCores
	driver, err := scheduler.NewDriver(cfg, scheduler.Deps{Registry: mgr, Ledger: mgr})
	require.NoError(t, err)
	sched := scheduler.NewManager(driver, bus)
	require.NoError(t, sched.Start())
	t.Cleanup(func() { sched.Stop() })

	httpServer := api.NewServer(api.Config{
		Store:          mgr,
		Liveness:       scheduler.NewLiveness(mgr, cfg.ServiceDownTime, nil),
		Bus:            bus,
		Raft:           mgr,
		RequestTimeout: 5 * time.Second,
	})
	ts := httptest.NewServer(httpServer.Handler())
	t.Cleanup(ts.Close)
	c.client = client.NewClient(ts.URL)

	return c
}

func (c *cluster) connect(t *testing.T, name string) rpc.Bus {
	t.Helper()
	bus, err := rpc.NewNATSBus(&rpc.NATSConfig{URL: c.nats.ClientURL(), Name: name, RequestTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })
	return bus
}

// addWorker starts a worker that only reaches the registry through the
// conductor, like a remote host
func (c *cluster) addWorker(t *testing.T, host, topic string) *worker.Worker {
	t.Helper()
	bus := c.connect(t, "corral-worker-"+host)
	w, err := worker.NewWorker(worker.Config{
		Host:             host,
		Topic:            topic,
		AvailabilityZone: "nova",
		ReportInterval:   time.Hour,
	}, bus, conductor.NewClient(bus, 5*time.Second))
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(func() { w.Stop() })
	return w
}

func (c *cluster) waitRunning(t *testing.T, id string) string {
	t.Helper()
	var host string
	require.Eventually(t, func() bool {
		inst, err := c.mgr.GetInstance(id)
		if err != nil || inst.State != types.InstanceStateRunning {
			return false
		}
		host = inst.Host
		return true
	}, 5*time.Second, 20*time.Millisecond)
	return host
}

func TestClusterSpreadsAndCaps(t *testing.T) {
	c := newCluster(t, 2)
	c.addWorker(t, "host1", types.TopicCompute)
	c.addWorker(t, "host2", types.TopicCompute)

	perHost := map[string]int{}
	for i := 0; i < 4; i++ {
		inst, err := c.client.CreateInstance(1, "")
		require.NoError(t, err)
		perHost[c.waitRunning(t, inst.ID)]++
	}
	require.Equal(t, map[string]int{"host1": 2, "host2": 2}, perHost)

	_, err := c.client.CreateInstance(1, "")
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "NoValidHost", apiErr.Kind)
}

func TestClusterPinIgnoresDisabled(t *testing.T) {
	c := newCluster(t, 16)
	c.addWorker(t, "host1", types.TopicCompute)

	require.NoError(t, c.client.DisableService(types.TopicCompute, "host1"))

	inst, err := c.client.CreateInstance(1, "nova:host1")
	require.NoError(t, err)
	require.Equal(t, "host1", c.waitRunning(t, inst.ID))

	_, err = c.client.CreateInstance(1, "nova:host9")
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "WillNotSchedule", apiErr.Kind)
}

func TestClusterVolumes(t *testing.T) {
	c := newCluster(t, 16)
	c.addWorker(t, "storage1", types.TopicVolume)

	vol, err := c.client.CreateVolume(50, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, err := c.mgr.GetVolume(vol.ID)
		return err == nil && got.Status == types.VolumeStatusAvailable && got.Host == "storage1"
	}, 5*time.Second, 20*time.Millisecond)

	used, err := c.mgr.SumActiveResource("storage1", types.ResourceGigabytes)
	require.NoError(t, err)
	require.Equal(t, 50, used)
}
