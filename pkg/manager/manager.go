package manager

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/storage"
	"github.com/cuemby/corral/pkg/types"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

// ErrNotLeader is returned for writes submitted to a follower
var ErrNotLeader = errors.New("not the raft leader")

// Manager owns the replicated service registry and resource ledger.
// Writes go through Raft; reads are served from the local store.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft      *raft.Raft
	fsm       *RegistryFSM
	store     *storage.BoltStore
	logStore  *raftboltdb.BoltStore
	stable    *raftboltdb.BoltStore
	transport *raft.NetworkTransport
	logger    zerolog.Logger
}

// Config holds configuration for creating a Manager
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

var _ storage.Recorder = (*Manager)(nil)

// NewManager creates a new Manager instance
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %v", err)
	}

	return &Manager{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		dataDir:  cfg.DataDir,
		fsm:      NewRegistryFSM(store),
		store:    store,
		logger:   log.WithComponent("manager").With().Str("node_id", cfg.NodeID).Logger(),
	}, nil
}

// Bootstrap starts Raft and initializes a single-node cluster. Restarting
// on a data directory that already holds cluster state reuses it.
func (m *Manager) Bootstrap() error {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)
	config.LogLevel = "WARN"

	// Tuned for LAN failover in a few seconds
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve bind address: %v", err)
	}

	// Port 0 advertises the port actually bound
	var advertise net.Addr = addr
	if addr.Port == 0 {
		advertise = nil
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, advertise, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create transport: %v", err)
	}
	m.transport = transport

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create snapshot store: %v", err)
	}

	m.logStore, err = raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return fmt.Errorf("failed to create log store: %v", err)
	}

	m.stable, err = raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return fmt.Errorf("failed to create stable store: %v", err)
	}

	r, err := raft.NewRaft(config, m.fsm, m.logStore, m.stable, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("failed to create raft: %v", err)
	}
	m.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				ID:      config.LocalID,
				Address: transport.LocalAddr(),
			},
		},
	}

	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
		return fmt.Errorf("failed to bootstrap cluster: %v", err)
	}

	m.logger.Info().Str("addr", string(transport.LocalAddr())).Msg("Raft started")
	return nil
}

// WaitForLeader blocks until this node is the leader or timeout elapses
func (m *Manager) WaitForLeader(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.IsLeader() {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("no leadership after %s", timeout)
}

// IsLeader returns true if this manager is the Raft leader
func (m *Manager) IsLeader() bool {
	if m.raft == nil {
		return false
	}
	return m.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current Raft leader
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	addr, _ := m.raft.LeaderWithID()
	return string(addr)
}

// GetClusterServers returns information about all servers in the Raft cluster
func (m *Manager) GetClusterServers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}

	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %v", err)
	}

	return future.Configuration().Servers, nil
}

// GetRaftStats returns Raft statistics
func (m *Manager) GetRaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}

	stats := make(map[string]interface{})
	stats["state"] = m.raft.State().String()
	stats["last_log_index"] = m.raft.LastIndex()
	stats["applied_index"] = m.raft.AppliedIndex()
	stats["leader"] = m.LeaderAddr()

	return stats
}

// Apply submits a command to the Raft cluster
func (m *Manager) Apply(cmd Command) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("%w, current leader: %s", ErrNotLeader, m.LeaderAddr())
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %v", err)
	}

	future := m.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %v", err)
	}

	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}

	return nil
}

func (m *Manager) apply(op string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: op, Data: data})
}

// RegisterService records a worker registration
func (m *Manager) RegisterService(svc *types.Service) error {
	return m.apply(opRegisterService, svc)
}

// Heartbeat records a worker heartbeat
func (m *Manager) Heartbeat(topic, host string, at time.Time) error {
	return m.apply(opHeartbeat, serviceRef{Topic: topic, Host: host, At: at})
}

// SetServiceDisabled is the administrative enable/disable toggle
func (m *Manager) SetServiceDisabled(topic, host string, disabled bool) error {
	return m.apply(opSetServiceDisabled, serviceRef{Topic: topic, Host: host, Disabled: disabled})
}

// DeleteService soft-deletes a service record
func (m *Manager) DeleteService(topic, host string, at time.Time) error {
	return m.apply(opDeleteService, serviceRef{Topic: topic, Host: host, At: at})
}

// CreateInstance adds an unplaced instance to the ledger
func (m *Manager) CreateInstance(inst *types.Instance) error {
	return m.apply(opCreateInstance, inst)
}

// AssignInstance records the host and state a compute worker reports
func (m *Manager) AssignInstance(id, host string, state types.InstanceState, at time.Time) error {
	return m.apply(opAssignInstance, assignment{ID: id, Host: host, State: string(state), At: at})
}

// CreateVolume adds an unplaced volume to the ledger
func (m *Manager) CreateVolume(vol *types.Volume) error {
	return m.apply(opCreateVolume, vol)
}

// AssignVolume records the host and status a volume worker reports
func (m *Manager) AssignVolume(id, host string, status types.VolumeStatus, at time.Time) error {
	return m.apply(opAssignVolume, assignment{ID: id, Host: host, State: string(status), At: at})
}

// Reads are served from the local replica

func (m *Manager) ListServices() ([]*types.Service, error) {
	return m.store.ListServices()
}

func (m *Manager) ListServicesByTopic(topic string) ([]*types.Service, error) {
	return m.store.ListServicesByTopic(topic)
}

func (m *Manager) GetServiceByHostAndTopic(host, topic string) (*types.Service, error) {
	return m.store.GetServiceByHostAndTopic(host, topic)
}

func (m *Manager) GetInstance(id string) (*types.Instance, error) {
	return m.store.GetInstance(id)
}

func (m *Manager) ListInstances() ([]*types.Instance, error) {
	return m.store.ListInstances()
}

func (m *Manager) GetVolume(id string) (*types.Volume, error) {
	return m.store.GetVolume(id)
}

func (m *Manager) ListVolumes() ([]*types.Volume, error) {
	return m.store.ListVolumes()
}

func (m *Manager) SumActiveResource(host string, kind types.ResourceKind) (int, error) {
	return m.store.SumActiveResource(host, kind)
}

// Shutdown stops Raft and closes every store, reporting all failures
func (m *Manager) Shutdown() error {
	var result *multierror.Error

	if m.raft != nil {
		if err := m.raft.Shutdown().Error(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to shutdown raft: %w", err))
		}
	}
	if m.transport != nil {
		if err := m.transport.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close transport: %w", err))
		}
	}
	if m.logStore != nil {
		if err := m.logStore.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close log store: %w", err))
		}
	}
	if m.stable != nil {
		if err := m.stable.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close stable store: %w", err))
		}
	}
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close store: %w", err))
		}
	}

	return result.ErrorOrNil()
}
