package manager

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cuemby/corral/pkg/storage"
	"github.com/cuemby/corral/pkg/types"
	"github.com/hashicorp/raft"
)

// Command ops
const (
	opRegisterService    = "register_service"
	opHeartbeat          = "heartbeat"
	opSetServiceDisabled = "set_service_disabled"
	opDeleteService      = "delete_service"
	opCreateInstance     = "create_instance"
	opAssignInstance     = "assign_instance"
	opCreateVolume       = "create_volume"
	opAssignVolume       = "assign_volume"
)

// Backend is the local state a replica applies commands to
type Backend interface {
	storage.Store
	storage.Recorder
}

// RegistryFSM implements the Raft Finite State Machine for the service
// registry and resource ledger. Every timestamp travels inside the command
// so that replicas converge on identical records.
type RegistryFSM struct {
	mu    sync.RWMutex
	store Backend
}

// NewRegistryFSM creates a new FSM instance
func NewRegistryFSM(store Backend) *RegistryFSM {
	return &RegistryFSM{
		store: store,
	}
}

// Command represents a state change operation in the Raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// serviceRef addresses one service record
type serviceRef struct {
	Topic    string    `json:"topic"`
	Host     string    `json:"host"`
	At       time.Time `json:"at,omitempty"`
	Disabled bool      `json:"disabled,omitempty"`
}

// assignment records where a workload landed and its new state
type assignment struct {
	ID    string    `json:"id"`
	Host  string    `json:"host"`
	State string    `json:"state"`
	At    time.Time `json:"at"`
}

// Apply applies a Raft log entry to the FSM
func (f *RegistryFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case opRegisterService:
		var svc types.Service
		if err := json.Unmarshal(cmd.Data, &svc); err != nil {
			return err
		}
		return f.store.RegisterService(&svc)

	case opHeartbeat:
		var ref serviceRef
		if err := json.Unmarshal(cmd.Data, &ref); err != nil {
			return err
		}
		return f.store.Heartbeat(ref.Topic, ref.Host, ref.At)

	case opSetServiceDisabled:
		var ref serviceRef
		if err := json.Unmarshal(cmd.Data, &ref); err != nil {
			return err
		}
		return f.store.SetServiceDisabled(ref.Topic, ref.Host, ref.Disabled)

	case opDeleteService:
		var ref serviceRef
		if err := json.Unmarshal(cmd.Data, &ref); err != nil {
			return err
		}
		return f.store.DeleteService(ref.Topic, ref.Host, ref.At)

	case opCreateInstance:
		var inst types.Instance
		if err := json.Unmarshal(cmd.Data, &inst); err != nil {
			return err
		}
		return f.store.CreateInstance(&inst)

	case opAssignInstance:
		var a assignment
		if err := json.Unmarshal(cmd.Data, &a); err != nil {
			return err
		}
		return f.store.AssignInstance(a.ID, a.Host, types.InstanceState(a.State), a.At)

	case opCreateVolume:
		var vol types.Volume
		if err := json.Unmarshal(cmd.Data, &vol); err != nil {
			return err
		}
		return f.store.CreateVolume(&vol)

	case opAssignVolume:
		var a assignment
		if err := json.Unmarshal(cmd.Data, &a); err != nil {
			return err
		}
		return f.store.AssignVolume(a.ID, a.Host, types.VolumeStatus(a.State), a.At)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot creates a point-in-time snapshot of the FSM
func (f *RegistryFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	services, err := f.store.ListServices()
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %v", err)
	}

	instances, err := f.store.ListInstances()
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %v", err)
	}

	volumes, err := f.store.ListVolumes()
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %v", err)
	}

	return &RegistrySnapshot{
		Services:  services,
		Instances: instances,
		Volumes:   volumes,
	}, nil
}

// Restore restores the FSM from a snapshot
func (f *RegistryFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot RegistrySnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, svc := range snapshot.Services {
		if err := f.store.CreateService(svc); err != nil {
			return fmt.Errorf("failed to restore service: %v", err)
		}
	}

	for _, inst := range snapshot.Instances {
		if err := f.store.CreateInstance(inst); err != nil {
			return fmt.Errorf("failed to restore instance: %v", err)
		}
	}

	for _, vol := range snapshot.Volumes {
		if err := f.store.CreateVolume(vol); err != nil {
			return fmt.Errorf("failed to restore volume: %v", err)
		}
	}

	return nil
}

// RegistrySnapshot is a point-in-time copy of the registry and ledger
type RegistrySnapshot struct {
	Services  []*types.Service
	Instances []*types.Instance
	Volumes   []*types.Volume
}

// Persist writes the snapshot to the given SnapshotSink
func (s *RegistrySnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

// Release releases the snapshot resources
func (s *RegistrySnapshot) Release() {}
