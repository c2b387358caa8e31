package storage

import (
	"errors"
	"time"

	"github.com/cuemby/corral/pkg/types"
)

// ErrNotFound is returned when a record does not exist (or was soft-deleted)
var ErrNotFound = errors.New("not found")

// Store defines the interface for registry and resource ledger storage.
// It is implemented by BoltDB-backed storage and is the state machine
// behind the replicated manager.
type Store interface {
	// Services
	CreateService(svc *types.Service) error
	GetServiceByHostAndTopic(host, topic string) (*types.Service, error)
	ListServices() ([]*types.Service, error)
	ListServicesByTopic(topic string) ([]*types.Service, error)
	UpdateService(svc *types.Service) error
	DeleteService(topic, host string, at time.Time) error

	// Instances
	CreateInstance(inst *types.Instance) error
	GetInstance(id string) (*types.Instance, error)
	ListInstances() ([]*types.Instance, error)
	UpdateInstance(inst *types.Instance) error

	// Volumes
	CreateVolume(vol *types.Volume) error
	GetVolume(id string) (*types.Volume, error)
	ListVolumes() ([]*types.Volume, error)
	UpdateVolume(vol *types.Volume) error

	// Ledger
	SumActiveResource(host string, kind types.ResourceKind) (int, error)

	// Utility
	Close() error
}
