package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/corral/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketServices  = []byte("services")
	bucketInstances = []byte("instances")
	bucketVolumes   = []byte("volumes")
)

// BoltStore implements Store and Recorder using BoltDB
type BoltStore struct {
	db *bolt.DB
}

var (
	_ Store    = (*BoltStore)(nil)
	_ Recorder = (*BoltStore)(nil)
)

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "corral.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketServices, bucketInstances, bucketVolumes} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func put(b *bolt.Bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func get(b *bolt.Bucket, key string, v interface{}) error {
	data := b.Get([]byte(key))
	if data == nil {
		return fmt.Errorf("%s %w", key, ErrNotFound)
	}
	return json.Unmarshal(data, v)
}

// Service operations

func (s *BoltStore) CreateService(svc *types.Service) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketServices), svc.Key(), svc)
	})
}

func (s *BoltStore) UpdateService(svc *types.Service) error {
	return s.CreateService(svc) // upsert
}

func (s *BoltStore) GetServiceByHostAndTopic(host, topic string) (*types.Service, error) {
	var svc types.Service
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx.Bucket(bucketServices), types.ServiceKey(topic, host), &svc)
	})
	if err != nil {
		return nil, err
	}
	if svc.Deleted {
		return nil, fmt.Errorf("service %s %w", svc.Key(), ErrNotFound)
	}
	return &svc, nil
}

// ListServices returns every live (not soft-deleted) service ordered by topic then host
func (s *BoltStore) ListServices() ([]*types.Service, error) {
	return s.listServices(nil)
}

// ListServicesByTopic returns the live services of a topic ordered by host
func (s *BoltStore) ListServicesByTopic(topic string) ([]*types.Service, error) {
	return s.listServices([]byte(types.ServiceKey(topic, "")))
}

func (s *BoltStore) listServices(prefix []byte) ([]*types.Service, error) {
	services := []*types.Service{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketServices).Cursor()
		k, v := c.First()
		if len(prefix) > 0 {
			k, v = c.Seek(prefix)
		}
		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var svc types.Service
			if err := json.Unmarshal(v, &svc); err != nil {
				return err
			}
			if svc.Deleted {
				continue
			}
			services = append(services, &svc)
		}
		return nil
	})
	return services, err
}

// DeleteService soft-deletes a service record
func (s *BoltStore) DeleteService(topic, host string, at time.Time) error {
	return s.updateService(topic, host, func(svc *types.Service) {
		svc.Deleted = true
		svc.DeletedAt = at
	})
}

func (s *BoltStore) updateService(topic, host string, fn func(svc *types.Service)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		var svc types.Service
		if err := get(b, types.ServiceKey(topic, host), &svc); err != nil {
			return err
		}
		if svc.Deleted {
			return fmt.Errorf("service %s %w", svc.Key(), ErrNotFound)
		}
		fn(&svc)
		return put(b, svc.Key(), &svc)
	})
}

// RegisterService upserts a worker's registration
func (s *BoltStore) RegisterService(svc *types.Service) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		var existing *types.Service
		if data := b.Get([]byte(svc.Key())); data != nil {
			existing = &types.Service{}
			if err := json.Unmarshal(data, existing); err != nil {
				return err
			}
		}
		return put(b, svc.Key(), registerService(existing, svc))
	})
}

// Heartbeat refreshes a worker's liveness timestamp
func (s *BoltStore) Heartbeat(topic, host string, at time.Time) error {
	return s.updateService(topic, host, func(svc *types.Service) {
		svc.UpdatedAt = at
		svc.ReportCount++
	})
}

// SetServiceDisabled toggles the administrative disabled flag
func (s *BoltStore) SetServiceDisabled(topic, host string, disabled bool) error {
	return s.updateService(topic, host, func(svc *types.Service) {
		svc.Disabled = disabled
	})
}

// Instance operations

func (s *BoltStore) CreateInstance(inst *types.Instance) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketInstances), inst.ID, inst)
	})
}

func (s *BoltStore) UpdateInstance(inst *types.Instance) error {
	return s.CreateInstance(inst)
}

func (s *BoltStore) GetInstance(id string) (*types.Instance, error) {
	var inst types.Instance
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx.Bucket(bucketInstances), id, &inst)
	})
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (s *BoltStore) ListInstances() ([]*types.Instance, error) {
	instances := []*types.Instance{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).ForEach(func(k, v []byte) error {
			var inst types.Instance
			if err := json.Unmarshal(v, &inst); err != nil {
				return err
			}
			instances = append(instances, &inst)
			return nil
		})
	})
	return instances, err
}

// AssignInstance records the worker's acceptance (or termination) of an instance
func (s *BoltStore) AssignInstance(id, host string, state types.InstanceState, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		var inst types.Instance
		if err := get(b, id, &inst); err != nil {
			return err
		}
		inst.Host = host
		inst.State = state
		inst.UpdatedAt = at
		return put(b, id, &inst)
	})
}

// Volume operations

func (s *BoltStore) CreateVolume(vol *types.Volume) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketVolumes), vol.ID, vol)
	})
}

func (s *BoltStore) UpdateVolume(vol *types.Volume) error {
	return s.CreateVolume(vol)
}

func (s *BoltStore) GetVolume(id string) (*types.Volume, error) {
	var vol types.Volume
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx.Bucket(bucketVolumes), id, &vol)
	})
	if err != nil {
		return nil, err
	}
	return &vol, nil
}

func (s *BoltStore) ListVolumes() ([]*types.Volume, error) {
	volumes := []*types.Volume{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVolumes).ForEach(func(k, v []byte) error {
			var vol types.Volume
			if err := json.Unmarshal(v, &vol); err != nil {
				return err
			}
			volumes = append(volumes, &vol)
			return nil
		})
	})
	return volumes, err
}

// AssignVolume records the worker's acceptance (or deletion) of a volume
func (s *BoltStore) AssignVolume(id, host string, status types.VolumeStatus, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVolumes)
		var vol types.Volume
		if err := get(b, id, &vol); err != nil {
			return err
		}
		vol.Host = host
		vol.Status = status
		vol.UpdatedAt = at
		return put(b, id, &vol)
	})
}

// SumActiveResource sums the resource attribute of every active workload
// assigned to host: vcpus for cores, size for gigabytes.
func (s *BoltStore) SumActiveResource(host string, kind types.ResourceKind) (int, error) {
	total := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		switch kind {
		case types.ResourceCores:
			return tx.Bucket(bucketInstances).ForEach(func(k, v []byte) error {
				var inst types.Instance
				if err := json.Unmarshal(v, &inst); err != nil {
					return err
				}
				if inst.Host == host && inst.Active() {
					total += inst.VCPUs
				}
				return nil
			})
		case types.ResourceGigabytes:
			return tx.Bucket(bucketVolumes).ForEach(func(k, v []byte) error {
				var vol types.Volume
				if err := json.Unmarshal(v, &vol); err != nil {
					return err
				}
				if vol.Host == host && vol.Active() {
					total += vol.SizeGB
				}
				return nil
			})
		default:
			return fmt.Errorf("unknown resource kind: %s", kind)
		}
	})
	return total, err
}
