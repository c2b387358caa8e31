package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/corral/pkg/storage"
	"github.com/cuemby/corral/pkg/types"
)

// SimpleDriver places instances and volumes on the least loaded live host
// under the configured ceilings.
type SimpleDriver struct {
	*Base
}

func newSimpleDriver(b *Base) Driver {
	d := &SimpleDriver{Base: b}
	d.Handle("run_instance", d.scheduleRunInstance)
	d.Handle("create_volume", d.scheduleCreateVolume)
	return d
}

func (d *SimpleDriver) scheduleRunInstance(ctx context.Context, req *Request) (string, error) {
	id := req.Args.String("instance_id")
	if id == "" {
		return "", fmt.Errorf("%w: run_instance needs instance_id", ErrInvalidRequest)
	}
	inst, err := d.ledger.GetInstance(id)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: instance %s not found", ErrInvalidRequest, id)
	}
	if err != nil {
		return "", registryError(err)
	}

	placement := d.placementFor(inst.AvailabilityZone, req)
	if placement.Kind == HostPinned {
		return d.liveness.Pinned(req.Topic, placement.Host)
	}
	return d.leastLoaded(req.Topic, placement, types.ResourceCores, inst.VCPUs, d.cfg.MaxCores)
}

func (d *SimpleDriver) scheduleCreateVolume(ctx context.Context, req *Request) (string, error) {
	id := req.Args.String("volume_id")
	if id == "" {
		return "", fmt.Errorf("%w: create_volume needs volume_id", ErrInvalidRequest)
	}
	vol, err := d.ledger.GetVolume(id)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: volume %s not found", ErrInvalidRequest, id)
	}
	if err != nil {
		return "", registryError(err)
	}

	placement := d.placementFor(vol.AvailabilityZone, req)
	if placement.Kind == HostPinned {
		return d.liveness.Pinned(req.Topic, placement.Host)
	}
	return d.leastLoaded(req.Topic, placement, types.ResourceGigabytes, vol.SizeGB, d.cfg.MaxGigabytes)
}

// placementFor prefers the zone stored on the ledger row over the one in
// the message arguments.
func (d *SimpleDriver) placementFor(stored string, req *Request) Placement {
	if stored != "" {
		return ParsePlacement(stored)
	}
	return req.Placement
}
