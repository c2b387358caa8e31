package scheduler

import "context"

// ZoneDriver sends every action to the first live host of the requested
// availability zone.
type ZoneDriver struct {
	*Base
}

func newZoneDriver(b *Base) Driver {
	return &ZoneDriver{Base: b}
}

// Schedule picks by zone. Without a zone it behaves like the generic rule.
func (d *ZoneDriver) Schedule(ctx context.Context, req *Request) (string, error) {
	switch req.Placement.Kind {
	case HostPinned:
		return d.liveness.Pinned(req.Topic, req.Placement.Host)
	case ZoneConstrained:
		return d.firstUp(req.Topic, req.Placement.Zone)
	default:
		return d.firstUp(req.Topic, "")
	}
}
