package scheduler

import (
	"strings"

	"github.com/cuemby/corral/pkg/rpc"
)

// PlacementKind tags the constraint a request carries
type PlacementKind int

const (
	// Unconstrained places on any live host
	Unconstrained PlacementKind = iota
	// ZoneConstrained places on a live host of one availability zone
	ZoneConstrained
	// HostPinned places on exactly one named host
	HostPinned
)

func (k PlacementKind) String() string {
	switch k {
	case ZoneConstrained:
		return "zone"
	case HostPinned:
		return "pinned"
	default:
		return "any"
	}
}

// Placement is the parsed form of a requested availability zone.
// "zone" constrains to a zone, "zone:host" pins a host.
type Placement struct {
	Kind PlacementKind
	Zone string
	Host string
}

// ParsePlacement parses an availability zone request string
func ParsePlacement(az string) Placement {
	if az == "" {
		return Placement{Kind: Unconstrained}
	}
	zone, host, pinned := strings.Cut(az, ":")
	if !pinned {
		return Placement{Kind: ZoneConstrained, Zone: az}
	}
	return Placement{Kind: HostPinned, Zone: zone, Host: host}
}

func (p Placement) String() string {
	switch p.Kind {
	case ZoneConstrained:
		return p.Zone
	case HostPinned:
		return p.Zone + ":" + p.Host
	default:
		return ""
	}
}

// Request is a single placement request built from an inbound message
type Request struct {
	Topic     string
	Action    string
	Args      rpc.Args
	Placement Placement
}

// NewRequest builds a request, parsing the availability_zone argument once
func NewRequest(topic, action string, args rpc.Args) *Request {
	if args == nil {
		args = rpc.Args{}
	}
	return &Request{
		Topic:     topic,
		Action:    action,
		Args:      args,
		Placement: ParsePlacement(args.String("availability_zone")),
	}
}
