package scheduler

import (
	"errors"
	"fmt"

	"github.com/cuemby/corral/pkg/rpc"
)

var (
	// ErrWillNotSchedule means an explicitly pinned host cannot take the
	// request: it is not registered for the topic or it has been down for
	// at least twice the service down time. Not retried.
	ErrWillNotSchedule = errors.New("will not schedule")

	// ErrNoValidHost means no host satisfies the capacity or zone
	// constraints. Callers may retry later.
	ErrNoValidHost = errors.New("no valid host")

	// ErrRegistryUnavailable wraps failures reading the service registry
	// or resource ledger.
	ErrRegistryUnavailable = errors.New("registry unavailable")

	// ErrInvalidRequest is returned for requests missing the arguments a
	// placement needs.
	ErrInvalidRequest = errors.New("invalid request")
)

func init() {
	rpc.RegisterErrorKind("WillNotSchedule", ErrWillNotSchedule)
	rpc.RegisterErrorKind("NoValidHost", ErrNoValidHost)
	rpc.RegisterErrorKind("RegistryUnavailable", ErrRegistryUnavailable)
	rpc.RegisterErrorKind("InvalidRequest", ErrInvalidRequest)
}

func registryError(err error) error {
	return fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
}

// resultLabel maps a placement error onto the metrics result label
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrWillNotSchedule):
		return "will_not_schedule"
	case errors.Is(err, ErrNoValidHost):
		return "no_valid_host"
	case errors.Is(err, ErrRegistryUnavailable):
		return "registry_unavailable"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return "error"
	}
}
