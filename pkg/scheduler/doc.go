/*
Package scheduler decides which registered host runs a workload and forwards
the request to that host's worker.

Requests arrive as {method, args} calls on the "scheduler" bus topic. The
Manager resolves the worker topic (an explicit "topic" argument, otherwise
TopicFor), asks the configured Driver for a host, and casts the unmodified
request to "<topic>.<host>":

	caller ──Call("scheduler")──▶ Manager ──Lookup(action)──▶ strategy
	                                 │            └─(none)──▶ Driver.Schedule
	                                 └──Cast("<topic>.<host>")──▶ worker

The call blocks until a host is chosen; the cast does not wait for the
worker. Nothing is kept between requests, so load is read fresh from the
ledger for every decision.

# Drivers

Three policies are available, picked once by name from configuration:

  - simple: run_instance and create_volume go to the least loaded live host,
    measured in cores or gigabytes, as long as the request fits under
    max_cores or max_gigabytes. Other actions go to the first live host.
  - zone: every action goes to the first live host of the requested zone.
  - fallback: every action goes to the first live host.

# Placement

The availability_zone argument is parsed once into a Placement. "zone1"
restricts candidates to that zone. "zone1:host1" pins the host: it is used
even when disabled or full, but the pin is refused with ErrWillNotSchedule
when the host is not registered for the topic or its last heartbeat is at
least twice service_down_time old.

# Liveness

A service is up when it is not disabled and its last heartbeat is younger
than service_down_time. The scheduler only reads this state; workers and
administrators write it.

# Errors

ErrNoValidHost means the fleet has no room or no live host in the zone and
the caller may retry later. ErrWillNotSchedule means the pinned host cannot
be used. ErrRegistryUnavailable wraps store failures. All of them keep
matching with errors.Is after crossing the bus.
*/
package scheduler
