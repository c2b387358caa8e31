/*
Package api exposes the scheduler over HTTP and gRPC.

The HTTP server (chi) carries the operator surface:

	GET    /health                              liveness
	GET    /ready                               Raft, storage and bus checks
	GET    /metrics                             Prometheus
	GET    /v1/zones                            availability zones and host liveness
	GET    /v1/services?topic=                  registry records
	POST   /v1/services/{topic}/{host}/disable  stop unconstrained placement
	POST   /v1/services/{topic}/{host}/enable
	DELETE /v1/services/{topic}/{host}          decommission (soft-delete)
	GET    /v1/instances[/{id}]
	POST   /v1/instances                        record pending, call run_instance
	DELETE /v1/instances/{id}                   terminate_instance pinned to its host
	GET    /v1/volumes[/{id}]
	POST   /v1/volumes                          record creating, call create_volume
	DELETE /v1/volumes/{id}                     delete_volume pinned to its host

Workload requests go through the scheduler topic on the bus, so a POST
returns once a host is chosen and the worker has been cast to. Scheduling
errors map onto statuses: WillNotSchedule is 409, NoValidHost and
RegistryUnavailable are 503, InvalidRequest is 400.

HealthGRPCServer serves grpc.health.v1 for health checkers that speak gRPC.
*/
package api
