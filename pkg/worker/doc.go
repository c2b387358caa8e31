/*
Package worker implements the per-host compute and volume workers.

A worker registers a service record for its (topic, host) pair, then sends a
heartbeat every report interval. The scheduler treats a worker as up while
it is enabled and its last heartbeat is younger than the service down time.

Workers subscribe to both their bare topic ("compute") and their host
address ("compute.host1"). The scheduler casts placed requests to the host
address:

	compute workers:  run_instance, terminate_instance, ping
	volume workers:   create_volume, delete_volume, ping

Workers do not run real machines or disks. Handling a command records the
assignment in the resource ledger, which is what the scheduler measures load
against. Writes go through a storage.Recorder: the local BoltDB store, the
Raft manager, or a conductor client when the worker runs in another process.
*/
package worker
