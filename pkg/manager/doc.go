/*
Package manager replicates the service registry and resource ledger with Raft.

Every write (worker registration, heartbeat, admin disable/enable, workload
creation and assignment) is encoded as a JSON Command, committed through the
Raft log and applied by RegistryFSM to the node's BoltDB store. Timestamps
are part of the command, so every replica applies the same record.

Reads (ListServicesByTopic, GetServiceByHostAndTopic, SumActiveResource and
friends) are served from the local store, which makes a Manager usable as
the scheduler's Registry and Ledger.

	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   "manager-1",
		BindAddr: "127.0.0.1:7946",
		DataDir:  "/var/lib/corral",
	})
	if err != nil {
		return err
	}
	if err := mgr.Bootstrap(); err != nil {
		return err
	}
	defer mgr.Shutdown()

Writes on a follower fail with ErrNotLeader. MetricsCollector exports service
counts, per-host resource usage and Raft state to Prometheus.
*/
package manager
