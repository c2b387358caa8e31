/*
Package storage persists the service registry and resource ledger in BoltDB.

# Buckets

	services   key "topic/host"  value types.Service (JSON)
	instances  key instance ID   value types.Instance (JSON)
	volumes    key volume ID     value types.Volume (JSON)

Services are soft-deleted: DeleteService marks the record and stamps
DeletedAt, and every read then treats it as absent (ErrNotFound). A later
RegisterService revives it. Keying by "topic/host" makes ListServicesByTopic
a prefix scan that returns records in host order, which is the order
placement ties are broken in.

# Reads and writes

Store is the full CRUD surface used by the Raft state machine in
pkg/manager. Recorder is the narrower write surface workers report
through: registration, heartbeats, the admin disable toggle, and the
host/state a worker assigns to an instance or volume. BoltStore
implements both, so tests and single-process setups can use it directly.

SumActiveResource totals the cores (instances) or gigabytes (volumes)
held by active rows on a host. It scans the whole bucket; the ledger is
expected to stay small enough for that to be cheap.

# Usage

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.RegisterService(&types.Service{
		Host:      "host1",
		Topic:     types.TopicCompute,
		CreatedAt: time.Now(),
	}); err != nil {
		return err
	}

	used, err := store.SumActiveResource("host1", types.ResourceCores)

The database file is <dataDir>/corral.db, opened with a one second lock
timeout so a second process on the same directory fails fast.
*/
package storage
