// Package types defines the records shared by the registry, the ledger and
// the scheduler: Service (one worker process on one host), Instance and
// Volume (workloads that consume cores and gigabytes), and the ZoneInfo and
// HostInfo views returned when describing availability zones.
package types
