// Package monitor watches worker liveness. It re-evaluates every registered
// service on a fixed interval and reports services that go down or come
// back, both in the log and as host.up/host.down events. It also exports the
// number of live hosts per topic. Heartbeats are written by workers and the
// disabled flag by administrators; the monitor only reads.
package monitor
