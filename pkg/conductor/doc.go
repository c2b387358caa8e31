// Package conductor carries registry and ledger writes over the bus.
//
// Server subscribes to the "conductor" topic and applies each write to a
// storage.Recorder (normally the Raft manager). Client implements
// storage.Recorder by calling that topic, so a worker in another process
// reports exactly as an in-process one does. storage.ErrNotFound is
// registered as a wire error kind and still matches with errors.Is on the
// client side.
package conductor
