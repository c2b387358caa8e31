/*
Package events is an in-memory broker for scheduler events.

The monitor publishes host.up and host.down when a service's liveness
changes; the scheduler publishes placement.scheduled and
placement.rejected for every request it handles. The HTTP API streams
them to clients of GET /v1/events.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	for ev := range sub {
		fmt.Println(ev.Type, ev.Metadata["host"])
	}

Publishing never blocks. Events are dropped when the broker queue (100)
or a subscriber buffer (50) is full, so the event stream is advisory and
never a source of truth.
*/
package events
