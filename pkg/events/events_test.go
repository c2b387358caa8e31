package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventHostDown, Metadata: map[string]string{"host": "host1"}})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case ev := <-sub:
			assert.Equal(t, EventHostDown, ev.Type)
			assert.Equal(t, "host1", ev.Metadata["host"])
			assert.NotEmpty(t, ev.ID)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	b.Unsubscribe(sub1)
	b.Unsubscribe(sub1)
	assert.Equal(t, 1, b.SubscriberCount())
	_, open := <-sub1
	assert.False(t, open)
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBroker()
	// not started: the queue fills and later events are dropped
	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			b.Publish(&Event{Type: EventPlacementScheduled})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
	require.Len(t, b.eventCh, cap(b.eventCh))

	var nilBroker *Broker
	nilBroker.Publish(&Event{Type: EventHostUp})
	b.Stop()
	b.Stop()
}

func TestStopClosesSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()

	sub := b.Subscribe()
	b.Stop()
	b.Stop()

	select {
	case _, open := <-sub:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscriber not closed on stop")
	}
	assert.Equal(t, 0, b.SubscriberCount())

	// unsubscribing a closed subscription is a no-op
	b.Unsubscribe(sub)

	late := b.Subscribe()
	_, open := <-late
	assert.False(t, open)
}
