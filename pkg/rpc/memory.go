package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/metrics"
)

// MemoryBus is an in-process Bus. Messages are encoded with the same codec
// as the network transports so handlers observe identical argument types.
// Subscribers of a topic share its messages round-robin.
type MemoryBus struct {
	mu     sync.Mutex
	topics map[string]*memoryGroup
	closed bool
	wg     sync.WaitGroup
}

type memoryGroup struct {
	subs []*memorySub
	next int
}

type memorySub struct {
	bus     *MemoryBus
	topic   string
	handler Handler
	castCh  chan []byte
	stopCh  chan struct{}
	once    sync.Once
}

var _ Bus = (*MemoryBus)(nil)

// NewMemoryBus creates a new in-process bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		topics: make(map[string]*memoryGroup),
	}
}

// Subscribe registers a handler on topic
func (b *MemoryBus) Subscribe(topic string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	sub := &memorySub{
		bus:     b,
		topic:   topic,
		handler: h,
		castCh:  make(chan []byte, 100),
		stopCh:  make(chan struct{}),
	}

	group, ok := b.topics[topic]
	if !ok {
		group = &memoryGroup{}
		b.topics[topic] = group
	}
	group.subs = append(group.subs, sub)

	b.wg.Add(1)
	go sub.run()

	return sub, nil
}

// pick selects the next subscriber for topic
func (b *MemoryBus) pick(topic string) (*memorySub, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	group, ok := b.topics[topic]
	if !ok || len(group.subs) == 0 {
		return nil, nil
	}
	sub := group.subs[group.next%len(group.subs)]
	group.next++
	return sub, nil
}

// Call delivers msg to one subscriber and waits for its reply
func (b *MemoryBus) Call(ctx context.Context, topic string, msg *Message, reply interface{}) error {
	metrics.BusMessagesTotal.WithLabelValues("memory", "call").Inc()

	data, err := Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	sub, err := b.pick(topic)
	if err != nil {
		return err
	}
	if sub == nil {
		return fmt.Errorf("%w: %s", ErrNoResponders, topic)
	}

	out, err := encodeReply(sub.invoke(ctx, data))
	if err != nil {
		return fmt.Errorf("failed to encode reply: %w", err)
	}
	return decodeReply(out, reply)
}

// Cast queues msg for one subscriber and returns immediately. With no
// subscriber the message is dropped, as on a network bus.
func (b *MemoryBus) Cast(ctx context.Context, topic string, msg *Message) error {
	metrics.BusMessagesTotal.WithLabelValues("memory", "cast").Inc()

	data, err := Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	sub, err := b.pick(topic)
	if err != nil {
		return err
	}
	if sub == nil {
		log.Logger.Debug().Str("topic", topic).Str("method", msg.Method).Msg("Dropping cast with no subscriber")
		return nil
	}

	select {
	case sub.castCh <- data:
		return nil
	case <-sub.stopCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops every subscription and waits for in-flight casts
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var subs []*memorySub
	for _, group := range b.topics {
		subs = append(subs, group.subs...)
	}
	b.topics = make(map[string]*memoryGroup)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	b.wg.Wait()
	return nil
}

// Unsubscribe removes the subscription from its topic
func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	if group, ok := s.bus.topics[s.topic]; ok {
		for i, sub := range group.subs {
			if sub == s {
				group.subs = append(group.subs[:i], group.subs[i+1:]...)
				break
			}
		}
		if len(group.subs) == 0 {
			delete(s.bus.topics, s.topic)
		}
	}
	s.bus.mu.Unlock()

	s.stop()
	return nil
}

func (s *memorySub) stop() {
	s.once.Do(func() { close(s.stopCh) })
}

func (s *memorySub) invoke(ctx context.Context, data []byte) (interface{}, error) {
	var msg Message
	if err := Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return s.handler(ctx, &msg)
}

func (s *memorySub) run() {
	defer s.bus.wg.Done()

	for {
		select {
		case data := <-s.castCh:
			if _, err := s.invoke(context.Background(), data); err != nil {
				log.Logger.Error().Err(err).Str("topic", s.topic).Msg("Failed to handle cast")
			}
		case <-s.stopCh:
			return
		}
	}
}
