package rpc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrNoResponders is returned by Call when nothing is subscribed to the topic
var ErrNoResponders = errors.New("no responders for topic")

// ErrClosed is returned when using a bus after Close
var ErrClosed = errors.New("bus closed")

// Args is the opaque argument map carried by a message
type Args map[string]interface{}

// Message is the {method, args} body exchanged on the bus
type Message struct {
	Method string `cbor:"method"`
	Args   Args   `cbor:"args"`
}

// Handler processes a message delivered to a subscription. The returned
// value is encoded as the reply of a Call and discarded for a Cast.
type Handler func(ctx context.Context, msg *Message) (interface{}, error)

// Subscription is an active topic subscription
type Subscription interface {
	Unsubscribe() error
}

// Bus is the topic-addressed messaging layer. A bare topic ("compute")
// reaches any one subscriber of that topic; a host-qualified topic
// ("compute.host1") reaches exactly the worker subscribed on it.
type Bus interface {
	// Call sends msg and blocks for the handler's reply. reply may be nil.
	Call(ctx context.Context, topic string, msg *Message, reply interface{}) error

	// Cast sends msg without waiting for it to be handled.
	Cast(ctx context.Context, topic string, msg *Message) error

	// Subscribe registers h for messages on topic.
	Subscribe(topic string, h Handler) (Subscription, error)

	Close() error
}

// Address qualifies a topic with a host name
func Address(topic, host string) string {
	return topic + "." + host
}

// SplitAddress splits "topic.host" into its parts. A bare topic returns an
// empty host.
func SplitAddress(addr string) (topic, host string) {
	topic, host, _ = strings.Cut(addr, ".")
	return topic, host
}

// Clone returns a shallow copy of the arguments
func (a Args) Clone() Args {
	out := make(Args, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// String returns the string argument at key, or "" when absent
func (a Args) String(key string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int returns the integer argument at key
func (a Args) Int(key string) (int, error) {
	v, ok := a[key]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		if n > math.MaxInt {
			return 0, fmt.Errorf("argument %q out of range", key)
		}
		return int(n), nil
	case int32:
		return int(n), nil
	case uint32:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("argument %q is %T, not an integer", key, v)
	}
}

// Time returns the time argument at key. Times travel as RFC 3339 strings.
func (a Args) Time(key string) (time.Time, error) {
	switch v := a[key].(type) {
	case time.Time:
		return v, nil
	case string:
		return time.Parse(time.RFC3339Nano, v)
	case nil:
		return time.Time{}, fmt.Errorf("missing argument %q", key)
	default:
		return time.Time{}, fmt.Errorf("argument %q is %T, not a time", key, v)
	}
}

// Bool returns the boolean argument at key, false when absent
func (a Args) Bool(key string) bool {
	b, _ := a[key].(bool)
	return b
}
