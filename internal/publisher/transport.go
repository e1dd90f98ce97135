package publisher

import (
	"context"
	"errors"
)

// QoS levels used by the publisher.
const (
	QoSAtMostOnce  byte = 0
	QoSAtLeastOnce byte = 1
)

// ErrNotConnected is returned when a publish is attempted without a live
// broker connection. It is never queued.
var ErrNotConnected = errors.New("not connected to broker")

// ErrPublishTimeout is returned when the broker does not acknowledge a publish in time.
var ErrPublishTimeout = errors.New("publish timed out")

// Transport delivers raw payloads to the broker.
type Transport interface {
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
	IsConnected() bool
}
