package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/jwulff/indieclock-go/internal/logger"
	"github.com/jwulff/indieclock-go/internal/metrics"
)

// Default MQTT timings.
const (
	DefaultConnectTimeout       = 10 * time.Second
	DefaultPublishTimeout       = 5 * time.Second
	DefaultMaxReconnectInterval = 30 * time.Second
	disconnectQuiesceMillis     = 250
)

// MQTTOptions configure an MQTTTransport.
type MQTTOptions struct {
	URL                  string
	Username             string
	Password             string
	ClientIDPrefix       string
	ConnectTimeout       time.Duration
	PublishTimeout       time.Duration
	MaxReconnectInterval time.Duration
}

func (o MQTTOptions) withDefaults() MQTTOptions {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = DefaultPublishTimeout
	}
	if o.MaxReconnectInterval <= 0 {
		o.MaxReconnectInterval = DefaultMaxReconnectInterval
	}
	if o.ClientIDPrefix == "" {
		o.ClientIDPrefix = "indieclock-server"
	}
	return o
}

// MQTTTransport is a Transport over a single paho client. Connection
// management is owned by Run; Publish never dials.
type MQTTTransport struct {
	opts      MQTTOptions
	client    mqtt.Client
	connected atomic.Bool
	lost      chan error

	// mu keeps at most one publish in flight.
	mu sync.Mutex
}

// NewMQTTTransport creates a disconnected transport. Call Run to connect.
func NewMQTTTransport(opts MQTTOptions) *MQTTTransport {
	opts = opts.withDefaults()
	t := &MQTTTransport{
		opts: opts,
		lost: make(chan error, 1),
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.URL).
		SetClientID(opts.ClientIDPrefix + "-" + uuid.NewString()[:8]).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(opts.ConnectTimeout).
		SetConnectionLostHandler(t.onConnectionLost)
	t.client = mqtt.NewClient(clientOpts)
	return t
}

func (t *MQTTTransport) onConnectionLost(_ mqtt.Client, err error) {
	t.setConnected(false)
	select {
	case t.lost <- err:
	default:
	}
}

func (t *MQTTTransport) setConnected(v bool) {
	t.connected.Store(v)
	if v {
		metrics.MQTTConnected.Set(1)
	} else {
		metrics.MQTTConnected.Set(0)
	}
}

// IsConnected reports whether the transport holds a live connection.
func (t *MQTTTransport) IsConnected() bool {
	return t.connected.Load() && t.client.IsConnectionOpen()
}

// Run connects and keeps the connection alive until ctx is cancelled,
// reconnecting with exponential backoff bounded by MaxReconnectInterval.
// It is the only goroutine that dials the broker.
func (t *MQTTTransport) Run(ctx context.Context) error {
	log := logger.FromContext(ctx).WithField("broker", t.opts.URL)

	b := backoff.NewExponentialBackOff()
	b.MaxInterval = t.opts.MaxReconnectInterval
	b.MaxElapsedTime = 0

	for {
		if err := t.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := b.NextBackOff()
			log.WithError(err).WithField("retryIn", wait).Warn("mqtt connect failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		b.Reset()
		log.Info("mqtt connected")

		select {
		case <-ctx.Done():
			t.Close()
			return ctx.Err()
		case err := <-t.lost:
			log.WithError(err).Warn("mqtt connection lost")
		}
	}
}

func (t *MQTTTransport) connect(ctx context.Context) error {
	// Drain a loss signal left over from a previous connection.
	select {
	case <-t.lost:
	default:
	}

	token := t.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(t.opts.ConnectTimeout):
		return fmt.Errorf("connect to %s: timed out after %s", t.opts.URL, t.opts.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to %s: %w", t.opts.URL, err)
	}
	t.setConnected(true)
	return nil
}

// Publish sends one message and waits for the broker acknowledgement
// (for QoS 1) or for the write to complete (QoS 0).
func (t *MQTTTransport) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	if !t.IsConnected() {
		return ErrNotConnected
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	token := t.client.Publish(topic, qos, retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(t.opts.PublishTimeout):
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	if err := token.Error(); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			return ErrNotConnected
		}
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (t *MQTTTransport) Close() {
	t.setConnected(false)
	if t.client.IsConnected() {
		t.client.Disconnect(disconnectQuiesceMillis)
	}
}

// Verify interface compliance
var _ Transport = (*MQTTTransport)(nil)
