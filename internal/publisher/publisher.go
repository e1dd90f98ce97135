// Package publisher delivers rendered bitmaps and control messages to devices
// over the broker's MQTT interface.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jwulff/indieclock-go/internal/domain"
	"github.com/jwulff/indieclock-go/internal/logger"
	"github.com/jwulff/indieclock-go/internal/messages"
	"github.com/jwulff/indieclock-go/internal/metrics"
	"github.com/jwulff/indieclock-go/internal/topics"
)

// Recorder appends an audit record for a delivered message.
type Recorder interface {
	RecordMessage(ctx context.Context, msg *domain.OutboundMessage) error
}

// Publisher encodes payloads and hands them to a Transport.
type Publisher struct {
	transport Transport
	recorder  Recorder

	// Now is the clock used for sync request timestamps.
	Now func() time.Time
}

// New creates a publisher. recorder may be nil.
func New(transport Transport, recorder Recorder) *Publisher {
	return &Publisher{
		transport: transport,
		recorder:  recorder,
		Now:       time.Now,
	}
}

// IsConnected reports whether the underlying transport is connected.
func (p *Publisher) IsConnected() bool {
	return p.transport.IsConnected()
}

// PublishDisplay sends a bitmap as the device's contributions app. The
// message is retained so a reconnecting device redraws immediately.
func (p *Publisher) PublishDisplay(ctx context.Context, ownerID string, t topics.Topics, bitmap *domain.Bitmap) error {
	if bitmap == nil {
		return errors.New("bitmap is required")
	}
	return p.publish(ctx, ownerID, t.Display, QoSAtLeastOnce, true, messages.NewDisplay(bitmap))
}

// PublishNotify shows a one-off notification. Unset presentation fields get defaults.
func (p *Publisher) PublishNotify(ctx context.Context, ownerID string, t topics.Topics, n messages.Notification) error {
	n = n.WithDefaults()
	if err := n.Validate(); err != nil {
		return err
	}
	return p.publish(ctx, ownerID, t.Notify, QoSAtLeastOnce, false, n)
}

// PublishSwitchApp brings the named app to the foreground.
func (p *Publisher) PublishSwitchApp(ctx context.Context, ownerID string, t topics.Topics, appName string) error {
	if appName == "" {
		return errors.New("app name is required")
	}
	return p.publish(ctx, ownerID, t.SwitchApp, QoSAtLeastOnce, false, messages.SwitchApp{Name: appName})
}

// PublishSyncRequest asks the device to refresh the contributions app.
func (p *Publisher) PublishSyncRequest(ctx context.Context, ownerID string, t topics.Topics) error {
	return p.publish(ctx, ownerID, t.Sync, QoSAtMostOnce, false, messages.NewSyncRequest(p.Now()))
}

func (p *Publisher) publish(ctx context.Context, ownerID, topic string, qos byte, retained bool, payload messages.Payload) error {
	kind := payload.Kind()
	log := logger.FromContext(ctx).WithFields(logrus.Fields{"topic": topic, "kind": kind})

	data, err := messages.Encode(payload)
	if err != nil {
		return err
	}

	if err := p.transport.Publish(ctx, topic, qos, retained, data); err != nil {
		metrics.PublishesTotal.WithLabelValues(string(kind), metrics.Result(err)).Inc()
		if errors.Is(err, ErrNotConnected) {
			return err
		}
		return fmt.Errorf("failed to publish %s: %w", kind, err)
	}
	metrics.PublishesTotal.WithLabelValues(string(kind), metrics.Result(nil)).Inc()
	log.Debug("published")

	if p.recorder != nil {
		msg := domain.NewOutboundMessage(ownerID, topic, kind, data)
		if err := p.recorder.RecordMessage(ctx, msg); err != nil {
			log.WithError(err).Warn("failed to record outbound message")
		}
	}
	return nil
}
