// Package devices is the entry point other subsystems use to register
// devices and push content to them.
package devices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jwulff/indieclock-go/internal/domain"
	"github.com/jwulff/indieclock-go/internal/logger"
	"github.com/jwulff/indieclock-go/internal/messages"
	"github.com/jwulff/indieclock-go/internal/provision"
	"github.com/jwulff/indieclock-go/internal/rabbitmq"
	"github.com/jwulff/indieclock-go/internal/reconcile"
	"github.com/jwulff/indieclock-go/internal/render"
	"github.com/jwulff/indieclock-go/internal/storage"
	"github.com/jwulff/indieclock-go/internal/topics"
)

// ErrNoDevices is returned when an owner has no registered devices.
var ErrNoDevices = errors.New("owner has no devices")

// Store persists device records and reads the outbound message log.
type Store interface {
	SaveDevice(ctx context.Context, device *domain.Device) error
	GetDevice(ctx context.Context, id string) (*domain.Device, error)
	GetDevicesByOwner(ctx context.Context, ownerID string) ([]*domain.Device, error)
	DeleteDevice(ctx context.Context, id string) error
	GetMessages(ctx context.Context, ownerID string, limit int) ([]*domain.OutboundMessage, error)
}

// Provisioner manages broker principals.
type Provisioner interface {
	RegisterDevice(ctx context.Context, username, prefix, secret string) (rabbitmq.EnsureResult, error)
	UpdateDevicePermissions(ctx context.Context, device *domain.Device) error
	DeregisterDevice(ctx context.Context, username string) error
}

// Publisher delivers payloads to device topics.
type Publisher interface {
	PublishDisplay(ctx context.Context, ownerID string, t topics.Topics, bitmap *domain.Bitmap) error
	PublishNotify(ctx context.Context, ownerID string, t topics.Topics, n messages.Notification) error
	PublishSwitchApp(ctx context.Context, ownerID string, t topics.Topics, appName string) error
	PublishSyncRequest(ctx context.Context, ownerID string, t topics.Topics) error
}

// Restorer reconciles broker principals with device records.
type Restorer interface {
	Run(ctx context.Context, opts reconcile.Options) (*reconcile.Report, error)
}

// Service ties provisioning, persistence and publishing together.
type Service struct {
	store       Store
	provisioner Provisioner
	publisher   Publisher
	restorer    Restorer
	brokerURL   string

	// Now is the clock used to pick "today" when rendering.
	Now func() time.Time
}

// NewService creates the device service. brokerURL is handed to devices
// together with their credentials.
func NewService(store Store, provisioner Provisioner, publisher Publisher, restorer Restorer, brokerURL string) *Service {
	return &Service{
		store:       store,
		provisioner: provisioner,
		publisher:   publisher,
		restorer:    restorer,
		brokerURL:   brokerURL,
		Now:         time.Now,
	}
}

// ProvisionDevice creates a principal for prefix with a fresh secret and
// returns the credentials. The caller persists them. A principal that
// already exists is rejected since its secret cannot be returned.
func (s *Service) ProvisionDevice(ctx context.Context, prefix string) (domain.Credentials, error) {
	secret, err := topics.NewSecret()
	if err != nil {
		return domain.Credentials{}, err
	}

	result, err := s.provisioner.RegisterDevice(ctx, prefix, prefix, secret)
	if err != nil {
		return domain.Credentials{}, err
	}
	if result == rabbitmq.AlreadyExisted {
		return domain.Credentials{}, fmt.Errorf("%w: principal %s already exists", provision.ErrNamespaceConflict, prefix)
	}

	return domain.Credentials{
		Username:    prefix,
		Secret:      secret,
		TopicPrefix: prefix,
		BrokerURL:   s.brokerURL,
	}, nil
}

// DeprovisionDevice removes a principal. Unknown principals succeed.
func (s *Service) DeprovisionDevice(ctx context.Context, username string) error {
	return s.provisioner.DeregisterDevice(ctx, username)
}

// RegisterDevice provisions a new device for owner and persists it. If
// provisioning fails part way or the record cannot be saved the principal is
// removed again.
func (s *Service) RegisterDevice(ctx context.Context, ownerID, name string) (*domain.Device, domain.Credentials, error) {
	ctx, log := logger.ContextWithOwner(ctx, ownerID)

	prefix, err := topics.NewTopicPrefix(ownerID)
	if err != nil {
		return nil, domain.Credentials{}, fmt.Errorf("failed to generate topic prefix: %w", err)
	}

	creds, err := s.ProvisionDevice(ctx, prefix)
	if err != nil {
		provErr := fmt.Errorf("failed to provision device: %w", err)
		// A conflicting principal belongs to someone else; an invalid prefix
		// never reached the broker.
		if errors.Is(err, provision.ErrNamespaceConflict) || errors.Is(err, topics.ErrInvalidPrefix) {
			return nil, domain.Credentials{}, provErr
		}
		if rbErr := s.provisioner.DeregisterDevice(ctx, prefix); rbErr != nil {
			log.WithError(rbErr).WithField("device", prefix).Error("failed to roll back device principal")
			return nil, domain.Credentials{}, errors.Join(provErr, fmt.Errorf("rollback: %w", rbErr))
		}
		return nil, domain.Credentials{}, provErr
	}

	device := domain.NewDevice(uuid.NewString(), ownerID, name, creds)
	if err := s.store.SaveDevice(ctx, device); err != nil {
		saveErr := fmt.Errorf("failed to save device: %w", err)
		if rbErr := s.provisioner.DeregisterDevice(ctx, creds.Username); rbErr != nil {
			log.WithError(rbErr).WithField("device", creds.Username).Error("failed to roll back device principal")
			return nil, domain.Credentials{}, errors.Join(saveErr, fmt.Errorf("rollback: %w", rbErr))
		}
		return nil, domain.Credentials{}, saveErr
	}

	log.WithFields(logrus.Fields{"device": device.PrincipalUsername, "id": device.ID}).Info("device registered")
	return device, creds, nil
}

// Device returns one of owner's devices. Devices of other owners are reported
// as not found.
func (s *Service) Device(ctx context.Context, ownerID, deviceID string) (*domain.Device, error) {
	device, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device.OwnerID != ownerID {
		return nil, storage.ErrNotFound{Resource: "device", ID: deviceID}
	}
	return device, nil
}

// Devices returns every device of owner.
func (s *Service) Devices(ctx context.Context, ownerID string) ([]*domain.Device, error) {
	return s.store.GetDevicesByOwner(ctx, ownerID)
}

// RemoveDevice deprovisions and deletes one of owner's devices. The record
// is kept when deprovisioning fails so removal can be retried.
func (s *Service) RemoveDevice(ctx context.Context, ownerID, deviceID string) error {
	ctx, log := logger.ContextWithOwner(ctx, ownerID)

	device, err := s.Device(ctx, ownerID, deviceID)
	if err != nil {
		return err
	}
	if err := s.provisioner.DeregisterDevice(ctx, device.PrincipalUsername); err != nil {
		return fmt.Errorf("failed to deprovision device: %w", err)
	}
	if err := s.store.DeleteDevice(ctx, device.ID); err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}

	log.WithField("device", device.PrincipalUsername).Info("device removed")
	return nil
}

// RepairDevicePermissions re-applies the broker permissions of one of
// owner's devices.
func (s *Service) RepairDevicePermissions(ctx context.Context, ownerID, deviceID string) error {
	device, err := s.Device(ctx, ownerID, deviceID)
	if err != nil {
		return err
	}
	return s.provisioner.UpdateDevicePermissions(ctx, device)
}

// PublishContributions renders series once and pushes it to every device of
// owner. It returns how many devices received it; failures are joined.
func (s *Service) PublishContributions(ctx context.Context, ownerID string, series domain.ContributionSeries) (int, error) {
	ctx, log := logger.ContextWithOwner(ctx, ownerID)
	if err := series.Validate(); err != nil {
		log.WithError(err).Warn("contribution series has invalid entries, rendering the rest")
	}

	bitmap := render.RenderContributions(series, s.Now())
	return s.fanOut(ctx, ownerID, func(t topics.Topics) error {
		return s.publisher.PublishDisplay(ctx, ownerID, t, bitmap)
	})
}

// RequestSync asks every device of owner to refresh its contributions app.
func (s *Service) RequestSync(ctx context.Context, ownerID string) (int, error) {
	ctx, _ = logger.ContextWithOwner(ctx, ownerID)
	return s.fanOut(ctx, ownerID, func(t topics.Topics) error {
		return s.publisher.PublishSyncRequest(ctx, ownerID, t)
	})
}

// NotifyOwner shows a notification on every device of owner.
func (s *Service) NotifyOwner(ctx context.Context, ownerID string, n messages.Notification) (int, error) {
	if err := n.Validate(); err != nil {
		return 0, err
	}
	ctx, _ = logger.ContextWithOwner(ctx, ownerID)
	return s.fanOut(ctx, ownerID, func(t topics.Topics) error {
		return s.publisher.PublishNotify(ctx, ownerID, t, n)
	})
}

// SwitchApp brings appName to the foreground on every device of owner.
func (s *Service) SwitchApp(ctx context.Context, ownerID, appName string) (int, error) {
	ctx, _ = logger.ContextWithOwner(ctx, ownerID)
	return s.fanOut(ctx, ownerID, func(t topics.Topics) error {
		return s.publisher.PublishSwitchApp(ctx, ownerID, t, appName)
	})
}

// RecentMessages returns owner's most recent outbound messages, newest first.
// limit is clamped to storage.DefaultMessageLimit.
func (s *Service) RecentMessages(ctx context.Context, ownerID string, limit int) ([]*domain.OutboundMessage, error) {
	return s.store.GetMessages(ctx, ownerID, storage.NormalizeLimit(limit))
}

// RestoreAllDevices re-creates every missing device principal.
func (s *Service) RestoreAllDevices(ctx context.Context) (*reconcile.Report, error) {
	return s.restorer.Run(ctx, reconcile.Options{})
}

// RepairAllDevices restores missing principals and re-applies permissions
// of the existing ones.
func (s *Service) RepairAllDevices(ctx context.Context) (*reconcile.Report, error) {
	return s.restorer.Run(ctx, reconcile.Options{ReapplyPermissions: true})
}

// fanOut runs publish for every device of owner, continuing past failures.
func (s *Service) fanOut(ctx context.Context, ownerID string, publish func(topics.Topics) error) (int, error) {
	log := logger.FromContext(ctx)

	devices, err := s.store.GetDevicesByOwner(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to load devices: %w", err)
	}
	if len(devices) == 0 {
		return 0, ErrNoDevices
	}

	delivered := 0
	var errs []error
	for _, device := range devices {
		if err := publish(topics.DeviceTopics(device.TopicPrefix)); err != nil {
			log.WithError(err).WithField("device", device.PrincipalUsername).Warn("publish failed")
			errs = append(errs, fmt.Errorf("device %s: %w", device.ID, err))
			continue
		}
		delivered++
	}
	return delivered, errors.Join(errs...)
}
