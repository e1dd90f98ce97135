// Package provision creates, repairs and removes the broker principal that
// backs each device, confining it to its own topic namespace.
package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/jwulff/indieclock-go/internal/domain"
	"github.com/jwulff/indieclock-go/internal/logger"
	"github.com/jwulff/indieclock-go/internal/metrics"
	"github.com/jwulff/indieclock-go/internal/rabbitmq"
	"github.com/jwulff/indieclock-go/internal/topics"
)

// DefaultMaxRetries is how often a failed provisioning sequence is retried.
const DefaultMaxRetries = 3

// ErrNamespaceConflict is returned when a principal with the requested name
// already exists and is scoped to a different namespace.
var ErrNamespaceConflict = errors.New("namespace conflict")

// Admin is the subset of the broker management API provisioning needs.
type Admin interface {
	EnsurePrincipal(ctx context.Context, username, secret string) (rabbitmq.EnsureResult, error)
	SetPermissions(ctx context.Context, username string, perms rabbitmq.Permissions) error
	SetTopicPermissions(ctx context.Context, username string, perms rabbitmq.TopicPermissions) error
	GetPermissions(ctx context.Context, username string) (*rabbitmq.Permissions, error)
	DeletePrincipal(ctx context.Context, username string) error
	PrincipalExists(ctx context.Context, username string) (bool, error)
}

// DefinitionsPersister records a principal in the broker definitions.
type DefinitionsPersister interface {
	PersistPrincipal(ctx context.Context, username, secret string, perms rabbitmq.Permissions) (bool, error)
}

// Service provisions device principals.
type Service struct {
	admin      Admin
	maxRetries uint64

	// NewBackOff returns the delay policy for one retried operation.
	NewBackOff func() backoff.BackOff

	// Definitions, when set, receives every registered principal. Failures
	// are logged and do not fail registration.
	Definitions DefinitionsPersister
}

// NewService creates a provisioning service.
func NewService(admin Admin, maxRetries uint64) *Service {
	return &Service{
		admin:      admin,
		maxRetries: maxRetries,
		NewBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// Exists reports whether the device principal exists on the broker.
func (s *Service) Exists(ctx context.Context, username string) (bool, error) {
	return s.admin.PrincipalExists(ctx, username)
}

// RegisterDevice ensures principal username exists with the given secret and
// holds exactly the permissions for prefix. An existing principal keeps its
// secret. The result is Created when any attempt created the principal, so a
// retry after a partial failure is not mistaken for a pre-existing one. If a
// step after creation fails the principal is left without permissions and
// the error is returned.
func (s *Service) RegisterDevice(ctx context.Context, username, prefix, secret string) (rabbitmq.EnsureResult, error) {
	log := logger.FromContext(ctx).WithFields(logrus.Fields{"device": username, "prefix": prefix})

	if err := topics.ValidatePrefix(prefix); err != nil {
		metrics.ProvisionOpsTotal.WithLabelValues("register", metrics.Result(err)).Inc()
		return 0, err
	}

	created := false
	err := s.retry(ctx, log, "register", func() error {
		r, err := s.admin.EnsurePrincipal(ctx, username, secret)
		if err != nil {
			return fmt.Errorf("ensure principal: %w", err)
		}
		if r == rabbitmq.Created {
			created = true
		}
		if !created {
			if err := s.checkNamespace(ctx, username, prefix); err != nil {
				return err
			}
		}
		return s.applyPermissions(ctx, username, prefix)
	})
	metrics.ProvisionOpsTotal.WithLabelValues("register", metrics.Result(err)).Inc()
	if err != nil {
		log.WithError(err).Error("failed to register device principal")
		return 0, err
	}

	result := rabbitmq.AlreadyExisted
	if created {
		result = rabbitmq.Created
	}
	s.persistDefinitions(ctx, log, username, prefix, secret)
	log.WithField("principal", result.String()).Info("device principal registered")
	return result, nil
}

// UpdateDevicePermissions re-applies the namespace permissions of an
// existing device principal.
func (s *Service) UpdateDevicePermissions(ctx context.Context, device *domain.Device) error {
	log := logger.FromContext(ctx).WithField("device", device.PrincipalUsername)

	if err := topics.ValidatePrefix(device.TopicPrefix); err != nil {
		metrics.ProvisionOpsTotal.WithLabelValues("update", metrics.Result(err)).Inc()
		return err
	}

	err := s.retry(ctx, log, "update", func() error {
		return s.applyPermissions(ctx, device.PrincipalUsername, device.TopicPrefix)
	})
	metrics.ProvisionOpsTotal.WithLabelValues("update", metrics.Result(err)).Inc()
	if err != nil {
		log.WithError(err).Error("failed to update device permissions")
		return err
	}
	log.Info("device permissions updated")
	return nil
}

// DeregisterDevice removes the device principal. A principal that is already
// gone counts as success.
func (s *Service) DeregisterDevice(ctx context.Context, username string) error {
	log := logger.FromContext(ctx).WithField("device", username)

	err := s.retry(ctx, log, "deregister", func() error {
		return s.admin.DeletePrincipal(ctx, username)
	})
	metrics.ProvisionOpsTotal.WithLabelValues("deregister", metrics.Result(err)).Inc()
	if err != nil {
		log.WithError(err).Error("failed to deregister device principal")
		return err
	}
	log.Info("device principal deregistered")
	return nil
}

func (s *Service) persistDefinitions(ctx context.Context, log *logrus.Entry, username, prefix, secret string) {
	if s.Definitions == nil {
		return
	}
	p := topics.PermissionPatterns(prefix)
	added, err := s.Definitions.PersistPrincipal(ctx, username, secret, rabbitmq.Permissions{
		Configure: p.Configure,
		Write:     p.Write,
		Read:      p.Read,
	})
	if err != nil {
		log.WithError(err).Warn("failed to persist device principal in broker definitions")
		return
	}
	if added {
		log.Debug("device principal added to broker definitions")
	}
}

func (s *Service) applyPermissions(ctx context.Context, username, prefix string) error {
	p := topics.PermissionPatterns(prefix)
	if err := s.admin.SetPermissions(ctx, username, rabbitmq.Permissions{
		Configure: p.Configure,
		Write:     p.Write,
		Read:      p.Read,
	}); err != nil {
		return fmt.Errorf("set permissions: %w", err)
	}

	tp := topics.TopicPermissions(prefix)
	if err := s.admin.SetTopicPermissions(ctx, username, rabbitmq.TopicPermissions{
		Exchange: tp.Exchange,
		Write:    tp.Write,
		Read:     tp.Read,
	}); err != nil {
		return fmt.Errorf("set topic permissions: %w", err)
	}
	return nil
}

// checkNamespace rejects an existing principal whose permissions belong to a
// different prefix. A principal without permissions is unclaimed.
func (s *Service) checkNamespace(ctx context.Context, username, prefix string) error {
	perms, err := s.admin.GetPermissions(ctx, username)
	if rabbitmq.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get permissions: %w", err)
	}
	if !ScopedTo(perms, prefix) {
		return fmt.Errorf("%w: principal %s is scoped to %q", ErrNamespaceConflict, username, perms.Write)
	}
	return nil
}

// ScopedTo reports whether perms are empty or grant the namespace of prefix.
func ScopedTo(perms *rabbitmq.Permissions, prefix string) bool {
	if perms.Configure == "" && perms.Write == "" && perms.Read == "" {
		return true
	}
	own := topics.ToAdminPrefix(prefix) + ".*"
	for _, pattern := range []string{perms.Configure, perms.Write, perms.Read} {
		for _, alt := range strings.Split(pattern, "|") {
			if alt == own {
				return true
			}
		}
	}
	return false
}

// retry runs op until it succeeds, fails permanently, or retries run out.
func (s *Service) retry(ctx context.Context, log *logrus.Entry, op string, fn func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(s.NewBackOff(), s.maxRetries), ctx)
	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		log.WithError(err).WithFields(logrus.Fields{"op": op, "retryIn": wait}).Warn("provisioning step failed, retrying")
	})
}

func isPermanent(err error) bool {
	return rabbitmq.IsPermanent(err) ||
		errors.Is(err, ErrNamespaceConflict) ||
		errors.Is(err, topics.ErrInvalidPrefix) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
