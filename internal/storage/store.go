// Package storage provides storage abstractions for device records and the
// outbound message log.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jwulff/indieclock-go/internal/domain"
)

// Store is the interface for persistent storage.
type Store interface {
	// Device management
	SaveDevice(ctx context.Context, device *domain.Device) error
	GetDevice(ctx context.Context, id string) (*domain.Device, error)
	GetDevices(ctx context.Context) ([]*domain.Device, error)
	GetDevicesByOwner(ctx context.Context, ownerID string) ([]*domain.Device, error)
	DeleteDevice(ctx context.Context, id string) error

	// Outbound message log
	RecordMessage(ctx context.Context, msg *domain.OutboundMessage) error
	GetMessages(ctx context.Context, ownerID string, limit int) ([]*domain.OutboundMessage, error)
	DeleteMessagesBefore(ctx context.Context, before time.Time) (int64, error)

	// Lifecycle
	Close() error
}

// ErrConflict is returned when a save would violate a uniqueness constraint.
var ErrConflict = errors.New("conflict")

// ErrNotFound is returned when a record is not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e ErrNotFound) Error() string {
	return e.Resource + " not found: " + e.ID
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	var notFound ErrNotFound
	return errors.As(err, &notFound)
}

// DefaultMessageLimit bounds GetMessages when the caller passes no limit.
const DefaultMessageLimit = 100

// NormalizeLimit clamps a requested page size.
func NormalizeLimit(limit int) int {
	if limit <= 0 || limit > DefaultMessageLimit {
		return DefaultMessageLimit
	}
	return limit
}
