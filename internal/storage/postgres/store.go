// Package postgres provides a PostgreSQL implementation of the storage.Store
// interface.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/jwulff/indieclock-go/internal/domain"
	"github.com/jwulff/indieclock-go/internal/storage"
)

const uniqueViolation = pq.ErrorCode("23505")

// Store is a PostgreSQL implementation of storage.Store.
type Store struct {
	db *sql.DB
}

// Open connects to the database described by dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

const deviceColumns = `id, owner_id, name, topic_prefix, principal_username, principal_secret, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (*domain.Device, error) {
	var d domain.Device
	if err := row.Scan(&d.ID, &d.OwnerID, &d.Name, &d.TopicPrefix, &d.PrincipalUsername, &d.PrincipalSecret, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}

func (s *Store) SaveDevice(ctx context.Context, device *domain.Device) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, device.ID, device.OwnerID, device.Name, device.TopicPrefix, device.PrincipalUsername, device.PrincipalSecret, device.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: device %s: %v", storage.ErrConflict, device.ID, err)
	}
	return err
}

func (s *Store) GetDevice(ctx context.Context, id string) (*domain.Device, error) {
	device, err := scanDevice(s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound{Resource: "device", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return device, nil
}

func (s *Store) GetDevices(ctx context.Context) ([]*domain.Device, error) {
	return s.queryDevices(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY created_at, id`)
}

func (s *Store) GetDevicesByOwner(ctx context.Context, ownerID string) ([]*domain.Device, error) {
	return s.queryDevices(ctx, `SELECT `+deviceColumns+` FROM devices WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
}

func (s *Store) queryDevices(ctx context.Context, query string, args ...any) ([]*domain.Device, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*domain.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

func (s *Store) DeleteDevice(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound{Resource: "device", ID: id}
	}
	return nil
}

func (s *Store) RecordMessage(ctx context.Context, msg *domain.OutboundMessage) error {
	return s.db.QueryRowContext(ctx, `
		INSERT INTO outbound_messages (owner_id, topic, kind, payload, sent_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, msg.OwnerID, msg.Topic, string(msg.Kind), msg.Payload, msg.SentAt).Scan(&msg.ID)
}

func (s *Store) GetMessages(ctx context.Context, ownerID string, limit int) ([]*domain.OutboundMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, topic, kind, payload, sent_at FROM outbound_messages
		WHERE owner_id = $1
		ORDER BY sent_at DESC, id DESC
		LIMIT $2
	`, ownerID, storage.NormalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*domain.OutboundMessage
	for rows.Next() {
		var msg domain.OutboundMessage
		var kind string
		if err := rows.Scan(&msg.ID, &msg.OwnerID, &msg.Topic, &kind, &msg.Payload, &msg.SentAt); err != nil {
			return nil, err
		}
		msg.Kind = domain.MessageKind(kind)
		msg.SentAt = msg.SentAt.UTC()
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

func (s *Store) DeleteMessagesBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM outbound_messages WHERE sent_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Verify interface compliance
var _ storage.Store = (*Store)(nil)
