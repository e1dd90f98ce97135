// Package sqlite provides a SQLite implementation of the storage.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/jwulff/indieclock-go/internal/domain"
	"github.com/jwulff/indieclock-go/internal/storage"
)

// Store is a SQLite implementation of storage.Store.
type Store struct {
	db *sql.DB
}

// NewMemoryStore creates an in-memory SQLite store.
func NewMemoryStore() (*Store, error) {
	store, err := newStore(":memory:")
	if err != nil {
		return nil, err
	}
	// Every connection to :memory: is a separate database.
	store.db.SetMaxOpenConns(1)
	return store, nil
}

// NewFileStore creates a file-based SQLite store.
func NewFileStore(path string) (*Store, error) {
	return newStore(path)
}

func newStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *moderncsqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// Device methods

const deviceColumns = `id, owner_id, name, topic_prefix, principal_username, principal_secret, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (*domain.Device, error) {
	var d domain.Device
	if err := row.Scan(&d.ID, &d.OwnerID, &d.Name, &d.TopicPrefix, &d.PrincipalUsername, &d.PrincipalSecret, &d.CreatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) SaveDevice(ctx context.Context, device *domain.Device) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, device.ID, device.OwnerID, device.Name, device.TopicPrefix, device.PrincipalUsername, device.PrincipalSecret, device.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: device %s: %v", storage.ErrConflict, device.ID, err)
	}
	return err
}

func (s *Store) GetDevice(ctx context.Context, id string) (*domain.Device, error) {
	device, err := scanDevice(s.db.QueryRowContext(ctx, `
		SELECT `+deviceColumns+` FROM devices WHERE id = ?
	`, id))
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
	return s.queryDevices(ctx, `SELECT `+deviceColumns+` FROM devices WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
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
	res, err := s.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
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

// Outbound message methods

func (s *Store) RecordMessage(ctx context.Context, msg *domain.OutboundMessage) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO outbound_messages (owner_id, topic, kind, payload, sent_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.OwnerID, msg.Topic, string(msg.Kind), msg.Payload, msg.SentAt.UnixMilli())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	msg.ID = id
	return nil
}

func (s *Store) GetMessages(ctx context.Context, ownerID string, limit int) ([]*domain.OutboundMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, topic, kind, payload, sent_at FROM outbound_messages
		WHERE owner_id = ?
		ORDER BY sent_at DESC, id DESC
		LIMIT ?
	`, ownerID, storage.NormalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*domain.OutboundMessage
	for rows.Next() {
		var msg domain.OutboundMessage
		var kind string
		var sentAt int64
		if err := rows.Scan(&msg.ID, &msg.OwnerID, &msg.Topic, &kind, &msg.Payload, &sentAt); err != nil {
			return nil, err
		}
		msg.Kind = domain.MessageKind(kind)
		msg.SentAt = time.UnixMilli(sentAt).UTC()
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

func (s *Store) DeleteMessagesBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM outbound_messages WHERE sent_at < ?", before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Verify interface compliance
var _ storage.Store = (*Store)(nil)
