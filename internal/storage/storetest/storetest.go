// Package storetest is a behavioural test suite shared by every
// storage.Store implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwulff/indieclock-go/internal/domain"
	"github.com/jwulff/indieclock-go/internal/storage"
)

// NewDevice returns a device with unique broker identifiers derived from id.
func NewDevice(id, ownerID string) *domain.Device {
	prefix := "awtrix_" + ownerID + "_" + id
	return domain.NewDevice(id, ownerID, "Device "+id, domain.Credentials{
		Username:    prefix,
		Secret:      "secret-" + id,
		TopicPrefix: prefix,
	})
}

// Run exercises a fresh, empty store. newStore is called once per subtest.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("SaveAndGetDevice", func(t *testing.T) { testSaveAndGetDevice(t, newStore(t)) })
	t.Run("GetDeviceNotFound", func(t *testing.T) { testGetDeviceNotFound(t, newStore(t)) })
	t.Run("SaveDeviceConflict", func(t *testing.T) { testSaveDeviceConflict(t, newStore(t)) })
	t.Run("GetDevices", func(t *testing.T) { testGetDevices(t, newStore(t)) })
	t.Run("GetDevicesByOwner", func(t *testing.T) { testGetDevicesByOwner(t, newStore(t)) })
	t.Run("DeleteDevice", func(t *testing.T) { testDeleteDevice(t, newStore(t)) })
	t.Run("RecordAndGetMessages", func(t *testing.T) { testRecordAndGetMessages(t, newStore(t)) })
	t.Run("DeleteMessagesBefore", func(t *testing.T) { testDeleteMessagesBefore(t, newStore(t)) })
}

func testSaveAndGetDevice(t *testing.T, store storage.Store) {
	ctx := context.Background()
	device := NewDevice("dev-1", "u1")

	require.NoError(t, store.SaveDevice(ctx, device))

	got, err := store.GetDevice(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, device.ID, got.ID)
	assert.Equal(t, device.OwnerID, got.OwnerID)
	assert.Equal(t, device.Name, got.Name)
	assert.Equal(t, device.TopicPrefix, got.TopicPrefix)
	assert.Equal(t, device.PrincipalUsername, got.PrincipalUsername)
	assert.Equal(t, device.PrincipalSecret, got.PrincipalSecret)
	assert.WithinDuration(t, device.CreatedAt, got.CreatedAt, time.Second)
}

func testGetDeviceNotFound(t *testing.T, store storage.Store) {
	_, err := store.GetDevice(context.Background(), "nonexistent")
	assert.True(t, storage.IsNotFound(err))
}

func testSaveDeviceConflict(t *testing.T, store storage.Store) {
	ctx := context.Background()
	require.NoError(t, store.SaveDevice(ctx, NewDevice("dev-1", "u1")))

	sameID := NewDevice("dev-1", "u2")
	assert.ErrorIs(t, store.SaveDevice(ctx, sameID), storage.ErrConflict)

	samePrefix := NewDevice("dev-2", "u1")
	samePrefix.TopicPrefix = "awtrix_u1_dev-1"
	assert.ErrorIs(t, store.SaveDevice(ctx, samePrefix), storage.ErrConflict)

	sameUser := NewDevice("dev-3", "u1")
	sameUser.PrincipalUsername = "awtrix_u1_dev-1"
	assert.ErrorIs(t, store.SaveDevice(ctx, sameUser), storage.ErrConflict)
}

func testGetDevices(t *testing.T, store storage.Store) {
	ctx := context.Background()

	devices, err := store.GetDevices(ctx)
	require.NoError(t, err)
	assert.Empty(t, devices)

	require.NoError(t, store.SaveDevice(ctx, NewDevice("dev-1", "u1")))
	require.NoError(t, store.SaveDevice(ctx, NewDevice("dev-2", "u2")))

	devices, err = store.GetDevices(ctx)
	require.NoError(t, err)
	assert.Len(t, devices, 2)
}

func testGetDevicesByOwner(t *testing.T, store storage.Store) {
	ctx := context.Background()
	require.NoError(t, store.SaveDevice(ctx, NewDevice("dev-1", "u1")))
	require.NoError(t, store.SaveDevice(ctx, NewDevice("dev-2", "u1")))
	require.NoError(t, store.SaveDevice(ctx, NewDevice("dev-3", "u2")))

	devices, err := store.GetDevicesByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, devices, 2)
	for _, d := range devices {
		assert.Equal(t, "u1", d.OwnerID)
	}

	devices, err = store.GetDevicesByOwner(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func testDeleteDevice(t *testing.T, store storage.Store) {
	ctx := context.Background()
	require.NoError(t, store.SaveDevice(ctx, NewDevice("dev-1", "u1")))

	require.NoError(t, store.DeleteDevice(ctx, "dev-1"))

	_, err := store.GetDevice(ctx, "dev-1")
	assert.True(t, storage.IsNotFound(err))

	err = store.DeleteDevice(ctx, "dev-1")
	assert.True(t, storage.IsNotFound(err))
}

func testRecordAndGetMessages(t *testing.T, store storage.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		msg := domain.NewOutboundMessage("u1", "awtrix_u1_x/notify", domain.MessageKindNotify, []byte(`{"text":"hi"}`))
		msg.SentAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.RecordMessage(ctx, msg))
		assert.NotZero(t, msg.ID)
	}
	other := domain.NewOutboundMessage("u2", "awtrix_u2_y/switch", domain.MessageKindSwitch, []byte(`{"name":"Time"}`))
	require.NoError(t, store.RecordMessage(ctx, other))

	msgs, err := store.GetMessages(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].SentAt.After(msgs[1].SentAt), "newest first")
	assert.Equal(t, domain.MessageKindNotify, msgs[0].Kind)
	assert.JSONEq(t, `{"text":"hi"}`, string(msgs[0].Payload))

	msgs, err = store.GetMessages(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func testDeleteMessagesBefore(t *testing.T, store storage.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	old := domain.NewOutboundMessage("u1", "t", domain.MessageKindDisplay, []byte(`{}`))
	old.SentAt = now.Add(-31 * 24 * time.Hour)
	recent := domain.NewOutboundMessage("u1", "t", domain.MessageKindDisplay, []byte(`{}`))
	recent.SentAt = now.Add(-time.Hour)
	require.NoError(t, store.RecordMessage(ctx, old))
	require.NoError(t, store.RecordMessage(ctx, recent))

	deleted, err := store.DeleteMessagesBefore(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	msgs, err := store.GetMessages(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, recent.ID, msgs[0].ID)
}
