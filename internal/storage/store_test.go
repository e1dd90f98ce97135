package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrNotFound(t *testing.T) {
	err := ErrNotFound{Resource: "device", ID: "123"}

	assert.Equal(t, "device not found: 123", err.Error())
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(fmt.Errorf("lookup: %w", err)))
}

func TestIsNotFoundFalse(t *testing.T) {
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsNotFound(assert.AnError))
	assert.False(t, IsNotFound(ErrConflict))
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultMessageLimit, NormalizeLimit(0))
	assert.Equal(t, DefaultMessageLimit, NormalizeLimit(-5))
	assert.Equal(t, 10, NormalizeLimit(10))
	assert.Equal(t, DefaultMessageLimit, NormalizeLimit(1000))
}
