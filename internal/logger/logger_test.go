package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)

	InitLogger("debug")
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	InitLogger("nonsense")
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())
}

func TestContextWithLogger(t *testing.T) {
	ctx, rlog := ContextWithLogger(context.Background())
	require.NotNil(t, rlog)

	id := RequestIDFromContext(ctx)
	assert.NotEmpty(t, id)

	again, same := ContextWithLogger(ctx)
	assert.Equal(t, ctx, again)
	assert.Same(t, rlog, same)
	assert.Equal(t, id, RequestIDFromContext(again))
}

func TestContextWithOwner(t *testing.T) {
	ctx, rlog := ContextWithOwner(context.Background(), "u1")

	assert.Equal(t, "u1", rlog.Data[ownerKey])
	assert.Same(t, rlog, FromContext(ctx))
	assert.NotEmpty(t, RequestIDFromContext(ctx))
}

func TestFromContextWithoutLogger(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestMiddleware(t *testing.T) {
	var id string
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id = RequestIDFromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.NotEmpty(t, id)
}
