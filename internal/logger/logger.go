// Package logger configures logrus and carries a per-operation logger through
// a context.
package logger

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKeyLoggerType struct{}

var contextKeyLogger = &contextKeyLoggerType{}

const (
	requestIDKey = "requestID"
	ownerKey     = "owner"
)

// InitLogger sets the text formatter and level for all log statements. An
// unparseable level falls back to info.
func InitLogger(level string) {
	formatter := new(logrus.TextFormatter)
	formatter.TimestampFormat = "2006-01-02 15:04:05"
	formatter.FullTimestamp = true
	logrus.SetFormatter(formatter)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.WithField("level", level).Warn("unknown log level, using info")
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}

// Default returns a logger without a request ID.
func Default() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

// ContextWithLogger returns a context carrying a logger with a fresh request
// ID. A context that already has a logger is returned unchanged.
func ContextWithLogger(ctx context.Context) (context.Context, *logrus.Entry) {
	if ctx == nil {
		ctx = context.Background()
	} else if rlog := loggerFromContext(ctx); rlog != nil {
		return ctx, rlog
	}
	rlog := logrus.WithField(requestIDKey, uuid.NewString())
	return context.WithValue(ctx, contextKeyLogger, rlog), rlog
}

// ContextWithOwner returns a context whose logger is tagged with an owner ID.
func ContextWithOwner(ctx context.Context, ownerID string) (context.Context, *logrus.Entry) {
	ctx, rlog := ContextWithLogger(ctx)
	rlog = rlog.WithField(ownerKey, ownerID)
	return context.WithValue(ctx, contextKeyLogger, rlog), rlog
}

func loggerFromContext(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return nil
	}
	rlog, ok := ctx.Value(contextKeyLogger).(*logrus.Entry)
	if !ok {
		return nil
	}
	return rlog
}

// FromContext returns the context's logger, or the default logger.
func FromContext(ctx context.Context) *logrus.Entry {
	if rlog := loggerFromContext(ctx); rlog != nil {
		return rlog
	}
	return Default()
}

// RequestIDFromContext returns the request ID of the context's logger, if any.
func RequestIDFromContext(ctx context.Context) string {
	rlog := loggerFromContext(ctx)
	if rlog == nil {
		return ""
	}
	id, _ := rlog.Data[requestIDKey].(string)
	return id
}

// Middleware attaches a request-scoped logger to every HTTP request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, _ := ContextWithLogger(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
