// Package audit records security-relevant events (role changes, OTP
// exchanges, document grants) as structured log entries.
package audit

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"hatchup.org/internal/auth"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Logger writes audit entries. A nil *Logger discards them.
type Logger struct {
	z *zap.Logger
}

func New(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{z: z.With(zap.String("type", "audit"))}
}

// LogEvent writes an audit log entry enriched with request and user context.
func (l *Logger) LogEvent(ctx context.Context, event string, fields map[string]string) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	if l == nil {
		return nil
	}
	zf := make([]zap.Field, 0, 3)
	if rid := RequestIDFromContext(ctx); rid != "" {
		zf = append(zf, zap.String("request_id", rid))
	}
	if id := auth.IdentityFromContext(ctx); id.Authenticated() {
		zf = append(zf, zap.String("user_id", id.UserID))
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	zf = append(zf, zap.Object("fields", zapFields{keys: keys, values: fields}))
	l.z.Info(event, zf...)
	return nil
}

type zapFields struct {
	keys   []string
	values map[string]string
}

func (f zapFields) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	for _, k := range f.keys {
		enc.AddString(k, f.values[k])
	}
	return nil
}
