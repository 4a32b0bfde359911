package logging

import (
	"context"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if v := stringValue(ctx, tenantCtxKey{}); v != "" {
		fields = append(fields, zap.String("tenant.id", v))
	}
	if v := stringValue(ctx, namespaceCtxKey{}); v != "" {
		fields = append(fields, zap.String("namespace", v))
	}
	if v := stringValue(ctx, turnCtxKey{}); v != "" {
		fields = append(fields, zap.String("turn.id", v))
	}
	if v := stringValue(ctx, requestCtxKey{}); v != "" {
		fields = append(fields, zap.String("request.id", v))
	}

	return fields
}

type (
	tenantCtxKey    struct{}
	namespaceCtxKey struct{}
	turnCtxKey      struct{}
	requestCtxKey   struct{}
	loggerCtxKey    struct{}
)

const maxIDLen = 128

// sanitizeID bounds caller-supplied identifiers before they reach log lines.
func sanitizeID(id string) string {
	if !utf8.ValidString(id) {
		return ""
	}
	if len(id) > maxIDLen {
		return id[:maxIDLen]
	}
	return id
}

func stringValue(ctx context.Context, key any) string {
	s, _ := ctx.Value(key).(string)
	return s
}

func withString(ctx context.Context, key any, v string) context.Context {
	v = sanitizeID(v)
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, key, v)
}

// WithTenantID tags the context with the tenant (bot) identifier.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return withString(ctx, tenantCtxKey{}, tenantID)
}

// TenantIDFromContext returns the tenant identifier, or "".
func TenantIDFromContext(ctx context.Context) string { return stringValue(ctx, tenantCtxKey{}) }

// WithNamespace tags the context with the knowledge namespace.
func WithNamespace(ctx context.Context, namespace string) context.Context {
	return withString(ctx, namespaceCtxKey{}, namespace)
}

// NamespaceFromContext returns the knowledge namespace, or "".
func NamespaceFromContext(ctx context.Context) string { return stringValue(ctx, namespaceCtxKey{}) }

// WithTurnID tags the context with the chat turn identifier.
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return withString(ctx, turnCtxKey{}, turnID)
}

// TurnIDFromContext returns the chat turn identifier, or "".
func TurnIDFromContext(ctx context.Context) string { return stringValue(ctx, turnCtxKey{}) }

// WithRequestID tags the context with the HTTP request identifier.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withString(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext returns the HTTP request identifier, or "".
func RequestIDFromContext(ctx context.Context) string { return stringValue(ctx, requestCtxKey{}) }

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
