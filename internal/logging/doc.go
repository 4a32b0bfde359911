// Package logging provides structured logging on top of Zap.
//
// The Logger takes a context on every call and appends correlation fields
// found there: trace_id/span_id from the active OpenTelemetry span, plus
// tenant.id, namespace, turn.id and request.id when set with the With*
// helpers.
//
//	ctx = logging.WithTenantID(ctx, botID)
//	ctx = logging.WithTurnID(ctx, turnID)
//	logger.Info(ctx, "turn completed", zap.Duration("latency", d))
//
// Stdout output goes through a RedactingEncoder that masks sensitive keys
// (api_key, token, dsn, ...) and values matching bearer/API key/DSN patterns.
// Sampling is per level; Error and above are never sampled.
//
// Tests use NewTestLogger, which records every entry through zaptest/observer:
//
//	tl := logging.NewTestLogger()
//	svc := NewService(..., tl.Logger)
//	tl.AssertLogged(t, zapcore.WarnLevel, "classifier failed")
package logging
