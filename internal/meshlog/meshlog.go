// Package meshlog is the thin, shared log/slog setup used by every
// component that logs: a single New() that stamps a component tag onto
// a base logger, mirroring the teacher's
// logger.With("component", ..., "node_id", getShortID(...)) convention
// (kernel/core/mesh/transport/transport.go).
package meshlog

import "log/slog"

// New derives a component-scoped logger from base. A nil base falls back
// to slog.Default(), matching the teacher's NewWebRTCTransport guard.
// Extra key/value pairs are attached the same way the teacher attaches
// "node_id" alongside "component".
func New(base *slog.Logger, component string, attrs ...any) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	args := append([]any{"component", component}, attrs...)
	return base.With(args...)
}

// ShortID truncates an identifier to 8 characters for log lines, the
// same truncation the teacher's getShortID applies to peer IDs.
func ShortID(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}
