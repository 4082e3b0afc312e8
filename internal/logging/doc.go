// Package logging provides structured logging built on log/slog.
//
// Loggers are created per module via GetLogger, with levels that can be
// set globally or per module from configuration and changed at runtime.
// Records fan out to stdout (text or JSON), the systemd journal when
// available, and a bounded ring buffer of recent entries that the admin
// API exposes for diagnostics.
package logging
