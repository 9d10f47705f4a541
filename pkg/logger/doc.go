// Package logger builds the process-wide *slog.Logger: text output in
// development, JSON in production. Components receive the logger
// explicitly; nothing here installs a global default.
package logger
