// Package logging configures slog for codesearch.
//
// The server logs JSON records to ~/.codesearch/logs/server.log with
// size-based rotation; CLI commands log text records to stderr.
package logging
