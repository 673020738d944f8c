// Package handle defines the capability surface of a running cluster member.
//
// The bootstrap workflow never talks to a cache engine directly; it only sees
// a Handle. Engines (the in-process grid, the Redis-backed grid) implement it.
package handle

import (
	"context"
	"errors"
)

// ErrDiagnosticNotFound is returned by Handle.Diagnostic when no capability
// is registered under the requested name.
var ErrDiagnosticNotFound = errors.New("diagnostic not found")

// DiagnosticFunc runs a cluster-wide diagnostic and returns its multi-line report.
type DiagnosticFunc func(ctx context.Context) (string, error)

// Streamer is a buffered write path into one cache. AddData does not wait for
// the engine to acknowledge the write; Close flushes everything still buffered.
type Streamer interface {
	AddData(key string, value int) error
	Close() error
}

// Handle is a running cluster member. Implementations must be safe for
// concurrent use.
type Handle interface {
	// ServerCount returns the number of server-role members currently visible.
	ServerCount(ctx context.Context) (int, error)

	// Streamer opens a new buffered writer for the named cache. Flushes run
	// under ctx, so cancelling it stops a writer that is still sending.
	Streamer(ctx context.Context, cacheName string) (Streamer, error)

	// CacheSize returns the number of entries in the named cache.
	CacheSize(ctx context.Context, cacheName string) (int, error)

	// Diagnostic looks up a named diagnostic capability.
	Diagnostic(name string) (DiagnosticFunc, error)
}
