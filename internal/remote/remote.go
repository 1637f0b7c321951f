// Package remote defines the engine's view of the remote store: a delivery
// interface for queued mutations and a fetch interface for reads.
//
// The engine never interprets payloads or credentials; it only needs the
// three delivery outcomes (ok, version conflict, transport error) and a
// bounded timeout per call.
package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/sproutlabs/sproutsync/internal/op"
)

// Deliverer applies one queued mutation to the remote store.
//
// Deliver returns:
//   - nil when the mutation was applied
//   - *ConflictError when the remote reports a version mismatch
//   - any other error for transport/server failures (retryable)
//
// CREATE deliveries must be idempotent on the remote side given the same
// client-generated record id; the engine re-delivers after ambiguous
// timeouts.
//
// When force is true the delivery overrides the remote version check
// (used after a last-write-wins resolution in favor of the local op).
type Deliverer interface {
	Deliver(ctx context.Context, rec op.Record, force bool) error
}

// Fetcher reads a resource snapshot from the remote store, used to
// populate cache entries. Fetch failures trigger cache fallback, never
// queue activity.
type Fetcher interface {
	Fetch(ctx context.Context, resourceKey string) ([]byte, error)
}

// CredentialSource supplies the credential attached to every remote call.
// The engine does not interpret the token.
type CredentialSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a CredentialSource returning a fixed token.
type StaticToken string

// Token implements CredentialSource.
func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// ConflictError reports a remote version mismatch for a delivery.
type ConflictError struct {
	// RemoteVersion is the timestamp of the remote store's current
	// version of the record, compared against the local enqueue time by
	// last-write-wins resolution.
	RemoteVersion time.Time
}

// Error implements error.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: remote version at %s",
		e.RemoteVersion.Format(time.RFC3339))
}

// Unwrap lets errors.Is(err, op.ErrConflict) classify conflict errors.
func (e *ConflictError) Unwrap() error {
	return op.ErrConflict
}
