// Package op defines the operation record model shared by the queue store,
// the sync worker, and the engine facade.
//
// An operation record is a single deferred mutation: something the client
// did while offline (or while the remote store was unreachable) that still
// has to be delivered. The engine treats the payload as an opaque blob; only
// the model name, record id, and timestamps matter for ordering and
// conflict resolution.
package op

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies the kind of mutation an operation carries.
type Type string

const (
	// TypeCreate inserts a new record. The record id is client-generated
	// and the remote store is expected to treat re-delivery of the same
	// id as idempotent.
	TypeCreate Type = "CREATE"

	// TypeUpdate modifies an existing record.
	TypeUpdate Type = "UPDATE"

	// TypeDelete removes an existing record.
	TypeDelete Type = "DELETE"
)

// Valid reports whether t is one of the known operation types.
func (t Type) Valid() bool {
	switch t {
	case TypeCreate, TypeUpdate, TypeDelete:
		return true
	}
	return false
}

// State is the lifecycle state of a queued operation.
//
// Delivered and cancelled operations are removed from the queue rather than
// retained, so there are no terminal states here. The only re-entry
// transition is failed -> pending, performed by the scheduler's recovery
// scan once the backoff cooldown has elapsed.
type State string

const (
	// StatePending means the operation is waiting for the next sync pass.
	StatePending State = "pending"

	// StateInFlight means the operation is currently being delivered.
	// At most one record is in flight at any time.
	StateInFlight State = "in_flight"

	// StateFailed means the last delivery attempt did not succeed.
	// The error kind distinguishes retryable transport failures from
	// conflicts deferred to the user and exhausted retries.
	StateFailed State = "failed"
)

// ErrorKind classifies why a record is in the failed state.
type ErrorKind string

const (
	// ErrKindNone is set on records that have not failed.
	ErrKindNone ErrorKind = ""

	// ErrKindTransport marks a retryable network or server failure.
	ErrKindTransport ErrorKind = "transport"

	// ErrKindConflict marks a version conflict deferred to the user.
	// These records are never auto-requeued; they wait for an explicit
	// retry or cancellation.
	ErrKindConflict ErrorKind = "conflict"

	// ErrKindExhausted marks a record that has used up its retry budget.
	// Surfaced to the caller for manual intervention, never dropped.
	ErrKindExhausted ErrorKind = "exhausted"
)

// Record is a queued, not-yet-confirmed mutation awaiting delivery.
//
// Records are immutable after creation except for the status fields
// (Attempts, State, ErrorKind, LastError, LastAttemptAt), which are owned
// by the queue store.
type Record struct {
	// ID is an opaque unique identifier assigned at enqueue time.
	ID string `json:"id"`

	// Type is the mutation kind (CREATE, UPDATE, DELETE).
	Type Type `json:"type"`

	// ModelName identifies the target entity type. Opaque to the engine;
	// it is used only for priority weighting and cache invalidation.
	ModelName string `json:"model_name"`

	// RecordID identifies the target entity. For CREATE this is a
	// client-generated id the remote store accepts idempotently.
	RecordID string `json:"record_id"`

	// Payload holds the fields to write, opaque to the engine.
	Payload json.RawMessage `json:"payload,omitempty"`

	// EnqueuedAt orders operations within a priority class (FIFO) and is
	// the local timestamp compared by last-write-wins conflict resolution.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// Attempts counts delivery attempts so far.
	Attempts int `json:"attempts"`

	// State is the current lifecycle state.
	State State `json:"state"`

	// ErrorKind classifies the failure when State is StateFailed.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`

	// LastError is the message from the most recent failed attempt.
	LastError string `json:"last_error,omitempty"`

	// LastAttemptAt is when the most recent attempt finished.
	LastAttemptAt time.Time `json:"last_attempt_at"`
}

// CacheKey returns the cache key invalidated when this operation is
// delivered: "<model>/<record id>".
func (r Record) CacheKey() string {
	return fmt.Sprintf("%s/%s", r.ModelName, r.RecordID)
}

// Validate checks the fields a caller must supply at enqueue time.
func (r Record) Validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("invalid operation type %q", r.Type)
	}
	if r.ModelName == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if r.RecordID == "" {
		return fmt.Errorf("record id cannot be empty")
	}
	return nil
}
