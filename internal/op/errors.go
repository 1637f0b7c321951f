package op

import "errors"

// Error taxonomy for the sync engine. Every failure crossing a package
// boundary is wrapped in (or replaced by) one of these sentinels so callers
// can classify with errors.Is without string matching.
var (
	// ErrTransport marks a network, timeout, or server-side failure.
	// Retryable; counts toward the circuit breaker and the attempt budget.
	ErrTransport = errors.New("transport error")

	// ErrConflict marks a remote-reported version conflict. Handled by the
	// conflict policy, not treated as a bare failure.
	ErrConflict = errors.New("version conflict")

	// ErrQuotaExceeded marks a cache write that pushed usage over quota.
	// Non-fatal; eviction handles it.
	ErrQuotaExceeded = errors.New("cache quota exceeded")

	// ErrRetriesExhausted marks an operation that used up its retry budget
	// and now needs manual intervention.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrOfflineRejected is returned synchronously when an operation that
	// requires connectivity is attempted while offline (or while the
	// network-class restriction blocks the current link).
	ErrOfflineRejected = errors.New("rejected: offline")

	// ErrNotFound is returned when an operation id is unknown.
	ErrNotFound = errors.New("operation not found")

	// ErrNotPending is returned when a state transition requires a pending
	// record, e.g. cancelling an in-flight delivery.
	ErrNotPending = errors.New("operation is not pending")
)
