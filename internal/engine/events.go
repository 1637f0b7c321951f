package engine

import (
	"time"

	"github.com/sproutlabs/sproutsync/internal/worker"
)

// EventKind identifies what an Event describes.
type EventKind string

const (
	// EventQueueChanged fires when the pending set changes (enqueue,
	// cancel, retry, or a completed pass).
	EventQueueChanged EventKind = "queue_changed"

	// EventSyncCompleted carries the summary of a finished pass.
	EventSyncCompleted EventKind = "sync_completed"

	// EventQuotaWarning fires once per upward crossing of the cache
	// warning threshold.
	EventQuotaWarning EventKind = "quota_warning"

	// EventNetState fires on connectivity transitions.
	EventNetState EventKind = "net_state"
)

// Event is one entry in the engine's outbound event stream. Fields other
// than Kind and Time are populated per kind.
type Event struct {
	Kind EventKind `json:"kind"`
	Time time.Time `json:"time"`

	// PendingCount accompanies queue_changed.
	PendingCount int `json:"pending_count,omitempty"`

	// Sync accompanies sync_completed.
	Sync *worker.Result `json:"sync,omitempty"`

	// UsagePercent accompanies quota_warning.
	UsagePercent float64 `json:"usage_percent,omitempty"`

	// NetState accompanies net_state ("online" or "offline").
	NetState string `json:"net_state,omitempty"`
}
