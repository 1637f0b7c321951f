// Package conflict implements the pluggable conflict-resolution policy.
//
// When the remote store reports a version mismatch, the sync worker asks
// this package what to do with the local operation. The answer depends on
// the configured mode: last-write-wins compares timestamps, the other two
// modes always defer to a human.
package conflict

import (
	"time"

	"github.com/sproutlabs/sproutsync/internal/op"
	"github.com/sproutlabs/sproutsync/internal/policy"
)

// Resolution is the outcome of consulting the conflict policy.
type Resolution int

const (
	// AcceptRemote drops the local operation; the remote version stands.
	AcceptRemote Resolution = iota

	// ForceLocal resubmits the local operation, overriding the remote
	// version.
	ForceLocal

	// DeferToUser leaves the operation queued as failed with a conflict
	// error kind so a person can choose.
	DeferToUser
)

// String returns a human-readable name for the resolution.
func (r Resolution) String() string {
	switch r {
	case AcceptRemote:
		return "accept_remote"
	case ForceLocal:
		return "force_local"
	case DeferToUser:
		return "defer_to_user"
	default:
		return "unknown"
	}
}

// Resolve decides what happens to a conflicting local operation.
//
// Under last-write-wins the local enqueue time is compared against the
// remote version's timestamp: strictly later local wins (ForceLocal),
// otherwise the remote stands (AcceptRemote). Ties go to the remote, so
// re-resolving the same conflict is stable.
//
// manual_merge and prompt_user both defer; they differ only in which
// surface picks the record up (admin review list vs the originating UI
// session), which is outside this engine.
func Resolve(local op.Record, remoteVersion time.Time, mode policy.ConflictMode) Resolution {
	switch mode {
	case policy.LastWriteWins:
		if local.EnqueuedAt.After(remoteVersion) {
			return ForceLocal
		}
		return AcceptRemote

	case policy.ManualMerge, policy.PromptUser:
		return DeferToUser

	default:
		// Unknown modes fail safe: never overwrite remote data on a
		// misconfigured policy.
		return DeferToUser
	}
}
