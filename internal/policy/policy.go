// Package policy holds the process-wide sync policy configuration.
//
// The policy is loaded at startup from a config file and is mutable by an
// administrator: a Manager watches the file and applies edits to subsequent
// sync passes without a restart.
package policy

import (
	"fmt"
	"time"
)

// ConflictMode selects how version conflicts are resolved.
type ConflictMode string

const (
	// LastWriteWins compares the local operation's enqueue time against
	// the remote version's timestamp; the later one wins.
	LastWriteWins ConflictMode = "last_write_wins"

	// ManualMerge defers every conflict to an administrator-facing review
	// list. The conflicting record stays queued as failed.
	ManualMerge ConflictMode = "manual_merge"

	// PromptUser defers every conflict to the originating UI session for
	// synchronous resolution.
	PromptUser ConflictMode = "prompt_user"
)

// Valid reports whether m is a known conflict mode.
func (m ConflictMode) Valid() bool {
	switch m {
	case LastWriteWins, ManualMerge, PromptUser:
		return true
	}
	return false
}

// NetworkRestriction limits which link classes background sync may use.
type NetworkRestriction string

const (
	// NetworkAny allows sync on any link.
	NetworkAny NetworkRestriction = "any"

	// NetworkUnmeteredOnly suppresses scheduled sync on metered links.
	NetworkUnmeteredOnly NetworkRestriction = "unmetered_only"
)

// Valid reports whether r is a known restriction.
func (r NetworkRestriction) Valid() bool {
	return r == NetworkAny || r == NetworkUnmeteredOnly
}

// DefaultWeight is the priority weight for model names with no explicit
// entry. Lower weights sync first.
const DefaultWeight = 100

// Policy is the sync policy configuration.
type Policy struct {
	// SyncInterval is how often the scheduler runs a pass while online.
	SyncInterval time.Duration `mapstructure:"sync_interval"`

	// ConflictMode selects the conflict resolution strategy.
	ConflictMode ConflictMode `mapstructure:"conflict_mode"`

	// MaxRetries is the delivery attempt budget per operation.
	MaxRetries int `mapstructure:"max_retries"`

	// BackgroundSync enables the periodic timer trigger. Explicit sync
	// requests work regardless.
	BackgroundSync bool `mapstructure:"background_sync"`

	// NetworkRestriction limits scheduled sync to certain link classes.
	NetworkRestriction NetworkRestriction `mapstructure:"network_restriction"`

	// MaxCacheBytes is the read-cache quota.
	MaxCacheBytes int64 `mapstructure:"max_cache_bytes"`

	// WarnPercent is the cache usage percentage that triggers a one-time
	// quota warning per upward crossing.
	WarnPercent int `mapstructure:"warn_percent"`

	// PriorityWeights maps a model name to its priority weight.
	// Lower is more urgent; missing models get DefaultWeight.
	PriorityWeights map[string]int `mapstructure:"priority_weights"`
}

// Default returns the baseline policy.
func Default() Policy {
	return Policy{
		SyncInterval:       5 * time.Minute,
		ConflictMode:       LastWriteWins,
		MaxRetries:         5,
		BackgroundSync:     true,
		NetworkRestriction: NetworkAny,
		MaxCacheBytes:      64 << 20, // 64 MiB
		WarnPercent:        80,
		PriorityWeights:    map[string]int{},
	}
}

// WeightFor returns the priority weight for a model name.
func (p Policy) WeightFor(modelName string) int {
	if w, ok := p.PriorityWeights[modelName]; ok {
		return w
	}
	return DefaultWeight
}

// Validate checks the policy for values the engine cannot operate with.
func (p Policy) Validate() error {
	if p.SyncInterval <= 0 {
		return fmt.Errorf("sync_interval must be positive, got %v", p.SyncInterval)
	}
	if !p.ConflictMode.Valid() {
		return fmt.Errorf("unknown conflict_mode %q", p.ConflictMode)
	}
	if p.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", p.MaxRetries)
	}
	if !p.NetworkRestriction.Valid() {
		return fmt.Errorf("unknown network_restriction %q", p.NetworkRestriction)
	}
	if p.MaxCacheBytes <= 0 {
		return fmt.Errorf("max_cache_bytes must be positive, got %d", p.MaxCacheBytes)
	}
	if p.WarnPercent < 1 || p.WarnPercent > 100 {
		return fmt.Errorf("warn_percent must be in [1,100], got %d", p.WarnPercent)
	}
	for model, w := range p.PriorityWeights {
		if w < 0 {
			return fmt.Errorf("priority weight for %q must be non-negative, got %d", model, w)
		}
	}
	return nil
}
