// Package netmon observes connectivity to the remote store.
//
// The monitor polls a health endpoint on a ticker and tracks a coarse
// {online, offline} state plus a link-class hint (metered vs unmetered).
// Subscribers are notified exactly once per state change; the
// offline->online transition is the scheduler's primary reconnect trigger.
package netmon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

// State is the coarse connectivity state.
type State string

const (
	// StateOnline means the last probe reached the remote store.
	StateOnline State = "online"

	// StateOffline means probes are failing (or none has succeeded yet).
	StateOffline State = "offline"
)

// LinkClass is an optional hint about the quality/cost of the link.
type LinkClass string

const (
	// LinkUnmetered is a link with no usage cost (wifi, ethernet).
	LinkUnmetered LinkClass = "unmetered"

	// LinkMetered is a link where traffic costs the user (cellular).
	LinkMetered LinkClass = "metered"
)

// Status is the monitor's current view of the network.
type Status struct {
	State State
	Link  LinkClass
}

// Probe checks connectivity. A nil return means online.
type Probe func(ctx context.Context) error

// Config configures a Monitor.
type Config struct {
	// Probe checks reachability. Required unless the caller drives the
	// monitor purely through Observe.
	Probe Probe

	// Interval is how often to probe (default: 15s).
	Interval time.Duration

	// Link is the initial link-class hint (default: unmetered).
	Link LinkClass

	// Logger for monitor activity.
	Logger *log.Logger
}

// HTTPProbe returns a Probe that issues a HEAD request to url.
// Any response from the server counts as online; only transport-level
// failures count as offline.
func HTTPProbe(url string, timeout time.Duration) Probe {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return fmt.Errorf("failed to build probe request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		return nil
	}
}

// Monitor tracks connectivity state and fans out transition events.
type Monitor struct {
	probe    Probe
	interval time.Duration
	logger   *log.Logger

	mu     sync.RWMutex
	status Status
	subs   []func(Status)
}

// New creates a Monitor. The initial state is offline until the first
// successful probe or Observe call.
func New(cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Link == "" {
		cfg.Link = LinkUnmetered
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[netmon] ", log.LstdFlags)
	}
	return &Monitor{
		probe:    cfg.Probe,
		interval: cfg.Interval,
		logger:   cfg.Logger,
		status:   Status{State: StateOffline, Link: cfg.Link},
	}
}

// Status returns the current connectivity view.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Online reports whether the monitor currently considers the remote
// store reachable.
func (m *Monitor) Online() bool {
	return m.Status().State == StateOnline
}

// Subscribe registers a callback invoked once per state transition.
// Callbacks run on the monitor's goroutine and must not block.
func (m *Monitor) Subscribe(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Observe records an externally observed connectivity state, e.g. from a
// platform connectivity signal. Duplicate observations are ignored; a
// change notifies subscribers exactly once.
func (m *Monitor) Observe(state State) {
	m.apply(state)
}

// SetLink updates the link-class hint. Link changes do not emit a
// transition event; the scheduler reads the class when gating a pass.
func (m *Monitor) SetLink(link LinkClass) {
	m.mu.Lock()
	m.status.Link = link
	m.mu.Unlock()
}

// Run polls the probe until ctx is cancelled. An initial probe fires
// immediately so startup doesn't wait a full interval.
func (m *Monitor) Run(ctx context.Context) error {
	if m.probe == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	m.probeOnce(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.probeOnce(ctx)
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context) {
	if err := m.probe(ctx); err != nil {
		m.apply(StateOffline)
		return
	}
	m.apply(StateOnline)
}

// apply updates the state and notifies subscribers on change only.
func (m *Monitor) apply(state State) {
	m.mu.Lock()
	if m.status.State == state {
		m.mu.Unlock()
		return
	}
	m.status.State = state
	status := m.status
	subs := make([]func(Status), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	m.logger.Printf("Network transition: %s", state)
	for _, fn := range subs {
		fn(status)
	}
}
