package policy

import (
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default policy must validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"zero interval", func(p *Policy) { p.SyncInterval = 0 }},
		{"bad conflict mode", func(p *Policy) { p.ConflictMode = "coin_flip" }},
		{"zero retries", func(p *Policy) { p.MaxRetries = 0 }},
		{"bad restriction", func(p *Policy) { p.NetworkRestriction = "carrier_pigeon" }},
		{"zero quota", func(p *Policy) { p.MaxCacheBytes = 0 }},
		{"warn percent too high", func(p *Policy) { p.WarnPercent = 150 }},
		{"negative weight", func(p *Policy) { p.PriorityWeights = map[string]int{"m": -1} }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := Default()
			c.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestWeightFor(t *testing.T) {
	p := Default()
	p.PriorityWeights = map[string]int{"attendance_log": 10}

	if w := p.WeightFor("attendance_log"); w != 10 {
		t.Errorf("expected configured weight 10, got %d", w)
	}
	if w := p.WeightFor("unlisted_model"); w != DefaultWeight {
		t.Errorf("expected default weight, got %d", w)
	}
}

func TestManagerLoadMissingFileKeepsDefaults(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "nope.yaml"), log.New(os.Stderr, "[test] ", 0))

	if err := m.Load(); err != nil {
		t.Fatalf("missing file must not be an error: %v", err)
	}
	if m.Current().SyncInterval != Default().SyncInterval {
		t.Errorf("defaults should survive a missing file")
	}
}

func TestManagerLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")

	cfg := `sync_interval: 90s
conflict_mode: manual_merge
max_retries: 3
network_restriction: unmetered_only
priority_weights:
  attendance_log: 10
  daily_report: 200
`
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	m := NewManager(path, log.New(os.Stderr, "[test] ", 0))
	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	p := m.Current()
	if p.SyncInterval != 90*time.Second {
		t.Errorf("expected 90s interval, got %v", p.SyncInterval)
	}
	if p.ConflictMode != ManualMerge {
		t.Errorf("expected manual_merge, got %q", p.ConflictMode)
	}
	if p.MaxRetries != 3 {
		t.Errorf("expected 3 retries, got %d", p.MaxRetries)
	}
	if p.NetworkRestriction != NetworkUnmeteredOnly {
		t.Errorf("expected unmetered_only, got %q", p.NetworkRestriction)
	}
	if p.WeightFor("attendance_log") != 10 || p.WeightFor("daily_report") != 200 {
		t.Errorf("priority weights not loaded: %+v", p.PriorityWeights)
	}

	// Keys absent from the file keep their defaults.
	if p.MaxCacheBytes != Default().MaxCacheBytes {
		t.Errorf("missing keys should default, got %d", p.MaxCacheBytes)
	}
}

func TestManagerLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")

	if err := os.WriteFile(path, []byte("max_retries: 0\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	m := NewManager(path, log.New(os.Stderr, "[test] ", 0))
	if err := m.Load(); err == nil {
		t.Error("expected error for invalid policy")
	}
	// The previous (default) policy stays active.
	if m.Current().MaxRetries != Default().MaxRetries {
		t.Errorf("invalid load must not replace the active policy")
	}
}

func TestSetValidates(t *testing.T) {
	m := NewManager("", nil)

	bad := Default()
	bad.SyncInterval = -1
	if err := m.Set(bad); err == nil {
		t.Error("Set must reject an invalid policy")
	}
}

func TestWatchReloadsOnEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")

	if err := os.WriteFile(path, []byte("max_retries: 3\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	m := NewManager(path, log.New(os.Stderr, "[test] ", 0))
	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	watchDone := make(chan error, 1)
	go func() { watchDone <- m.Watch(stop) }()

	// Give the watcher time to register, then edit the file.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("max_retries: 7\n"), 0644); err != nil {
		t.Fatalf("failed to edit config: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for m.Current().MaxRetries != 7 {
		select {
		case <-deadline:
			t.Fatalf("edit not applied; max_retries still %d", m.Current().MaxRetries)
		case <-time.After(20 * time.Millisecond):
		}
	}
}
