// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

package constitution

import (
	"sync"
	"sync/atomic"
	"time"

	"aegis/platform/shared/logger"
)

// PolicySnapshot is an immutable set of policies plus load metadata.
// Readers get the whole snapshot by pointer; refreshes swap the pointer.
type PolicySnapshot struct {
	Policies []Policy
	Version  int64
	LoadedAt time.Time
}

// PolicyLoader produces a fresh policy set, typically from a file or an
// external policy service.
type PolicyLoader interface {
	LoadPolicies() ([]Policy, error)
}

// SnapshotStore holds the current policy snapshot with copy-on-write swap
// semantics: readers are never blocked by a refresh, and a failed refresh
// keeps the last-known-good snapshot while flagging degraded mode.
type SnapshotStore struct {
	current  atomic.Value // *PolicySnapshot
	degraded atomic.Bool
	version  int64

	refreshMu sync.Mutex
	log       *logger.Logger
}

// NewSnapshotStore creates a store seeded with the given policies.
func NewSnapshotStore(policies []Policy) *SnapshotStore {
	s := &SnapshotStore{
		log: logger.New("policy-snapshot"),
	}
	s.current.Store(&PolicySnapshot{
		Policies: append([]Policy(nil), policies...),
		Version:  1,
		LoadedAt: time.Now(),
	})
	s.version = 1
	return s
}

// Current returns the live snapshot. The returned value must be treated as
// read-only.
func (s *SnapshotStore) Current() *PolicySnapshot {
	return s.current.Load().(*PolicySnapshot)
}

// Degraded reports whether the store is serving a stale snapshot after a
// refresh failure.
func (s *SnapshotStore) Degraded() bool {
	return s.degraded.Load()
}

// Refresh loads a new policy set and swaps it in atomically. On failure the
// previous snapshot stays live and the store enters degraded mode; the error
// is returned so callers can alert.
func (s *SnapshotStore) Refresh(loader PolicyLoader) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	policies, err := loader.LoadPolicies()
	if err != nil {
		s.degraded.Store(true)
		s.log.ErrorWithErr("", "policy refresh failed, keeping last-known-good snapshot", err, map[string]interface{}{
			"version": s.Current().Version,
		})
		return err
	}

	s.version++
	s.current.Store(&PolicySnapshot{
		Policies: policies,
		Version:  s.version,
		LoadedAt: time.Now(),
	})
	s.degraded.Store(false)

	s.log.Info("", "policy snapshot refreshed", map[string]interface{}{
		"version":  s.version,
		"policies": len(policies),
	})
	return nil
}

// RefreshEvery refreshes the snapshot on a fixed interval until stop is
// closed. Refresh failures are already logged and leave the last-known-good
// snapshot in place.
func (s *SnapshotStore) RefreshEvery(interval time.Duration, loader PolicyLoader, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = s.Refresh(loader)
		case <-stop:
			return
		}
	}
}
