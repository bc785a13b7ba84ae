// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

package constitution

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// WaiverStatus is the lifecycle state of a waiver.
// Pending can move to Approved or Rejected; Approved can move to Expired
// (time-based) or Revoked (manual). Rejected, Expired, and Revoked are
// terminal.
type WaiverStatus string

const (
	WaiverPending  WaiverStatus = "pending"
	WaiverApproved WaiverStatus = "approved"
	WaiverRejected WaiverStatus = "rejected"
	WaiverExpired  WaiverStatus = "expired"
	WaiverRevoked  WaiverStatus = "revoked"
)

// terminal reports whether no further transitions are allowed.
func (s WaiverStatus) terminal() bool {
	return s == WaiverRejected || s == WaiverExpired || s == WaiverRevoked
}

// Waiver is a time-bounded, pattern-scoped exception that suppresses one
// policy violation without removing the policy.
type Waiver struct {
	ID            string       `json:"id"`
	TargetPattern string       `json:"target_pattern"`
	Requester     string       `json:"requester"`
	Approver      string       `json:"approver,omitempty"`
	Justification string       `json:"justification"`
	Status        WaiverStatus `json:"status"`
	ExpiresAt     time.Time    `json:"expires_at"`
	CreatedAt     time.Time    `json:"created_at"`
	ResolvedAt    *time.Time   `json:"resolved_at,omitempty"`
}

// minJustificationLength keeps waiver requests auditable; a one-word excuse
// is not a justification.
const minJustificationLength = 20

// DefaultWaiverTTL is used when a request does not specify its own expiry.
const DefaultWaiverTTL = 7 * 24 * time.Hour

// activeWaiver pairs an approved waiver with its compiled target pattern so
// the validation hot path never recompiles globs.
type activeWaiver struct {
	waiver  Waiver
	pattern *targetPattern
}

// WaiverManager owns the waiver lifecycle. Mutations take the write lock;
// the engine reads a copy-on-write snapshot of approved waivers that is
// rebuilt after every state change, so validation is never blocked by an
// approval in progress.
type WaiverManager struct {
	mu      sync.Mutex
	waivers map[string]*Waiver
	ttl     time.Duration

	// active holds []activeWaiver, swapped wholesale on mutation.
	active atomic.Value

	// now is injectable for expiry boundary tests.
	now func() time.Time
}

// NewWaiverManager creates a waiver manager with the given default TTL.
// A non-positive ttl falls back to DefaultWaiverTTL.
func NewWaiverManager(ttl time.Duration) *WaiverManager {
	if ttl <= 0 {
		ttl = DefaultWaiverTTL
	}
	m := &WaiverManager{
		waivers: make(map[string]*Waiver),
		ttl:     ttl,
		now:     time.Now,
	}
	m.active.Store([]activeWaiver{})
	return m
}

// Request files a new waiver in Pending state. The target pattern is
// compiled eagerly so an invalid pattern fails here, not during validation.
func (m *WaiverManager) Request(targetPattern, requester, justification string, ttl time.Duration) (*Waiver, error) {
	if requester == "" {
		return nil, fmt.Errorf("requester cannot be empty")
	}
	if len(strings.TrimSpace(justification)) < minJustificationLength {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrJustificationTooShort, minJustificationLength)
	}
	if _, err := compileTargetPattern(targetPattern); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = m.ttl
	}

	now := m.now()
	w := &Waiver{
		ID:            uuid.New().String(),
		TargetPattern: strings.TrimSpace(targetPattern),
		Requester:     requester,
		Justification: justification,
		Status:        WaiverPending,
		ExpiresAt:     now.Add(ttl),
		CreatedAt:     now,
	}

	m.mu.Lock()
	m.waivers[w.ID] = w
	m.mu.Unlock()

	return m.Get(w.ID)
}

// Approve moves a pending waiver to Approved. The approver must differ from
// the requester; four-eyes is the point of the lifecycle.
func (m *WaiverManager) Approve(waiverID, approver string) error {
	return m.resolve(waiverID, approver, WaiverApproved)
}

// Reject moves a pending waiver to Rejected.
func (m *WaiverManager) Reject(waiverID, approver string) error {
	return m.resolve(waiverID, approver, WaiverRejected)
}

// resolve applies the Pending → {Approved, Rejected} transition.
func (m *WaiverManager) resolve(waiverID, approver string, target WaiverStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.waivers[waiverID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrWaiverNotFound, waiverID)
	}
	if w.Status != WaiverPending {
		return &WaiverConflictError{WaiverID: waiverID, Status: w.Status, Reason: ConflictTerminalState}
	}
	if approver == "" || approver == w.Requester {
		return &WaiverConflictError{WaiverID: waiverID, Status: w.Status, Reason: ConflictSelfApproval}
	}

	now := m.now()
	w.Status = target
	w.Approver = approver
	w.ResolvedAt = &now

	m.rebuildActiveLocked()
	return nil
}

// Revoke manually terminates an approved waiver.
func (m *WaiverManager) Revoke(waiverID, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.waivers[waiverID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrWaiverNotFound, waiverID)
	}
	if w.Status != WaiverApproved {
		return &WaiverConflictError{WaiverID: waiverID, Status: w.Status, Reason: ConflictNotApproved}
	}

	now := m.now()
	w.Status = WaiverRevoked
	w.ResolvedAt = &now
	_ = actor // recorded by the caller's audit trail

	m.rebuildActiveLocked()
	return nil
}

// ExpireDue transitions approved waivers whose expiry has passed. Expiry is
// also enforced lazily during matching, so this exists to keep statuses
// truthful for listing and audit.
func (m *WaiverManager) ExpireDue() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	expired := 0
	for _, w := range m.waivers {
		if w.Status == WaiverApproved && !now.Before(w.ExpiresAt) {
			resolved := now
			w.Status = WaiverExpired
			w.ResolvedAt = &resolved
			expired++
		}
	}
	if expired > 0 {
		m.rebuildActiveLocked()
	}
	return expired
}

// Get returns a copy of a waiver.
func (m *WaiverManager) Get(waiverID string) (*Waiver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.waivers[waiverID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWaiverNotFound, waiverID)
	}
	cp := *w
	return &cp, nil
}

// List returns copies of all waivers sorted by creation time, newest first.
func (m *WaiverManager) List() []Waiver {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Waiver, 0, len(m.waivers))
	for _, w := range m.waivers {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// match finds the first approved, unexpired waiver whose pattern covers the
// operation. The expiry instant itself does not suppress: a waiver is live
// only while now < ExpiresAt.
func (m *WaiverManager) match(op *Operation, now time.Time) (string, bool) {
	snapshot := m.active.Load().([]activeWaiver)
	for i := range snapshot {
		aw := &snapshot[i]
		if !now.Before(aw.waiver.ExpiresAt) {
			continue
		}
		if aw.pattern.Matches(op) {
			return aw.waiver.ID, true
		}
	}
	return "", false
}

// rebuildActiveLocked recomputes the approved-waiver snapshot. Caller must
// hold m.mu. The snapshot is ordered by waiver id for deterministic matching.
func (m *WaiverManager) rebuildActiveLocked() {
	active := make([]activeWaiver, 0)
	for _, w := range m.waivers {
		if w.Status != WaiverApproved {
			continue
		}
		pattern, err := compileTargetPattern(w.TargetPattern)
		if err != nil {
			// Pattern was validated at request time; a failure here means
			// corrupted state, so the waiver simply stops matching.
			continue
		}
		active = append(active, activeWaiver{waiver: *w, pattern: pattern})
	}
	sort.Slice(active, func(i, j int) bool { return active[i].waiver.ID < active[j].waiver.ID })
	m.active.Store(active)
}

// setClock overrides the manager's time source. Tests only.
func (m *WaiverManager) setClock(now func() time.Time) {
	m.now = now
}
