// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/platform/constitution"
)

// recordingSink captures delivered entries and can simulate slow or failing
// downstream systems.
type recordingSink struct {
	mu      sync.Mutex
	entries []Entry
	delay   time.Duration
	err     error
}

func (s *recordingSink) deliver(ctx context.Context, entry Entry) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Alert(ctx context.Context, entry Entry) error    { return s.deliver(ctx, entry) }
func (s *recordingSink) Escalate(ctx context.Context, entry Entry) error { return s.deliver(ctx, entry) }

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func resultWithSeverity(sev constitution.Severity) *constitution.ComplianceResult {
	v := constitution.Violation{PolicyID: "p1", Principle: constitution.PrincipleSafety, Severity: sev, Message: "test violation"}
	actions := []constitution.Action{constitution.ActionLog}
	switch sev {
	case constitution.SeverityCritical:
		actions = []constitution.Action{constitution.ActionLog, constitution.ActionAlert, constitution.ActionEscalate, constitution.ActionBlock}
	case constitution.SeverityHigh:
		actions = []constitution.Action{constitution.ActionLog, constitution.ActionAlert, constitution.ActionEscalate}
	case constitution.SeverityMedium:
		actions = []constitution.Action{constitution.ActionLog, constitution.ActionAlert}
	}
	return &constitution.ComplianceResult{
		Violations: []constitution.Violation{v},
		Required:   []constitution.RequiredActions{{Violation: v, Actions: actions}},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDispatcherDeliversActions(t *testing.T) {
	alerts := &recordingSink{}
	escalations := &recordingSink{}
	d := New(16, 1, time.Second, alerts, escalations)
	defer d.Close()

	op := &constitution.Operation{Type: "db.write", ID: "op-1"}
	d.Enqueue(op, resultWithSeverity(constitution.SeverityCritical))

	waitFor(t, func() bool { return alerts.count() == 1 && escalations.count() == 1 })

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Enqueued)
	assert.Equal(t, uint64(1), stats.Processed)
	assert.Equal(t, uint64(0), stats.Failed)
}

func TestDispatcherMediumSeverityAlertsOnly(t *testing.T) {
	alerts := &recordingSink{}
	escalations := &recordingSink{}
	d := New(16, 1, time.Second, alerts, escalations)
	defer d.Close()

	d.Enqueue(&constitution.Operation{ID: "op-2"}, resultWithSeverity(constitution.SeverityMedium))

	waitFor(t, func() bool { return alerts.count() == 1 })
	assert.Equal(t, 0, escalations.count())
}

func TestDispatcherSinkFailureCounted(t *testing.T) {
	alerts := &recordingSink{err: errors.New("pager unreachable")}
	d := New(16, 1, time.Second, alerts, nil)
	defer d.Close()

	d.Enqueue(&constitution.Operation{ID: "op-3"}, resultWithSeverity(constitution.SeverityMedium))

	waitFor(t, func() bool { return d.Stats().Processed == 1 })
	assert.Equal(t, uint64(1), d.Stats().Failed)
}

func TestDispatcherTimeoutBoundsSlowSink(t *testing.T) {
	alerts := &recordingSink{delay: time.Minute}
	d := New(16, 1, 50*time.Millisecond, alerts, nil)
	defer d.Close()

	start := time.Now()
	d.Enqueue(&constitution.Operation{ID: "op-4"}, resultWithSeverity(constitution.SeverityMedium))

	waitFor(t, func() bool { return d.Stats().Processed == 1 })
	assert.Less(t, time.Since(start), 2*time.Second, "slow sink must be cut off by the dispatch timeout")
	assert.Equal(t, uint64(1), d.Stats().Failed)
}

func TestDispatcherQueueFullDrops(t *testing.T) {
	// One worker blocked on a slow sink, queue of one: further entries drop.
	alerts := &recordingSink{delay: 200 * time.Millisecond}
	d := New(1, 1, time.Second, alerts, nil)
	defer d.Close()

	result := resultWithSeverity(constitution.SeverityMedium)
	for i := 0; i < 10; i++ {
		d.Enqueue(&constitution.Operation{ID: "op"}, result)
	}

	stats := d.Stats()
	assert.Greater(t, stats.Dropped, uint64(0))
	assert.Equal(t, uint64(10), stats.Dropped+stats.Enqueued)
}

func TestDispatcherCloseDrains(t *testing.T) {
	alerts := &recordingSink{}
	d := New(64, 2, time.Second, alerts, nil)

	for i := 0; i < 20; i++ {
		d.Enqueue(&constitution.Operation{ID: "op"}, resultWithSeverity(constitution.SeverityMedium))
	}
	d.Close()

	assert.Equal(t, uint64(20), d.Stats().Processed)
	assert.Equal(t, 20, alerts.count())

	// Enqueue after close is a no-op, not a panic.
	d.Enqueue(&constitution.Operation{ID: "late"}, resultWithSeverity(constitution.SeverityLow))
	assert.Equal(t, uint64(20), d.Stats().Enqueued)
}

func TestDispatcherConcurrentEnqueueAndClose(t *testing.T) {
	d := New(8, 2, time.Second, &recordingSink{}, nil)
	result := resultWithSeverity(constitution.SeverityMedium)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 500; j++ {
				d.Enqueue(&constitution.Operation{ID: "op"}, result)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		d.Close()
	}()

	close(start)
	wg.Wait()

	// Every call either landed before close, was dropped, or was refused
	// after close; none may panic on the closed queue.
	stats := d.Stats()
	assert.LessOrEqual(t, stats.Enqueued+stats.Dropped, uint64(8*500))
}

func TestDispatcherNilResult(t *testing.T) {
	d := New(4, 1, time.Second, nil, nil)
	defer d.Close()
	require.NotPanics(t, func() { d.Enqueue(&constitution.Operation{ID: "op"}, nil) })
}
