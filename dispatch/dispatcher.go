// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

// Package dispatch executes the response actions the policy engine returns:
// logging, alerting, and escalation. The engine stays pure; this package
// owns the side effects, with its own bounded timeout per entry. A dispatch
// failure or timeout never changes a compliance verdict that was already
// computed.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"aegis/platform/constitution"
	"aegis/platform/shared/logger"
)

// Entry is one unit of dispatch work: a violation plus its required actions
// and the operation it belongs to.
type Entry struct {
	Operation *constitution.Operation
	Required  constitution.RequiredActions
	Timestamp time.Time
}

// AlertSink receives alert actions. Implementations deliver to pagers,
// chat, email, or whatever the deployment wires up.
type AlertSink interface {
	Alert(ctx context.Context, entry Entry) error
}

// EscalationSink receives escalate actions.
type EscalationSink interface {
	Escalate(ctx context.Context, entry Entry) error
}

// Stats reports dispatcher throughput counters.
type Stats struct {
	Enqueued  uint64 `json:"enqueued"`
	Processed uint64 `json:"processed"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

// Dispatcher consumes entries from a bounded queue with a small worker pool.
// Enqueue never blocks the caller: when the queue is full the entry is
// counted as dropped and logged, because stalling the routing hot path for
// an alert is worse than losing the alert.
type Dispatcher struct {
	queue   chan Entry
	timeout time.Duration
	workers int

	alerts     AlertSink
	escalation EscalationSink
	log        *logger.Logger

	wg sync.WaitGroup

	// mu orders Enqueue sends against Close: once closed is set under the
	// write lock, no send can land on the closed channel.
	mu     sync.RWMutex
	closed bool

	enqueued  uint64
	processed uint64
	dropped   uint64
	failed    uint64
}

// DefaultTimeout bounds each entry's total sink time.
const DefaultTimeout = 2 * time.Second

// New creates and starts a dispatcher. Nil sinks disable the corresponding
// action kind; log actions always work.
func New(queueSize, workers int, timeout time.Duration, alerts AlertSink, escalation EscalationSink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if workers <= 0 {
		workers = 2
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	d := &Dispatcher{
		queue:      make(chan Entry, queueSize),
		timeout:    timeout,
		workers:    workers,
		alerts:     alerts,
		escalation: escalation,
		log:        logger.New("violation-dispatcher"),
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Enqueue submits the required actions of a compliance result for
// asynchronous execution. Entries carrying no actions are skipped.
func (d *Dispatcher) Enqueue(op *constitution.Operation, result *constitution.ComplianceResult) {
	if result == nil {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	for _, required := range result.Required {
		entry := Entry{
			Operation: op,
			Required:  required,
			Timestamp: time.Now(),
		}
		select {
		case d.queue <- entry:
			atomic.AddUint64(&d.enqueued, 1)
		default:
			atomic.AddUint64(&d.dropped, 1)
			d.log.Warn(op.ID, "dispatch queue full, entry dropped", map[string]interface{}{
				"policy_id": required.Violation.PolicyID,
				"severity":  string(required.Violation.Severity),
			})
		}
	}
}

// worker drains the queue until it is closed.
func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for entry := range d.queue {
		d.process(entry)
	}
}

// process executes one entry's actions under the dispatcher timeout.
func (d *Dispatcher) process(entry Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	opID := ""
	if entry.Operation != nil {
		opID = entry.Operation.ID
	}

	for _, action := range entry.Required.Actions {
		switch action {
		case constitution.ActionLog:
			d.logViolation(opID, entry)
		case constitution.ActionAlert:
			d.deliver(ctx, opID, entry, "alert", d.alertFn())
		case constitution.ActionEscalate:
			d.deliver(ctx, opID, entry, "escalate", d.escalateFn())
		case constitution.ActionBlock:
			// Blocking already happened inside the engine verdict; the
			// dispatcher only records that it was required.
			d.log.Info(opID, "operation block recorded", map[string]interface{}{
				"policy_id": entry.Required.Violation.PolicyID,
			})
		}
	}
	atomic.AddUint64(&d.processed, 1)
}

func (d *Dispatcher) alertFn() func(context.Context, Entry) error {
	if d.alerts == nil {
		return nil
	}
	return d.alerts.Alert
}

func (d *Dispatcher) escalateFn() func(context.Context, Entry) error {
	if d.escalation == nil {
		return nil
	}
	return d.escalation.Escalate
}

// deliver invokes one sink with the entry, counting failures and timeouts.
func (d *Dispatcher) deliver(ctx context.Context, opID string, entry Entry, kind string, sink func(context.Context, Entry) error) {
	if sink == nil {
		return
	}
	if err := sink(ctx, entry); err != nil {
		atomic.AddUint64(&d.failed, 1)
		d.log.ErrorWithErr(opID, "dispatch "+kind+" failed", err, map[string]interface{}{
			"policy_id": entry.Required.Violation.PolicyID,
		})
	}
}

// logViolation writes the structured violation record.
func (d *Dispatcher) logViolation(opID string, entry Entry) {
	v := entry.Required.Violation
	d.log.Info(opID, "policy violation", map[string]interface{}{
		"policy_id": v.PolicyID,
		"principle": string(v.Principle),
		"severity":  string(v.Severity),
		"message":   v.Message,
		"waived":    v.Waived,
		"waiver_id": v.WaiverID,
	})
}

// Stats returns current throughput counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Enqueued:  atomic.LoadUint64(&d.enqueued),
		Processed: atomic.LoadUint64(&d.processed),
		Dropped:   atomic.LoadUint64(&d.dropped),
		Failed:    atomic.LoadUint64(&d.failed),
	}
}

// Close stops intake and waits for in-flight entries to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}
