// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

package constitution

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownOperator is returned when a rule names an operator outside
	// the closed set.
	ErrUnknownOperator = errors.New("unknown rule operator")

	// ErrMalformedRule is returned when a rule cannot be evaluated, for
	// example a numeric comparison against a non-numeric value.
	ErrMalformedRule = errors.New("malformed rule")

	// ErrWaiverNotFound is returned when a lifecycle call references an
	// unknown waiver id.
	ErrWaiverNotFound = errors.New("waiver not found")

	// ErrEmptySnapshot is returned by loaders that produced no policies.
	ErrEmptySnapshot = errors.New("policy snapshot is empty")

	// ErrJustificationTooShort is returned when a waiver request carries an
	// insufficient justification.
	ErrJustificationTooShort = errors.New("waiver justification too short")

	// ErrInvalidPattern is returned when a waiver target pattern cannot be
	// compiled.
	ErrInvalidPattern = errors.New("invalid waiver target pattern")
)

// BlockedError reports that an operation was rejected because an unwaived
// violation reached the blocking threshold.
type BlockedError struct {
	PolicyID  string    `json:"policy_id"`
	Principle Principle `json:"principle"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`

	// Remediation tells the caller what exception would unblock the
	// operation, typically the waiver pattern to request.
	Remediation string `json:"remediation"`
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("operation blocked by policy %s (%s/%s): %s", e.PolicyID, e.Principle, e.Severity, e.Message)
}

// WaiverConflictReason classifies why a waiver transition was rejected.
type WaiverConflictReason string

const (
	ConflictTerminalState WaiverConflictReason = "terminal_state"
	ConflictSelfApproval  WaiverConflictReason = "self_approval"
	ConflictNotApproved   WaiverConflictReason = "not_approved"
)

// WaiverConflictError reports an invalid waiver lifecycle transition.
type WaiverConflictError struct {
	WaiverID string
	Status   WaiverStatus
	Reason   WaiverConflictReason
}

func (e *WaiverConflictError) Error() string {
	return fmt.Sprintf("waiver %s conflict (%s, status %s)", e.WaiverID, e.Reason, e.Status)
}
