// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

package router

import "errors"

var (
	// ErrUnknownDecision is returned when an outcome references a decision
	// id the router has no record of.
	ErrUnknownDecision = errors.New("unknown decision id")

	// ErrInvalidRequest is returned when a routing request is missing its
	// task id or task type.
	ErrInvalidRequest = errors.New("invalid routing request")

	// ErrOutcomeAlreadyRecorded is returned when an outcome arrives twice
	// for the same decision.
	ErrOutcomeAlreadyRecorded = errors.New("outcome already recorded for decision")
)
