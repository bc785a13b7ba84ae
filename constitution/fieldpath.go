// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

package constitution

import (
	"strings"
)

// resolveField extracts a value from the operation or the evaluation context
// using a dotted path expression. Supported roots:
//
//	type, id, actor            - operation descriptor fields
//	payload.<path...>          - nested lookup into the operation payload
//	context.<path...>          - nested lookup into the evaluation context
//	timestamp                  - operation timestamp (RFC3339)
//
// A path that resolves to nothing returns nil, which the exists/not-exists
// operators treat as absence.
func resolveField(op *Operation, evalCtx map[string]interface{}, path string) interface{} {
	parts := strings.Split(path, ".")

	// Scalar roots take no sub-path; a trailing segment is a typo'd rule,
	// not a value to resolve.
	if len(parts) > 1 {
		switch parts[0] {
		case "type", "id", "actor", "actor_id", "timestamp":
			return nil
		}
	}

	switch parts[0] {
	case "type":
		return op.Type
	case "id":
		return op.ID
	case "actor", "actor_id":
		return op.ActorID
	case "timestamp":
		if op.Timestamp.IsZero() {
			return nil
		}
		return op.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00")
	case "payload":
		if len(parts) == 1 {
			return op.Payload
		}
		return lookupNested(op.Payload, parts[1:])
	case "context":
		if len(parts) == 1 {
			return evalCtx
		}
		return lookupNested(evalCtx, parts[1:])
	default:
		return nil
	}
}

// lookupNested walks a chain of map keys, returning nil as soon as a segment
// is missing or the current value is not a map.
func lookupNested(m map[string]interface{}, parts []string) interface{} {
	if m == nil {
		return nil
	}

	var current interface{} = m
	for _, part := range parts {
		node, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current, ok = node[part]
		if !ok {
			return nil
		}
	}
	return current
}
