// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

package directory

import "errors"

// ErrAgentNotFound is returned by registry lookups and updates that name an
// unregistered agent.
var ErrAgentNotFound = errors.New("agent not found")
