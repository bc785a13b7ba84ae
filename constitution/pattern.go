// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

package constitution

import (
	"fmt"
	"regexp"
	"strings"
)

// maxTargetPatternLength bounds waiver target patterns so a pathological
// pattern cannot slow down every validation call.
const maxTargetPatternLength = 256

// targetPattern is a compiled waiver scope. Patterns are globs over the
// operation's type and id, with '*' matching any run of characters:
//
//	"db.write.*"   - any operation whose type starts with db.write.
//	"*"            - every operation
//	"deploy:prod"  - exactly that type or id
//
// Compilation happens once at waiver creation so matching on the hot path is
// a single anchored RE2 test.
type targetPattern struct {
	raw string
	re  *regexp.Regexp
}

// compileTargetPattern validates and compiles a waiver target pattern.
func compileTargetPattern(pattern string) (*targetPattern, error) {
	trimmed := strings.TrimSpace(pattern)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: pattern cannot be empty", ErrInvalidPattern)
	}
	if len(trimmed) > maxTargetPatternLength {
		return nil, fmt.Errorf("%w: pattern exceeds %d characters", ErrInvalidPattern, maxTargetPatternLength)
	}

	var sb strings.Builder
	sb.WriteString("^")
	for _, segment := range strings.Split(trimmed, "*") {
		sb.WriteString(regexp.QuoteMeta(segment))
		sb.WriteString(".*")
	}
	expr := strings.TrimSuffix(sb.String(), ".*") + "$"

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	return &targetPattern{raw: trimmed, re: re}, nil
}

// Matches reports whether the pattern covers the operation's type or id.
func (p *targetPattern) Matches(op *Operation) bool {
	if op == nil {
		return false
	}
	if op.Type != "" && p.re.MatchString(op.Type) {
		return true
	}
	return op.ID != "" && p.re.MatchString(op.ID)
}

// String returns the original pattern text.
func (p *targetPattern) String() string {
	return p.raw
}
