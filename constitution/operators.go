// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

package constitution

import (
	"fmt"
	"regexp"
	"strings"
)

// Operator is one of a closed set of rule comparison kinds. Evaluation
// dispatches on the kind and returns a typed error for anything outside the
// set; there is no runtime type sniffing fallback.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpGreaterThan Operator = "greater_than"
	OpGreaterEq   Operator = "greater_equal"
	OpLessThan    Operator = "less_than"
	OpLessEq      Operator = "less_equal"
	OpExists      Operator = "exists"
	OpNotExists   Operator = "not_exists"
	OpIn          Operator = "in"
	OpMatches     Operator = "matches"
)

// Evaluate applies the operator to a resolved field value. A true result
// means the rule's condition MATCHES the operation; the first matching rule
// in a policy produces that policy's violation.
func (o Operator) Evaluate(field interface{}, want interface{}) (bool, error) {
	switch o {
	case OpEquals:
		return stringify(field) == stringify(want), nil
	case OpNotEquals:
		return stringify(field) != stringify(want), nil
	case OpContains:
		return strings.Contains(strings.ToLower(stringify(field)), strings.ToLower(stringify(want))), nil
	case OpNotContains:
		return !strings.Contains(strings.ToLower(stringify(field)), strings.ToLower(stringify(want))), nil
	case OpGreaterThan, OpGreaterEq, OpLessThan, OpLessEq:
		return compareNumeric(o, field, want)
	case OpExists:
		return field != nil, nil
	case OpNotExists:
		return field == nil, nil
	case OpIn:
		return memberOf(field, want)
	case OpMatches:
		return matchPattern(field, want)
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, string(o))
	}
}

// stringify renders a field value for string comparison. Nil renders empty.
func stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// compareNumeric handles the four numeric comparison operators. An absent
// field never matches; a present but non-numeric operand makes the rule
// malformed rather than silently false.
func compareNumeric(o Operator, field, want interface{}) (bool, error) {
	if field == nil {
		return false, nil
	}
	a, aok := toFloat64(field)
	b, bok := toFloat64(want)
	if !aok || !bok {
		return false, fmt.Errorf("%w: operator %s requires numeric operands", ErrMalformedRule, o)
	}

	switch o {
	case OpGreaterThan:
		return a > b, nil
	case OpGreaterEq:
		return a >= b, nil
	case OpLessThan:
		return a < b, nil
	default:
		return a <= b, nil
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	default:
		return 0, false
	}
}

// memberOf implements the membership operator: the field value must appear
// in the rule's list.
func memberOf(field, want interface{}) (bool, error) {
	needle := stringify(field)
	switch list := want.(type) {
	case []string:
		for _, v := range list {
			if v == needle {
				return true, nil
			}
		}
		return false, nil
	case []interface{}:
		for _, v := range list {
			if stringify(v) == needle {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("%w: operator %s requires a list value", ErrMalformedRule, OpIn)
	}
}

// matchPattern implements the pattern-match operator using RE2. A pattern
// that fails to compile makes the rule malformed.
func matchPattern(field, want interface{}) (bool, error) {
	pattern, ok := want.(string)
	if !ok || pattern == "" {
		return false, fmt.Errorf("%w: operator %s requires a non-empty pattern string", ErrMalformedRule, OpMatches)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("%w: invalid RE2 pattern %q: %v", ErrMalformedRule, pattern, err)
	}
	return re.MatchString(stringify(field)), nil
}
