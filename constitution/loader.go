// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

package constitution

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// policyFile is the root structure of a policy YAML file.
type policyFile struct {
	Version  string   `yaml:"version"`
	Policies []Policy `yaml:"policies"`
}

// FilePolicyLoader loads policy definitions from a YAML file. Environment
// variable references of the form ${VAR} in the file are expanded before
// parsing, matching the configuration loader's behavior.
type FilePolicyLoader struct {
	Path string
}

// envVarPattern matches ${VAR} references in policy files.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadPolicies reads, expands, parses, and validates the policy file.
// Structural validation is strict here (a bad file never becomes a snapshot)
// while per-rule operator errors stay lazy: the engine reports those as
// non-fatal issues at evaluation time.
func (l *FilePolicyLoader) LoadPolicies() ([]Policy, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", l.Path, err)
	}

	expanded := envVarPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})

	var file policyFile
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %s: %w", l.Path, err)
	}
	if len(file.Policies) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptySnapshot, l.Path)
	}

	for i := range file.Policies {
		if err := validatePolicy(&file.Policies[i]); err != nil {
			return nil, fmt.Errorf("policy %d (%s): %w", i, file.Policies[i].ID, err)
		}
	}
	return file.Policies, nil
}

// validatePolicy checks the structural invariants every policy must satisfy.
func validatePolicy(p *Policy) error {
	if p.ID == "" {
		return fmt.Errorf("policy id is required")
	}
	if p.Principle == "" {
		return fmt.Errorf("principle is required")
	}
	if !p.Severity.Valid() {
		return fmt.Errorf("invalid severity %q", p.Severity)
	}
	if len(p.Rules) == 0 {
		return fmt.Errorf("at least one rule is required")
	}
	for i, r := range p.Rules {
		if r.Field == "" {
			return fmt.Errorf("rule %d: field path is required", i)
		}
		if r.Op == "" {
			return fmt.Errorf("rule %d: operator is required", i)
		}
	}
	return nil
}
