/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy carries host-validation overrides loaded from an optional YAML file.
// Zero value means "defaults only".
type Policy struct {
	// BlockedSuffixes are appended to the built-in reserved-suffix list
	// (.local, .internal, .corp).
	BlockedSuffixes []string `yaml:"blocked_suffixes"`

	// BlockedHosts are exact hostnames rejected outright.
	BlockedHosts []string `yaml:"blocked_hosts"`

	// AllowedSchemes narrows the accepted URL schemes for gateway
	// fetches. Only "http" and "https" are valid entries; the policy
	// can restrict to one of them but never widen beyond the pair.
	AllowedSchemes []string `yaml:"allowed_schemes"`
}

// LoadPolicy reads the policy file named by cfg.PolicyFile.
// An unset path returns an empty policy; a set-but-unreadable path is an error.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return &Policy{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	for _, scheme := range p.AllowedSchemes {
		if scheme != "http" && scheme != "https" {
			return nil, fmt.Errorf("policy file %s: scheme %q not allowed, only http and https may be fetched", path, scheme)
		}
	}
	return &p, nil
}
