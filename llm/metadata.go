// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ProviderMetadata is one declarative catalog entry: a provider's canonical
// name, its handler binding, accepted aliases and the env prefix its
// configuration lives under.
type ProviderMetadata struct {
	StandardName string   `json:"standard_name"`
	DisplayName  string   `json:"display_name"`
	HandlerClass string   `json:"handler_class_name"`
	Aliases      []string `json:"aliases"`
	EnvPrefix    string   `json:"env_prefix"`
}

// validate reports the first structural problem with the entry, or nil.
func (m *ProviderMetadata) validate() error {
	if m.StandardName == "" {
		return fmt.Errorf("missing standard_name")
	}
	if m.HandlerClass == "" {
		return fmt.Errorf("missing handler_class_name")
	}
	if m.EnvPrefix == "" {
		return fmt.Errorf("missing env_prefix")
	}
	return nil
}

// loadMetadataFile parses the provider catalog. The file must exist and hold
// a JSON list; either failing is fatal to registry initialization. Entries
// missing required fields are skipped by the registry, not here.
func loadMetadataFile(path string) ([]ProviderMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading provider metadata %s: %w", path, err)
	}

	// Distinguish "not a list" from generic parse errors up front.
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "[") {
		return nil, fmt.Errorf("provider metadata %s: top-level value must be a list", path)
	}

	var entries []ProviderMetadata
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing provider metadata %s: %w", path, err)
	}
	return entries, nil
}

// normalizeName canonicalizes a user-supplied provider name: lowercase,
// spaces and hyphens folded to underscores.
func normalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, " ", "_")
	n = strings.ReplaceAll(n, "-", "_")
	return n
}
