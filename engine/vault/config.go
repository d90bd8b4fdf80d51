// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vault

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/statevault/engine/store"
)

// Manifest is the declarative form of a state root's component registry.
//
// Hosts that prefer configuration over code list their components in a YAML
// manifest; the CLI reads the same file to know ids and priorities when
// inspecting a root. Codecs and snapshot funcs are code, so a manifest
// entry still pairs with a ComponentSpec at registration time.
type Manifest struct {
	// ReserveBytes is disk space kept free after every save cycle.
	ReserveBytes int64 `yaml:"reserve_bytes" validate:"gte=0"`

	// Components lists every persisted unit, most critical first by
	// convention (ordering is cosmetic; Priority decides degradation).
	Components []ManifestComponent `yaml:"components" validate:"required,min=1,dive"`
}

// ManifestComponent is one component entry in a manifest.
type ManifestComponent struct {
	ID             string          `yaml:"id" validate:"required"`
	SchemaVersion  uint32          `yaml:"schema_version"`
	Priority       int             `yaml:"priority" validate:"gte=0"`
	EstimatedBytes int64           `yaml:"estimated_bytes" validate:"gte=0"`
	Cadence        ManifestCadence `yaml:"cadence"`
}

// ManifestCadence is the YAML form of CadencePolicy. Intervals are Go
// duration strings ("90s", "60m").
type ManifestCadence struct {
	EveryMutations int    `yaml:"every_mutations" validate:"gte=0"`
	EveryInterval  string `yaml:"every_interval"`
	OnShutdownOnly bool   `yaml:"on_shutdown_only"`
}

// Policy converts the YAML cadence into a CadencePolicy.
func (mc ManifestCadence) Policy() (CadencePolicy, error) {
	p := CadencePolicy{
		EveryMutations: mc.EveryMutations,
		OnShutdownOnly: mc.OnShutdownOnly,
	}
	if mc.EveryInterval != "" {
		d, err := time.ParseDuration(mc.EveryInterval)
		if err != nil {
			return CadencePolicy{}, fmt.Errorf("parse every_interval %q: %w", mc.EveryInterval, err)
		}
		if d < 0 {
			return CadencePolicy{}, fmt.Errorf("every_interval must not be negative, got %s", d)
		}
		p.EveryInterval = d
	}
	return p, nil
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses and validates manifest bytes.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&m); err != nil {
		return nil, fmt.Errorf("validate manifest: %w", err)
	}

	seen := make(map[string]bool, len(m.Components))
	for _, c := range m.Components {
		if err := store.ValidateComponentID(c.ID); err != nil {
			return nil, fmt.Errorf("validate manifest: %w", err)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("validate manifest: duplicate component id %q", c.ID)
		}
		seen[c.ID] = true
		if _, err := c.Cadence.Policy(); err != nil {
			return nil, fmt.Errorf("validate manifest: component %s: %w", c.ID, err)
		}
	}
	return &m, nil
}

// Component returns the manifest entry for id, if present.
func (m *Manifest) Component(id string) (ManifestComponent, bool) {
	for _, c := range m.Components {
		if c.ID == id {
			return c, true
		}
	}
	return ManifestComponent{}, false
}
