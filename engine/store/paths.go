// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store implements the file-level persistence primitives: atomic
// blob writes, generational backup rotation, and chain-walking recovery.
//
// On-disk layout per component inside a state root:
//
//	<id>        current blob ("main", generation 0)
//	<id>.bak1   previous blob (generation 1)
//	<id>.bak2   generation 2
//	<id>.bak3   generation 3
//	<id>.tmp    transient write staging; never survives a clean lifecycle
//	<id>.hot    optional unsigned hot-field snapshot, outside the chain
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// GenerationCount is the number of slots in a component's chain: main + 3 backups.
const GenerationCount = 4

// validComponentIDPattern restricts component ids to filename-safe characters.
// Ids become file names directly, so this doubles as path-traversal protection.
var validComponentIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateComponentID checks that id is non-empty and filename-safe.
func ValidateComponentID(id string) error {
	if id == "" {
		return fmt.Errorf("component id must not be empty")
	}
	if !validComponentIDPattern.MatchString(id) {
		return fmt.Errorf("component id must match [a-zA-Z0-9_-]+, got %q", id)
	}
	return nil
}

// Paths resolves the file set for one component inside a state root.
type Paths struct {
	root string
	id   string
}

// NewPaths builds the path set for component id under root.
func NewPaths(root, id string) Paths {
	return Paths{root: root, id: id}
}

// Main returns the path of the current blob (generation 0).
func (p Paths) Main() string {
	return filepath.Join(p.root, p.id)
}

// Generation returns the path for a generation slot: 0 is main, 1..3 are backups.
func (p Paths) Generation(gen int) string {
	if gen == 0 {
		return p.Main()
	}
	return fmt.Sprintf("%s.bak%d", p.Main(), gen)
}

// Temp returns the transient staging path used by the atomic writer.
func (p Paths) Temp() string {
	return p.Main() + ".tmp"
}

// Hot returns the unsigned hot-snapshot sidecar path.
func (p Paths) Hot() string {
	return p.Main() + ".hot"
}

// CleanStaleTemps removes leftover .tmp files under root.
//
// A .tmp file at startup means a save was interrupted between staging and
// rename; its contents are unverified and must not shadow the chain. This
// runs before any recovery begins.
func CleanStaleTemps(root string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(root, "*.tmp"))
	if err != nil {
		return 0, fmt.Errorf("glob stale temps: %w", err)
	}

	removed := 0
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove stale temp %s: %w", path, err)
		}
		removed++
	}
	return removed, nil
}
