// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"errors"
	"fmt"
	"os"
)

// RotateBeforeWrite shifts a component's backup chain down one slot.
//
// # Description
//
// Renames bak2 -> bak3 (dropping any prior bak3), then bak1 -> bak2, then
// main -> bak1. Missing source files are skipped; a short chain rotates as
// far as it exists. Each rename is independently atomic, so a crash
// mid-chain can at worst duplicate or skip one slot in the visible ordering;
// it can never corrupt a blob, and the age invariant (bak(i) is never newer
// than bak(i-1)) holds across every interruption point.
//
// Must run immediately before the writer publishes a new main, as part of
// the same logical save.
func RotateBeforeWrite(p Paths) error {
	for gen := GenerationCount - 2; gen >= 0; gen-- {
		src := p.Generation(gen)
		dst := p.Generation(gen + 1)

		if err := os.Rename(src, dst); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("rotate generation %d -> %d: %w", gen, gen+1, err)
		}
	}
	return nil
}
