// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package space estimates disk-space requirements and degrades save
// admission by priority when the budget is tight.
package space

import (
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sys/unix"
)

// ErrInsufficientSpace indicates the budget cannot accommodate even the
// highest-priority component plus the reserve. Always surfaced to operators.
var ErrInsufficientSpace = errors.New("insufficient disk space for top-priority component")

// Candidate is one component proposed for a save cycle.
type Candidate struct {
	// ID is the component id.
	ID string

	// Priority is the tier ordinal; lower is more critical.
	Priority int

	// EstimatedBytes is the expected framed blob size for this save.
	EstimatedBytes int64
}

// Budget is the space envelope for one save cycle.
type Budget struct {
	// FreeBytes is the space available on the state root's filesystem.
	FreeBytes int64

	// ReserveBytes is space that must stay free after all admitted saves.
	ReserveBytes int64
}

// Guard decides which components a save cycle can afford.
//
// # Thread Safety
//
// Safe for concurrent use (stateless beyond the injected statfs func).
type Guard struct {
	// statfsFunc is injectable for tests; defaults to unix.Statfs.
	statfsFunc func(path string, stat *unix.Statfs_t) error
}

// NewGuard creates a Guard backed by the real filesystem.
func NewGuard() *Guard {
	return &Guard{statfsFunc: unix.Statfs}
}

// NewGuardWithStatfs creates a Guard with an injected statfs, for tests.
func NewGuardWithStatfs(fn func(path string, stat *unix.Statfs_t) error) *Guard {
	return &Guard{statfsFunc: fn}
}

// FreeBytes reports the available space on the filesystem holding path.
func (g *Guard) FreeBytes(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := g.statfsFunc(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

// BudgetFor builds a Budget for path with the given reserve.
func (g *Guard) BudgetFor(path string, reserveBytes int64) (Budget, error) {
	free, err := g.FreeBytes(path)
	if err != nil {
		return Budget{}, err
	}
	return Budget{FreeBytes: free, ReserveBytes: reserveBytes}, nil
}

// Admit selects the subset of candidates this cycle can afford.
//
// # Description
//
// Candidates are ordered by priority tier ascending (ties keep input
// order), then admitted in that order while cumulative estimated bytes
// plus the reserve stay within the free budget. The first candidate that
// does not fit is the cutoff: it and every candidate after it is skipped,
// so a less critical component is never saved in place of a more critical
// one. Skipped components are not lost: they stay dirty and are retried
// next cycle.
//
// # Outputs
//
//   - admitted, skipped: Disjoint partitions of candidates.
//   - error: ErrInsufficientSpace when not even the first (most critical)
//     candidate fits. The partitions are still returned so the caller can
//     report exactly which ids were shed.
func (g *Guard) Admit(candidates []Candidate, budget Budget) (admitted, skipped []Candidate, err error) {
	if len(candidates) == 0 {
		return nil, nil, nil
	}

	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	available := budget.FreeBytes - budget.ReserveBytes
	var cumulative int64

	for i, c := range ordered {
		if cumulative+c.EstimatedBytes > available {
			skipped = append(skipped, ordered[i:]...)
			break
		}
		cumulative += c.EstimatedBytes
		admitted = append(admitted, c)
	}

	if len(admitted) == 0 {
		return nil, skipped, fmt.Errorf("%w: free %d, reserve %d, need %d",
			ErrInsufficientSpace, budget.FreeBytes, budget.ReserveBytes, ordered[0].EstimatedBytes)
	}
	return admitted, skipped, nil
}
