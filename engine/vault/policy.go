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

import "time"

// CadencePolicy bounds how often a component pays full-save latency.
//
// Saves are synchronous in the host's control loop, so cadence is the only
// latency control: a checkpoint saves a dirty component when any configured
// trigger fires. The zero value saves on every checkpoint while dirty.
type CadencePolicy struct {
	// EveryMutations saves once the component has accumulated this many
	// mutations since its last save. 0 disables the trigger.
	EveryMutations int

	// EveryInterval saves once this much time has passed since the last
	// save. 0 disables the trigger.
	EveryInterval time.Duration

	// OnShutdownOnly restricts the component to the Shutdown pass. Used for
	// very large components whose checkpoint-time latency is unaffordable.
	OnShutdownOnly bool
}

// due reports whether a dirty component should save at a checkpoint.
func (p CadencePolicy) due(mutationsSinceSave int, sinceLastSave time.Duration) bool {
	if p.OnShutdownOnly {
		return false
	}
	if p.EveryMutations == 0 && p.EveryInterval == 0 {
		return true
	}
	if p.EveryMutations > 0 && mutationsSinceSave >= p.EveryMutations {
		return true
	}
	if p.EveryInterval > 0 && sinceLastSave >= p.EveryInterval {
		return true
	}
	return false
}

// SaveState is the per-component dirty-tracking state.
type SaveState int

const (
	// StateClean means on-disk state matches in-memory state.
	StateClean SaveState = iota

	// StateDirty means the host mutated state since the last save.
	StateDirty

	// StateSaving means a save is in flight. Transient within one Save call.
	StateSaving
)

// String returns "CLEAN", "DIRTY", or "SAVING".
func (s SaveState) String() string {
	switch s {
	case StateClean:
		return "CLEAN"
	case StateDirty:
		return "DIRTY"
	case StateSaving:
		return "SAVING"
	default:
		return "UNKNOWN"
	}
}

// LoadState is the per-component startup lifecycle state.
type LoadState int

const (
	// LoadUnloaded means Load has not been called yet.
	LoadUnloaded LoadState = iota

	// LoadLoading means Load is in flight.
	LoadLoading

	// LoadLoaded means a generation was recovered (possibly degraded).
	LoadLoaded

	// LoadFresh means the whole chain was exhausted or absent and the host
	// initialized default state.
	LoadFresh
)

// String returns the lifecycle state name.
func (s LoadState) String() string {
	switch s {
	case LoadUnloaded:
		return "UNLOADED"
	case LoadLoading:
		return "LOADING"
	case LoadLoaded:
		return "LOADED"
	case LoadFresh:
		return "FRESH"
	default:
		return "UNKNOWN"
	}
}
