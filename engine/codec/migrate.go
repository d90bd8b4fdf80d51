// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codec

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMigrationMissing indicates a schema version below current has no
	// registered migration step. The chain must be total; a gap makes every
	// blob at or below that version unloadable.
	ErrMigrationMissing = errors.New("schema migration step missing")

	// ErrFutureSchema indicates a blob was written by a newer schema version
	// than this process knows. Loading it would silently drop fields, so it
	// is treated like a missing migration.
	ErrFutureSchema = errors.New("blob schema version newer than current")

	// ErrEncode indicates the in-memory state could not be serialized.
	ErrEncode = errors.New("state not serializable")

	// ErrDecode indicates the payload is not valid for this serializer.
	ErrDecode = errors.New("payload not decodable")
)

// Document is the decoded, schema-flexible form of a component payload.
// Migration steps operate on Documents so they can add, drop, and recompute
// fields without knowing the host's concrete state type.
type Document map[string]any

// MigrationFunc transforms a Document from one schema version to the next.
// Steps must be pure: same input, same output, no side effects.
type MigrationFunc func(Document) (Document, error)

// Codec serializes one component's state and migrates old payloads forward.
//
// # Description
//
// Encode/Decode are pure JSON transforms, matching the checkpoint format
// used elsewhere in this codebase. Migrations form an ordered chain: the
// step registered at version v carries a Document from v to v+1. Loading a
// blob at version v < current applies steps v, v+1, ... current-1 in order;
// a gap anywhere in that range is a SchemaError for the whole component.
//
// # Thread Safety
//
// Register all migrations before first use; after that, safe for concurrent
// use (read-only).
type Codec struct {
	currentVersion uint32
	migrations     map[uint32]MigrationFunc
}

// NewCodec creates a Codec targeting the given current schema version.
func NewCodec(currentVersion uint32) *Codec {
	return &Codec{
		currentVersion: currentVersion,
		migrations:     make(map[uint32]MigrationFunc),
	}
}

// CurrentVersion returns the schema version new blobs are written at.
func (c *Codec) CurrentVersion() uint32 {
	return c.currentVersion
}

// RegisterMigration installs the step that carries fromVersion to fromVersion+1.
//
// Registering a step at or above the current version is a programming error
// and is rejected so a stray registration cannot mask a chain gap.
func (c *Codec) RegisterMigration(fromVersion uint32, fn MigrationFunc) error {
	if fromVersion >= c.currentVersion {
		return fmt.Errorf("migration from v%d registered, but current version is v%d", fromVersion, c.currentVersion)
	}
	if fn == nil {
		return fmt.Errorf("migration from v%d must not be nil", fromVersion)
	}
	c.migrations[fromVersion] = fn
	return nil
}

// ValidateChain checks that every version in [oldest, current) has a step.
//
// Called at registration time so a gap surfaces at startup rather than on
// the first load of an old blob months later.
func (c *Codec) ValidateChain(oldestVersion uint32) error {
	for v := oldestVersion; v < c.currentVersion; v++ {
		if _, ok := c.migrations[v]; !ok {
			return fmt.Errorf("%w: v%d -> v%d", ErrMigrationMissing, v, v+1)
		}
	}
	return nil
}

// Encode serializes state to payload bytes.
func (c *Codec) Encode(state any) ([]byte, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return data, nil
}

// Decode parses payload bytes into a Document.
func (c *Codec) Decode(payload []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return doc, nil
}

// Migrate carries doc from fromVersion up to the current version.
//
// # Outputs
//
//   - Document: The migrated document. Identical to the input when
//     fromVersion already equals current (zero steps applied).
//   - int: Number of migration steps applied.
//   - error: ErrFutureSchema or ErrMigrationMissing (both SchemaError class),
//     or a step's own failure.
func (c *Codec) Migrate(doc Document, fromVersion uint32) (Document, int, error) {
	if fromVersion > c.currentVersion {
		return nil, 0, fmt.Errorf("%w: blob v%d, current v%d", ErrFutureSchema, fromVersion, c.currentVersion)
	}

	steps := 0
	for v := fromVersion; v < c.currentVersion; v++ {
		fn, ok := c.migrations[v]
		if !ok {
			return nil, steps, fmt.Errorf("%w: v%d -> v%d", ErrMigrationMissing, v, v+1)
		}
		next, err := fn(doc)
		if err != nil {
			return nil, steps, fmt.Errorf("migration v%d -> v%d: %w", v, v+1, err)
		}
		doc = next
		steps++
	}
	return doc, steps, nil
}

// As decodes a Document into a typed destination via a JSON round-trip.
//
// Hosts keep typed state structs; the engine migrates in Document form and
// hands back the concrete type at the end.
func As(doc Document, dest any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}
