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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// entryAgentState mirrors a host-side learned-table component.
type entryAgentState struct {
	TotalUpdates int     `json:"total_updates"`
	Epsilon      float64 `json:"epsilon"`
	DecayRate    float64 `json:"decay_rate"`
}

// newEntryAgentCodec builds the v2 codec used across these tests:
// v0 -> v1 adds decay_rate with a default, v1 -> v2 recomputes epsilon
// from the update count.
func newEntryAgentCodec(t *testing.T) *Codec {
	t.Helper()
	c := NewCodec(2)

	require.NoError(t, c.RegisterMigration(0, func(doc Document) (Document, error) {
		doc["decay_rate"] = 0.99
		return doc, nil
	}))
	require.NoError(t, c.RegisterMigration(1, func(doc Document) (Document, error) {
		if updates, ok := doc["total_updates"].(float64); ok && updates > 10000 {
			doc["epsilon"] = 0.05
		}
		return doc, nil
	}))
	return c
}

func TestCodec_EncodeDecodeRoundTrip(t *testing.T) {
	c := newEntryAgentCodec(t)
	in := entryAgentState{TotalUpdates: 12345, Epsilon: 0.15, DecayRate: 0.97}

	payload, err := c.Encode(in)
	require.NoError(t, err)

	doc, err := c.Decode(payload)
	require.NoError(t, err)

	var out entryAgentState
	require.NoError(t, As(doc, &out))
	assert.Equal(t, in, out)
}

func TestCodec_MigrateFullChain(t *testing.T) {
	c := newEntryAgentCodec(t)

	doc := Document{"total_updates": float64(20000), "epsilon": float64(0.3)}
	migrated, steps, err := c.Migrate(doc, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, steps)
	assert.Equal(t, 0.99, migrated["decay_rate"])
	assert.Equal(t, 0.05, migrated["epsilon"])
}

func TestCodec_MigrateCurrentIsNoOp(t *testing.T) {
	c := newEntryAgentCodec(t)

	doc := Document{"total_updates": float64(5), "epsilon": float64(0.15), "decay_rate": float64(0.97)}
	migrated, steps, err := c.Migrate(doc, 2)
	require.NoError(t, err)

	assert.Equal(t, 0, steps)
	assert.Equal(t, doc, migrated)
}

func TestCodec_MigrateMissingStep(t *testing.T) {
	c := NewCodec(3)
	require.NoError(t, c.RegisterMigration(0, func(doc Document) (Document, error) { return doc, nil }))
	// v1 -> v2 deliberately absent.
	require.NoError(t, c.RegisterMigration(2, func(doc Document) (Document, error) { return doc, nil }))

	_, steps, err := c.Migrate(Document{}, 0)
	require.ErrorIs(t, err, ErrMigrationMissing)
	assert.Equal(t, 1, steps)
}

func TestCodec_MigrateFutureVersion(t *testing.T) {
	c := newEntryAgentCodec(t)

	_, _, err := c.Migrate(Document{}, 7)
	require.ErrorIs(t, err, ErrFutureSchema)
}

func TestCodec_ValidateChain(t *testing.T) {
	c := newEntryAgentCodec(t)
	assert.NoError(t, c.ValidateChain(0))
	assert.NoError(t, c.ValidateChain(2))

	gapped := NewCodec(2)
	require.NoError(t, gapped.RegisterMigration(1, func(doc Document) (Document, error) { return doc, nil }))
	assert.ErrorIs(t, gapped.ValidateChain(0), ErrMigrationMissing)
}

func TestCodec_RegisterMigrationBounds(t *testing.T) {
	c := NewCodec(2)
	assert.Error(t, c.RegisterMigration(2, func(doc Document) (Document, error) { return doc, nil }))
	assert.Error(t, c.RegisterMigration(5, func(doc Document) (Document, error) { return doc, nil }))
	assert.Error(t, c.RegisterMigration(0, nil))
}

func TestCodec_DecodeGarbage(t *testing.T) {
	c := newEntryAgentCodec(t)
	_, err := c.Decode([]byte("\x00\x01 not json"))
	require.ErrorIs(t, err, ErrDecode)
}
