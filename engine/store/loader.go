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
	"log/slog"
	"os"
	"time"

	"github.com/AleutianAI/statevault/engine/codec"
	"github.com/AleutianAI/statevault/engine/integrity"
)

// RecoveryResult is the outcome of loading one component's chain.
type RecoveryResult struct {
	// Found reports whether any generation yielded a usable state.
	Found bool

	// GenerationUsed is the chain slot that verified: 0 = main, 1..3 = backups.
	// Only meaningful when Found is true.
	GenerationUsed int

	// Migrated reports whether schema migration steps were applied.
	Migrated bool

	// Degraded reports that a generation newer than the recovered one existed
	// but was unusable. Hosts surface this to operators.
	Degraded bool

	// Document is the recovered state at the current schema version.
	Document codec.Document

	// SavedAt is the recovered blob's save timestamp.
	SavedAt time.Time
}

// Loader walks a component's generation chain, most recent first.
//
// # Description
//
// For each slot main, bak1, bak2, bak3: read the file, decode the frame,
// verify the signature, decode the payload. The first slot that passes all
// checks is migrated to the current schema version and returned. Unusable
// slots are individually logged and skipped; integrity failures stay inside
// the walk and are never surfaced as errors.
//
// Errors are reserved for two cases that fallback cannot fix: a schema
// migration gap (older generations are at older versions, so every further
// slot would hit the same gap) and a failing migration step.
type Loader struct {
	signer *integrity.Signer
	logger *slog.Logger
}

// NewLoader creates a Loader. A nil logger falls back to slog.Default().
func NewLoader(signer *integrity.Signer, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{signer: signer, logger: logger}
}

// Load walks the generation chain for the component at p.
//
// # Outputs
//
//   - *RecoveryResult: Found=false (never nil) when the whole chain is
//     exhausted; the caller initializes fresh state and must log the loss
//     prominently; this is never a silent fallback.
//   - error: Only for schema-class failures (codec.ErrMigrationMissing,
//     codec.ErrFutureSchema, or a migration step error).
func (l *Loader) Load(p Paths, c *codec.Codec) (*RecoveryResult, error) {
	sawUnusable := false

	for gen := 0; gen < GenerationCount; gen++ {
		path := p.Generation(gen)

		blob, reason := l.readAndVerify(path)
		if blob == nil {
			if reason != "" {
				sawUnusable = true
				l.logger.Warn("generation unusable, falling back",
					slog.String("path", path),
					slog.Int("generation", gen),
					slog.String("reason", reason),
				)
			}
			continue
		}

		doc, err := c.Decode(blob.Payload)
		if err != nil {
			// Verified signature but undecodable payload: written by a
			// different serializer config. Treat like corruption and fall back.
			sawUnusable = true
			l.logger.Warn("generation payload undecodable, falling back",
				slog.String("path", path),
				slog.Int("generation", gen),
				slog.String("error", err.Error()),
			)
			continue
		}

		migrated, steps, err := c.Migrate(doc, blob.SchemaVersion)
		if err != nil {
			return nil, fmt.Errorf("migrate generation %d (v%d): %w", gen, blob.SchemaVersion, err)
		}

		return &RecoveryResult{
			Found:          true,
			GenerationUsed: gen,
			Migrated:       steps > 0,
			Degraded:       sawUnusable,
			Document:       migrated,
			SavedAt:        blob.SavedAt,
		}, nil
	}

	return &RecoveryResult{Found: false, Degraded: sawUnusable}, nil
}

// readAndVerify loads one generation file and checks frame + signature.
// Returns (nil, "") for a cleanly absent file, (nil, reason) for an
// unusable one.
func (l *Loader) readAndVerify(path string) (*codec.Blob, string) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ""
	}
	if err != nil {
		return nil, fmt.Sprintf("read: %v", err)
	}

	blob, err := codec.DecodeBlob(raw)
	if err != nil {
		return nil, fmt.Sprintf("frame: %v", err)
	}
	if !l.signer.Verify(blob.Payload, blob.Signature) {
		return nil, "signature mismatch"
	}
	return blob, ""
}
