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
	"path/filepath"
	"time"

	"github.com/AleutianAI/statevault/engine/codec"
	"github.com/AleutianAI/statevault/engine/integrity"
)

var (
	// ErrSelfCheckFailed indicates the staged temp file did not verify on
	// read-back. The target path is untouched when this is returned.
	ErrSelfCheckFailed = errors.New("write self-check failed: staged blob did not verify")
)

// Writer performs the write-verify-rename sequence for one blob file.
//
// # Description
//
// The sequence guarantees that the target path always holds either its
// pre-write content or fully-verified new content, regardless of where
// execution is interrupted:
//
//  1. Sign the payload, frame it, and write it to <path>.tmp; fsync; close.
//  2. Re-open the temp file and verify frame + signature. A failed check
//     deletes the temp file and returns ErrSelfCheckFailed.
//  3. Rename <path>.tmp over <path> (atomic on POSIX), then fsync the
//     parent directory so the rename itself is durable.
//
// An interruption during step 1 leaves only a stale temp file; step 3's
// rename either happens or doesn't. Partial blobs are never visible under
// the main filename.
//
// # Thread Safety
//
// Safe for concurrent use across distinct paths. Concurrent writes to the
// same path are a caller bug (the engine has exactly one writer per root).
type Writer struct {
	signer *integrity.Signer
}

// NewWriter creates a Writer that signs with the given signer.
func NewWriter(signer *integrity.Signer) *Writer {
	return &Writer{signer: signer}
}

// Write stages, verifies, and atomically publishes a blob at path.
//
// # Inputs
//
//   - path: Target blob path. Parent directory must exist.
//   - schemaVersion: Schema version the payload was encoded at.
//   - payload: Serialized component state.
//
// # Outputs
//
//   - int: Bytes written (the full framed blob size).
//   - error: ErrSelfCheckFailed, or a wrapped I/O error. Either way the
//     previous content of path is intact.
func (w *Writer) Write(path string, schemaVersion uint32, payload []byte) (int, error) {
	sig, err := w.signer.Sign(payload)
	if err != nil {
		return 0, fmt.Errorf("sign payload: %w", err)
	}

	raw := codec.EncodeBlob(&codec.Blob{
		SchemaVersion: schemaVersion,
		SavedAt:       time.Now().UTC(),
		Payload:       payload,
		Signature:     sig,
	})

	tmpPath := path + ".tmp"
	if err := w.stageTemp(tmpPath, raw); err != nil {
		return 0, err
	}

	// Cleanup the staged file on any failure past this point.
	published := false
	defer func() {
		if !published {
			os.Remove(tmpPath)
		}
	}()

	if err := w.verifyTemp(tmpPath); err != nil {
		return 0, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return 0, fmt.Errorf("atomic rename: %w", err)
	}
	published = true

	// Rename durability needs a directory sync on some filesystems. The blob
	// itself is already safe, so a sync failure is reported but the write
	// has succeeded from the caller's point of view.
	if err := syncDir(filepath.Dir(path)); err != nil {
		return len(raw), fmt.Errorf("sync directory after rename: %w", err)
	}

	return len(raw), nil
}

// stageTemp writes raw to tmpPath with fsync-before-close.
func (w *Writer) stageTemp(tmpPath string, raw []byte) error {
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	return nil
}

// verifyTemp re-reads the staged file and checks frame and signature.
func (w *Writer) verifyTemp(tmpPath string) error {
	staged, err := os.ReadFile(tmpPath)
	if err != nil {
		return fmt.Errorf("re-open temp file: %w", err)
	}

	blob, err := codec.DecodeBlob(staged)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSelfCheckFailed, err)
	}
	if !w.signer.Verify(blob.Payload, blob.Signature) {
		return ErrSelfCheckFailed
	}
	return nil
}

// WriteHot writes raw bytes to the hot sidecar without signing or rotation.
//
// The hot path trades every durability and integrity guarantee for latency:
// no fsync, no signature, no backup generation. It exists for sub-millisecond
// per-tick snapshots of small fields; anything that matters goes through
// Write on a coarser cadence.
func WriteHot(p Paths, raw []byte) error {
	if err := os.WriteFile(p.Hot(), raw, 0o644); err != nil {
		return fmt.Errorf("write hot snapshot: %w", err)
	}
	return nil
}

// ReadHot reads the hot sidecar. Returns os.ErrNotExist if none was written.
func ReadHot(p Paths) ([]byte, error) {
	raw, err := os.ReadFile(p.Hot())
	if err != nil {
		return nil, fmt.Errorf("read hot snapshot: %w", err)
	}
	return raw, nil
}

// syncDir fsyncs a directory so a completed rename survives power loss.
func syncDir(dirPath string) error {
	dir, err := os.Open(dirPath)
	if err != nil {
		return fmt.Errorf("open dir for sync: %w", err)
	}
	defer dir.Close()

	if err := dir.Sync(); err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}
	return nil
}
