// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package codec defines the on-disk blob format and the per-component
// serializer/migrator.
//
// A blob is the atomic persistence unit:
//
//	[schemaVersion: u32][savedAtEpochSeconds: u64][payloadLength: u32][payload][signature: 32B]
//
// All integers are big-endian. The signature covers the payload bytes only;
// the frame fields are validated structurally (length checks) rather than
// cryptographically, since a tampered frame can at worst misreport lengths
// and fail decode, never yield a verified-but-wrong payload.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/statevault/engine/integrity"
)

// headerSize is the fixed frame prefix: version + timestamp + payload length.
const headerSize = 4 + 8 + 4

// MaxPayloadSize bounds a single blob payload. Components large enough to
// exceed this should be split; the bound exists so a corrupted length field
// cannot drive a multi-gigabyte allocation.
const MaxPayloadSize = 512 << 20 // 512 MiB

var (
	// ErrBlobTruncated indicates the raw bytes are shorter than the frame requires.
	ErrBlobTruncated = errors.New("blob truncated")

	// ErrBlobLengthMismatch indicates the payload length field disagrees with
	// the actual byte count.
	ErrBlobLengthMismatch = errors.New("blob payload length mismatch")

	// ErrBlobOversized indicates the payload length field exceeds MaxPayloadSize.
	ErrBlobOversized = errors.New("blob payload length exceeds maximum")
)

// Blob is the decoded form of one on-disk state unit.
type Blob struct {
	// SchemaVersion is the component schema version the payload was encoded at.
	SchemaVersion uint32

	// SavedAt is the save timestamp, truncated to seconds.
	SavedAt time.Time

	// Payload is the serialized component state.
	Payload []byte

	// Signature is the keyed digest over Payload.
	Signature []byte
}

// EncodeBlob frames a payload and its signature into the on-disk byte layout.
func EncodeBlob(b *Blob) []byte {
	out := make([]byte, headerSize+len(b.Payload)+len(b.Signature))
	binary.BigEndian.PutUint32(out[0:4], b.SchemaVersion)
	binary.BigEndian.PutUint64(out[4:12], uint64(b.SavedAt.Unix()))
	binary.BigEndian.PutUint32(out[12:16], uint32(len(b.Payload)))
	copy(out[headerSize:], b.Payload)
	copy(out[headerSize+len(b.Payload):], b.Signature)
	return out
}

// DecodeBlob parses raw bytes into a Blob.
//
// # Description
//
// Structural validation only: length fields must be internally consistent.
// Signature verification is the caller's job (the recovery loader verifies
// before trusting the payload). Garbage input yields a typed error, never
// a panic.
func DecodeBlob(raw []byte) (*Blob, error) {
	if len(raw) < headerSize+integrity.SignatureSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBlobTruncated, len(raw))
	}

	payloadLen := binary.BigEndian.Uint32(raw[12:16])
	if payloadLen > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBlobOversized, payloadLen)
	}
	if len(raw) != headerSize+int(payloadLen)+integrity.SignatureSize {
		return nil, fmt.Errorf("%w: frame says %d payload bytes, file has %d total",
			ErrBlobLengthMismatch, payloadLen, len(raw))
	}

	return &Blob{
		SchemaVersion: binary.BigEndian.Uint32(raw[0:4]),
		SavedAt:       time.Unix(int64(binary.BigEndian.Uint64(raw[4:12])), 0).UTC(),
		Payload:       raw[headerSize : headerSize+payloadLen],
		Signature:     raw[headerSize+payloadLen:],
	}, nil
}
