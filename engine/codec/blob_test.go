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
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/statevault/engine/integrity"
)

func sampleBlob() *Blob {
	return &Blob{
		SchemaVersion: 3,
		SavedAt:       time.Unix(1756500000, 0).UTC(),
		Payload:       []byte(`{"total_updates":12345,"epsilon":0.15}`),
		Signature:     make([]byte, integrity.SignatureSize),
	}
}

func TestBlob_EncodeDecode(t *testing.T) {
	in := sampleBlob()
	in.Signature[0] = 0xAB

	out, err := DecodeBlob(EncodeBlob(in))
	if err != nil {
		t.Fatalf("DecodeBlob: %v", err)
	}

	if out.SchemaVersion != in.SchemaVersion {
		t.Errorf("schema version: got %d, want %d", out.SchemaVersion, in.SchemaVersion)
	}
	if !out.SavedAt.Equal(in.SavedAt) {
		t.Errorf("saved at: got %v, want %v", out.SavedAt, in.SavedAt)
	}
	if string(out.Payload) != string(in.Payload) {
		t.Errorf("payload: got %q", out.Payload)
	}
	if out.Signature[0] != 0xAB {
		t.Errorf("signature not preserved")
	}
}

func TestBlob_EmptyPayload(t *testing.T) {
	in := sampleBlob()
	in.Payload = nil

	out, err := DecodeBlob(EncodeBlob(in))
	if err != nil {
		t.Fatalf("DecodeBlob: %v", err)
	}
	if len(out.Payload) != 0 {
		t.Errorf("expected empty payload, got %d bytes", len(out.Payload))
	}
}

func TestDecodeBlob_Truncated(t *testing.T) {
	raw := EncodeBlob(sampleBlob())

	testCases := []struct {
		name string
		raw  []byte
	}{
		{"empty", nil},
		{"header only", raw[:headerSize]},
		{"missing signature tail", raw[:len(raw)-1]},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeBlob(tc.raw)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrBlobTruncated) && !errors.Is(err, ErrBlobLengthMismatch) {
				t.Errorf("unexpected error class: %v", err)
			}
		})
	}
}

func TestDecodeBlob_LengthFieldLies(t *testing.T) {
	raw := EncodeBlob(sampleBlob())
	binary.BigEndian.PutUint32(raw[12:16], uint32(len(raw))) // claims more than present

	_, err := DecodeBlob(raw)
	if !errors.Is(err, ErrBlobLengthMismatch) {
		t.Errorf("expected ErrBlobLengthMismatch, got: %v", err)
	}
}

func TestDecodeBlob_OversizedLengthField(t *testing.T) {
	raw := EncodeBlob(sampleBlob())
	binary.BigEndian.PutUint32(raw[12:16], MaxPayloadSize+1)

	_, err := DecodeBlob(raw)
	if !errors.Is(err, ErrBlobOversized) {
		t.Errorf("expected ErrBlobOversized, got: %v", err)
	}
}
