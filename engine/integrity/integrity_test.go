// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package integrity

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, KeySize)
	s, err := NewSignerFromKey(key)
	require.NoError(t, err)
	return s
}

func TestSign_Deterministic(t *testing.T) {
	s := newTestSigner(t)

	payload := []byte("entry-agent state v3")
	sig1, err := s.Sign(payload)
	require.NoError(t, err)
	sig2, err := s.Sign(payload)
	require.NoError(t, err)

	assert.Len(t, sig1, SignatureSize)
	assert.Equal(t, sig1, sig2)
}

func TestVerify_RoundTrip(t *testing.T) {
	s := newTestSigner(t)

	payload := []byte("replay buffer contents")
	sig, err := s.Sign(payload)
	require.NoError(t, err)

	assert.True(t, s.Verify(payload, sig))
}

func TestVerify_SingleBitFlip(t *testing.T) {
	s := newTestSigner(t)

	payload := []byte("risk calibration table")
	sig, err := s.Sign(payload)
	require.NoError(t, err)

	// Flip one bit in the payload.
	tampered := append([]byte(nil), payload...)
	tampered[0] ^= 0x01
	assert.False(t, s.Verify(tampered, sig))

	// Flip one bit in the signature.
	badSig := append([]byte(nil), sig...)
	badSig[SignatureSize-1] ^= 0x80
	assert.False(t, s.Verify(payload, badSig))
}

func TestVerify_WrongLengthSignature(t *testing.T) {
	s := newTestSigner(t)

	assert.False(t, s.Verify([]byte("x"), nil))
	assert.False(t, s.Verify([]byte("x"), []byte("short")))
}

func TestVerify_DifferentKeyRejects(t *testing.T) {
	a := newTestSigner(t)
	b, err := NewSignerFromKey(bytes.Repeat([]byte{0x17}, KeySize))
	require.NoError(t, err)

	payload := []byte("same payload, different installation")
	sig, err := a.Sign(payload)
	require.NoError(t, err)

	// Substituted blob from another installation must not verify.
	assert.False(t, b.Verify(payload, sig))
}

func TestLoadOrCreateKey_CreatesAndReloads(t *testing.T) {
	root := t.TempDir()

	first, err := LoadOrCreateKey(root)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, first.InstallID())

	info, err := os.Stat(filepath.Join(root, KeyFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	payload := []byte("persisted once")
	sig, err := first.Sign(payload)
	require.NoError(t, err)

	// A second load must yield the same key and install id.
	second, err := LoadOrCreateKey(root)
	require.NoError(t, err)
	assert.Equal(t, first.InstallID(), second.InstallID())
	assert.True(t, second.Verify(payload, sig))
}

func TestLoadOrCreateKey_CorruptFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, KeyFileName), []byte("truncated"), 0o600))

	_, err := LoadOrCreateKey(root)
	require.ErrorIs(t, err, ErrKeyFileCorrupt)
}

func TestNewSignerFromKey_WipesInput(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, KeySize)
	_, err := NewSignerFromKey(key)
	require.NoError(t, err)

	assert.Equal(t, make([]byte, KeySize), key)
}

func TestSigner_Destroyed(t *testing.T) {
	s := newTestSigner(t)
	s.Destroy()

	_, err := s.Sign([]byte("x"))
	require.ErrorIs(t, err, ErrSignerDestroyed)
	assert.False(t, s.Verify([]byte("x"), make([]byte, SignatureSize)))
}
