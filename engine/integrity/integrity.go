// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package integrity provides keyed-digest signing and verification for
// persisted state blobs.
//
// Every blob written by the engine carries an HMAC-SHA256 signature computed
// with a process-local key. Because the key is generated at installation and
// never derived from the payload, a matching signature proves both that the
// bytes were not corrupted and that the blob was produced by this
// installation, not substituted from elsewhere.
//
// The key is held in an mlocked memguard enclave for the lifetime of the
// Signer; plaintext key bytes exist only transiently while a signature is
// computed.
package integrity

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
)

// SignatureSize is the length in bytes of a blob signature (HMAC-SHA256).
const SignatureSize = sha256.Size

// KeySize is the length in bytes of the signing key.
const KeySize = 32

// KeyFileName is the name of the key file inside a state root.
const KeyFileName = ".vaultkey"

// keyFileSize is the on-disk key file layout: [16B install id][32B key].
const keyFileSize = 16 + KeySize

var (
	// ErrKeyFileCorrupt indicates the key file exists but is malformed.
	ErrKeyFileCorrupt = errors.New("key file corrupt: unexpected size")

	// ErrSignerDestroyed indicates the Signer was used after Destroy.
	ErrSignerDestroyed = errors.New("signer destroyed")
)

// Signer computes and checks blob signatures with a process-local key.
//
// # Description
//
// Signer wraps the installation key in a memguard enclave and exposes the
// two operations the engine needs: Sign and Verify. Verification failures
// are reported as a boolean, never an error; a mismatched signature means
// "this generation is unusable", which callers handle by falling back, not
// by aborting.
//
// # Thread Safety
//
// Safe for concurrent use. The enclave is immutable after construction.
type Signer struct {
	enclave   *memguard.Enclave
	installID uuid.UUID
	destroyed bool
}

// LoadOrCreateKey opens the key file inside root, creating it on first use.
//
// # Description
//
// On first run the key file does not exist: 32 bytes are drawn from
// crypto/rand, prefixed with a random install id, and written with mode
// 0600. On every later run the same file is read back. The returned Signer
// owns the key material; callers should Destroy it on shutdown.
//
// # Inputs
//
//   - root: State root directory. Must exist.
//
// # Outputs
//
//   - *Signer: Ready-to-use signer. Never nil on success.
//   - error: Non-nil if the file cannot be read, created, or is malformed.
func LoadOrCreateKey(root string) (*Signer, error) {
	path := filepath.Join(root, KeyFileName)

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return createKeyFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	if len(raw) != keyFileSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrKeyFileCorrupt, len(raw), keyFileSize)
	}

	installID, err := uuid.FromBytes(raw[:16])
	if err != nil {
		return nil, fmt.Errorf("%w: bad install id", ErrKeyFileCorrupt)
	}

	// NewBufferFromBytes wipes the source slice; copy the key region first
	// so the raw file image is not partially zeroed under us.
	key := make([]byte, KeySize)
	copy(key, raw[16:])

	return &Signer{
		enclave:   memguard.NewEnclave(key),
		installID: installID,
	}, nil
}

// createKeyFile generates a fresh key file at path.
func createKeyFile(path string) (*Signer, error) {
	installID := uuid.New()

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	raw := make([]byte, 0, keyFileSize)
	raw = append(raw, installID[:]...)
	raw = append(raw, key...)

	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}

	// NewEnclave wipes key after sealing.
	return &Signer{
		enclave:   memguard.NewEnclave(key),
		installID: installID,
	}, nil
}

// NewSignerFromKey builds a Signer from raw key bytes.
//
// Intended for tests and for hosts that manage key storage themselves.
// The input slice is wiped after the enclave is sealed.
func NewSignerFromKey(key []byte) (*Signer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	buf := make([]byte, KeySize)
	copy(buf, key)
	for i := range key {
		key[i] = 0
	}
	return &Signer{enclave: memguard.NewEnclave(buf)}, nil
}

// InstallID returns the installation id stored alongside the key.
//
// Returns uuid.Nil for signers built with NewSignerFromKey.
func (s *Signer) InstallID() uuid.UUID {
	return s.installID
}

// Sign computes the keyed digest over payload.
//
// # Description
//
// Deterministic HMAC-SHA256 over the raw payload bytes. The returned slice
// is always SignatureSize bytes.
//
// # Outputs
//
//   - []byte: The signature.
//   - error: Non-nil only if the key enclave cannot be opened.
//
// # Thread Safety
//
// Safe for concurrent use.
func (s *Signer) Sign(payload []byte) ([]byte, error) {
	if s.destroyed {
		return nil, ErrSignerDestroyed
	}

	buf, err := s.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("open key enclave: %w", err)
	}
	defer buf.Destroy()

	mac := hmac.New(sha256.New, buf.Bytes())
	mac.Write(payload)
	return mac.Sum(nil), nil
}

// Verify recomputes the digest and compares it to sig in constant time.
//
// A mismatch is not an error condition: it reports false and the caller
// treats the generation as unusable. Errors are reserved for the key
// enclave itself being unavailable, which is a process-level fault.
func (s *Signer) Verify(payload, sig []byte) bool {
	if s.destroyed || len(sig) != SignatureSize {
		return false
	}

	want, err := s.Sign(payload)
	if err != nil {
		return false
	}
	return hmac.Equal(want, sig)
}

// Destroy releases the key enclave. The Signer is unusable afterwards.
func (s *Signer) Destroy() {
	s.destroyed = true
	s.enclave = nil
}
