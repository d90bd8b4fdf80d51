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

import "errors"

var (
	// ErrNilContext indicates a nil context was passed to a public method.
	ErrNilContext = errors.New("context must not be nil")

	// ErrInvalidInput indicates a malformed argument (empty id, nil spec field).
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnknownComponent indicates an id that was never registered.
	ErrUnknownComponent = errors.New("component not registered")

	// ErrAlreadyRegistered indicates a duplicate Register call for an id.
	ErrAlreadyRegistered = errors.New("component already registered")

	// ErrVaultClosed indicates use after Shutdown completed.
	ErrVaultClosed = errors.New("vault closed")
)
