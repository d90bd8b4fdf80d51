// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging builds the slog.Logger used across the persistence engine.
//
// The engine runs inside a host's control loop, so logging must never be a
// reason for the host to stall: construction can fail (bad log directory),
// but emitting a record cannot. Logs go to stderr in text form by default;
// hosts that run headless set LogDir and Quiet for JSON file logs only.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config controls logger construction. The zero value yields an Info-level
// text logger on stderr.
type Config struct {
	// Level is the minimum level: "debug", "info", "warn", "error".
	// Default: "info".
	Level string

	// Service is attached to every record as the "service" attribute.
	Service string

	// LogDir, when set, adds a JSON log file "{Service}_{YYYY-MM-DD}.log"
	// in that directory. Created with 0750 if absent.
	LogDir string

	// JSON switches stderr output from text to JSON.
	JSON bool

	// Quiet drops stderr output entirely (file and/or discard only).
	Quiet bool
}

// New constructs a logger per cfg.
//
// # Outputs
//
//   - *slog.Logger: Never nil on success.
//   - io.Closer: Closes the log file; a no-op closer when LogDir is unset.
//   - error: Non-nil if the log directory or file cannot be created.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	var writers []io.Writer
	closer := io.Closer(nopCloser{})

	if !cfg.Quiet {
		writers = append(writers, os.Stderr)
	}

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		name := fmt.Sprintf("%s_%s.log", serviceOrDefault(cfg.Service), time.Now().UTC().Format("2006-01-02"))
		f, err := os.OpenFile(filepath.Join(cfg.LogDir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}

	var w io.Writer
	switch len(writers) {
	case 0:
		w = io.Discard
	case 1:
		w = writers[0]
	default:
		w = io.MultiWriter(writers...)
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.JSON || (cfg.Quiet && cfg.LogDir != "") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With(slog.String("service", cfg.Service))
	}
	return logger, closer, nil
}

// ParseLevel maps a level name to slog.Level, defaulting to Info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func serviceOrDefault(service string) string {
	if service == "" {
		return "statevault"
	}
	return service
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
