// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vault is the persistence coordinator: the single façade a host
// calls to register components, save and load their state, and drive
// checkpoint cycles.
//
// The coordinator owns the crash-safety pipeline (space guard -> backup
// rotation -> atomic write on save; chain-walking recovery on load) and the
// per-component dirty/cadence bookkeeping. Hosts never touch the file set
// directly.
//
// Exactly one Vault writes to a state root at a time. This is a documented
// precondition of the design (the host is single-threaded per instance)
// and is not enforced with locks.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	enginecodec "github.com/AleutianAI/statevault/engine/codec"
	"github.com/AleutianAI/statevault/engine/integrity"
	"github.com/AleutianAI/statevault/engine/space"
	"github.com/AleutianAI/statevault/engine/store"
)

var vaultTracer = otel.Tracer("statevault.vault")

// defaultEstimatedBytes seeds space-guard estimates for components that have
// never saved and declare no estimate.
const defaultEstimatedBytes = 64 * 1024

// ComponentSpec describes one independently persisted unit of host state.
type ComponentSpec struct {
	// ID is the stable component id; it becomes the on-disk filename.
	ID string

	// Codec serializes state and carries the schema migration chain.
	Codec *enginecodec.Codec

	// Priority is the degradation tier; lower is more critical.
	Priority int

	// Cadence bounds how often checkpoints save this component.
	Cadence CadencePolicy

	// EstimatedBytes is the expected blob size for space admission. 0 means
	// "use the last observed size, or a default before the first save".
	EstimatedBytes int64

	// Snapshot returns the current in-memory state to persist. Required for
	// Checkpoint and Shutdown driven saves; direct Save calls pass state
	// explicitly and work without it.
	Snapshot func() any
}

// component is the coordinator's per-component bookkeeping.
type component struct {
	spec      ComponentSpec
	paths     store.Paths
	saveState SaveState
	loadState LoadState
	mutations int
	lastSave  time.Time
	lastBytes int64
}

// estimatedBytes returns the space-guard estimate for the next save.
func (c *component) estimatedBytes() int64 {
	if c.spec.EstimatedBytes > 0 {
		return c.spec.EstimatedBytes
	}
	if c.lastBytes > 0 {
		return c.lastBytes
	}
	return defaultEstimatedBytes
}

// Options configures a Vault.
type Options struct {
	// Logger receives all engine logging. Default: slog.Default().
	Logger *slog.Logger

	// ReserveBytes is disk space that must remain free after every save
	// cycle. Default: 16 MiB.
	ReserveBytes int64

	// Guard overrides the space guard, for tests. Default: real filesystem.
	Guard *space.Guard
}

// CheckpointReport summarizes one checkpoint or shutdown pass.
type CheckpointReport struct {
	// Saved lists components persisted this pass.
	Saved []string

	// SkippedSpace lists components shed by the space guard. They remain
	// dirty and retry next cycle.
	SkippedSpace []string

	// SkippedCadence lists dirty components whose cadence was not due.
	SkippedCadence []string

	// Failed maps component id to its save error. Failed components remain
	// dirty and retry next cycle; their previous main blob is intact.
	Failed map[string]error
}

// Vault coordinates persistence for all registered components of one root.
//
// # Thread Safety
//
// Methods are serialized with an internal mutex as a guard against host
// bugs, but the design contract is a single-threaded caller; the mutex is
// not a substitute for the one-writer-per-root precondition.
type Vault struct {
	root         string
	signer       *integrity.Signer
	writer       *store.Writer
	loader       *store.Loader
	guard        *space.Guard
	reserveBytes int64
	logger       *slog.Logger

	mu         sync.Mutex
	components map[string]*component
	order      []string
	closed     bool
}

// New opens a state root and prepares it for registration.
//
// # Description
//
// Creates the root directory if needed, loads or creates the installation
// signing key, and deletes any stale .tmp files left by an interrupted
// save. Stale temps are unverified by definition and must be gone before
// any recovery walks the chain.
func New(root string, opts Options) (*Vault, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: root must not be empty", ErrInvalidInput)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create state root: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "vault"), slog.String("root", root))

	signer, err := integrity.LoadOrCreateKey(root)
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}

	removed, err := store.CleanStaleTemps(root)
	if err != nil {
		return nil, fmt.Errorf("clean stale temps: %w", err)
	}
	if removed > 0 {
		logger.Warn("removed stale temp files from interrupted save",
			slog.Int("count", removed),
		)
	}

	guard := opts.Guard
	if guard == nil {
		guard = space.NewGuard()
	}
	reserve := opts.ReserveBytes
	if reserve <= 0 {
		reserve = 16 << 20
	}

	return &Vault{
		root:         root,
		signer:       signer,
		writer:       store.NewWriter(signer),
		loader:       store.NewLoader(signer, logger),
		guard:        guard,
		reserveBytes: reserve,
		logger:       logger,
		components:   make(map[string]*component),
	}, nil
}

// Register adds a component. Registration is static: hosts register every
// component once at process start, before the first Load or Checkpoint.
func (v *Vault) Register(spec ComponentSpec) error {
	if err := store.ValidateComponentID(spec.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if spec.Codec == nil {
		return fmt.Errorf("%w: component %s has nil codec", ErrInvalidInput, spec.ID)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrVaultClosed
	}
	if _, exists := v.components[spec.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, spec.ID)
	}

	v.components[spec.ID] = &component{
		spec:      spec,
		paths:     store.NewPaths(v.root, spec.ID),
		saveState: StateClean,
		loadState: LoadUnloaded,
	}
	v.order = append(v.order, spec.ID)
	return nil
}

// MarkDirty records a host mutation: Clean -> Dirty, mutation counter up.
func (v *Vault) MarkDirty(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	c, err := v.lookup(id)
	if err != nil {
		return err
	}
	if c.saveState == StateClean {
		c.saveState = StateDirty
	}
	c.mutations++
	return nil
}

// Save persists one component's state immediately, bypassing cadence (but
// not crash safety: the full rotate-write-verify-rename pipeline runs).
//
// On failure the component stays Dirty and its previous main blob is
// untouched; the host retries at the next checkpoint. No data is lost.
func (v *Vault) Save(ctx context.Context, id string, state any) error {
	if ctx == nil {
		return ErrNilContext
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrVaultClosed
	}

	c, err := v.lookup(id)
	if err != nil {
		return err
	}
	return v.saveLocked(ctx, c, state)
}

// saveLocked runs one save cycle for c. Caller holds v.mu.
func (v *Vault) saveLocked(ctx context.Context, c *component, state any) error {
	_, span := vaultTracer.Start(ctx, "vault.save",
		trace.WithAttributes(attribute.String("component.id", c.spec.ID)),
	)
	defer span.End()

	start := time.Now()
	c.saveState = StateSaving

	payload, err := c.spec.Codec.Encode(state)
	if err != nil {
		c.saveState = StateDirty
		span.SetStatus(codes.Error, "encode failed")
		span.RecordError(err)
		savesTotal.WithLabelValues(c.spec.ID, "encode_error").Inc()
		return fmt.Errorf("encode %s: %w", c.spec.ID, err)
	}

	if err := store.RotateBeforeWrite(c.paths); err != nil {
		c.saveState = StateDirty
		span.SetStatus(codes.Error, "rotate failed")
		span.RecordError(err)
		savesTotal.WithLabelValues(c.spec.ID, "io_error").Inc()
		return fmt.Errorf("rotate %s: %w", c.spec.ID, err)
	}

	written, err := v.writer.Write(c.paths.Main(), c.spec.Codec.CurrentVersion(), payload)
	if err != nil {
		c.saveState = StateDirty
		span.SetStatus(codes.Error, "write failed")
		span.RecordError(err)
		savesTotal.WithLabelValues(c.spec.ID, "io_error").Inc()
		saveDurationHistogram.WithLabelValues(c.spec.ID, "error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("write %s: %w", c.spec.ID, err)
	}

	c.saveState = StateClean
	c.mutations = 0
	c.lastSave = time.Now()
	c.lastBytes = int64(written)

	span.SetAttributes(attribute.Int("blob.bytes", written))
	saveDurationHistogram.WithLabelValues(c.spec.ID, "success").Observe(time.Since(start).Seconds())
	saveBytesGauge.WithLabelValues(c.spec.ID).Set(float64(written))
	savesTotal.WithLabelValues(c.spec.ID, "success").Inc()

	v.logger.Debug("component saved",
		slog.String("id", c.spec.ID),
		slog.Int("bytes", written),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// Load recovers one component's state from its generation chain.
//
// # Description
//
// Walks main, bak1, bak2, bak3 most-recent-first and returns the first
// generation that verifies, migrated to the current schema version. A
// result with Found=false means the whole chain was absent or unusable:
// the host initializes fresh default state, and the loss has already been
// logged prominently here, never silently.
//
// A schema-class failure (migration gap, future version) returns an error
// alongside a Found=false result; the component is marked Fresh and the
// host continues without it rather than crashing.
func (v *Vault) Load(ctx context.Context, id string) (*store.RecoveryResult, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, ErrVaultClosed
	}

	c, err := v.lookup(id)
	if err != nil {
		return nil, err
	}

	_, span := vaultTracer.Start(ctx, "vault.load",
		trace.WithAttributes(attribute.String("component.id", id)),
	)
	defer span.End()

	c.loadState = LoadLoading
	result, err := v.loader.Load(c.paths, c.spec.Codec)
	if err != nil {
		// Schema error: fatal for the component, never for the host.
		c.loadState = LoadFresh
		span.SetStatus(codes.Error, "schema error")
		span.RecordError(err)
		loadsTotal.WithLabelValues(id, "schema_error").Inc()
		v.logger.Error("component unloadable due to schema error, starting fresh",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return &store.RecoveryResult{Found: false}, fmt.Errorf("load %s: %w", id, err)
	}

	if !result.Found {
		c.loadState = LoadFresh
		loadsTotal.WithLabelValues(id, "fresh").Inc()
		v.logger.Warn("no usable generation found, component starts fresh; accumulated state lost",
			slog.String("id", id),
			slog.Bool("chain_had_unusable_blobs", result.Degraded),
		)
		span.SetAttributes(attribute.Bool("recovery.fresh", true))
		return result, nil
	}

	c.loadState = LoadLoaded
	// Mutations issued before the startup Load must survive it; only an
	// untouched component becomes Clean.
	if c.saveState != StateDirty {
		c.saveState = StateClean
	}
	loadsTotal.WithLabelValues(id, fmt.Sprintf("generation%d", result.GenerationUsed)).Inc()
	recoveredGenerationGauge.WithLabelValues(id).Set(float64(result.GenerationUsed))

	span.SetAttributes(
		attribute.Int("recovery.generation", result.GenerationUsed),
		attribute.Bool("recovery.migrated", result.Migrated),
	)

	if result.GenerationUsed > 0 {
		v.logger.Warn("recovered from backup generation",
			slog.String("id", id),
			slog.Int("generation", result.GenerationUsed),
			slog.Time("saved_at", result.SavedAt),
		)
	} else {
		v.logger.Info("component loaded",
			slog.String("id", id),
			slog.Int("generation", 0),
			slog.Bool("migrated", result.Migrated),
		)
	}
	return result, nil
}

// Checkpoint runs one scheduled save pass: every dirty component whose
// cadence is due is proposed to the space guard, and the admitted subset is
// saved in priority order.
//
// # Outputs
//
//   - *CheckpointReport: Always non-nil; lists saved, skipped, and failed ids.
//   - error: space.ErrInsufficientSpace when even the most critical dirty
//     component could not be admitted. Individual save failures are in the
//     report, not the error; they retry next cycle.
func (v *Vault) Checkpoint(ctx context.Context) (*CheckpointReport, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, ErrVaultClosed
	}
	return v.savePassLocked(ctx, "vault.checkpoint", false)
}

// Shutdown forces a final full save pass for every dirty component
// regardless of cadence, then closes the vault and destroys the signing
// key. The vault is unusable afterwards.
func (v *Vault) Shutdown(ctx context.Context) (*CheckpointReport, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, ErrVaultClosed
	}

	report, err := v.savePassLocked(ctx, "vault.shutdown", true)

	v.closed = true
	v.signer.Destroy()
	v.logger.Info("vault closed",
		slog.Int("saved", len(report.Saved)),
		slog.Int("failed", len(report.Failed)),
	)
	return report, err
}

// savePassLocked drives one save pass. Caller holds v.mu.
func (v *Vault) savePassLocked(ctx context.Context, spanName string, ignoreCadence bool) (*CheckpointReport, error) {
	ctx, span := vaultTracer.Start(ctx, spanName)
	defer span.End()

	report := &CheckpointReport{Failed: make(map[string]error)}

	// Collect due components in registration order.
	var candidates []space.Candidate
	for _, id := range v.order {
		c := v.components[id]
		if c.saveState != StateDirty {
			continue
		}
		if !ignoreCadence && !c.spec.Cadence.due(c.mutations, time.Since(c.lastSave)) {
			report.SkippedCadence = append(report.SkippedCadence, id)
			savesSkippedTotal.WithLabelValues(id, "cadence").Inc()
			continue
		}
		candidates = append(candidates, space.Candidate{
			ID:             id,
			Priority:       c.spec.Priority,
			EstimatedBytes: c.estimatedBytes(),
		})
	}
	if len(candidates) == 0 {
		return report, nil
	}

	budget, err := v.guard.BudgetFor(v.root, v.reserveBytes)
	if err != nil {
		// Space probe failure degrades to an unguarded save: losing the
		// guard is better than losing the save.
		v.logger.Warn("space probe failed, saving without admission control",
			slog.String("error", err.Error()),
		)
		budget = space.Budget{FreeBytes: 1<<62 - 1}
	}

	admitted, skipped, admitErr := v.guard.Admit(candidates, budget)
	for _, c := range skipped {
		report.SkippedSpace = append(report.SkippedSpace, c.ID)
		savesSkippedTotal.WithLabelValues(c.ID, "space").Inc()
	}
	if len(skipped) > 0 {
		v.logger.Warn("space pressure: components skipped this cycle",
			slog.Any("skipped", report.SkippedSpace),
			slog.Int64("free_bytes", budget.FreeBytes),
			slog.Int64("reserve_bytes", budget.ReserveBytes),
		)
	}

	for _, cand := range admitted {
		c := v.components[cand.ID]
		if c.spec.Snapshot == nil {
			report.Failed[cand.ID] = fmt.Errorf("%w: component %s has no snapshot func", ErrInvalidInput, cand.ID)
			continue
		}
		if err := v.saveLocked(ctx, c, c.spec.Snapshot()); err != nil {
			report.Failed[cand.ID] = err
			v.logger.Error("checkpoint save failed, will retry next cycle",
				slog.String("id", cand.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.Saved = append(report.Saved, cand.ID)
	}

	if admitErr != nil {
		span.SetStatus(codes.Error, "space exhausted for top-priority component")
		span.RecordError(admitErr)
		return report, admitErr
	}
	return report, nil
}

// SaveHot writes an unsigned, unrotated hot snapshot for a component.
//
// The hot path exists for sub-millisecond per-tick captures of small hot
// fields; it carries none of the integrity or durability guarantees of
// Save and never participates in recovery's generation chain.
func (v *Vault) SaveHot(id string, raw []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrVaultClosed
	}

	c, err := v.lookup(id)
	if err != nil {
		return err
	}
	return store.WriteHot(c.paths, raw)
}

// LoadHot reads a component's hot snapshot, if one exists.
func (v *Vault) LoadHot(id string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, ErrVaultClosed
	}

	c, err := v.lookup(id)
	if err != nil {
		return nil, err
	}
	return store.ReadHot(c.paths)
}

// Status reports a component's save and load lifecycle states.
func (v *Vault) Status(id string) (SaveState, LoadState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return 0, 0, ErrVaultClosed
	}

	c, err := v.lookup(id)
	if err != nil {
		return 0, 0, err
	}
	return c.saveState, c.loadState, nil
}

// InstallID returns the state root's installation id.
func (v *Vault) InstallID() string {
	return v.signer.InstallID().String()
}

// lookup resolves an id. Caller holds v.mu.
func (v *Vault) lookup(id string) (*component, error) {
	c, ok := v.components[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownComponent, id)
	}
	return c, nil
}

// IsSpaceError reports whether err is the space-exhaustion class that
// requires a user-visible warning.
func IsSpaceError(err error) bool {
	return errors.Is(err, space.ErrInsufficientSpace)
}
