// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/statevault/engine/codec"
	"github.com/AleutianAI/statevault/engine/integrity"
	"github.com/AleutianAI/statevault/engine/store"
	"github.com/AleutianAI/statevault/engine/vault"
)

var (
	manifestPath string

	inspectCmd = &cobra.Command{
		Use:   "inspect [state root]",
		Short: "List a root's components and backup generations",
		Long: `Walks every component file set in a state root and reports, per
generation: size, schema version, save time, and whether the signature
verifies against the root's key.`,
		Args: cobra.ExactArgs(1),
		RunE: runInspect,
	}

	verifyCmd = &cobra.Command{
		Use:   "verify [state root] [component id]",
		Short: "Report which generation of one component would be recovered",
		Args:  cobra.ExactArgs(2),
		RunE:  runVerify,
	}

	keygenCmd = &cobra.Command{
		Use:   "keygen [state root]",
		Short: "Provision the signing key for a new state root",
		Args:  cobra.ExactArgs(1),
		RunE:  runKeygen,
	}
)

func init() {
	inspectCmd.Flags().StringVar(&manifestPath, "manifest", "", "component manifest; defaults to scanning the root")
}

// openSigner loads the root's key, refusing to create one implicitly.
func openSigner(root string) (*integrity.Signer, error) {
	if _, err := os.Stat(filepath.Join(root, integrity.KeyFileName)); err != nil {
		return nil, fmt.Errorf("no signing key in %s (run 'statevault keygen' or let a host initialize the root)", root)
	}
	return integrity.LoadOrCreateKey(root)
}

// componentIDs returns the ids to inspect: manifest order if given,
// otherwise every suffix-free file in the root.
func componentIDs(root string) ([]string, error) {
	if manifestPath != "" {
		m, err := vault.LoadManifest(manifestPath)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(m.Components))
		for i, c := range m.Components {
			ids[i] = c.ID
		}
		return ids, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read state root: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || strings.Contains(name, ".") {
			continue
		}
		ids = append(ids, name)
	}
	return ids, nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	root := args[0]
	signer, err := openSigner(root)
	if err != nil {
		return err
	}
	defer signer.Destroy()

	ids, err := componentIDs(root)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no components in %s\n", root)
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "state root %s (install %s)\n\n", root, signer.InstallID())

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COMPONENT\tGEN\tBYTES\tSCHEMA\tSAVED AT\tSTATUS")
	for _, id := range ids {
		paths := store.NewPaths(root, id)
		for gen := 0; gen < store.GenerationCount; gen++ {
			describeGeneration(w, signer, id, gen, paths.Generation(gen))
		}
	}
	return w.Flush()
}

// describeGeneration prints one row for a generation slot.
func describeGeneration(w *tabwriter.Writer, signer *integrity.Signer, id string, gen int, path string) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if gen == 0 {
			fmt.Fprintf(w, "%s\t%d\t-\t-\t-\tabsent\n", id, gen)
		}
		return
	}
	if err != nil {
		fmt.Fprintf(w, "%s\t%d\t-\t-\t-\tunreadable: %v\n", id, gen, err)
		return
	}

	blob, err := codec.DecodeBlob(raw)
	if err != nil {
		fmt.Fprintf(w, "%s\t%d\t%d\t-\t-\tbad frame\n", id, gen, len(raw))
		return
	}

	status := "ok"
	if !signer.Verify(blob.Payload, blob.Signature) {
		status = "SIGNATURE MISMATCH"
	}
	fmt.Fprintf(w, "%s\t%d\t%d\tv%d\t%s\t%s\n",
		id, gen, len(raw), blob.SchemaVersion, blob.SavedAt.Format(time.RFC3339), status)
}

func runVerify(cmd *cobra.Command, args []string) error {
	root, id := args[0], args[1]
	if err := store.ValidateComponentID(id); err != nil {
		return err
	}

	signer, err := openSigner(root)
	if err != nil {
		return err
	}
	defer signer.Destroy()

	paths := store.NewPaths(root, id)
	for gen := 0; gen < store.GenerationCount; gen++ {
		raw, err := os.ReadFile(paths.Generation(gen))
		if err != nil {
			continue
		}
		blob, err := codec.DecodeBlob(raw)
		if err != nil || !signer.Verify(blob.Payload, blob.Signature) {
			fmt.Fprintf(cmd.OutOrStdout(), "generation %d: unusable\n", gen)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "generation %d: valid (schema v%d, saved %s)\n",
			gen, blob.SchemaVersion, blob.SavedAt.Format(time.RFC3339))
		fmt.Fprintf(cmd.OutOrStdout(), "recovery would use generation %d\n", gen)
		return nil
	}

	return fmt.Errorf("component %s: entire generation chain is absent or unusable", id)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	root := args[0]
	if err := os.MkdirAll(root, 0o750); err != nil {
		return fmt.Errorf("create state root: %w", err)
	}

	if _, err := os.Stat(filepath.Join(root, integrity.KeyFileName)); err == nil {
		return fmt.Errorf("key already exists in %s; refusing to overwrite (existing blobs would become unverifiable)", root)
	}

	signer, err := integrity.LoadOrCreateKey(root)
	if err != nil {
		return err
	}
	defer signer.Destroy()

	fmt.Fprintf(cmd.OutOrStdout(), "created signing key for %s (install %s)\n", root, signer.InstallID())
	return nil
}
