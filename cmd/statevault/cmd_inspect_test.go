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
	"bytes"
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/statevault/engine/integrity"
	"github.com/AleutianAI/statevault/engine/store"
)

// seedComponent provisions a root with a key and one signed component blob.
func seedComponent(t *testing.T, root, id string, payload []byte) {
	t.Helper()
	signer, err := integrity.LoadOrCreateKey(root)
	require.NoError(t, err)
	defer signer.Destroy()

	writer := store.NewWriter(signer)
	paths := store.NewPaths(root, id)
	_, err = writer.Write(paths.Main(), 1, payload)
	require.NoError(t, err)
}

func runCommand(t *testing.T, run func(*cobra.Command, []string) error, args []string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	c := &cobra.Command{}
	c.SetOut(&out)
	err := run(c, args)
	return out.String(), err
}

func TestKeygenThenInspect(t *testing.T) {
	root := t.TempDir() + "/vault"

	out, err := runCommand(t, runKeygen, []string{root})
	require.NoError(t, err)
	assert.Contains(t, out, "created signing key")

	// Second keygen must refuse: overwriting the key orphans all blobs.
	_, err = runCommand(t, runKeygen, []string{root})
	require.Error(t, err)

	seedBlob := []byte(`{"trades":42}`)
	signer, err := integrity.LoadOrCreateKey(root)
	require.NoError(t, err)
	writer := store.NewWriter(signer)
	paths := store.NewPaths(root, "entry_agent")
	_, err = writer.Write(paths.Main(), 3, seedBlob)
	require.NoError(t, err)
	signer.Destroy()

	out, err = runCommand(t, runInspect, []string{root})
	require.NoError(t, err)
	assert.Contains(t, out, "entry_agent")
	assert.Contains(t, out, "v3")
	assert.Contains(t, out, "ok")
}

func TestInspectRefusesRootWithoutKey(t *testing.T) {
	root := t.TempDir()
	_, err := runCommand(t, runInspect, []string{root})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no signing key")
}

func TestVerifyWalksChain(t *testing.T) {
	root := t.TempDir()
	seedComponent(t, root, "replay_buffer", []byte(`{"entries":[]}`))

	out, err := runCommand(t, runVerify, []string{root, "replay_buffer"})
	require.NoError(t, err)
	assert.Contains(t, out, "recovery would use generation 0")
}

func TestVerifyReportsTamperedMain(t *testing.T) {
	root := t.TempDir()
	seedComponent(t, root, "risk_calibration", []byte(`{"limit":0.02}`))

	paths := store.NewPaths(root, "risk_calibration")
	raw, err := os.ReadFile(paths.Main())
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	require.NoError(t, os.WriteFile(paths.Main(), raw, 0o600))

	_, err = runCommand(t, runVerify, []string{root, "risk_calibration"})
	require.Error(t, err)
}

func TestVerifyRejectsUnsafeComponentID(t *testing.T) {
	root := t.TempDir()
	seedComponent(t, root, "entry_agent", []byte(`{}`))

	_, err := runCommand(t, runVerify, []string{root, "../escape"})
	require.Error(t, err)
}

func TestComponentIDScanSkipsEngineFiles(t *testing.T) {
	root := t.TempDir()
	seedComponent(t, root, "entry_agent", []byte(`{}`))

	// Chain and bookkeeping files must not be mistaken for components.
	for _, name := range []string{"entry_agent.bak1", "entry_agent.tmp", "entry_agent.hot"} {
		require.NoError(t, os.WriteFile(root+"/"+name, []byte("x"), 0o600))
	}

	ids, err := componentIDs(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"entry_agent"}, ids)
}
