// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command statevault inspects and provisions state roots maintained by the
// persistence engine. It is an operator tool: the engine itself is embedded
// in the host process and never shells out to this binary.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "statevault",
		Short: "Inspect and provision crash-safe state roots",
		Long: `statevault is the operator CLI for state roots written by the
persistence engine: signed generational blobs with atomic replacement.

It can list a root's components and backup generations, verify which
generation of a component's chain would be recovered, and provision the
signing key for a new root.`,
		SilenceUsage: true,
	}
)

func main() {
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(keygenCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
