// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const toolVersion = "0.1.0"

func main() {
	var rootCmd = &cobra.Command{
		Use:   "pedit",
		Short: "Inspect and surgically modify Windows PE resources",
		Long:  "pedit reads, introspects, and rewrites the resource subsystem of Windows PE images: icons, version info, and manifests.",
	}

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print pedit's own version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pedit version %s\n", toolVersion)
		},
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newIconCmd())
	rootCmd.AddCommand(newVersionInfoCmd())
	rootCmd.AddCommand(newManifestCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
