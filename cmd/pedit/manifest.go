// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newManifestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Get, set, or remove an image's side-by-side assembly manifest",
	}
	cmd.AddCommand(newManifestGetCmd())
	cmd.AddCommand(newManifestSetCmd())
	cmd.AddCommand(newManifestRemoveCmd())
	return cmd
}

func newManifestGetCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Extract an image's manifest XML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := openImage(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			body, err := img.GetManifest()
			if err != nil {
				return err
			}

			if outPath == "" {
				fmt.Println(string(body))
				return nil
			}
			return os.WriteFile(outPath, body, 0o644)
		},
	}
	cmd.Flags().StringVar(&outPath, "file", "", "write the manifest XML to this path instead of stdout")
	return cmd
}

func newManifestSetCmd() *cobra.Command {
	var inPath string
	cmd := &cobra.Command{
		Use:   "set <path>",
		Short: "Install a manifest XML file and rewrite the image in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if inPath == "" {
				return fmt.Errorf("--file is required")
			}
			body, err := os.ReadFile(inPath)
			if err != nil {
				return fmt.Errorf("read %s: %w", inPath, err)
			}

			img, err := openImage(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			if err := img.SetManifest(body); err != nil {
				return err
			}

			if _, err := img.SetResourceDirectory(img.Resources); err != nil {
				return err
			}

			return writeImage(args[0], img)
		},
	}
	cmd.Flags().StringVar(&inPath, "file", "", "manifest XML file to install")
	return cmd
}

func newManifestRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <path>",
		Short: "Remove an image's manifest and rewrite it in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := openImage(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			if !img.RemoveManifest() {
				return fmt.Errorf("%s has no manifest resource", args[0])
			}

			if _, err := img.SetResourceDirectory(img.Resources); err != nil {
				return err
			}

			return writeImage(args[0], img)
		},
	}
	return cmd
}
