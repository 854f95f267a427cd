// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	pe "github.com/saferwall/peedit"
)

func newIconCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "icon",
		Short: "Get, set, or remove an image's main icon",
	}
	cmd.AddCommand(newIconGetCmd())
	cmd.AddCommand(newIconSetCmd())
	cmd.AddCommand(newIconRemoveCmd())
	return cmd
}

func newIconGetCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Write an image's main icon bitmap, as stored under RT_ICON (not wrapped in an .ico container), to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := openImage(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			ico, err := img.GetMainIcon()
			if err != nil {
				return err
			}

			if outPath == "" {
				outPath = args[0] + ".ico"
			}
			if err := os.WriteFile(outPath, ico, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", outPath, err)
			}
			fmt.Println(outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "output path (default <path>.ico)")
	return cmd
}

func newIconSetCmd() *cobra.Command {
	var inPath string
	cmd := &cobra.Command{
		Use:   "set <path>",
		Short: "Replace an image's main icon from an .ico file and rewrite it in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if inPath == "" {
				return fmt.Errorf("--in is required")
			}
			ico, err := os.ReadFile(inPath)
			if err != nil {
				return fmt.Errorf("read %s: %w", inPath, err)
			}

			img, err := openImage(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			if err := img.SetMainIcon(ico); err != nil {
				return err
			}

			if _, err := img.SetResourceDirectory(img.Resources); err != nil {
				return err
			}

			return writeImage(args[0], img)
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "input .ico path")
	return cmd
}

func newIconRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <path>",
		Short: "Remove an image's main icon and rewrite it in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := openImage(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			if err := img.RemoveMainIcon(); err != nil {
				return err
			}

			if _, err := img.SetResourceDirectory(img.Resources); err != nil {
				return err
			}

			return writeImage(args[0], img)
		},
	}
	return cmd
}

func openImage(path string) (*pe.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	img, err := pe.NewBytes(data, &pe.Options{})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := img.Parse(); err != nil {
		img.Close()
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return img, nil
}

func writeImage(path string, img *pe.Image) error {
	return os.WriteFile(path, img.Bytes(), 0o644)
}
