// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	pe "github.com/saferwall/peedit"
)

// prettyPrint re-indents a compact JSON blob for terminal display, in the
// teacher's style.
func prettyPrint(buf []byte) string {
	var out bytes.Buffer
	if err := json.Indent(&out, buf, "", "\t"); err != nil {
		return string(buf)
	}
	return out.String()
}

func newInspectCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect <path>",
		Short: "Print a one-line header summary, or the full parsed image as JSON with --json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}

			kind := mimetype.Detect(data)
			if !kind.Is("application/vnd.microsoft.portable-executable") && !bytes.HasPrefix(data, []byte("MZ")) {
				fmt.Fprintf(os.Stderr, "warning: %s does not look like a PE image (detected %s)\n", path, kind.String())
			}

			img, err := pe.NewBytes(data, &pe.Options{})
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer img.Close()

			if err := img.Parse(); err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}

			if !asJSON {
				fmt.Printf("%s: %s, subsystem=%s, sections=%d, resources=%v, overlay=%v\n",
					path, archString(img), img.Subsystem(), len(img.Sections), img.HasResource, img.HasOverlay)
				return nil
			}

			out, err := json.Marshal(img)
			if err != nil {
				return err
			}
			fmt.Println(prettyPrint(out))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "dump the full parsed structure as JSON")
	return cmd
}

func archString(img *pe.Image) string {
	if img.Is64 {
		return "PE32+"
	}
	return "PE32"
}
