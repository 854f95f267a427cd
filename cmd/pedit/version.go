// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	pe "github.com/saferwall/peedit"
	"github.com/saferwall/peedit/orderedmap"
)

func newVersionInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versioninfo",
		Short: "Get or set an image's VS_VERSIONINFO resource",
	}
	cmd.AddCommand(newVersionInfoGetCmd())
	cmd.AddCommand(newVersionInfoSetCmd())
	return cmd
}

func newVersionInfoGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Print an image's version info key/value pairs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := openImage(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			fixed, fields, err := img.GetVersionInfo()
			if err != nil {
				return err
			}

			fmt.Printf("FileVersion (binary): %d.%d.%d.%d\n",
				fixed.FileVersionMS>>16, fixed.FileVersionMS&0xFFFF,
				fixed.FileVersionLS>>16, fixed.FileVersionLS&0xFFFF)

			keys := make([]string, 0, len(fields))
			for k := range fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s=%s\n", k, fields[k])
			}
			return nil
		},
	}
	return cmd
}

func newVersionInfoSetCmd() *cobra.Command {
	var fieldArgs []string

	cmd := &cobra.Command{
		Use:   "set <path>",
		Short: "Set an image's version info fields and rewrite it in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := openImage(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			fixed, existing, err := img.GetVersionInfo()
			if err != nil {
				fixed = &pe.VsFixedFileInfo{}
				*fixed = pe.DefaultFixedFileInfo()
				existing = map[string]string{}
			}

			strings := orderedmap.New[string, string]()
			for _, k := range orderedKeys(existing) {
				strings.Set(k, existing[k])
			}
			for _, kv := range fieldArgs {
				parts := splitKV(kv)
				if parts == nil {
					return fmt.Errorf("invalid --field %q, expected key=value", kv)
				}
				strings.Set(parts[0], parts[1])
			}

			if err := img.SetVersionInfo(*fixed, strings); err != nil {
				return err
			}

			if _, err := img.SetResourceDirectory(img.Resources); err != nil {
				return err
			}

			return writeImage(args[0], img)
		},
	}
	cmd.Flags().StringArrayVar(&fieldArgs, "field", nil, "key=value pair, may be repeated")
	return cmd
}

func orderedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func splitKV(s string) []string {
	i := strings.IndexByte(s, '=')
	if i < 0 {
		return nil
	}
	return []string{s[:i], s[i+1:]}
}
