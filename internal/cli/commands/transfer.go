// Copyright 2024 Lix Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"lix/internal/engine"
)

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write the store to a blob",
	Long: `Write the whole store (history, versions, pending and untracked state)
to a compressed blob. Use - to write to stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Create a store from a blob",
	Long: `Create a new store at the --store path from a blob written by export.
The store path must not exist. Use - to read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(exportCmd, importCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	lx, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer lx.Close()

	if args[0] == "-" {
		return lx.Export(cmd.Context(), os.Stdout)
	}
	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	if err := lx.Export(cmd.Context(), f); err != nil {
		f.Close()
		os.Remove(args[0])
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("Exported %s to %s\n", storePath, args[0])
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	var r io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	lx, err := engine.OpenFromBlob(cmd.Context(), storePath, r, engine.OptionsFromSettings(settings))
	if err != nil {
		return err
	}
	defer lx.Close()
	fmt.Printf("Imported %s into %s\n", args[0], storePath)
	return nil
}
