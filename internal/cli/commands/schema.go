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
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Manage entity schemas",
}

var schemaAddCmd = &cobra.Command{
	Use:   "add <definition>",
	Short: "Register a schema definition",
	Long: `Register a JSON schema definition with lix extensions
(x-lix-key, x-lix-version, x-lix-primary-key, x-lix-unique,
x-lix-foreign-keys, x-lix-immutable).

The definition is given inline, as @file, or - for stdin.

Examples:
  lix schema add @schemas/todo.json
  cat todo.json | lix schema add -`,
	Args: cobra.ExactArgs(1),
	RunE: runSchemaAdd,
}

var schemaLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List registered schemas",
	Args:  cobra.NoArgs,
	RunE:  runSchemaLs,
}

var schemaShowCmd = &cobra.Command{
	Use:   "show <key> [version]",
	Short: "Print a schema definition",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSchemaShow,
}

func init() {
	schemaCmd.AddCommand(schemaAddCmd, schemaLsCmd, schemaShowCmd)
	rootCmd.AddCommand(schemaCmd)
}

func runSchemaAdd(cmd *cobra.Command, args []string) error {
	data, err := readInput(args[0])
	if err != nil {
		return err
	}
	lx, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer lx.Close()

	def, err := lx.RegisterSchema(cmd.Context(), data)
	if err != nil {
		return err
	}
	fmt.Printf("Registered schema %s@%s\n", def.Key, def.Version)
	return nil
}

func runSchemaLs(cmd *cobra.Command, args []string) error {
	lx, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer lx.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tVERSION\tPRIMARY KEY\tUNIQUE\tFOREIGN KEYS\tIMMUTABLE")
	for _, def := range lx.Schemas() {
		caps := def.Capabilities()
		fmt.Fprintf(w, "%s\t%s\t%v\t%v\t%v\t%v\n",
			def.Key, def.Version, caps.PrimaryKey, caps.Unique, caps.ForeignKeys, caps.Immutable)
	}
	return w.Flush()
}

func runSchemaShow(cmd *cobra.Command, args []string) error {
	lx, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer lx.Close()

	version := ""
	if len(args) > 1 {
		version = args[1]
	}
	def, err := lx.Schema(args[0], version)
	if err != nil {
		return err
	}
	return printJSON(def.Raw())
}
