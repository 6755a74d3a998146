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

	"lix/internal/engine"
	"lix/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Read and write entities",
	Long: `Read and write entities in a version (the active version unless
--version is given). Writes are pending until the next commit; untracked
writes are never committed nor inherited.

Snapshots are JSON objects given inline, as @file, or - for stdin.`,
}

var stateInsertCmd = &cobra.Command{
	Use:   "insert <schema> <snapshot>",
	Short: "Insert an entity",
	Long: `Insert an entity. The entity id is derived from the schema's primary
key, or generated when the schema has none.

Examples:
  lix state insert todo '{"id": "t1", "title": "write docs"}'
  lix state insert todo @todo.json --version feature`,
	Args: cobra.ExactArgs(2),
	RunE: runStateInsert,
}

var stateUpdateCmd = &cobra.Command{
	Use:   "update <schema> <entity-id> <snapshot>",
	Short: "Replace an entity's snapshot",
	Args:  cobra.ExactArgs(3),
	RunE:  runStateUpdate,
}

var stateDeleteCmd = &cobra.Command{
	Use:   "delete <schema> <entity-id>",
	Short: "Delete an entity",
	Args:  cobra.ExactArgs(2),
	RunE:  runStateDelete,
}

var stateGetCmd = &cobra.Command{
	Use:   "get <schema> <entity-id>",
	Short: "Print an entity's visible state",
	Args:  cobra.ExactArgs(2),
	RunE:  runStateGet,
}

var stateLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List visible entities",
	Args:  cobra.NoArgs,
	RunE:  runStateLs,
}

func init() {
	for _, c := range []*cobra.Command{stateInsertCmd, stateUpdateCmd, stateDeleteCmd, stateGetCmd, stateLsCmd} {
		c.Flags().String("version", "", "target version (default: active version)")
	}
	for _, c := range []*cobra.Command{stateInsertCmd, stateUpdateCmd, stateDeleteCmd} {
		c.Flags().Bool("untracked", false, "write untracked state")
	}
	stateInsertCmd.Flags().String("file", "", "file id the entity belongs to")
	stateInsertCmd.Flags().String("schema-version", "", "schema version (default: latest)")
	stateUpdateCmd.Flags().String("schema-version", "", "schema version (default: latest)")
	stateLsCmd.Flags().String("schema", "", "only list entities of this schema")
	stateLsCmd.Flags().String("file", "", "only list entities of this file")
	stateLsCmd.Flags().Bool("tombstones", false, "include deleted entities")
	stateLsCmd.Flags().Bool("json", false, "print full rows as JSON")

	stateCmd.AddCommand(stateInsertCmd, stateUpdateCmd, stateDeleteCmd, stateGetCmd, stateLsCmd)
	rootCmd.AddCommand(stateCmd)
}

// mutationFromFlags builds a mutation from the shared write flags.
func mutationFromFlags(cmd *cobra.Command, schemaKey string) engine.Mutation {
	m := engine.Mutation{SchemaKey: schemaKey}
	m.Untracked, _ = cmd.Flags().GetBool("untracked")
	if cmd.Flags().Lookup("file") != nil {
		m.FileID, _ = cmd.Flags().GetString("file")
	}
	if cmd.Flags().Lookup("schema-version") != nil {
		m.SchemaVersion, _ = cmd.Flags().GetString("schema-version")
	}
	return m
}

func runStateInsert(cmd *cobra.Command, args []string) error {
	snapshot, err := parseObject(args[1])
	if err != nil {
		return err
	}
	lx, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer lx.Close()

	versionID, err := targetVersion(cmd, lx)
	if err != nil {
		return err
	}
	m := mutationFromFlags(cmd, args[0])
	m.Snapshot = snapshot
	s, err := lx.InsertIn(cmd.Context(), versionID, m)
	if err != nil {
		return err
	}
	fmt.Printf("Inserted %s/%s in %s\n", s.SchemaKey, s.EntityID, versionID)
	return nil
}

func runStateUpdate(cmd *cobra.Command, args []string) error {
	snapshot, err := parseObject(args[2])
	if err != nil {
		return err
	}
	lx, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer lx.Close()

	versionID, err := targetVersion(cmd, lx)
	if err != nil {
		return err
	}
	m := mutationFromFlags(cmd, args[0])
	m.EntityID = args[1]
	m.Snapshot = snapshot
	s, err := lx.UpdateIn(cmd.Context(), versionID, m)
	if err != nil {
		return err
	}
	fmt.Printf("Updated %s/%s in %s\n", s.SchemaKey, s.EntityID, versionID)
	return nil
}

func runStateDelete(cmd *cobra.Command, args []string) error {
	lx, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer lx.Close()

	versionID, err := targetVersion(cmd, lx)
	if err != nil {
		return err
	}
	m := mutationFromFlags(cmd, args[0])
	m.EntityID = args[1]
	if err := lx.DeleteIn(cmd.Context(), versionID, m); err != nil {
		return err
	}
	fmt.Printf("Deleted %s/%s in %s\n", args[0], args[1], versionID)
	return nil
}

func runStateGet(cmd *cobra.Command, args []string) error {
	lx, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer lx.Close()

	versionID, err := targetVersion(cmd, lx)
	if err != nil {
		return err
	}
	s, err := lx.GetIn(cmd.Context(), versionID, args[0], args[1])
	if err != nil {
		return err
	}
	return printJSON(s)
}

func runStateLs(cmd *cobra.Command, args []string) error {
	lx, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer lx.Close()

	versionID, err := targetVersion(cmd, lx)
	if err != nil {
		return err
	}
	var opts state.Options
	opts.SchemaKey, _ = cmd.Flags().GetString("schema")
	opts.FileID, _ = cmd.Flags().GetString("file")
	opts.IncludeTombstones, _ = cmd.Flags().GetBool("tombstones")

	rows, err := lx.SelectIn(cmd.Context(), versionID, opts)
	if err != nil {
		return err
	}
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(rows)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCHEMA\tENTITY\tDEPTH\tSOURCE\tSTATUS")
	for _, s := range rows {
		source := "local"
		if s.InheritedFromVersionID != nil {
			source = *s.InheritedFromVersionID
		}
		status := "committed"
		switch {
		case s.IsTombstone():
			status = "deleted"
		case s.Untracked:
			status = "untracked"
		case s.Depth == state.PendingDepth:
			status = "pending"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", s.SchemaKey, s.EntityID, s.Depth, source, status)
	}
	return w.Flush()
}
