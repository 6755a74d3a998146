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
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"lix/internal/engine"
)

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Commit pending changes",
	Long: `Commit the pending changes of a version. The new commit's parent is the
version's current commit; --parent adds further parents.`,
	Args: cobra.NoArgs,
	RunE: runCommit,
}

var mergeCmd = &cobra.Command{
	Use:   "merge <source>",
	Short: "Merge a version into another",
	Long: `Create a commit on the target version (the active version unless
--into is given) whose parents are the target's and the source's commits.
Entities changed on both sides resolve to the change closest to the new
commit.`,
	Args: cobra.ExactArgs(1),
	RunE: runMerge,
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the commit graph of a version",
	Args:  cobra.NoArgs,
	RunE:  runLog,
}

var historyCmd = &cobra.Command{
	Use:   "history <schema> <entity-id>",
	Short: "Show every change to an entity",
	Args:  cobra.ExactArgs(2),
	RunE:  runHistory,
}

func init() {
	commitCmd.Flags().String("version", "", "version to commit (default: active version)")
	commitCmd.Flags().StringP("message", "m", "", "commit message")
	commitCmd.Flags().StringSlice("parent", nil, "additional parent commit")
	mergeCmd.Flags().String("into", "", "target version (default: active version)")
	logCmd.Flags().String("version", "", "version to show (default: active version)")
	historyCmd.Flags().String("version", "", "version to read (default: active version)")

	rootCmd.AddCommand(commitCmd, mergeCmd, logCmd, historyCmd)
}

func runCommit(cmd *cobra.Command, args []string) error {
	lx, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer lx.Close()

	versionID, err := targetVersion(cmd, lx)
	if err != nil {
		return err
	}
	var opts engine.CommitOptions
	opts.Message, _ = cmd.Flags().GetString("message")
	opts.Parents, _ = cmd.Flags().GetStringSlice("parent")

	id, err := lx.Commit(cmd.Context(), versionID, opts)
	if err != nil {
		return err
	}
	fmt.Printf("[%s %s] %s\n", versionID, shortID(id), opts.Message)
	return nil
}

func runMerge(cmd *cobra.Command, args []string) error {
	lx, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer lx.Close()

	target, _ := cmd.Flags().GetString("into")
	if target == "" {
		active, err := lx.ActiveVersion(cmd.Context())
		if err != nil {
			return err
		}
		target = active.ID
	}
	id, err := lx.Merge(cmd.Context(), target, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Merged %s into %s (%s)\n", args[0], target, shortID(id))
	return nil
}

func runLog(cmd *cobra.Command, args []string) error {
	lx, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer lx.Close()

	versionID, err := targetVersion(cmd, lx)
	if err != nil {
		return err
	}
	rows, err := lx.CommitGraph(cmd.Context(), versionID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DEPTH\tCOMMIT\tPARENTS\tDATE\tMESSAGE")
	for _, row := range rows {
		c, err := lx.GetCommit(cmd.Context(), row.CommitID)
		if err != nil {
			return err
		}
		parents := make([]string, len(c.ParentIDs))
		for i, p := range c.ParentIDs {
			parents[i] = shortID(p)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", row.Depth, shortID(c.ID),
			strings.Join(parents, ","), c.CreatedAt.Format("2006-01-02 15:04:05"), c.Message)
	}
	return w.Flush()
}

func runHistory(cmd *cobra.Command, args []string) error {
	lx, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer lx.Close()

	versionID, err := targetVersion(cmd, lx)
	if err != nil {
		return err
	}
	rows, err := lx.History(cmd.Context(), versionID, args[0], args[1])
	if err != nil {
		return err
	}
	return printJSON(rows)
}
