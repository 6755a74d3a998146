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
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Manage versions",
}

var versionCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a version",
	Long: `Create a version. By default the version inherits from the global
version and starts at a new empty commit.

Examples:
  lix version create feature --from main
  lix version create snapshot --commit 0f3c... --standalone`,
	Args: cobra.ExactArgs(1),
	RunE: runVersionCreate,
}

var versionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List versions",
	Args:  cobra.NoArgs,
	RunE:  runVersionLs,
}

var versionSwitchCmd = &cobra.Command{
	Use:   "switch <version>",
	Short: "Make a version active",
	Args:  cobra.ExactArgs(1),
	RunE:  runVersionSwitch,
}

var versionInheritCmd = &cobra.Command{
	Use:   "inherit <version> [parent]",
	Short: "Change the parent of a version",
	Long: `Change the version a version inherits from. Without a parent the
version is detached and only sees its own history.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runVersionInherit,
}

func init() {
	versionCreateCmd.Flags().String("from", "", "parent version to inherit from")
	versionCreateCmd.Flags().String("commit", "", "start at an existing commit")
	versionCreateCmd.Flags().Bool("standalone", false, "do not inherit from any version")
	versionCreateCmd.Flags().Bool("hidden", false, "hide the version from listings")
	versionLsCmd.Flags().BoolP("all", "a", false, "include hidden versions")

	versionCmd.AddCommand(versionCreateCmd, versionLsCmd, versionSwitchCmd, versionInheritCmd)
	rootCmd.AddCommand(versionCmd)
}

func runVersionCreate(cmd *cobra.Command, args []string) error {
	lx, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer lx.Close()

	opts := engine.CreateVersionOptions{Name: args[0]}
	if from, _ := cmd.Flags().GetString("from"); from != "" {
		opts.InheritsFrom = &from
	}
	opts.FromCommitID, _ = cmd.Flags().GetString("commit")
	opts.Standalone, _ = cmd.Flags().GetBool("standalone")
	opts.Hidden, _ = cmd.Flags().GetBool("hidden")

	v, err := lx.CreateVersion(cmd.Context(), opts)
	if err != nil {
		return err
	}
	fmt.Printf("Created version %s (%s)\n", v.Name, v.ID)
	return nil
}

func runVersionLs(cmd *cobra.Command, args []string) error {
	lx, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer lx.Close()

	all, _ := cmd.Flags().GetBool("all")
	versions, err := lx.Versions(cmd.Context())
	if err != nil {
		return err
	}
	active, err := lx.ActiveVersion(cmd.Context())
	if err != nil {
		return err
	}
	names := make(map[string]string, len(versions))
	for _, v := range versions {
		names[v.ID] = v.Name
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\tNAME\tID\tCOMMIT\tINHERITS FROM")
	for _, v := range versions {
		if v.Hidden && !all {
			continue
		}
		marker := ""
		if v.ID == active.ID {
			marker = "*"
		}
		parent := "-"
		if v.InheritsFromVersionID != nil {
			parent = names[*v.InheritsFromVersionID]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", marker, v.Name, v.ID, shortID(v.CommitID), parent)
	}
	return w.Flush()
}

func runVersionSwitch(cmd *cobra.Command, args []string) error {
	lx, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer lx.Close()

	v, err := lx.SwitchVersion(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Switched to version %s\n", v.Name)
	return nil
}

func runVersionInherit(cmd *cobra.Command, args []string) error {
	lx, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer lx.Close()

	var parent *string
	if len(args) > 1 {
		parent = &args[1]
	}
	if err := lx.SetInheritance(cmd.Context(), args[0], parent); err != nil {
		return err
	}
	if parent == nil {
		fmt.Printf("Version %s no longer inherits\n", args[0])
	} else {
		fmt.Printf("Version %s now inherits from %s\n", args[0], *parent)
	}
	return nil
}
