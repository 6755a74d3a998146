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

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage commit authors",
}

var accountAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountAdd,
}

var accountLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List accounts",
	Args:  cobra.NoArgs,
	RunE:  runAccountLs,
}

var accountUseCmd = &cobra.Command{
	Use:   "use <id>",
	Short: "Credit subsequent commits to an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountUse,
}

func init() {
	accountAddCmd.Flags().Bool("use", false, "make the new account active")
	accountCmd.AddCommand(accountAddCmd, accountLsCmd, accountUseCmd)
	rootCmd.AddCommand(accountCmd)
}

func runAccountAdd(cmd *cobra.Command, args []string) error {
	lx, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer lx.Close()

	account, err := lx.CreateAccount(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Created account %s (%s)\n", account.Name, account.ID)
	if use, _ := cmd.Flags().GetBool("use"); use {
		return lx.SetActiveAccount(cmd.Context(), account.ID)
	}
	return nil
}

func runAccountLs(cmd *cobra.Command, args []string) error {
	lx, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer lx.Close()

	accounts, err := lx.Accounts(cmd.Context())
	if err != nil {
		return err
	}
	active, err := lx.ActiveAccount(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\tNAME\tID\tCREATED")
	for _, a := range accounts {
		marker := ""
		if active != nil && active.ID == a.ID {
			marker = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", marker, a.Name, a.ID, a.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runAccountUse(cmd *cobra.Command, args []string) error {
	lx, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer lx.Close()

	if err := lx.SetActiveAccount(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Commits are now credited to %s\n", args[0])
	return nil
}
