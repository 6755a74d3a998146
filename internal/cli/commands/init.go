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
	"path/filepath"

	"github.com/spf13/cobra"

	"lix/internal/engine"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a lix store",
	Long: `Create a new lix store at the --store path (default .lix/store.lix).

The store starts with the "global" version and a "main" version that
inherits from it. Running init on an existing store leaves it untouched.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	absPath, err := filepath.Abs(storePath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	if _, err := os.Stat(absPath); err == nil {
		fmt.Printf("Reinitialized existing lix store in %s\n", absPath)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	lx, err := engine.Open(cmd.Context(), absPath, engine.OptionsFromSettings(settings))
	if err != nil {
		return err
	}
	defer lx.Close()

	fmt.Printf("Initialized empty lix store in %s\n", absPath)
	return nil
}
