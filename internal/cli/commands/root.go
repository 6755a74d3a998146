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
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"lix/internal/config"
	"lix/internal/engine"
	"lix/internal/storage"
)

// DefaultStorePath is used when --store is not given.
const DefaultStorePath = ".lix/store.lix"

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	storePath string
	logLevel  string
	settings  = config.Defaults()
)

// SetVersion sets the version info for --version flag
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

// getVersionString returns the version string with build info
func getVersionString() string {
	buildDate := formatBuildDate(date)
	if strings.HasSuffix(version, "-dev") {
		return fmt.Sprintf("%s (%s, epoch: %s, commit: %s)", version, buildDate, date, commit)
	}
	return fmt.Sprintf("%s (%s)", version, buildDate)
}

// formatBuildDate converts epoch timestamp to readable date
func formatBuildDate(epoch string) string {
	ts, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return epoch
	}
	return time.Unix(ts, 0).Format("2006-01-02")
}

var rootCmd = &cobra.Command{
	Use:   "lix",
	Short: "Change control for structured data",
	Long: `Change control for structured data. Entities are validated against
registered JSON schemas, recorded as changes, grouped into commits and
resolved per version, with versions inheriting state from their parents.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		if err := config.InitConfigDir(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		settings = loaded
		storage.SetConfigBusyTimeout(settings.BusyTimeout)

		name := settings.LogLevel
		if logLevel != "" {
			name = logLevel
		}
		if level, ok := config.ParseLevel(name); ok {
			log.SetOutput(os.Stderr)
			log.SetLevel(level)
		}
		return nil
	},
}

func init() {
	// Silent unless a level is configured.
	log.SetOutput(io.Discard)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("lix version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVarP(&storePath, "store", "s", DefaultStorePath, "path to the store file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error, off")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

// openStore opens the engine on --store. The store must already exist.
func openStore(cmd *cobra.Command) (*engine.Lix, error) {
	if _, err := os.Stat(storePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no store at %s (run 'lix init' first)", storePath)
	}
	return engine.Open(cmd.Context(), storePath, engine.OptionsFromSettings(settings))
}

// targetVersion returns the --version flag value or the active version id.
func targetVersion(cmd *cobra.Command, lx *engine.Lix) (string, error) {
	if ref, _ := cmd.Flags().GetString("version"); ref != "" {
		v, err := lx.Version(cmd.Context(), ref)
		if err != nil {
			return "", fmt.Errorf("version %s: %w", ref, err)
		}
		return v.ID, nil
	}
	v, err := lx.ActiveVersion(cmd.Context())
	if err != nil {
		return "", err
	}
	return v.ID, nil
}
