// Copyright 2025 Blink Labs Software
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

package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/blinklabs-io/walkrbot"
	"github.com/blinklabs-io/walkrbot/database/plugin"
	"github.com/blinklabs-io/walkrbot/internal/config"
	"github.com/blinklabs-io/walkrbot/internal/node"
	"github.com/blinklabs-io/walkrbot/internal/version"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
)

const (
	programName = "walkrbot"
)

func slogPrintf(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...),
		"component", programName,
	)
}

var (
	globalFlags = struct {
		debug bool
	}{}
	configFile string
)

func commonRun(cfg *config.Config) *slog.Logger {
	// Configure logger
	logLevel := slog.LevelInfo
	addSource := false
	if globalFlags.debug || cfg.Debug {
		logLevel = slog.LevelDebug
		addSource = true
	}
	logger := slog.New(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource: addSource,
			Level:     logLevel,
		}),
	)
	slog.SetDefault(logger)
	// Configure max processes with our logger wrapper, toss undo func
	_, err := maxprocs.Set(maxprocs.Logger(slogPrintf))
	if err != nil {
		// If we hit this, something really wrong happened
		slog.Error(err.Error())
		os.Exit(1)
	}
	logger.Info(
		"version: "+version.GetVersionString(),
		"component", programName,
	)
	return logger
}

// configFromCommand returns the config loaded by the root command
func configFromCommand(cmd *cobra.Command) *config.Config {
	cfg := config.FromContext(cmd.Context())
	if cfg == nil {
		slog.Error("no config found in context")
		os.Exit(1)
	}
	return cfg
}

// newBot builds a bot for one-shot commands, which do not export metrics
func newBot(cmd *cobra.Command) (*walkrbot.Bot, *slog.Logger) {
	cfg := configFromCommand(cmd)
	logger := commonRun(cfg)
	bot, err := node.NewBot(cfg, logger, nil)
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	return bot, logger
}

func listAllPlugins() string {
	var buf strings.Builder
	buf.WriteString("Available plugins:\n")
	for _, pluginType := range []plugin.PluginType{
		plugin.PluginTypeBlob,
		plugin.PluginTypeMetadata,
	} {
		typeName := plugin.PluginTypeName(pluginType)
		fmt.Fprintf(&buf, "\n%s storage plugins:\n", typeName)
		for _, p := range plugin.GetPlugins(pluginType) {
			fmt.Fprintf(&buf, "  %s: %s\n", p.Name, p.Description)
			for _, opt := range p.Options {
				fmt.Fprintf(
					&buf,
					"    --%s-%s-%s: %s\n",
					typeName,
					p.Name,
					opt.Name,
					opt.Description,
				)
			}
		}
	}
	return buf.String()
}

func listCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all available storage plugins and their options",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(listAllPlugins())
		},
	}
	return cmd
}

func versionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", programName, version.GetVersionString())
		},
	}
	return cmd
}

func applyPluginFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Root().PersistentFlags()
	if flags.Changed("blob") {
		cfg.BlobPlugin, _ = flags.GetString("blob")
	}
	if flags.Changed("metadata") {
		cfg.MetadataPlugin, _ = flags.GetString("metadata")
	}
}

func listRequestedPlugins(w io.Writer, cfg *config.Config) bool {
	err := cfg.ListPlugins(w)
	return errors.Is(err, config.ErrPluginListRequested)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   programName,
		Short: "Walkr fleet and lab companion bot",
		Run: func(cmd *cobra.Command, args []string) {
			serveRun(configFromCommand(cmd))
		},
	}

	// Global flags
	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&configFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().
		StringP("blob", "b", config.DefaultBlobPlugin, "blob store plugin to use, 'list' to show available")
	rootCmd.PersistentFlags().
		StringP("metadata", "m", config.DefaultMetadataPlugin, "metadata store plugin to use, 'list' to show available")

	// Add plugin-specific flags
	if err := plugin.PopulateCmdlineOptions(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "Error adding plugin flags: %v\n", err)
		os.Exit(1)
	}

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Override config with command line flags
		applyPluginFlags(cmd, cfg)

		// Handle plugin listing before anything is opened
		if listRequestedPlugins(os.Stdout, cfg) {
			os.Exit(0)
		}

		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	}

	// Subcommands
	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(passCommand())
	rootCmd.AddCommand(reportCommand())
	rootCmd.AddCommand(tokenCommand())
	rootCmd.AddCommand(schemaCommand())
	rootCmd.AddCommand(listCommand())
	rootCmd.AddCommand(versionCommand())

	// Execute cobra command
	if err := rootCmd.Execute(); err != nil {
		// NOTE: we purposely don't display the error, since cobra will have already displayed it
		os.Exit(1)
	}
}
