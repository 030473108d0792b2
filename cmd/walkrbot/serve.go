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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/blinklabs-io/walkrbot"
	"github.com/blinklabs-io/walkrbot/internal/config"
	"github.com/blinklabs-io/walkrbot/internal/node"
	"github.com/spf13/cobra"
)

func serveRun(cfg *config.Config) {
	logger := commonRun(cfg)

	// Run bot
	if err := node.Run(cfg, logger); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll the game API and make lab requests until stopped",
		Run: func(cmd *cobra.Command, args []string) {
			serveRun(configFromCommand(cmd))
		},
	}
	return cmd
}

func passCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pass",
		Short: "Run a single reconciliation and scheduling pass",
		Run: func(cmd *cobra.Command, args []string) {
			bot, _ := newBot(cmd)
			ctx, stop := signal.NotifyContext(
				cmd.Context(),
				syscall.SIGINT,
				syscall.SIGTERM,
			)
			result, err := bot.RunPass(ctx)
			stop()
			if result != nil {
				fmt.Println(result.String())
			}
			if stopErr := bot.Stop(); stopErr != nil {
				err = errors.Join(err, stopErr)
			}
			if err != nil {
				if errors.Is(err, walkrbot.ErrPassInProgress) {
					slog.Warn(err.Error())
					return
				}
				slog.Error(err.Error())
				os.Exit(1)
			}
		},
	}
	return cmd
}

func reportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "report fleet|lab",
		Short:     "Print the fleet or lab report once",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"fleet", "lab"},
		Run: func(cmd *cobra.Command, args []string) {
			bot, _ := newBot(cmd)
			report, err := buildReport(cmd.Context(), bot, args[0])
			if stopErr := bot.Stop(); stopErr != nil {
				err = errors.Join(err, stopErr)
			}
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			fmt.Println(report)
		},
	}
	return cmd
}

func buildReport(ctx context.Context, bot *walkrbot.Bot, kind string) (string, error) {
	switch kind {
	case "fleet":
		return bot.FleetReport(ctx)
	case "lab":
		report, _, err := bot.LabReport(ctx)
		return report, err
	default:
		return "", fmt.Errorf("unknown report %q", kind)
	}
}

func tokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <value>",
		Short: "Register or refresh a player token",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			bot, _ := newBot(cmd)
			token, err := bot.RegisterToken(cmd.Context(), args[0])
			if stopErr := bot.Stop(); stopErr != nil {
				err = errors.Join(err, stopErr)
			}
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			fmt.Printf(
				"registered token %s for player %d, expires %s\n",
				token.Redacted(),
				token.UserID,
				token.ExpiresAt.Format("2006-01-02 15:04:05 MST"),
			)
		},
	}
	return cmd
}

func schemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Create or upgrade the database schema",
		Run: func(cmd *cobra.Command, args []string) {
			bot, logger := newBot(cmd)
			err := bot.CreateSchema()
			if stopErr := bot.Stop(); stopErr != nil {
				err = errors.Join(err, stopErr)
			}
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			logger.Info("schema is up to date", "component", programName)
		},
	}
	return cmd
}
