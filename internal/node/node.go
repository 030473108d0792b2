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

package node

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blinklabs-io/walkrbot"
	"github.com/blinklabs-io/walkrbot/fleet"
	"github.com/blinklabs-io/walkrbot/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BotOptions translates the loaded configuration into bot options
func BotOptions(
	cfg *config.Config,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) ([]walkrbot.ConfigOptionFunc, error) {
	opts := []walkrbot.ConfigOptionFunc{
		walkrbot.WithLogger(logger),
		walkrbot.WithPrometheusRegistry(promRegistry),
		walkrbot.WithDatabasePath(cfg.DataDir),
		walkrbot.WithBlobPlugin(cfg.BlobPlugin),
		walkrbot.WithMetadataPlugin(cfg.MetadataPlugin),
		walkrbot.WithArchiveRetention(cfg.ArchiveRetention),
		walkrbot.WithBaseURL(cfg.BaseURL),
		walkrbot.WithClientVersion(cfg.ClientVersion),
		walkrbot.WithIOSVersion(cfg.IOSVersion),
		walkrbot.WithLabID(cfg.LabID),
		walkrbot.WithReporterUserID(cfg.ReporterUserID),
		walkrbot.WithPollInterval(cfg.PollInterval),
		walkrbot.WithCooldown(cfg.Cooldown),
		walkrbot.WithCallTimeout(cfg.CallTimeout),
		walkrbot.WithConcurrency(cfg.Concurrency),
		walkrbot.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		walkrbot.WithPassLockTTL(cfg.PassLockTTL),
		walkrbot.WithLockConfig(cfg.Lock),
		walkrbot.WithShutdownTimeout(cfg.ShutdownTimeout),
	}
	if cfg.EpicCatalog != "" {
		catalog, err := fleet.LoadCatalogFile(cfg.EpicCatalog)
		if err != nil {
			return nil, err
		}
		opts = append(opts, walkrbot.WithCatalog(catalog))
	}
	if cfg.Kafka.Enabled() {
		opts = append(opts, walkrbot.WithKafka(cfg.Kafka.Topic, cfg.Kafka.Brokers...))
	}
	switch cfg.Tracing.Exporter {
	case "":
	case "stdout":
		opts = append(
			opts,
			walkrbot.WithTracing(true),
			walkrbot.WithTracingStdout(true),
			walkrbot.WithTracingSampleRatio(cfg.Tracing.SampleRatio),
		)
	case "otlp":
		opts = append(
			opts,
			walkrbot.WithTracing(true),
			walkrbot.WithTracingEndpoint(cfg.Tracing.Endpoint, cfg.Tracing.Insecure),
			walkrbot.WithTracingSampleRatio(cfg.Tracing.SampleRatio),
		)
	default:
		return nil, fmt.Errorf("unknown tracing exporter %q", cfg.Tracing.Exporter)
	}
	return opts, nil
}

// NewBot creates a bot from the loaded configuration
func NewBot(
	cfg *config.Config,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (*walkrbot.Bot, error) {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")
	opts, err := BotOptions(cfg, logger, promRegistry)
	if err != nil {
		return nil, err
	}
	return walkrbot.New(walkrbot.NewConfig(opts...))
}

// Run polls the game API until a termination signal arrives, serving
// metrics on the side
func Run(cfg *config.Config, logger *slog.Logger) error {
	shutdownTimeout := config.DefaultShutdownTimeout
	if cfg.ShutdownTimeout > 0 {
		shutdownTimeout = cfg.ShutdownTimeout
	}

	// Enable metrics with default prometheus registry
	bot, err := NewBot(cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	// Metrics and debug listener
	var metricsServer *http.Server
	if cfg.MetricsPort > 0 {
		http.Handle("/metrics", promhttp.Handler())
		metricsAddr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.MetricsPort)
		logger.Info(
			"serving prometheus metrics on "+metricsAddr,
			"component", "node",
		)
		metricsServer = &http.Server{
			Addr:              metricsAddr,
			ReadHeaderTimeout: 60 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil &&
				err != http.ErrServerClosed {
				logger.Error(
					fmt.Sprintf("failed to start metrics listener: %s", err),
					"component", "node",
				)
				os.Exit(1)
			}
		}()
	}

	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	runErr := bot.Run(signalCtx)
	logger.Info("signal received, initiating graceful shutdown")

	// Shutdown metrics server
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Shutdown bot
	if err := bot.Stop(); err != nil {
		logger.Error("shutdown errors occurred", "error", err)
		return err
	}
	logger.Info("shutdown complete")
	return runErr
}
