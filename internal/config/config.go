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

package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/blinklabs-io/walkrbot/database/plugin"
	"github.com/blinklabs-io/walkrbot/internal/lock"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "walkrbot.config"

const (
	DefaultBlobPlugin     = "badger"
	DefaultMetadataPlugin = "sqlite"

	DefaultShutdownTimeout = 30 * time.Second
)

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

// ErrPluginListRequested is returned when the user requests to list available plugins
// This is not an error condition but a successful operation that displays plugin information
var ErrPluginListRequested = errors.New("plugin list requested")

type tempConfig struct {
	Config   yaml.Node                 `yaml:"config,omitempty"`
	Database *databaseConfig           `yaml:"database,omitempty"`
	Blob     map[string]map[string]any `yaml:"blob,omitempty"`
	Metadata map[string]map[string]any `yaml:"metadata,omitempty"`
}

type databaseConfig struct {
	Blob     map[string]any `yaml:"blob,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty"`
}

type KafkaConfig struct {
	Topic   string   `yaml:"topic"`
	Brokers []string `yaml:"brokers"`
}

// Enabled reports whether bus events should be exported
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}

type TracingConfig struct {
	// Exporter is one of "otlp", "stdout" or empty to disable tracing
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sampleRatio" split_words:"true"`
}

type Config struct {
	MetadataPlugin   string        `yaml:"metadataPlugin"   envconfig:"WALKRBOT_DATABASE_METADATA_PLUGIN"`
	BlobPlugin       string        `yaml:"blobPlugin"       envconfig:"WALKRBOT_DATABASE_BLOB_PLUGIN"`
	DataDir          string        `yaml:"dataDir"                                                    split_words:"true"`
	BaseURL          string        `yaml:"baseUrl"          envconfig:"BASE_URL"`
	ClientVersion    string        `yaml:"clientVersion"                                              split_words:"true"`
	IOSVersion       string        `yaml:"iosVersion"       envconfig:"IOS_VERSION"`
	EpicCatalog      string        `yaml:"epicCatalog"                                                split_words:"true"`
	BindAddr         string        `yaml:"bindAddr"                                                   split_words:"true"`
	LabID            int64         `yaml:"labId"            envconfig:"LAB_ID"`
	ReporterUserID   int64         `yaml:"reporterUserId"   envconfig:"REPORTER_USER_ID"`
	PollInterval     time.Duration `yaml:"pollInterval"                                               split_words:"true"`
	Cooldown         time.Duration `yaml:"cooldown"`
	CallTimeout      time.Duration `yaml:"callTimeout"                                                split_words:"true"`
	PassLockTTL      time.Duration `yaml:"passLockTtl"      envconfig:"PASS_LOCK_TTL"`
	ArchiveRetention time.Duration `yaml:"archiveRetention"                                           split_words:"true"`
	ShutdownTimeout  time.Duration `yaml:"shutdownTimeout"                                            split_words:"true"`
	RateLimit        float64       `yaml:"rateLimit"                                                  split_words:"true"`
	RateBurst        int           `yaml:"rateBurst"                                                  split_words:"true"`
	Concurrency      int           `yaml:"concurrency"`
	MetricsPort      uint          `yaml:"metricsPort"                                                split_words:"true"`
	Debug            bool          `yaml:"debug"`
	Lock             lock.Config   `yaml:"lock"             envconfig:"LOCK"`
	Kafka            KafkaConfig   `yaml:"kafka"            envconfig:"KAFKA"`
	Tracing          TracingConfig `yaml:"tracing"          envconfig:"TRACING"`
}

// ListPlugins prints the available plugins when "list" was given for either
// plugin type and returns ErrPluginListRequested in that case
func (c *Config) ListPlugins(w io.Writer) error {
	var pluginType plugin.PluginType
	switch {
	case c.BlobPlugin == "list":
		pluginType = plugin.PluginTypeBlob
	case c.MetadataPlugin == "list":
		pluginType = plugin.PluginTypeMetadata
	default:
		return nil
	}
	fmt.Fprintf(w, "Available %s plugins:\n", plugin.PluginTypeName(pluginType))
	for _, p := range plugin.GetPlugins(pluginType) {
		fmt.Fprintf(w, "  %s: %s\n", p.Name, p.Description)
	}
	return ErrPluginListRequested
}

func defaultConfig() *Config {
	return &Config{
		MetadataPlugin:   DefaultMetadataPlugin,
		BlobPlugin:       DefaultBlobPlugin,
		DataDir:          ".walkrbot",
		BaseURL:          "https://production.sw.fourdesire.com",
		ClientVersion:    "7.2.2.4",
		IOSVersion:       "17.4.1",
		BindAddr:         "0.0.0.0",
		LabID:            68334,
		PollInterval:     10 * time.Minute,
		Cooldown:         6 * time.Hour,
		CallTimeout:      15 * time.Second,
		PassLockTTL:      5 * time.Minute,
		ArchiveRetention: 72 * time.Hour,
		ShutdownTimeout:  DefaultShutdownTimeout,
		RateLimit:        2,
		RateBurst:        1,
		Concurrency:      4,
		MetricsPort:      12799,
		Lock: lock.Config{
			Backend: lock.BackendLocal,
		},
		Tracing: TracingConfig{
			SampleRatio: 1,
		},
	}
}

var globalConfig = defaultConfig()

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.walkrbot/walkrbot.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".walkrbot", "walkrbot.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/walkrbot/walkrbot.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/walkrbot/walkrbot.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}

		// First unmarshal into temp config to handle plugin sections
		var tempCfg tempConfig
		err = yaml.Unmarshal(buf, &tempCfg)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}

		if tempCfg.Config.Kind != 0 {
			// Overlay config section onto existing defaults
			if err := tempCfg.Config.Decode(globalConfig); err != nil {
				return nil, fmt.Errorf("error parsing config section: %w", err)
			}
		} else {
			// Otherwise the whole file is the main config
			if err := yaml.Unmarshal(buf, globalConfig); err != nil {
				return nil, fmt.Errorf("error parsing config file: %w", err)
			}
		}

		pluginConfig := make(map[string]map[string]map[string]any)
		if tempCfg.Blob != nil {
			pluginConfig["blob"] = tempCfg.Blob
		}
		if tempCfg.Metadata != nil {
			pluginConfig["metadata"] = tempCfg.Metadata
		}
		if tempCfg.Database != nil {
			if tempCfg.Database.Blob != nil {
				if name, ok := pluginName(tempCfg.Database.Blob); ok {
					globalConfig.BlobPlugin = name
				}
				mergePluginConfig(pluginConfig, "blob", tempCfg.Database.Blob)
			}
			if tempCfg.Database.Metadata != nil {
				if name, ok := pluginName(tempCfg.Database.Metadata); ok {
					globalConfig.MetadataPlugin = name
				}
				mergePluginConfig(
					pluginConfig,
					"metadata",
					tempCfg.Database.Metadata,
				)
			}
		}
		if len(pluginConfig) > 0 {
			err = plugin.ProcessConfig(pluginConfig)
			if err != nil {
				return nil, fmt.Errorf(
					"error processing plugin config: %w",
					err,
				)
			}
		}
	}
	// Process environment variables
	err := envconfig.Process("walkrbot", globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}

	// Process plugin environment variables
	err = plugin.ProcessEnvVars("walkrbot")
	if err != nil {
		return nil, fmt.Errorf(
			"error processing plugin environment variables: %w",
			err,
		)
	}

	if err := globalConfig.validate(); err != nil {
		return nil, err
	}
	return globalConfig, nil
}

func GetConfig() *Config {
	return globalConfig
}

func (c *Config) validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf(
			"invalid concurrency: %d (must be at least 1)",
			c.Concurrency,
		)
	}
	if c.Cooldown <= 0 {
		return fmt.Errorf("invalid cooldown: %s", c.Cooldown)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("invalid callTimeout: %s", c.CallTimeout)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("invalid pollInterval: %s", c.PollInterval)
	}
	switch c.Tracing.Exporter {
	case "", "otlp", "stdout":
	default:
		return fmt.Errorf(
			"invalid tracing exporter: %q (must be 'otlp' or 'stdout')",
			c.Tracing.Exporter,
		)
	}
	return nil
}

// pluginName removes the "plugin" key from a database section and returns it
func pluginName(section map[string]any) (string, bool) {
	val, exists := section["plugin"]
	if !exists {
		return "", false
	}
	name, ok := val.(string)
	if !ok {
		return "", false
	}
	delete(section, "plugin")
	return name, true
}

func mergePluginConfig(
	pluginConfig map[string]map[string]map[string]any,
	pluginType string,
	section map[string]any,
) {
	typeConfig := make(map[string]map[string]any)
	for k, v := range section {
		switch val := v.(type) {
		case map[string]any:
			typeConfig[k] = val
		case map[any]any:
			stringAnyMap := make(map[string]any, len(val))
			for vk, vv := range val {
				if keyStr, ok := vk.(string); ok {
					stringAnyMap[keyStr] = vv
				}
			}
			typeConfig[k] = stringAnyMap
		default:
			fmt.Fprintf(
				os.Stderr,
				"warning: skipping %s config entry %q: expected map, got %T\n",
				pluginType,
				k,
				v,
			)
		}
	}
	// Merge with existing config instead of overwriting
	if pluginConfig[pluginType] == nil {
		pluginConfig[pluginType] = typeConfig
	} else {
		maps.Copy(pluginConfig[pluginType], typeConfig)
	}
}
