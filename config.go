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

package walkrbot

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/blinklabs-io/walkrbot/database"
	"github.com/blinklabs-io/walkrbot/fleet"
	"github.com/blinklabs-io/walkrbot/internal/lock"
	"github.com/blinklabs-io/walkrbot/lab"
	"github.com/blinklabs-io/walkrbot/walkr"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultPollInterval    = 10 * time.Minute
	DefaultPassLockTTL     = 5 * time.Minute
	DefaultShutdownTimeout = 30 * time.Second
	DefaultRateLimit       = 2
	DefaultRateBurst       = 1
)

type Config struct {
	promRegistry     prometheus.Registerer
	logger           *slog.Logger
	catalog          fleet.Catalog
	locker           lock.Locker
	httpClient       *http.Client
	db               *database.Database
	now              func() time.Time
	dataDir          string
	blobPlugin       string
	metadataPlugin   string
	baseURL          string
	clientVersion    string
	iosVersion       string
	tracingEndpoint  string
	kafkaTopic       string
	kafkaBrokers     []string
	lockConfig       lock.Config
	labID            int64
	reporterUserID   int64
	rateLimit        float64
	rateBurst        int
	concurrency      int
	pollInterval     time.Duration
	cooldown         time.Duration
	callTimeout      time.Duration
	passLockTTL      time.Duration
	archiveRetention time.Duration
	shutdownTimeout  time.Duration
	tracingRatio     float64
	tracing          bool
	tracingStdout    bool
	tracingInsecure  bool
}

func (c *Config) validate() error {
	if c.baseURL == "" {
		return errors.New("no base URL configured")
	}
	if c.concurrency < 0 {
		return fmt.Errorf("invalid concurrency: %d", c.concurrency)
	}
	if c.pollInterval <= 0 {
		return fmt.Errorf("invalid poll interval: %s", c.pollInterval)
	}
	if c.cooldown < 0 || c.callTimeout < 0 {
		return errors.New("cooldown and call timeout must not be negative")
	}
	if c.rateLimit < 0 {
		return fmt.Errorf("invalid rate limit: %g", c.rateLimit)
	}
	if c.tracingRatio < 0 || c.tracingRatio > 1 {
		return fmt.Errorf("invalid tracing sample ratio: %g", c.tracingRatio)
	}
	return nil
}

func (c *Config) device() walkr.Device {
	ret := walkr.DefaultDevice()
	if c.clientVersion != "" {
		ret.ClientVersion = c.clientVersion
	}
	if c.iosVersion != "" {
		ret.IOSVersion = c.iosVersion
	}
	return ret
}

// ConfigOptionFunc is a type that represents functions that modify the bot config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new bot config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:           slog.New(slog.NewJSONHandler(io.Discard, nil)),
		baseURL:          walkr.DefaultBaseURL,
		labID:            walkr.DefaultLabID,
		metadataPlugin:   database.DefaultMetadataPlugin,
		blobPlugin:       database.DefaultBlobPlugin,
		archiveRetention: database.DefaultArchiveRetention,
		rateLimit:        DefaultRateLimit,
		rateBurst:        DefaultRateBurst,
		concurrency:      lab.DefaultConcurrency,
		pollInterval:     DefaultPollInterval,
		cooldown:         lab.DefaultCooldown,
		callTimeout:      lab.DefaultCallTimeout,
		passLockTTL:      DefaultPassLockTTL,
		shutdownTimeout:  DefaultShutdownTimeout,
		tracingRatio:     1,
		now:              time.Now,
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithCatalog specifies the epic targets used by the fleet report. The
// embedded catalog is used by default
func WithCatalog(catalog fleet.Catalog) ConfigOptionFunc {
	return func(c *Config) {
		c.catalog = catalog
	}
}

// WithDatabase uses an already opened database instead of opening one from
// the plugin settings. The bot does not close it
func WithDatabase(db *database.Database) ConfigOptionFunc {
	return func(c *Config) {
		c.db = db
	}
}

// WithDatabasePath specifies the persistent data directory to use
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithBlobPlugin specifies the blob storage plugin to use. An empty name
// disables the payload archive
func WithBlobPlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.blobPlugin = plugin
	}
}

// WithMetadataPlugin specifies the metadata storage plugin to use.
func WithMetadataPlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.metadataPlugin = plugin
	}
}

// WithArchiveRetention specifies how long archived API payloads are kept
func WithArchiveRetention(retention time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.archiveRetention = retention
	}
}

// WithBaseURL specifies the game API endpoint
func WithBaseURL(baseURL string) ConfigOptionFunc {
	return func(c *Config) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient specifies the HTTP client used for game API calls
func WithHTTPClient(client *http.Client) ConfigOptionFunc {
	return func(c *Config) {
		c.httpClient = client
	}
}

// WithClientVersion specifies the game client version the bot reports
func WithClientVersion(version string) ConfigOptionFunc {
	return func(c *Config) {
		c.clientVersion = version
	}
}

// WithIOSVersion specifies the iOS version the bot reports
func WithIOSVersion(version string) ConfigOptionFunc {
	return func(c *Config) {
		c.iosVersion = version
	}
}

// WithLabID specifies the lab whose comment feed is tracked
func WithLabID(labID int64) ConfigOptionFunc {
	return func(c *Config) {
		c.labID = labID
	}
}

// WithReporterUserID specifies the player whose token fetches the fleet
// report. The first active token is used when unset
func WithReporterUserID(userID int64) ConfigOptionFunc {
	return func(c *Config) {
		c.reporterUserID = userID
	}
}

// WithPollInterval specifies the time between passes in Run
func WithPollInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.pollInterval = interval
	}
}

// WithCooldown specifies the time between two donation requests of a player
func WithCooldown(cooldown time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.cooldown = cooldown
	}
}

// WithCallTimeout specifies the deadline of a single game API call
func WithCallTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.callTimeout = timeout
	}
}

// WithConcurrency specifies how many tokens are checked at the same time
func WithConcurrency(concurrency int) ConfigOptionFunc {
	return func(c *Config) {
		c.concurrency = concurrency
	}
}

// WithRateLimit specifies the request rate allowed against the game API. A
// zero rate disables the limiter
func WithRateLimit(rps float64, burst int) ConfigOptionFunc {
	return func(c *Config) {
		c.rateLimit = rps
		c.rateBurst = burst
	}
}

// WithPassLockTTL specifies how long a pass may hold the pass lock
func WithPassLockTTL(ttl time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.passLockTTL = ttl
	}
}

// WithLockConfig specifies the pass lock backend
func WithLockConfig(cfg lock.Config) ConfigOptionFunc {
	return func(c *Config) {
		c.lockConfig = cfg
	}
}

// WithLocker uses an existing pass locker. The bot does not close it
func WithLocker(locker lock.Locker) ConfigOptionFunc {
	return func(c *Config) {
		c.locker = locker
	}
}

// WithKafka exports bot events to the given Kafka topic
func WithKafka(topic string, brokers ...string) ConfigOptionFunc {
	return func(c *Config) {
		c.kafkaTopic = topic
		c.kafkaBrokers = brokers
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithTracingEndpoint specifies the OTLP collector host and port
func WithTracingEndpoint(endpoint string, insecure bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingEndpoint = endpoint
		c.tracingInsecure = insecure
	}
}

// WithTracingSampleRatio specifies the fraction of passes that are traced
func WithTracingSampleRatio(ratio float64) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingRatio = ratio
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. Default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
