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
package sqlite

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blinklabs-io/walkrbot/database/models"
	"github.com/blinklabs-io/walkrbot/database/plugin/metadata/internal/gormstore"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// MetadataStoreSqlite stores users, tokens and lab donation history in SQLite
type MetadataStoreSqlite struct {
	*gormstore.Store
	promRegistry   prometheus.Registerer
	db             *gorm.DB
	logger         *slog.Logger
	timerVacuum    *time.Timer
	dataDir        string
	maxConnections int
	timerMutex     sync.Mutex
	vacuumWG       sync.WaitGroup
	closed         bool
}

// New creates and starts a SQLite metadata store. Uses an in-memory database
// if dataDir is empty.
func New(
	dataDir string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (*MetadataStoreSqlite, error) {
	db, err := NewWithOptions(
		WithDataDir(dataDir),
		WithLogger(logger),
		WithPromRegistry(promRegistry),
	)
	if err != nil {
		return nil, err
	}
	if err := db.Start(); err != nil {
		// MetadataStoreSqlite is available for recovery, so return it with error
		return db, err
	}
	return db, nil
}

// NewWithOptions creates a SQLite metadata store. The database is opened by Start()
func NewWithOptions(opts ...SqliteOptionFunc) (*MetadataStoreSqlite, error) {
	db := &MetadataStoreSqlite{}
	for _, opt := range opts {
		opt(db)
	}
	if db.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		db.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return db, nil
}

func (d *MetadataStoreSqlite) open() (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	}
	if d.dataDir == "" {
		// cache=shared allows multiple connections to share the same in-memory database
		return gorm.Open(
			sqlite.Open("file::memory:?cache=shared"),
			gormConfig,
		)
	}
	// Make sure that we can read data dir, and create if it doesn't exist
	if _, err := os.Stat(d.dataDir); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read data dir: %w", err)
		}
		if err := os.MkdirAll(d.dataDir, fs.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}
	metadataDbPath := filepath.Join(
		d.dataDir,
		"metadata.sqlite",
	)
	// WAL journal mode, wait on a locked database instead of failing
	metadataConnOpts := "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	return gorm.Open(
		sqlite.Open(
			fmt.Sprintf("file:%s?%s", metadataDbPath, metadataConnOpts),
		),
		gormConfig,
	)
}

func (d *MetadataStoreSqlite) init() error {
	// Configure tracing for GORM
	if err := d.db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return err
	}
	// Schedule daily database vacuum to free unused space
	d.scheduleDailyVacuum()
	return nil
}

// Start implements the plugin.Plugin interface
func (d *MetadataStoreSqlite) Start() error {
	metadataDb, err := d.open()
	if err != nil {
		return err
	}
	d.db = metadataDb
	d.Store = gormstore.New(metadataDb)
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	if d.maxConnections <= 0 {
		d.maxConnections = DefaultMaxConnections
	}
	sqlDB.SetMaxOpenConns(d.maxConnections)
	if d.promRegistry != nil {
		err := d.promRegistry.Register(
			collectors.NewDBStatsCollector(sqlDB, "metadata_sqlite"),
		)
		var alreadyErr prometheus.AlreadyRegisteredError
		if err != nil && !errors.As(err, &alreadyErr) {
			return err
		}
	}
	if err := d.init(); err != nil {
		return err
	}
	for _, model := range models.MigrateModels {
		d.logger.Debug(
			fmt.Sprintf("creating table: %T", model),
			"component", "database",
		)
		if err := d.db.AutoMigrate(model); err != nil {
			return err
		}
	}
	return nil
}

// Stop implements the plugin.Plugin interface
func (d *MetadataStoreSqlite) Stop() error {
	return d.Close()
}

func (d *MetadataStoreSqlite) runVacuum() error {
	d.timerMutex.Lock()
	if d.dataDir == "" || d.closed {
		d.timerMutex.Unlock()
		return nil
	}
	// Track this vacuum operation while we know the store is open
	d.vacuumWG.Add(1)
	d.timerMutex.Unlock()
	defer d.vacuumWG.Done()

	return d.db.Exec("VACUUM").Error
}

// scheduleDailyVacuum schedules a daily vacuum operation
func (d *MetadataStoreSqlite) scheduleDailyVacuum() {
	d.timerMutex.Lock()
	defer d.timerMutex.Unlock()
	if d.closed {
		return
	}
	if d.timerVacuum != nil {
		d.timerVacuum.Stop()
	}
	f := func() {
		d.logger.Debug(
			"running vacuum on sqlite metadata database",
			"component", "database",
		)
		// schedule next run
		defer d.scheduleDailyVacuum()
		if err := d.runVacuum(); err != nil {
			d.logger.Error(
				"failed to free unused space in metadata store",
				"component", "database",
				"error", err,
			)
		}
	}
	d.timerVacuum = time.AfterFunc(24*time.Hour, f)
}

// Close shuts down the database connection and stops background processes.
func (d *MetadataStoreSqlite) Close() error {
	d.timerMutex.Lock()
	d.closed = true
	if d.timerVacuum != nil {
		d.timerVacuum.Stop()
		d.timerVacuum = nil
	}
	d.timerMutex.Unlock()

	// Wait for any in-flight vacuum operations to complete
	d.vacuumWG.Wait()

	// Guard against nil DB handle (e.g., if Start() failed or was never called)
	if d.db == nil {
		return nil
	}
	db, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("get database handle: %w", err)
	}
	return db.Close()
}
