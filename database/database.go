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
package database

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/blinklabs-io/walkrbot/database/models"
	"github.com/blinklabs-io/walkrbot/database/plugin"
	"github.com/blinklabs-io/walkrbot/database/plugin/blob"
	_ "github.com/blinklabs-io/walkrbot/database/plugin/blob/badger"
	"github.com/blinklabs-io/walkrbot/database/plugin/metadata"
	_ "github.com/blinklabs-io/walkrbot/database/plugin/metadata/mysql"
	_ "github.com/blinklabs-io/walkrbot/database/plugin/metadata/postgres"
	_ "github.com/blinklabs-io/walkrbot/database/plugin/metadata/sqlite"
	"github.com/blinklabs-io/walkrbot/database/types"
)

const (
	DefaultMetadataPlugin   = "sqlite"
	DefaultBlobPlugin       = "badger"
	DefaultArchiveRetention = 72 * time.Hour
)

// Config selects and configures the storage plugins
type Config struct {
	Logger         *slog.Logger
	DataDir        string
	MetadataPlugin string
	// BlobPlugin may be empty, which disables the payload archive
	BlobPlugin       string
	ArchiveRetention time.Duration
}

type Database struct {
	logger           *slog.Logger
	blob             blob.BlobStore
	metadata         metadata.MetadataStore
	dataDir          string
	archiveRetention time.Duration
	archiveSeq       atomic.Uint64
}

// Blob returns the underling blob store instance. It is nil when the payload
// archive is disabled.
func (d *Database) Blob() blob.BlobStore {
	return d.blob
}

// DataDir returns the path to the data directory used for storage
func (d *Database) DataDir() string {
	return d.dataDir
}

// Logger returns the logger instance
func (d *Database) Logger() *slog.Logger {
	return d.logger
}

// Metadata returns the underlying metadata store instance
func (d *Database) Metadata() metadata.MetadataStore {
	return d.metadata
}

// Transaction starts a new database transaction and returns a handle to it
func (d *Database) Transaction(readWrite bool) *Txn {
	return NewTxn(d, readWrite)
}

// CreateSchema creates or updates the tables of the metadata store
func (d *Database) CreateSchema() error {
	for _, model := range models.MigrateModels {
		d.logger.Debug(
			fmt.Sprintf("migrating table: %T", model),
			"component", "database",
		)
		if err := d.metadata.AutoMigrate(model); err != nil {
			return fmt.Errorf("migrate %T: %w", model, err)
		}
	}
	return nil
}

// Close cleans up the database connections
func (d *Database) Close() error {
	var err error
	if d.metadata != nil {
		err = errors.Join(err, d.metadata.Close())
	}
	if d.blob != nil {
		err = errors.Join(err, d.blob.Close())
	}
	return err
}

// New creates a new database instance from the registered storage plugins.
// Options set on the plugins through the command line, config file or
// environment are applied before they are started.
func New(cfg *Config) (*Database, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	metadataPlugin := cfg.MetadataPlugin
	if metadataPlugin == "" {
		metadataPlugin = DefaultMetadataPlugin
	}
	if cfg.DataDir != "" {
		if err := plugin.SetPluginOption(
			plugin.PluginTypeMetadata,
			metadataPlugin,
			"data-dir",
			cfg.DataDir,
		); err != nil {
			return nil, err
		}
		if cfg.BlobPlugin != "" {
			if err := plugin.SetPluginOption(
				plugin.PluginTypeBlob,
				cfg.BlobPlugin,
				"data-dir",
				cfg.DataDir,
			); err != nil {
				return nil, err
			}
		}
	}
	metadataDb, err := metadata.New(metadataPlugin)
	if err != nil {
		return nil, fmt.Errorf("metadata store: %w", err)
	}
	var blobDb blob.BlobStore
	if cfg.BlobPlugin != "" {
		blobDb, err = blob.New(cfg.BlobPlugin)
		if err != nil {
			_ = metadataDb.Close()
			return nil, fmt.Errorf("blob store: %w", err)
		}
	}
	return NewWithStores(cfg, metadataDb, blobDb)
}

// NewWithStores creates a database instance around already started stores
func NewWithStores(
	cfg *Config,
	metadataStore metadata.MetadataStore,
	blobStore blob.BlobStore,
) (*Database, error) {
	if metadataStore == nil {
		return nil, types.ErrNoStoreAvailable
	}
	if cfg == nil {
		cfg = &Config{}
	}
	db := &Database{
		logger:           cfg.Logger,
		metadata:         metadataStore,
		blob:             blobStore,
		dataDir:          cfg.DataDir,
		archiveRetention: cfg.ArchiveRetention,
	}
	if db.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		db.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if db.archiveRetention <= 0 {
		db.archiveRetention = DefaultArchiveRetention
	}
	return db, nil
}
