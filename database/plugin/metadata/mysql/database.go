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
package mysql

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/blinklabs-io/walkrbot/database/models"
	"github.com/blinklabs-io/walkrbot/database/plugin/metadata/internal/gormstore"
	"github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// mysqlErrUnknownDatabase is returned by the server when the schema is missing
const mysqlErrUnknownDatabase = 1049

// MetadataStoreMysql stores users, tokens and lab donation history in MySQL
type MetadataStoreMysql struct {
	*gormstore.Store
	promRegistry prometheus.Registerer
	db           *gorm.DB
	logger       *slog.Logger

	host     string
	port     uint
	user     string
	password string
	database string
	sslMode  string
	timeZone string
	dsn      string // Data source name (MySQL connection string)
}

// New creates a new database
func New(
	host string,
	port uint,
	user string,
	password string,
	database string,
	sslMode string,
	timeZone string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (*MetadataStoreMysql, error) {
	return NewWithOptions(
		WithHost(host),
		WithPort(port),
		WithUser(user),
		WithPassword(password),
		WithDatabase(database),
		WithSSLMode(sslMode),
		WithTimeZone(timeZone),
		WithLogger(logger),
		WithPromRegistry(promRegistry),
	)
}

// NewWithOptions creates a new database with options
func NewWithOptions(opts ...MysqlOptionFunc) (*MetadataStoreMysql, error) {
	db := &MetadataStoreMysql{}

	// Apply options
	for _, opt := range opts {
		opt(db)
	}

	// Set defaults after options are applied (no side effects)
	if db.host == "" {
		db.host = "localhost"
	}
	if db.port == 0 {
		db.port = 3306
	}
	if db.user == "" {
		db.user = "root"
	}
	if db.database == "" {
		db.database = "walkrbot"
	}
	if db.timeZone == "" {
		db.timeZone = "UTC"
	}
	if db.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		db.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	// Note: Database initialization moved to Start()
	return db, nil
}

// buildDSN returns the connection string and the database name it refers to
func (d *MetadataStoreMysql) buildDSN() (string, string) {
	dsn := strings.TrimSpace(d.dsn)
	if dsn != "" {
		if parsedDB, ok := parseMysqlDatabaseFromDSN(dsn); ok {
			return dsn, parsedDB
		}
		return dsn, d.database
	}
	cfg := mysql.Config{
		User:   d.user,
		Passwd: d.password,
		Net:    "tcp",
		Addr: fmt.Sprintf(
			"%s:%s",
			d.host,
			strconv.FormatUint(uint64(d.port), 10),
		),
		DBName:               d.database,
		ParseTime:            true,
		AllowNativePasswords: true,
		Params:               map[string]string{},
	}
	if d.timeZone != "" {
		loc, err := time.LoadLocation(d.timeZone)
		if err != nil {
			loc = time.UTC
		}
		cfg.Loc = loc
	}
	if d.sslMode != "" {
		cfg.Params["tls"] = d.sslMode
	}
	return cfg.FormatDSN(), d.database
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	}
}

// Start implements the plugin.Plugin interface
func (d *MetadataStoreMysql) Start() error {
	dsn, logDatabase := d.buildDSN()
	metadataDb, err := gorm.Open(gormmysql.Open(dsn), gormConfig())
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) &&
			mysqlErr.Number == mysqlErrUnknownDatabase {
			created, createErr := d.ensureDatabaseExists(dsn, logDatabase)
			if createErr == nil && created {
				metadataDb, err = gorm.Open(gormmysql.Open(dsn), gormConfig())
			}
		}
		if err != nil {
			return err
		}
	}
	d.logger.Info(
		"connected to mysql metadata store",
		"component", "database",
		"host", d.host,
		"port", d.port,
		"database", logDatabase,
	)
	d.db = metadataDb
	d.Store = gormstore.New(metadataDb)
	// Configure connection pool
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxIdleConns(4)
	sqlDB.SetMaxOpenConns(16)
	sqlDB.SetConnMaxLifetime(time.Hour)
	if d.promRegistry != nil {
		if err := d.promRegistry.Register(
			collectors.NewDBStatsCollector(sqlDB, "metadata_mysql"),
		); err != nil {
			return err
		}
	}
	// Configure tracing for GORM
	if err := d.db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return err
	}
	// Create table schemas
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

func (d *MetadataStoreMysql) ensureDatabaseExists(
	dsn string,
	dbName string,
) (bool, error) {
	if dbName == "" {
		return false, nil
	}
	adminDsn, ok := stripDatabaseFromDSN(dsn)
	if !ok {
		return false, nil
	}
	adminDb, err := gorm.Open(gormmysql.Open(adminDsn), gormConfig())
	if err != nil {
		return false, err
	}
	sqlAdminDb, err := adminDb.DB()
	if err != nil {
		return false, err
	}
	defer sqlAdminDb.Close()
	if result := adminDb.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", dbName)); result.Error != nil {
		return false, result.Error
	}
	d.logger.Info(
		"created mysql database",
		"component", "database",
		"database", dbName,
	)
	return true, nil
}

func parseMysqlDatabaseFromDSN(dsn string) (string, bool) {
	base, _, _ := strings.Cut(dsn, "?")
	slash := strings.LastIndex(base, "/")
	if slash < 0 || slash == len(base)-1 {
		return "", false
	}
	return base[slash+1:], true
}

func stripDatabaseFromDSN(dsn string) (string, bool) {
	base, params, hasParams := strings.Cut(dsn, "?")
	slash := strings.LastIndex(base, "/")
	if slash < 0 {
		return "", false
	}
	base = base[:slash+1]
	if !hasParams || params == "" {
		return base, true
	}
	return base + "?" + params, true
}

// Stop implements the plugin.Plugin interface
func (d *MetadataStoreMysql) Stop() error {
	return d.Close()
}

// Close gets the database handle from our MetadataStore and closes it
func (d *MetadataStoreMysql) Close() error {
	// Guard against nil DB handle (e.g., if Start() failed or was never called)
	if d.db == nil {
		return nil
	}
	db, err := d.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
