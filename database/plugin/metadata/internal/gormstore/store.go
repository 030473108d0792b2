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
// Package gormstore holds the query code shared by the relational metadata
// store plugins. Every method takes an optional transaction handle and falls
// back to the store's own handle when it is nil.
package gormstore

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxUpsertAttempts bounds the insert-then-select loop used for
// get-or-create by natural key
const maxUpsertAttempts = 3

var ErrUpsertConflict = errors.New("natural key upsert did not converge")

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying GORM database handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction begins a new database transaction.
func (s *Store) Transaction() *gorm.DB {
	return s.db.Begin()
}

// AutoMigrate creates or updates database schema for the given models.
func (s *Store) AutoMigrate(dst ...any) error {
	return s.db.AutoMigrate(dst...)
}

func (s *Store) handle(txn *gorm.DB) *gorm.DB {
	if txn != nil {
		return txn
	}
	return s.db
}

// firstOrInsert resolves row to the single record matching key. It inserts
// with ON CONFLICT DO NOTHING against the unique index covering key and then
// reads back the winning row, so two writers racing on the same key never
// produce a duplicate. The read is retried if it loses a race with a
// concurrent delete or an uncommitted insert.
func firstOrInsert[T any](
	db *gorm.DB,
	row *T,
	key map[string]any,
	conflictColumns ...string,
) error {
	cols := make([]clause.Column, 0, len(conflictColumns))
	for _, name := range conflictColumns {
		cols = append(cols, clause.Column{Name: name})
	}
	var lastErr error
	for range maxUpsertAttempts {
		result := db.Clauses(clause.OnConflict{
			Columns:   cols,
			DoNothing: true,
		}).Create(row)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			return nil
		}
		var existing T
		err := db.Where(key).First(&existing).Error
		if err == nil {
			*row = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %w", ErrUpsertConflict, lastErr)
}
