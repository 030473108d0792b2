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
package gormstore

import (
	"errors"

	"github.com/blinklabs-io/walkrbot/database/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SetUser creates the user if needed and always refreshes the display name
func (s *Store) SetUser(
	id int64,
	name string,
	txn *gorm.DB,
) (*models.User, error) {
	db := s.handle(txn)
	user := &models.User{
		ID:   id,
		Name: name,
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
	}).Create(user)
	if result.Error != nil {
		return nil, result.Error
	}
	return s.GetUser(id, db)
}

// GetUser returns the user with the given upstream player id
func (s *Store) GetUser(id int64, txn *gorm.DB) (*models.User, error) {
	db := s.handle(txn)
	ret := &models.User{}
	result := db.First(ret, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrUserNotFound
		}
		return nil, result.Error
	}
	return ret, nil
}
