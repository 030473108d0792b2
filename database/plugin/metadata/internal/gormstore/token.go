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
	"time"

	"github.com/blinklabs-io/walkrbot/database/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SetToken registers or refreshes the token of a user. The token is
// (re)activated, which is the only path from inactive back to active.
func (s *Store) SetToken(
	userID int64,
	value string,
	expiresAt time.Time,
	txn *gorm.DB,
) (*models.Token, error) {
	db := s.handle(txn)
	token := &models.Token{
		UserID:    userID,
		Value:     value,
		Active:    true,
		ExpiresAt: expiresAt.UTC(),
	}
	result := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(
			[]string{"value", "active", "expires_at", "updated_at"},
		),
	}).Create(token)
	if result.Error != nil {
		return nil, result.Error
	}
	return s.GetTokenByUser(userID, db)
}

// GetTokenByUser returns the token of a user regardless of its active flag
func (s *Store) GetTokenByUser(
	userID int64,
	txn *gorm.DB,
) (*models.Token, error) {
	db := s.handle(txn)
	ret := &models.Token{}
	result := db.Preload("User").First(ret, "user_id = ?", userID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrTokenNotFound
		}
		return nil, result.Error
	}
	return ret, nil
}

// GetActiveTokens returns all active tokens ordered by id
func (s *Store) GetActiveTokens(txn *gorm.DB) ([]models.Token, error) {
	db := s.handle(txn)
	var ret []models.Token
	result := db.Preload("User").
		Where("active = ?", true).
		Order("id").
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// DeactivateToken marks a token inactive. Deactivating an already inactive or
// unknown token is not an error.
func (s *Store) DeactivateToken(id uint, txn *gorm.DB) error {
	db := s.handle(txn)
	result := db.Model(&models.Token{}).
		Where("id = ? AND active = ?", id, true).
		Update("active", false)
	return result.Error
}
