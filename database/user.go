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
	"time"

	"github.com/blinklabs-io/walkrbot/database/models"
)

// SetUser creates the user or refreshes its display name
func (d *Database) SetUser(
	id int64,
	name string,
	txn *Txn,
) (*models.User, error) {
	return d.metadata.SetUser(id, name, txn.Metadata())
}

func (d *Database) GetUser(id int64, txn *Txn) (*models.User, error) {
	return d.metadata.GetUser(id, txn.Metadata())
}

// RegisterToken stores the user and its token in one transaction. The token
// becomes active even if it had been deactivated before.
func (d *Database) RegisterToken(
	userID int64,
	userName string,
	value string,
	expiresAt time.Time,
) (*models.Token, error) {
	var ret *models.Token
	txn := NewMetadataOnlyTxn(d, true)
	err := txn.Do(func(txn *Txn) error {
		if _, err := d.SetUser(userID, userName, txn); err != nil {
			return err
		}
		token, err := d.metadata.SetToken(
			userID,
			value,
			expiresAt,
			txn.Metadata(),
		)
		if err != nil {
			return err
		}
		ret = token
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (d *Database) GetTokenByUser(
	userID int64,
	txn *Txn,
) (*models.Token, error) {
	return d.metadata.GetTokenByUser(userID, txn.Metadata())
}

// GetActiveTokens returns all active tokens with their users loaded
func (d *Database) GetActiveTokens(txn *Txn) ([]models.Token, error) {
	return d.metadata.GetActiveTokens(txn.Metadata())
}

// DeactivateToken marks the token inactive. Only RegisterToken reactivates it.
func (d *Database) DeactivateToken(id uint, txn *Txn) error {
	return d.metadata.DeactivateToken(id, txn.Metadata())
}
