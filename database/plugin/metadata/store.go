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
package metadata

import (
	"fmt"
	"time"

	"github.com/blinklabs-io/walkrbot/database/models"
	"github.com/blinklabs-io/walkrbot/database/plugin"
	"gorm.io/gorm"
)

type MetadataStore interface {
	// Database
	AutoMigrate(...any) error
	Close() error
	DB() *gorm.DB
	Transaction() *gorm.DB

	// Users and tokens
	SetUser(
		int64, // player id
		string, // name
		*gorm.DB,
	) (*models.User, error)
	GetUser(int64, *gorm.DB) (*models.User, error)
	SetToken(
		int64, // player id
		string, // value
		time.Time, // expires at
		*gorm.DB,
	) (*models.Token, error)
	GetTokenByUser(int64, *gorm.DB) (*models.Token, error)
	GetActiveTokens(*gorm.DB) ([]models.Token, error)
	DeactivateToken(uint, *gorm.DB) error

	// Lab donations
	GetOrCreateLabPlanet(
		int64, // player id
		string, // planet name
		int64, // requirements
		*gorm.DB,
	) (*models.LabPlanet, error)
	GetOrCreateLabRequest(
		uint, // lab planet id
		time.Time, // requested at
		*gorm.DB,
	) (*models.LabRequest, error)
	GetOrCreateLabRequestProgress(
		uint, // lab request id
		int64, // total donation
		int64, // current donation
		string, // donated counter
		*gorm.DB,
	) (*models.LabRequestProgress, error)
	GetLabRequestProgresses(uint, *gorm.DB) ([]models.LabRequestProgress, error)
	GetLabRequestProgressesByID([]uint, *gorm.DB) ([]models.LabRequestProgress, error)
	GetLatestLabRequestProgresses(time.Time, *gorm.DB) ([]models.LabRequestProgress, error)
}

// New returns the started metadata plugin selected by name
func New(pluginName string) (MetadataStore, error) {
	p, err := plugin.StartPlugin(plugin.PluginTypeMetadata, pluginName)
	if err != nil {
		return nil, err
	}
	metadataStore, ok := p.(MetadataStore)
	if !ok {
		return nil, fmt.Errorf(
			"plugin '%s' does not implement MetadataStore interface",
			pluginName,
		)
	}
	return metadataStore, nil
}
