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

func (d *Database) GetOrCreateLabPlanet(
	userID int64,
	planetName string,
	requirements int64,
	txn *Txn,
) (*models.LabPlanet, error) {
	return d.metadata.GetOrCreateLabPlanet(
		userID,
		planetName,
		requirements,
		txn.Metadata(),
	)
}

func (d *Database) GetOrCreateLabRequest(
	labPlanetID uint,
	requestedAt time.Time,
	txn *Txn,
) (*models.LabRequest, error) {
	return d.metadata.GetOrCreateLabRequest(
		labPlanetID,
		requestedAt,
		txn.Metadata(),
	)
}

func (d *Database) GetOrCreateLabRequestProgress(
	labRequestID uint,
	totalDonation int64,
	currentDonation int64,
	donatedCounter string,
	txn *Txn,
) (*models.LabRequestProgress, error) {
	return d.metadata.GetOrCreateLabRequestProgress(
		labRequestID,
		totalDonation,
		currentDonation,
		donatedCounter,
		txn.Metadata(),
	)
}

// GetLabRequestProgresses returns the recorded history of one request, oldest
// first
func (d *Database) GetLabRequestProgresses(
	labRequestID uint,
	txn *Txn,
) ([]models.LabRequestProgress, error) {
	return d.metadata.GetLabRequestProgresses(labRequestID, txn.Metadata())
}

// GetLabRequestProgressesByID loads the given progress rows with their
// request, planet and user, in the order of ids
func (d *Database) GetLabRequestProgressesByID(
	ids []uint,
	txn *Txn,
) ([]models.LabRequestProgress, error) {
	return d.metadata.GetLabRequestProgressesByID(ids, txn.Metadata())
}

// GetLatestLabRequestProgresses returns the newest progress row of every
// request made at or after since, newest request first
func (d *Database) GetLatestLabRequestProgresses(
	since time.Time,
	txn *Txn,
) ([]models.LabRequestProgress, error) {
	return d.metadata.GetLatestLabRequestProgresses(since, txn.Metadata())
}
