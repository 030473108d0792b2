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
	"cmp"
	"slices"
	"time"

	"github.com/blinklabs-io/walkrbot/database/models"
	"gorm.io/gorm"
)

// GetOrCreateLabPlanet resolves a lab planet by its natural key
func (s *Store) GetOrCreateLabPlanet(
	userID int64,
	planetName string,
	requirements int64,
	txn *gorm.DB,
) (*models.LabPlanet, error) {
	db := s.handle(txn)
	ret := &models.LabPlanet{
		UserID:             userID,
		PlanetName:         planetName,
		PlanetRequirements: requirements,
	}
	err := firstOrInsert(
		db,
		ret,
		map[string]any{
			"user_id":             userID,
			"planet_name":         planetName,
			"planet_requirements": requirements,
		},
		"user_id", "planet_name", "planet_requirements",
	)
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// GetOrCreateLabRequest resolves a lab request by planet and request time.
// The time is stored in UTC at second precision, which is what upstream
// reports.
func (s *Store) GetOrCreateLabRequest(
	labPlanetID uint,
	requestedAt time.Time,
	txn *gorm.DB,
) (*models.LabRequest, error) {
	db := s.handle(txn)
	requestedAt = NormalizeTime(requestedAt)
	ret := &models.LabRequest{
		LabPlanetID: labPlanetID,
		RequestedAt: requestedAt,
	}
	err := firstOrInsert(
		db,
		ret,
		map[string]any{
			"lab_planet_id": labPlanetID,
			"requested_at":  requestedAt,
		},
		"lab_planet_id", "requested_at",
	)
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// GetOrCreateLabRequestProgress appends a progress snapshot unless an
// identical one already exists for the request
func (s *Store) GetOrCreateLabRequestProgress(
	labRequestID uint,
	totalDonation int64,
	currentDonation int64,
	donatedCounter string,
	txn *gorm.DB,
) (*models.LabRequestProgress, error) {
	db := s.handle(txn)
	donorsHash := models.DonorsHashFor(donatedCounter)
	ret := &models.LabRequestProgress{
		LabRequestID:    labRequestID,
		TotalDonation:   totalDonation,
		CurrentDonation: currentDonation,
		DonatedCounter:  donatedCounter,
		DonorsHash:      donorsHash,
	}
	err := firstOrInsert(
		db,
		ret,
		map[string]any{
			"lab_request_id":   labRequestID,
			"total_donation":   totalDonation,
			"current_donation": currentDonation,
			"donors_hash":      donorsHash,
		},
		"lab_request_id", "total_donation", "current_donation", "donors_hash",
	)
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// GetLabRequestProgresses returns the snapshot history of a request, oldest first
func (s *Store) GetLabRequestProgresses(
	labRequestID uint,
	txn *gorm.DB,
) ([]models.LabRequestProgress, error) {
	db := s.handle(txn)
	var ret []models.LabRequestProgress
	result := db.Where("lab_request_id = ?", labRequestID).
		Order("created_at, id").
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// GetLabRequestProgressesByID loads the given snapshots with their request,
// planet and user, in the order of ids
func (s *Store) GetLabRequestProgressesByID(
	ids []uint,
	txn *gorm.DB,
) ([]models.LabRequestProgress, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	db := s.handle(txn)
	var rows []models.LabRequestProgress
	result := db.Preload("Request.LabPlanet.User").
		Where("id IN ?", ids).
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	byID := make(map[uint]models.LabRequestProgress, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	ret := make([]models.LabRequestProgress, 0, len(ids))
	for _, id := range ids {
		if row, ok := byID[id]; ok {
			ret = append(ret, row)
		}
	}
	return ret, nil
}

// GetLatestLabRequestProgresses returns the newest snapshot of every request
// made at or after since, newest request first
func (s *Store) GetLatestLabRequestProgresses(
	since time.Time,
	txn *gorm.DB,
) ([]models.LabRequestProgress, error) {
	db := s.handle(txn)
	latest := db.Model(&models.LabRequestProgress{}).
		Select("MAX(lab_request_progress.id)").
		Joins("JOIN lab_request ON lab_request.id = lab_request_progress.lab_request_id").
		Where("lab_request.requested_at >= ?", NormalizeTime(since)).
		Group("lab_request_progress.lab_request_id")
	var rows []models.LabRequestProgress
	result := db.Preload("Request.LabPlanet.User").
		Where("id IN (?)", latest).
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	sortByRequestedAtDesc(rows)
	return rows, nil
}

// NormalizeTime converts a timestamp to the form used in natural keys
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func sortByRequestedAtDesc(rows []models.LabRequestProgress) {
	slices.SortStableFunc(rows, func(a, b models.LabRequestProgress) int {
		var ta, tb time.Time
		if a.Request != nil {
			ta = a.Request.RequestedAt
		}
		if b.Request != nil {
			tb = b.Request.RequestedAt
		}
		if c := tb.Compare(ta); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
}

