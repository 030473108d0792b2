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
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var ErrLabRequestNotFound = errors.New("lab request not found")

// LabPlanet is a planet upgrade goal of one user. Its natural key is
// (user, planet name, requirements); rows are never mutated.
type LabPlanet struct {
	CreatedAt          time.Time
	User               *User
	PlanetName         string `gorm:"size:255;not null;uniqueIndex:idx_lab_planet_key"`
	ID                 uint   `gorm:"primarykey"`
	UserID             int64  `gorm:"not null;uniqueIndex:idx_lab_planet_key"`
	PlanetRequirements int64  `gorm:"not null;uniqueIndex:idx_lab_planet_key"`
}

func (LabPlanet) TableName() string {
	return "lab_planet"
}

// LabRequest is one donation request observed for a lab planet, identified by
// the time it was requested
type LabRequest struct {
	RequestedAt time.Time `gorm:"not null;uniqueIndex:idx_lab_request_key"`
	CreatedAt   time.Time
	LabPlanet   *LabPlanet
	ID          uint `gorm:"primarykey"`
	LabPlanetID uint `gorm:"not null;uniqueIndex:idx_lab_request_key"`
}

func (LabRequest) TableName() string {
	return "lab_request"
}

// ExpiresAt returns the time at which a new request may be issued after this one
func (r *LabRequest) ExpiresAt(cooldown time.Duration) time.Time {
	return r.RequestedAt.Add(cooldown)
}

// LabRequestProgress is an append-only snapshot of the donations made toward
// a lab request. A new row is written only when one of total, current or the
// donor breakdown changes.
type LabRequestProgress struct {
	CreatedAt       time.Time `gorm:"index"`
	Request         *LabRequest `gorm:"foreignKey:LabRequestID"`
	DonatedCounter  string      `gorm:"type:text;not null"`
	DonorsHash      string      `gorm:"size:64;not null;uniqueIndex:idx_lab_request_progress_key"`
	ID              uint        `gorm:"primarykey"`
	LabRequestID    uint        `gorm:"not null;uniqueIndex:idx_lab_request_progress_key"`
	TotalDonation   int64       `gorm:"not null;uniqueIndex:idx_lab_request_progress_key"`
	CurrentDonation int64       `gorm:"not null;uniqueIndex:idx_lab_request_progress_key"`
}

func (LabRequestProgress) TableName() string {
	return "lab_request_progress"
}

// DonorsHashFor returns the hex SHA-256 of a donor breakdown string
func DonorsHashFor(donatedCounter string) string {
	sum := sha256.Sum256([]byte(donatedCounter))
	return hex.EncodeToString(sum[:])
}

// Donor is one entry of a donor breakdown
type Donor struct {
	Amounts []int64
	UserID  int64
}

// Total returns the sum of all donations made by the donor
func (d Donor) Total() int64 {
	var ret int64
	for _, amount := range d.Amounts {
		ret += amount
	}
	return ret
}

// Donors parses the donor breakdown, which looks like
// "271306|500+500,1599163|500". Malformed entries are skipped.
func (p *LabRequestProgress) Donors() []Donor {
	if p.DonatedCounter == "" {
		return nil
	}
	var ret []Donor
	for entry := range strings.SplitSeq(p.DonatedCounter, ",") {
		userPart, amountPart, ok := strings.Cut(entry, "|")
		if !ok {
			continue
		}
		userID, err := strconv.ParseInt(strings.TrimSpace(userPart), 10, 64)
		if err != nil {
			continue
		}
		donor := Donor{UserID: userID}
		for amountStr := range strings.SplitSeq(amountPart, "+") {
			amount, err := strconv.ParseInt(strings.TrimSpace(amountStr), 10, 64)
			if err != nil {
				continue
			}
			donor.Amounts = append(donor.Amounts, amount)
		}
		ret = append(ret, donor)
	}
	return ret
}
