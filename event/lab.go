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

package event

import "time"

const (
	// PassCompletedEventType is published after every reconciliation and
	// scheduling pass, successful or not
	PassCompletedEventType = EventType("lab.pass.completed")
	// DonationRequestedEventType is published when a donation request was
	// submitted for a token
	DonationRequestedEventType = EventType("lab.donation.requested")
	// TokenDeactivatedEventType is published when the API rejected a token
	TokenDeactivatedEventType = EventType("lab.token.deactivated")
	// ProgressRecordedEventType is published for every progress snapshot
	// seen in the lab comment feed
	ProgressRecordedEventType = EventType("lab.progress.recorded")
)

// EventTypes lists every event type the bot publishes
var EventTypes = []EventType{
	PassCompletedEventType,
	DonationRequestedEventType,
	TokenDeactivatedEventType,
	ProgressRecordedEventType,
}

type PassCompletedEvent struct {
	StartedAt   time.Time     `json:"started_at"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	Progresses  int           `json:"progresses"`
	Requested   int           `json:"requested"`
	Funded      int           `json:"funded"`
	Cooldown    int           `json:"cooldown"`
	Deactivated int           `json:"deactivated"`
	Failed      int           `json:"failed"`
}

type DonationRequestedEvent struct {
	RequestedAt time.Time `json:"requested_at"`
	UserName    string    `json:"user_name"`
	PlanetName  string    `json:"planet_name"`
	UserID      int64     `json:"user_id"`
}

type TokenDeactivatedEvent struct {
	UserName string `json:"user_name"`
	Reason   string `json:"reason"`
	UserID   int64  `json:"user_id"`
	TokenID  uint   `json:"token_id"`
}

type ProgressRecordedEvent struct {
	RequestedAt     time.Time `json:"requested_at"`
	UserName        string    `json:"user_name"`
	PlanetName      string    `json:"planet_name"`
	UserID          int64     `json:"user_id"`
	Requirements    int64     `json:"requirements"`
	TotalDonation   int64     `json:"total_donation"`
	CurrentDonation int64     `json:"current_donation"`
	ProgressID      uint      `json:"progress_id"`
	LabRequestID    uint      `json:"lab_request_id"`
}
