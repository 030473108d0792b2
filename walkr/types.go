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
package walkr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Timestamp is a unix timestamp in seconds. The API uses 0 for "never",
// which decodes to the epoch.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("decode timestamp %s: %w", data, err)
	}
	whole, frac := math.Modf(secs)
	t.Time = time.Unix(int64(whole), int64(frac*1e9)).UTC()
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Unix())
}

type Epic struct {
	Name string `json:"name"`
	ID   int64  `json:"id"`
}

// Player is a user record as embedded in fleet, lab and comment answers
type Player struct {
	ID           *int64  `json:"id"`
	Title        *string `json:"title"`
	Name         string  `json:"name"`
	Role         string  `json:"role"`
	Rsvp         string  `json:"rsvp"`
	Level        int64   `json:"level"`
	Contribution int64   `json:"contribution"`
	Score        int64   `json:"score"`
}

// Waiting reports whether the member has not confirmed the epic yet
func (p Player) Waiting() bool {
	return p.Rsvp == "waiting"
}

type Fleet struct {
	CreatedAt          Timestamp `json:"created_at"`
	StartedAt          Timestamp `json:"started_at"`
	LastConsumedAt     Timestamp `json:"last_consumed_at"`
	Name               string    `json:"name"`
	CountryCode        string    `json:"country_code"`
	EventStatus        string    `json:"event_status"`
	Epic               Epic      `json:"epic"`
	ID                 int64     `json:"id"`
	MembersCount       int64     `json:"members_count"`
	PlayersCount       int64     `json:"players_count"`
	MembersMax         int64     `json:"members_max"`
	ContributionAmount int64     `json:"contribution_amount"`
	Energy             int64     `json:"energy"`
	ConsumedEnergy     int64     `json:"consumed_energy"`
	ValueA             int64     `json:"value_a"`
	ValueB             int64     `json:"value_b"`
	ValueC             int64     `json:"value_c"`
}

// Event is the epic stage the fleet is currently working on
type Event struct {
	ResourceB *int64  `json:"resource_b"`
	ResourceC *int64  `json:"resource_c"`
	LabelA    *string `json:"label_a"`
	LabelB    *string `json:"label_b"`
	LabelC    *string `json:"label_c"`
	EventType string  `json:"event_type"`
	Name      string  `json:"name"`
	ID        int64   `json:"id"`
	EpicID    int64   `json:"epic_id"`
	ResourceA int64   `json:"resource_a"`
}

// EventHistory is a solved epic stage. Voting stages carry the tallies of
// both options in ValueA and ValueB.
type EventHistory struct {
	SolvedAt  Timestamp `json:"solved_at"`
	LabelA    *string   `json:"label_a"`
	LabelB    *string   `json:"label_b"`
	LabelC    *string   `json:"label_c"`
	EventType string    `json:"event_type"`
	Name      string    `json:"name"`
	ID        int64     `json:"id"`
	ValueA    int64     `json:"value_a"`
	ValueB    int64     `json:"value_b"`
	ValueC    int64     `json:"value_c"`
}

type Path struct {
	ID             int64 `json:"id"`
	TargetID       int64 `json:"target_id"`
	Time           int64 `json:"time"`
	RequiredEnergy int64 `json:"required_energy"`
}

// FleetState is the answer of GET /api/v2/fleets/current
type FleetState struct {
	Now            Timestamp      `json:"now"`
	Fleet          *Fleet         `json:"fleet"`
	Event          *Event         `json:"event"`
	Path           *Path          `json:"path"`
	EventStatus    string         `json:"event_status"`
	Members        []Player       `json:"members"`
	FleetHistories []EventHistory `json:"fleet_histories"`
	Success        bool           `json:"success"`
}

// CommentContent is the structured part of a lab comment. Donation comments
// and the research of a player share this shape.
type CommentContent struct {
	LastRequestedAt  Timestamp `json:"last_requested_at"`
	Type             string    `json:"type"`
	DonationType     string    `json:"donation_type"`
	ColonyType       string    `json:"colony_type"`
	Identifier       string    `json:"identifier"`
	DonatedCounter   string    `json:"donated_counter"`
	Text             string    `json:"text"`
	DonationValue    int64     `json:"donation_value"`
	MaxDonationCount int64     `json:"max_donation_count"`
	Requirements     int64     `json:"requirements"`
	TotalDonation    int64     `json:"total_donation"`
	CurrentDonation  int64     `json:"current_donation"`
	Level            int64     `json:"level"`
}

type Comment struct {
	CreatedAt  Timestamp      `json:"created_at"`
	RawComment string         `json:"raw_comment"`
	Comment    CommentContent `json:"comment"`
	User       Player         `json:"user"`
	ID         int64          `json:"id"`
	Blocked    bool           `json:"blocked"`
}

type commentsAnswer struct {
	Now      Timestamp `json:"now"`
	Comments []Comment `json:"comments"`
	Success  bool      `json:"success"`
}

// Donation is one observed donation request from the lab comment feed
type Donation struct {
	CreatedAt       time.Time
	LastRequestedAt time.Time
	UserName        string
	PlanetName      string
	DonatedCounter  string
	UserID          int64
	Requirements    int64
	TotalDonation   int64
	CurrentDonation int64
}

// Research is a player's own current lab request
type Research struct {
	LastRequestedAt time.Time
	PlanetName      string
	DonatedCounter  string
	Requirements    int64
	TotalDonation   int64
	CurrentDonation int64
}

// Funded reports whether the planet has received everything it requires
func (r *Research) Funded() bool {
	return r.TotalDonation == r.Requirements
}

type labAnswer struct {
	Now      Timestamp      `json:"now"`
	Research CommentContent `json:"research"`
	Success  bool           `json:"success"`
}

// Authorization is the player identity returned when a token is extended
type Authorization struct {
	TokenExpiredAt Timestamp `json:"token_expired_at"`
	Name           string    `json:"name"`
	PlayerID       int64     `json:"player_id"`
}

type extendTokenAnswer struct {
	Authorization *Authorization `json:"authorization"`
	Success       bool           `json:"success"`
}
