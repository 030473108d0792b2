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

package lab

import (
	"fmt"
	"strings"
	"time"

	"github.com/blinklabs-io/walkrbot/database"
	"github.com/blinklabs-io/walkrbot/database/models"
)

// Report lists the lab requests that are still open and the players the
// bot could make a request for
type Report struct {
	Now      time.Time
	Requests []models.LabRequestProgress
	Idle     []models.User
	Cooldown time.Duration
}

// BuildReport reads the latest progress of every request made within the
// cooldown window before now
func BuildReport(
	db *database.Database,
	now time.Time,
	cooldown time.Duration,
) (*Report, error) {
	txn := database.NewMetadataOnlyTxn(db, false)
	defer txn.Release()
	progresses, err := db.GetLatestLabRequestProgresses(now.Add(-cooldown), txn)
	if err != nil {
		return nil, fmt.Errorf("loading current lab requests: %w", err)
	}
	tokens, err := db.GetActiveTokens(txn)
	if err != nil {
		return nil, fmt.Errorf("loading active tokens: %w", err)
	}
	requested := make(map[int64]struct{}, len(progresses))
	for _, progress := range progresses {
		if progress.Request != nil && progress.Request.LabPlanet != nil {
			requested[progress.Request.LabPlanet.UserID] = struct{}{}
		}
	}
	ret := &Report{
		Now:      now,
		Requests: progresses,
		Cooldown: cooldown,
	}
	for _, token := range tokens {
		if token.User == nil {
			continue
		}
		if _, ok := requested[token.UserID]; ok {
			continue
		}
		ret.Idle = append(ret.Idle, *token.User)
	}
	return ret, nil
}

// Issuable reports whether some player with a token has no open request
func (r *Report) Issuable() bool {
	return len(r.Idle) > 0
}

// TimeLeft returns how long the request stays open
func (r *Report) TimeLeft(progress models.LabRequestProgress) time.Duration {
	if progress.Request == nil {
		return 0
	}
	left := progress.Request.ExpiresAt(r.Cooldown).Sub(r.Now)
	return max(left, 0)
}

func (r *Report) String() string {
	var sb strings.Builder
	if len(r.Requests) == 0 {
		sb.WriteString("No open lab requests")
	} else {
		sb.WriteString("Open lab requests:")
	}
	for _, progress := range r.Requests {
		var userName string
		var requirements int64
		if progress.Request != nil && progress.Request.LabPlanet != nil {
			planet := progress.Request.LabPlanet
			requirements = planet.PlanetRequirements
			if planet.User != nil {
				userName = planet.User.Name
			}
		}
		left := r.TimeLeft(progress)
		fmt.Fprintf(
			&sb,
			"\n - %s %d/%d left %dh%dm",
			userName,
			progress.TotalDonation,
			requirements,
			int64(left/time.Hour),
			int64(left%time.Hour/time.Minute),
		)
	}
	if r.Issuable() {
		sb.WriteString("\n\nThe bot can make a request for:")
		for _, user := range r.Idle {
			sb.WriteString("\n - ")
			sb.WriteString(user.Name)
		}
		sb.WriteString("\n(unless their planet is already fully funded)")
	}
	return sb.String()
}
