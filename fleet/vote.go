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

// Package fleet turns the state of an epic fleet into targets and shares.
// Everything here is pure and rebuilt from each poll.
package fleet

import (
	"strings"

	"github.com/blinklabs-io/walkrbot/walkr"
)

// VoteSeparator joins the winners of consecutive votes into an outcome key
const VoteSeparator = "|"

// VoteEvent is a solved voting stage of an epic
type VoteEvent struct {
	Type   string
	LabelA string
	LabelB string
	TallyA int64
	TallyB int64
}

// Winner returns the label of the option that reached a majority of
// memberCount. Option A is checked first. ok is false when neither did.
func (e VoteEvent) Winner(memberCount int64) (string, bool) {
	if 2*e.TallyA >= memberCount {
		return e.LabelA, true
	}
	if 2*e.TallyB >= memberCount {
		return e.LabelB, true
	}
	return "", false
}

// ResolveVotes joins the winners of the events, in event order, into a single
// outcome key such as "Attack him|Land Route". Events without a winner are
// left out and no events at all give "".
func ResolveVotes(events []VoteEvent, memberCount int64) string {
	winners := make([]string, 0, len(events))
	for _, event := range events {
		if winner, ok := event.Winner(memberCount); ok {
			winners = append(winners, winner)
		}
	}
	return strings.Join(winners, VoteSeparator)
}

// VotingEvents picks the voting stages out of a fleet history
func VotingEvents(histories []walkr.EventHistory) []VoteEvent {
	var ret []VoteEvent
	for _, h := range histories {
		if h.EventType != "voting" {
			continue
		}
		ret = append(ret, VoteEvent{
			Type:   h.EventType,
			LabelA: deref(h.LabelA),
			LabelB: deref(h.LabelB),
			TallyA: h.ValueA,
			TallyB: h.ValueB,
		})
	}
	return ret
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
