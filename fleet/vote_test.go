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

package fleet_test

import (
	"testing"

	"github.com/blinklabs-io/walkrbot/fleet"
	"github.com/blinklabs-io/walkrbot/walkr"
	"github.com/stretchr/testify/assert"
)

func TestResolveVotes(t *testing.T) {
	testDefs := []struct {
		name        string
		events      []fleet.VoteEvent
		memberCount int64
		expected    string
	}{
		{
			name:        "no events",
			memberCount: 10,
			expected:    "",
		},
		{
			name: "first option reaches half",
			events: []fleet.VoteEvent{
				{LabelA: "Bribe", LabelB: "Resist", TallyA: 5, TallyB: 3},
			},
			memberCount: 10,
			expected:    "Bribe",
		},
		{
			name: "tie below half has no winner",
			events: []fleet.VoteEvent{
				{LabelA: "Bribe", LabelB: "Resist", TallyA: 4, TallyB: 4},
			},
			memberCount: 10,
			expected:    "",
		},
		{
			name: "both at half picks the first option",
			events: []fleet.VoteEvent{
				{LabelA: "Bribe", LabelB: "Resist", TallyA: 2, TallyB: 2},
			},
			memberCount: 4,
			expected:    "Bribe",
		},
		{
			name: "second option wins",
			events: []fleet.VoteEvent{
				{LabelA: "Bribe", LabelB: "Resist", TallyA: 1, TallyB: 3},
			},
			memberCount: 5,
			expected:    "Resist",
		},
		{
			name: "two stages",
			events: []fleet.VoteEvent{
				{LabelA: "Assist him", LabelB: "Attack him", TallyA: 1, TallyB: 3},
				{LabelA: "Land Route", LabelB: "Water Route", TallyA: 2, TallyB: 2},
			},
			memberCount: 4,
			expected:    "Attack him|Land Route",
		},
		{
			name: "unresolved stage is skipped",
			events: []fleet.VoteEvent{
				{LabelA: "North Forest", LabelB: "South Forest", TallyA: 0, TallyB: 1},
				{LabelA: "Left Gate", LabelB: "Right Gate", TallyA: 3, TallyB: 0},
			},
			memberCount: 5,
			expected:    "Left Gate",
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			assert.Equal(
				t,
				testDef.expected,
				fleet.ResolveVotes(testDef.events, testDef.memberCount),
			)
		})
	}
}

func TestVotingEvents(t *testing.T) {
	label := func(s string) *string { return &s }
	histories := []walkr.EventHistory{
		{EventType: "preparation", ValueA: 100},
		{EventType: "voting", LabelA: label("Bribe"), LabelB: label("Resist"), ValueA: 3, ValueB: 1},
		{EventType: "battle"},
		{EventType: "voting", LabelA: label("Left"), ValueA: 0, ValueB: 2},
	}
	events := fleet.VotingEvents(histories)
	assert.Equal(
		t,
		[]fleet.VoteEvent{
			{Type: "voting", LabelA: "Bribe", LabelB: "Resist", TallyA: 3, TallyB: 1},
			{Type: "voting", LabelA: "Left", LabelB: "", TallyA: 0, TallyB: 2},
		},
		events,
	)
	assert.Nil(t, fleet.VotingEvents(nil))
}
