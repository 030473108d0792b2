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

package fleet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blinklabs-io/walkrbot/walkr"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	CommentUnknownEpic = "no information about this epic yet"
	commentUnresolved  = "votes are not all resolved yet, using the target for %s"
)

// ResourceProgress is the progress of one resource of the current stage
type ResourceProgress struct {
	Label   string
	Current int64
	Max     int64
}

// StageProgress describes the stage the fleet is working on
type StageProgress struct {
	Type           string
	Resources      []ResourceProgress
	Energy         int64
	RequiredEnergy int64
}

// Report is the fleet progress toward the final target of its epic
type Report struct {
	Stage        *StageProgress
	FleetName    string
	EpicName     string
	Votes        string
	Shares       []Share
	Comments     []string
	Progress     Percent
	EpicID       int64
	Target       int64
	Contribution int64
}

// BuildReport resolves the epic target of a fleet and allocates it between
// the members. An unknown epic gives a zero target and a comment saying so.
// Unresolved votes fall back to the cheapest variant, also with a comment.
func BuildReport(state *walkr.FleetState, catalog Catalog) (*Report, error) {
	if state == nil || state.Fleet == nil {
		return nil, walkr.ErrNotInEpic
	}
	f := state.Fleet
	r := &Report{
		FleetName:    f.Name,
		EpicName:     f.Epic.Name,
		EpicID:       f.Epic.ID,
		Contribution: f.ContributionAmount,
		Votes:        ResolveVotes(VotingEvents(state.FleetHistories), f.PlayersCount),
	}

	var epic *Epic
	var err error
	if catalog != nil {
		epic, err = catalog.Epic(f.Epic.ID)
	} else {
		err = ErrEpicNotFound
	}
	switch {
	case errors.Is(err, ErrEpicNotFound):
		r.Comments = append(r.Comments, CommentUnknownEpic)
	case err != nil:
		return nil, fmt.Errorf("looking up epic %d: %w", f.Epic.ID, err)
	default:
		target, variant, exact := epic.Resolve(r.Votes)
		r.Target = target
		if !exact {
			r.Comments = append(r.Comments, fmt.Sprintf(commentUnresolved, variant))
		}
	}
	r.Progress = NewPercent(r.Contribution, r.Target)

	if state.Event != nil {
		r.Stage = buildStage(state)
	}

	members := make([]Member, 0, len(state.Members))
	for _, m := range state.Members {
		members = append(members, Member{
			Name:         m.Name,
			Contribution: m.Contribution,
			Waiting:      m.Waiting(),
		})
	}
	r.Shares = Allocate(r.Target, members, int64(len(members)))
	return r, nil
}

func buildStage(state *walkr.FleetState) *StageProgress {
	f := state.Fleet
	ev := state.Event
	stage := &StageProgress{Type: ev.EventType}
	resourceA := ev.ResourceA
	maxima := []*int64{&resourceA, ev.ResourceB, ev.ResourceC}
	current := []int64{f.ValueA, f.ValueB, f.ValueC}
	labels := []*string{ev.LabelA, ev.LabelB, ev.LabelC}
	for i, maxValue := range maxima {
		if maxValue == nil || *maxValue == 0 {
			continue
		}
		stage.Resources = append(stage.Resources, ResourceProgress{
			Label:   deref(labels[i]),
			Current: current[i],
			Max:     *maxValue,
		})
	}
	// Energy left over from the last path does not count during an event
	if state.EventStatus == "path" {
		stage.Energy = f.Energy + f.ConsumedEnergy
	}
	if state.Path != nil {
		stage.RequiredEnergy = state.Path.RequiredEnergy
	}
	return stage
}

// String renders the report as plain text, one line per member
func (r *Report) String() string {
	p := message.NewPrinter(language.English)
	var sb strings.Builder

	sb.WriteString(r.FleetName + " (" + r.EpicName)
	if r.Votes != "" {
		sb.WriteString(" - " + r.Votes)
	}
	sb.WriteString(")")
	if r.Progress.Valid {
		sb.WriteString(" [" + r.Progress.Short("") + "]")
	}
	sb.WriteString("\n")

	if r.Stage != nil {
		parts := make([]string, 0, len(r.Stage.Resources))
		for _, res := range r.Stage.Resources {
			parts = append(parts, fmt.Sprintf("%d/%d", res.Current, res.Max))
		}
		fmt.Fprintf(
			&sb,
			"%s (%s) -> %d/%d⚡\n\n",
			r.Stage.Type,
			strings.Join(parts, ", "),
			r.Stage.Energy,
			r.Stage.RequiredEnergy,
		)
	}

	lines := make([]string, 0, len(r.Shares))
	for _, share := range r.Shares {
		var line strings.Builder
		line.WriteString(share.ShareOfTotal.Fixed("0%"))
		if share.ShareOfTarget.Valid {
			line.WriteString(" [" + share.ShareOfTarget.Short("") + "]")
		}
		line.WriteString(" ")
		if share.Member.Waiting {
			line.WriteString("🕐")
		}
		line.WriteString("`" + share.Member.Name + "`")
		if !share.NoObligation() {
			line.WriteString(p.Sprintf(
				" more %d💰 or %d🍅/🌎 or %d⚡",
				share.Shortfall,
				share.ShortfallResources(),
				share.ShortfallEnergy(),
			))
		}
		lines = append(lines, line.String())
	}
	sb.WriteString(strings.Join(lines, "\n"))

	if len(r.Comments) > 0 {
		sb.WriteString("\n\n")
		sb.WriteString(strings.Join(r.Comments, "\n"))
	}
	return sb.String()
}
