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
	"math"
	"strconv"
)

const (
	// CoinsPerResource is how many coins one planet resource is worth
	CoinsPerResource = 20
	// CoinsPerEnergy is how many coins one unit of energy is worth
	CoinsPerEnergy = 40
)

// Member is one fleet member as seen by the allocator
type Member struct {
	Name         string
	Contribution int64
	Waiting      bool
}

// Percent is a ratio expressed in percent. It is invalid when the divisor
// was zero.
type Percent struct {
	Value float64
	Valid bool
}

// NewPercent returns n/d in percent
func NewPercent(n, d int64) Percent {
	if d == 0 {
		return Percent{}
	}
	return Percent{
		Value: float64(n) / float64(d) * 100,
		Valid: true,
	}
}

// Fixed formats the value with two decimals, or def when invalid
func (p Percent) Fixed(def string) string {
	if !p.Valid {
		return def
	}
	return strconv.FormatFloat(p.Value, 'f', 2, 64) + "%"
}

// Short formats the value rounded to two decimals without trailing zeros,
// keeping one decimal for whole numbers. It returns def when invalid.
func (p Percent) Short(def string) string {
	if !p.Valid {
		return def
	}
	rounded := math.Round(p.Value*100) / 100
	if rounded == math.Trunc(rounded) {
		return strconv.FormatFloat(rounded, 'f', 1, 64) + "%"
	}
	return strconv.FormatFloat(rounded, 'f', -1, 64) + "%"
}

// Share is the outcome of the allocation for one member
type Share struct {
	Member        Member
	ShareOfTotal  Percent
	ShareOfTarget Percent
	// Ideal is the contribution the member was measured against. It is 0
	// when nobody was left to share the target.
	Ideal     int64
	Shortfall int64
	Settled   bool
}

// NoObligation reports whether the member has nothing left to contribute
func (s Share) NoObligation() bool {
	return s.Shortfall == 0
}

// ShortfallResources is the shortfall expressed in planet resources
func (s Share) ShortfallResources() int64 {
	return s.Shortfall / CoinsPerResource
}

// ShortfallEnergy is the shortfall expressed in energy
func (s Share) ShortfallEnergy() int64 {
	return s.Shortfall / CoinsPerEnergy
}

// Allocate splits target between members in a single greedy pass in roster
// order. A member whose contribution reaches the current ideal share is
// settled: the contribution leaves the remaining target and the member
// leaves the remaining count. Everyone else is short by the difference.
//
// The pass is order sensitive. Members later in the roster can get a
// stricter share if earlier ones consumed a disproportionate part of the
// target. Percentages are taken against the sum of all contributions and the
// original target.
func Allocate(target int64, members []Member, memberCount int64) []Share {
	var total int64
	for _, m := range members {
		total += m.Contribution
	}
	remainingTarget := target
	remainingCount := memberCount
	ret := make([]Share, 0, len(members))
	for _, m := range members {
		share := Share{
			Member:        m,
			ShareOfTotal:  NewPercent(m.Contribution, total),
			ShareOfTarget: NewPercent(m.Contribution, target),
		}
		if remainingCount <= 0 {
			share.Settled = true
			ret = append(ret, share)
			continue
		}
		share.Ideal = roundHalfEven(remainingTarget, remainingCount)
		if m.Contribution >= share.Ideal {
			share.Settled = true
			remainingTarget -= m.Contribution
			remainingCount--
		} else {
			share.Shortfall = share.Ideal - m.Contribution
		}
		ret = append(ret, share)
	}
	return ret
}

func roundHalfEven(n, d int64) int64 {
	return int64(math.RoundToEven(float64(n) / float64(d)))
}
