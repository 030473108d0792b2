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

package lab_test

import (
	"context"
	"testing"
	"time"

	"github.com/blinklabs-io/walkrbot/lab"
	"github.com/blinklabs-io/walkrbot/walkr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildReport(t *testing.T) {
	db := newTestDatabase(t)
	r := newReconciler(t, lab.ReconcilerConfig{DB: db})
	_, err := r.Reconcile(context.Background(), fixtureDonations(t))
	require.NoError(t, err)
	registerToken(t, db, 271306, "Alice")
	registerToken(t, db, 1599163, "Bob")
	registerToken(t, db, 3, "Carol")

	report, err := lab.BuildReport(db, testNow, 6*time.Hour)
	require.NoError(t, err)

	// Bob's request dates from the epoch and is long closed
	require.Len(t, report.Requests, 1)
	assert.Equal(
		t,
		2*time.Hour+59*time.Minute+30*time.Second,
		report.TimeLeft(report.Requests[0]),
	)
	assert.True(t, report.Issuable())
	expected := "Open lab requests:\n" +
		" - Alice 12000/60000 left 2h59m\n" +
		"\n" +
		"The bot can make a request for:\n" +
		" - Bob\n" +
		" - Carol\n" +
		"(unless their planet is already fully funded)"
	assert.Equal(t, expected, report.String())
}

func TestBuildReportNewestFirstLatestProgress(t *testing.T) {
	db := newTestDatabase(t)
	r := newReconciler(t, lab.ReconcilerConfig{DB: db})
	ctx := context.Background()

	alice := aliceDonation()
	bob := walkr.Donation{
		LastRequestedAt: alice.LastRequestedAt.Add(time.Hour),
		UserID:          1599163,
		UserName:        "Bob",
		PlanetName:      "Ice Rock",
		Requirements:    30000,
		TotalDonation:   500,
	}
	_, err := r.Reconcile(ctx, []walkr.Donation{alice, bob})
	require.NoError(t, err)
	later := alice
	later.TotalDonation = 15000
	later.DonatedCounter = "1599163|1000+1000+3000"
	_, err = r.Reconcile(ctx, []walkr.Donation{later})
	require.NoError(t, err)
	registerToken(t, db, 271306, "Alice")
	registerToken(t, db, 1599163, "Bob")

	report, err := lab.BuildReport(db, testNow, 6*time.Hour)
	require.NoError(t, err)
	assert.False(t, report.Issuable())
	expected := "Open lab requests:\n" +
		" - Bob 500/30000 left 3h59m\n" +
		" - Alice 15000/60000 left 2h59m"
	assert.Equal(t, expected, report.String())
}

func TestBuildReportEmpty(t *testing.T) {
	db := newTestDatabase(t)
	report, err := lab.BuildReport(db, testNow, 6*time.Hour)
	require.NoError(t, err)
	assert.False(t, report.Issuable())
	assert.Equal(t, "No open lab requests", report.String())

	registerToken(t, db, 1, "alice")
	report, err = lab.BuildReport(db, testNow, 6*time.Hour)
	require.NoError(t, err)
	assert.True(t, report.Issuable())
	assert.Equal(
		t,
		"No open lab requests\n\nThe bot can make a request for:\n - alice\n"+
			"(unless their planet is already fully funded)",
		report.String(),
	)
}
