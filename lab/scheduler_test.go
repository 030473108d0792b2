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
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/blinklabs-io/walkrbot/database/models"
	"github.com/blinklabs-io/walkrbot/event"
	"github.com/blinklabs-io/walkrbot/lab"
	"github.com/blinklabs-io/walkrbot/walkr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstreamDown = errors.New("upstream down")

func newScheduler(t *testing.T, cfg lab.SchedulerConfig) *lab.Scheduler {
	t.Helper()
	s, err := lab.NewScheduler(cfg)
	require.NoError(t, err)
	return s
}

func TestDecide(t *testing.T) {
	cooldown := 6 * time.Hour
	testDefs := []struct {
		name     string
		research walkr.Research
		expected lab.Decision
	}{
		{
			name: "funded beats an elapsed cooldown",
			research: walkr.Research{
				LastRequestedAt: testNow.Add(-24 * time.Hour),
				Requirements:    60000,
				TotalDonation:   60000,
			},
			expected: lab.DecisionFunded,
		},
		{
			name: "cooldown elapsed exactly",
			research: walkr.Research{
				LastRequestedAt: testNow.Add(-cooldown),
				Requirements:    60000,
				TotalDonation:   12000,
			},
			expected: lab.DecisionRequest,
		},
		{
			name: "cooldown not elapsed",
			research: walkr.Research{
				LastRequestedAt: testNow.Add(-cooldown + time.Second),
				Requirements:    60000,
				TotalDonation:   12000,
			},
			expected: lab.DecisionCooldown,
		},
		{
			name: "requested five hours ago",
			research: walkr.Research{
				LastRequestedAt: testNow.Add(-5 * time.Hour),
				Requirements:    60000,
				TotalDonation:   12000,
			},
			expected: lab.DecisionCooldown,
		},
		{
			name: "requested seven hours ago",
			research: walkr.Research{
				LastRequestedAt: testNow.Add(-7 * time.Hour),
				Requirements:    60000,
				TotalDonation:   12000,
			},
			expected: lab.DecisionRequest,
		},
		{
			name: "never requested",
			research: walkr.Research{
				LastRequestedAt: time.Unix(0, 0).UTC(),
				Requirements:    30000,
			},
			expected: lab.DecisionRequest,
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			assert.Equal(
				t,
				testDef.expected,
				lab.Decide(&testDef.research, testNow, cooldown),
			)
		})
	}
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "funded", lab.DecisionFunded.String())
	assert.Equal(t, "cooldown", lab.DecisionCooldown.String())
	assert.Equal(t, "request", lab.DecisionRequest.String())
	assert.Equal(t, "none", lab.DecisionNone.String())
}

func TestNewSchedulerValidation(t *testing.T) {
	_, err := lab.NewScheduler(lab.SchedulerConfig{Client: newFakeAPI()})
	require.Error(t, err)
	_, err = lab.NewScheduler(lab.SchedulerConfig{DB: newTestDatabase(t)})
	require.Error(t, err)

	s := newScheduler(t, lab.SchedulerConfig{
		DB:     newTestDatabase(t),
		Client: newFakeAPI(),
	})
	assert.Equal(t, lab.DefaultCooldown, s.Cooldown())
}

func TestSchedulerRun(t *testing.T) {
	db := newTestDatabase(t)
	api := newFakeAPI()
	registerToken(t, db, 1, "alice")
	registerToken(t, db, 2, "bob")
	registerToken(t, db, 3, "carol")
	registerToken(t, db, 4, "dave")
	registerToken(t, db, 5, "eve")
	api.research["token-alice"] = &walkr.Research{
		PlanetName:      "Corn Star",
		LastRequestedAt: testNow.Add(-7 * time.Hour),
		Requirements:    60000,
		TotalDonation:   12000,
	}
	api.research["token-bob"] = &walkr.Research{
		PlanetName:      "Ice Rock",
		LastRequestedAt: testNow.Add(-time.Hour),
		Requirements:    30000,
	}
	api.research["token-carol"] = &walkr.Research{
		PlanetName:      "Gold Mine",
		LastRequestedAt: testNow.Add(-7 * time.Hour),
		Requirements:    30000,
		TotalDonation:   30000,
	}
	api.fetchErr["token-dave"] = fmt.Errorf("fetching research: %w", walkr.ErrInvalidToken)
	api.fetchErr["token-eve"] = errUpstreamDown

	bus := event.NewEventBus(nil, nil)
	defer bus.Stop()
	_, requestedCh := bus.Subscribe(event.DonationRequestedEventType)
	_, deactivatedCh := bus.Subscribe(event.TokenDeactivatedEventType)

	s := newScheduler(t, lab.SchedulerConfig{
		DB:       db,
		Client:   api,
		EventBus: bus,
	})
	result, err := s.Run(context.Background(), testNow)
	require.ErrorIs(t, err, errUpstreamDown)
	assert.Contains(t, err.Error(), "user 5")

	assert.Equal(t, 1, result.Requested)
	assert.Equal(t, 1, result.Cooldown)
	assert.Equal(t, 1, result.Funded)
	assert.Equal(t, 1, result.Deactivated)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Outcomes, 5)
	assert.Equal(t, lab.DecisionRequest, result.Outcomes[0].Decision)
	assert.True(t, result.Outcomes[0].Requested)
	assert.Equal(t, lab.DecisionCooldown, result.Outcomes[1].Decision)
	assert.Equal(t, lab.DecisionFunded, result.Outcomes[2].Decision)
	assert.True(t, result.Outcomes[3].Deactivated)
	require.ErrorIs(t, result.Outcomes[4].Err, errUpstreamDown)

	assert.Equal(t, []string{"token-alice"}, api.submissions())
	// Dave is gone for good, Eve only failed transiently
	assert.Equal(t, []int64{1, 2, 3, 5}, activeUserIDs(t, db))

	select {
	case evt := <-requestedCh:
		data := evt.Data.(event.DonationRequestedEvent)
		assert.Equal(t, int64(1), data.UserID)
		assert.Equal(t, "alice", data.UserName)
		assert.Equal(t, "Corn Star", data.PlanetName)
		assert.True(t, data.RequestedAt.Equal(testNow))
	default:
		t.Fatal("expected a donation requested event")
	}
	select {
	case evt := <-deactivatedCh:
		data := evt.Data.(event.TokenDeactivatedEvent)
		assert.Equal(t, int64(4), data.UserID)
		assert.Equal(t, "dave", data.UserName)
	default:
		t.Fatal("expected a token deactivated event")
	}
}

func TestSchedulerDeactivationIsPermanent(t *testing.T) {
	db := newTestDatabase(t)
	api := newFakeAPI()
	registerToken(t, db, 4, "dave")
	api.fetchErr["token-dave"] = walkr.ErrInvalidToken
	s := newScheduler(t, lab.SchedulerConfig{DB: db, Client: api})

	_, err := s.Run(context.Background(), testNow)
	require.NoError(t, err)
	assert.Empty(t, activeUserIDs(t, db))

	// Later runs no longer see the token
	api.fetchErr["token-dave"] = nil
	result, err := s.Run(context.Background(), testNow)
	require.NoError(t, err)
	assert.Empty(t, result.Outcomes)
	assert.Equal(t, 1, api.fetchCount("token-dave"))

	// Registering the token again is the only way back
	registerToken(t, db, 4, "dave")
	assert.Equal(t, []int64{4}, activeUserIDs(t, db))
}

func TestSchedulerInvalidTokenOnSubmit(t *testing.T) {
	db := newTestDatabase(t)
	api := newFakeAPI()
	registerToken(t, db, 1, "alice")
	api.research["token-alice"] = &walkr.Research{
		LastRequestedAt: time.Unix(0, 0).UTC(),
		Requirements:    100,
	}
	api.submitErr["token-alice"] = walkr.ErrInvalidToken
	s := newScheduler(t, lab.SchedulerConfig{DB: db, Client: api})

	result, err := s.Run(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deactivated)
	assert.Equal(t, 0, result.Requested)
	assert.Empty(t, activeUserIDs(t, db))
}

func TestSchedulerTimeoutIsTransient(t *testing.T) {
	db := newTestDatabase(t)
	api := newFakeAPI()
	registerToken(t, db, 1, "alice")
	registerToken(t, db, 2, "bob")
	api.block["token-alice"] = true
	api.research["token-bob"] = &walkr.Research{
		LastRequestedAt: time.Unix(0, 0).UTC(),
		Requirements:    100,
	}
	s := newScheduler(t, lab.SchedulerConfig{
		DB:          db,
		Client:      api,
		CallTimeout: 20 * time.Millisecond,
	})

	result, err := s.Run(context.Background(), testNow)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Requested)
	assert.Equal(t, []int64{1, 2}, activeUserIDs(t, db))
}

func TestSchedulerCanceled(t *testing.T) {
	db := newTestDatabase(t)
	api := newFakeAPI()
	registerToken(t, db, 1, "alice")
	s := newScheduler(t, lab.SchedulerConfig{DB: db, Client: api})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := s.Run(ctx, testNow)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, api.fetchCount("token-alice"))
	assert.Equal(t, []int64{1}, activeUserIDs(t, db))
}

func TestSchedulerBoundedFanOut(t *testing.T) {
	db := newTestDatabase(t)
	api := newFakeAPI()
	api.delay = 20 * time.Millisecond
	for i := range 8 {
		name := fmt.Sprintf("player%d", i)
		registerToken(t, db, int64(i+1), name)
		api.research["token-"+name] = &walkr.Research{
			LastRequestedAt: testNow,
			Requirements:    100,
		}
	}
	reg := prometheus.NewRegistry()
	s := newScheduler(t, lab.SchedulerConfig{
		DB:           db,
		Client:       api,
		Concurrency:  2,
		PromRegistry: reg,
	})

	result, err := s.Run(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 8, result.Cooldown)
	assert.LessOrEqual(t, api.peak.Load(), int32(2))
	assert.GreaterOrEqual(t, api.peak.Load(), int32(1))

	count, err := testutil.GatherAndCount(reg, "walkrbot_lab_decisions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	count, err = testutil.GatherAndCount(reg, "walkrbot_lab_run_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestWithActiveTokenFallback(t *testing.T) {
	db := newTestDatabase(t)
	registerToken(t, db, 1, "alice")
	registerToken(t, db, 2, "bob")
	registerToken(t, db, 3, "carol")
	s := newScheduler(t, lab.SchedulerConfig{DB: db, Client: newFakeAPI()})

	var tried []string
	err := s.WithActiveToken(
		context.Background(),
		func(ctx context.Context, token models.Token) error {
			tried = append(tried, token.Value)
			if token.UserID == 1 {
				return fmt.Errorf("fetching lab comments: %w", walkr.ErrInvalidToken)
			}
			_, ok := ctx.Deadline()
			assert.True(t, ok, "calls run under a deadline")
			return nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"token-alice", "token-bob"}, tried)
	assert.Equal(t, []int64{2, 3}, activeUserIDs(t, db))

	// Other errors stop the search and keep the token
	err = s.WithActiveToken(
		context.Background(),
		func(context.Context, models.Token) error { return errUpstreamDown },
	)
	require.ErrorIs(t, err, errUpstreamDown)
	assert.Equal(t, []int64{2, 3}, activeUserIDs(t, db))
}

func TestWithActiveTokenExhausted(t *testing.T) {
	db := newTestDatabase(t)
	registerToken(t, db, 1, "alice")
	s := newScheduler(t, lab.SchedulerConfig{DB: db, Client: newFakeAPI()})

	err := s.WithActiveToken(
		context.Background(),
		func(context.Context, models.Token) error { return walkr.ErrInvalidToken },
	)
	require.ErrorIs(t, err, lab.ErrNoActiveToken)
	assert.Empty(t, activeUserIDs(t, db))
}

func TestWithToken(t *testing.T) {
	db := newTestDatabase(t)
	alice := registerToken(t, db, 1, "alice")
	registerToken(t, db, 2, "bob")
	s := newScheduler(t, lab.SchedulerConfig{DB: db, Client: newFakeAPI()})

	err := s.WithToken(
		context.Background(),
		*alice,
		func(context.Context, models.Token) error { return errUpstreamDown },
	)
	require.ErrorIs(t, err, errUpstreamDown)
	assert.Equal(t, []int64{1, 2}, activeUserIDs(t, db))

	// A rejected token is deactivated and never retried with another one
	err = s.WithToken(
		context.Background(),
		*alice,
		func(context.Context, models.Token) error { return walkr.ErrInvalidToken },
	)
	require.ErrorIs(t, err, walkr.ErrInvalidToken)
	assert.Equal(t, []int64{2}, activeUserIDs(t, db))

	alice.Active = false
	err = s.WithToken(
		context.Background(),
		*alice,
		func(context.Context, models.Token) error {
			t.Fatal("inactive token was used")
			return nil
		},
	)
	require.ErrorIs(t, err, lab.ErrNoActiveToken)
}
