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
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test-token-0123456789"

func newTestServer(
	t *testing.T,
	handler http.HandlerFunc,
) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

// checkDevice reports header and parameter mismatches with t.Errorf, since
// handlers do not run on the test goroutine
func checkDevice(t *testing.T, r *http.Request, params map[string][]string) {
	if got := r.Header.Get("Authorization"); got != "Bearer "+testToken {
		t.Errorf("unexpected authorization header %q", got)
	}
	if got := r.Header.Get("User-Agent"); got != "Walkr/7.2.2 (iPhone; iOS 17.4.1; Scale/3.00)" {
		t.Errorf("unexpected user agent %q", got)
	}
	if got := r.Header.Get("Accept-Language"); got != "en-US;q=1, ru-RU;q=0.9" {
		t.Errorf("unexpected accept-language %q", got)
	}
	expected := map[string]string{
		"locale":         "en",
		"client_version": "7.2.2.4",
		"platform":       "ios",
		"timezone":       "2",
		"os_version":     "iOS 17.4.1",
		"country_code":   "RU",
		"device_model":   "iPhone13,2",
	}
	for k, v := range expected {
		if len(params[k]) != 1 || params[k][0] != v {
			t.Errorf("param %s: expected %q, got %v", k, v, params[k])
		}
	}
}

func fixtureHandler(
	t *testing.T,
	method string,
	path string,
	fixture string,
) http.HandlerFunc {
	body := readFixture(t, fixture)
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			t.Errorf("expected method %s, got %s", method, r.Method)
		}
		if r.URL.Path != path {
			t.Errorf("expected path %s, got %s", path, r.URL.Path)
		}
		checkDevice(t, r, r.URL.Query())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}
}

func TestFetchFleetState(t *testing.T) {
	server := newTestServer(t, fixtureHandler(
		t, http.MethodGet, "/api/v2/fleets/current", "fleet_current.json",
	))
	client := NewClient(server.URL)

	state, err := client.FetchFleetState(context.Background(), testToken)
	require.NoError(t, err)
	require.NotNil(t, state.Fleet)
	assert.Equal(t, "Corn Haulers", state.Fleet.Name)
	assert.Equal(t, int64(12), state.Fleet.Epic.ID)
	assert.Equal(t, int64(4), state.Fleet.PlayersCount)
	assert.Equal(t, int64(45000000), state.Fleet.ContributionAmount)
	assert.Equal(t, "path", state.EventStatus)
	require.NotNil(t, state.Event)
	assert.Equal(t, int64(1000), state.Event.ResourceA)
	require.NotNil(t, state.Event.ResourceB)
	assert.Equal(t, int64(500), *state.Event.ResourceB)
	assert.Nil(t, state.Event.ResourceC)
	require.NotNil(t, state.Path)
	assert.Equal(t, int64(10000), state.Path.RequiredEnergy)
	require.Len(t, state.Members, 4)
	assert.False(t, state.Members[0].Waiting())
	assert.True(t, state.Members[3].Waiting())
	require.Len(t, state.FleetHistories, 3)
	assert.Equal(t, "voting", state.FleetHistories[1].EventType)
	// 0 means "never" and decodes to the epoch
	assert.Equal(t, int64(0), state.Fleet.LastConsumedAt.Unix())
	assert.Equal(t, time.Unix(1717405200, 0).UTC(), state.Now.Time)
}

func TestFetchFleetStateNotInEpic(t *testing.T) {
	server := newTestServer(t, fixtureHandler(
		t, http.MethodGet, "/api/v2/fleets/current", "fleet_not_in_epic.json",
	))
	client := NewClient(server.URL)

	state, err := client.FetchFleetState(context.Background(), testToken)
	require.ErrorIs(t, err, ErrNotInEpic)
	assert.Nil(t, state)
}

func TestFetchLabDonations(t *testing.T) {
	body := readFixture(t, "lab_comments.json")
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/comments" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		query := r.URL.Query()
		checkDevice(t, r, query)
		expected := map[string]string{
			"commentable_id":   "4242",
			"commentable_type": "lab",
			"limit":            "3000",
			"queried_at":       "2147483647",
			"since_id":         "0",
		}
		for k, v := range expected {
			if query.Get(k) != v {
				t.Errorf("param %s: expected %q, got %q", k, v, query.Get(k))
			}
		}
		_, _ = w.Write(body)
	})
	client := NewClient(server.URL, WithLabID(4242))
	assert.Equal(t, int64(4242), client.LabID())

	donations, err := client.FetchLabDonations(
		context.Background(),
		testToken,
		DefaultPage,
	)
	require.NoError(t, err)
	// The chat message and the donation without a user are dropped
	require.Len(t, donations, 2)

	alice := donations[0]
	assert.Equal(t, int64(271306), alice.UserID)
	assert.Equal(t, "Alice", alice.UserName)
	assert.Equal(t, "Corn Star", alice.PlanetName)
	assert.Equal(t, int64(60000), alice.Requirements)
	assert.Equal(t, int64(12000), alice.TotalDonation)
	assert.Equal(t, int64(2000), alice.CurrentDonation)
	assert.Equal(t, "1599163|1000+1000", alice.DonatedCounter)
	assert.Equal(t, time.Unix(1717398000, 0).UTC(), alice.LastRequestedAt)
	assert.Equal(t, time.Unix(1717400000, 0).UTC(), alice.CreatedAt)

	bob := donations[1]
	assert.Equal(t, "Bob", bob.UserName)
	assert.Equal(t, time.Unix(0, 0).UTC(), bob.LastRequestedAt)
}

func TestFetchResearch(t *testing.T) {
	server := newTestServer(t, fixtureHandler(
		t, http.MethodGet, "/api/v2/labs/current", "lab_current.json",
	))
	client := NewClient(server.URL)

	research, err := client.FetchResearch(context.Background(), testToken)
	require.NoError(t, err)
	assert.Equal(t, "Corn Star", research.PlanetName)
	assert.Equal(t, int64(60000), research.Requirements)
	assert.Equal(t, int64(12000), research.TotalDonation)
	assert.False(t, research.Funded())
	assert.Equal(t, time.Unix(1717398000, 0).UTC(), research.LastRequestedAt)

	research.TotalDonation = research.Requirements
	assert.True(t, research.Funded())
}

func TestSubmitDonationRequest(t *testing.T) {
	var calls atomic.Int32
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/v2/labs/68334/request" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		var params map[string]string
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		query := make(map[string][]string, len(params))
		for k, v := range params {
			query[k] = []string{v}
		}
		checkDevice(t, r, query)
		_, _ = io.WriteString(w, `{"success": true}`)
	})
	client := NewClient(server.URL)

	require.NoError(t, client.SubmitDonationRequest(context.Background(), testToken))
	assert.Equal(t, int32(1), calls.Load())
}

func TestExtendToken(t *testing.T) {
	body := readFixture(t, "extend_token.json")
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/v2/players/extend_token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parsing form: %v", err)
		}
		checkDevice(t, r, r.PostForm)
		_, _ = w.Write(body)
	})
	client := NewClient(server.URL)

	auth, err := client.ExtendToken(context.Background(), testToken)
	require.NoError(t, err)
	assert.Equal(t, int64(271306), auth.PlayerID)
	assert.Equal(t, "Alice", auth.Name)
	assert.Equal(t, time.Unix(1719997200, 0).UTC(), auth.TokenExpiredAt.Time)
}

func TestExtendTokenUnsuccessful(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success": false}`)
	})
	client := NewClient(server.URL)

	_, err := client.ExtendToken(context.Background(), testToken)
	require.ErrorIs(t, err, ErrUnsuccessful)
}

func TestInvalidToken(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
	client := NewClient(server.URL)
	ctx := context.Background()

	_, err := client.FetchFleetState(ctx, testToken)
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = client.FetchResearch(ctx, testToken)
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = client.FetchLabDonations(ctx, testToken, DefaultPage)
	require.ErrorIs(t, err, ErrInvalidToken)
	err = client.SubmitDonationRequest(ctx, testToken)
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = client.ExtendToken(ctx, testToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestUnexpectedStatus(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, strings.Repeat("x", 4096))
	})
	client := NewClient(server.URL)

	_, err := client.FetchResearch(context.Background(), testToken)
	require.ErrorIs(t, err, ErrUnexpectedStatus)
	require.NotErrorIs(t, err, ErrInvalidToken)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Equal(t, KindResearch, statusErr.Endpoint)
	assert.Len(t, statusErr.Body, maxErrorBodySize)
}

func TestMalformedAnswer(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"fleet": [`)
	})
	client := NewClient(server.URL)

	_, err := client.FetchFleetState(context.Background(), testToken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding fleet answer")
}

func TestResponseHook(t *testing.T) {
	body := readFixture(t, "lab_current.json")
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	})
	var (
		mu    sync.Mutex
		kinds []string
		seen  []byte
	)
	client := NewClient(server.URL, WithResponseHook(func(kind string, payload []byte) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, kind)
		seen = payload
	}))

	_, err := client.FetchResearch(context.Background(), testToken)
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{KindResearch}, kinds)
	assert.JSONEq(t, string(body), string(seen))
}

func TestRateLimitHonorsContext(t *testing.T) {
	body := readFixture(t, "lab_current.json")
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	})
	client := NewClient(server.URL, WithRateLimit(0.01, 1))

	_, err := client.FetchResearch(context.Background(), testToken)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.FetchResearch(ctx, testToken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
}

func TestClientMetrics(t *testing.T) {
	server := newTestServer(t, fixtureHandler(
		t, http.MethodGet, "/api/v2/labs/current", "lab_current.json",
	))
	reg := prometheus.NewRegistry()
	client := NewClient(server.URL, WithPromRegistry(reg))

	_, err := client.FetchResearch(context.Background(), testToken)
	require.NoError(t, err)
	assert.InDelta(
		t,
		1.0,
		testutil.ToFloat64(client.metrics.requests.WithLabelValues(KindResearch, "200")),
		0,
	)
	count, err := testutil.GatherAndCount(reg, "walkr_api_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTimestampDecoding(t *testing.T) {
	var v struct {
		A Timestamp `json:"a"`
		B Timestamp `json:"b"`
		C Timestamp `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 0, "b": null, "c": 1717398000.5}`), &v))
	assert.Equal(t, time.Unix(0, 0).UTC(), v.A.Time)
	assert.True(t, v.B.IsZero())
	assert.Equal(t, time.Unix(1717398000, 500000000).UTC(), v.C.Time)

	require.Error(t, json.Unmarshal([]byte(`{"a": "yesterday"}`), &v))
}

func TestDeviceUserAgent(t *testing.T) {
	device := DefaultDevice()
	assert.Equal(t, "Walkr/7.2.2 (iPhone; iOS 17.4.1; Scale/3.00)", device.UserAgent())
	device.ClientVersion = "8.0"
	device.IOSVersion = "18.0"
	assert.Equal(t, "Walkr/8.0 (iPhone; iOS 18.0; Scale/3.00)", device.UserAgent())
	assert.Equal(t, "iOS 18.0", device.Params()["os_version"])
}

func TestHTTPSOnlyRedirect(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	require.Error(t, httpsOnlyRedirect(req, nil))
	req = httptest.NewRequest(http.MethodGet, "https://example.com/", nil)
	require.NoError(t, httpsOnlyRedirect(req, nil))
}
