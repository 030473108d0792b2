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
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blinklabs-io/walkrbot/database"
	"github.com/blinklabs-io/walkrbot/database/models"
	"github.com/blinklabs-io/walkrbot/database/plugin/metadata/sqlite"
	"github.com/blinklabs-io/walkrbot/walkr"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testNow is a little after Alice's request in the lab feed fixture
var testNow = time.Date(2024, 6, 3, 10, 0, 30, 0, time.UTC)

func newTestDatabase(t *testing.T) *database.Database {
	t.Helper()
	metadataStore, err := sqlite.New("", nil, nil)
	require.NoError(t, err)
	db, err := database.NewWithStores(nil, metadataStore, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return db
}

func registerToken(
	t *testing.T,
	db *database.Database,
	userID int64,
	name string,
) *models.Token {
	t.Helper()
	token, err := db.RegisterToken(userID, name, "token-"+name, time.Time{})
	require.NoError(t, err)
	return token
}

func activeUserIDs(t *testing.T, db *database.Database) []int64 {
	t.Helper()
	tokens, err := db.GetActiveTokens(nil)
	require.NoError(t, err)
	ret := make([]int64, 0, len(tokens))
	for _, token := range tokens {
		ret = append(ret, token.UserID)
	}
	return ret
}

// fixtureDonations reads the lab feed fixture through the real client
func fixtureDonations(t *testing.T) []walkr.Donation {
	t.Helper()
	body, err := os.ReadFile("../walkr/testdata/lab_comments.json")
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(body)
		},
	))
	defer srv.Close()
	donations, err := walkr.NewClient(srv.URL).
		FetchLabDonations(context.Background(), "token", walkr.DefaultPage)
	require.NoError(t, err)
	return donations
}

// fakeAPI answers research lookups from memory, keyed by token value
type fakeAPI struct {
	mu        sync.Mutex
	research  map[string]*walkr.Research
	fetchErr  map[string]error
	submitErr map[string]error
	// block makes calls for the token wait for their context
	block     map[string]bool
	delay     time.Duration
	fetches   map[string]int
	submitted []string
	inFlight  atomic.Int32
	peak      atomic.Int32
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		research:  make(map[string]*walkr.Research),
		fetchErr:  make(map[string]error),
		submitErr: make(map[string]error),
		block:     make(map[string]bool),
		fetches:   make(map[string]int),
	}
}

func (f *fakeAPI) enter() func() {
	n := f.inFlight.Add(1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeAPI) FetchResearch(
	ctx context.Context,
	token string,
) (*walkr.Research, error) {
	defer f.enter()()
	f.mu.Lock()
	f.fetches[token]++
	research := f.research[token]
	err := f.fetchErr[token]
	block := f.block[token]
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err != nil {
		return nil, err
	}
	if research == nil {
		return nil, walkr.ErrUnexpectedStatus
	}
	ret := *research
	return &ret, nil
}

func (f *fakeAPI) SubmitDonationRequest(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.submitErr[token]; err != nil {
		return err
	}
	f.submitted = append(f.submitted, token)
	return nil
}

func (f *fakeAPI) fetchCount(token string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[token]
}

func (f *fakeAPI) submissions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submitted...)
}
