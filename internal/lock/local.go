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

package lock

import (
	"context"
	"sync"
	"time"
)

// Local is an in-process Locker
type Local struct {
	mu    sync.Mutex
	held  map[string]localEntry
	clock func() time.Time
}

type localEntry struct {
	expires time.Time
	token   string
}

func NewLocal() *Local {
	return &Local{
		held:  make(map[string]localEntry),
		clock: time.Now,
	}
}

func (l *Local) TryAcquire(
	_ context.Context,
	name string,
	ttl time.Duration,
) (Lock, error) {
	token, err := newOwnerToken()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if entry, ok := l.held[name]; ok && now.Before(entry.expires) {
		return nil, ErrLocked
	}
	l.held[name] = localEntry{
		expires: now.Add(ttl),
		token:   token,
	}
	return &localLock{locker: l, name: name, token: token}, nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.held)
	return nil
}

type localLock struct {
	locker *Local
	name   string
	token  string
}

func (ll *localLock) Release(context.Context) error {
	ll.locker.mu.Lock()
	defer ll.locker.mu.Unlock()
	// An expired lock may have been taken over already
	if entry, ok := ll.locker.held[ll.name]; ok && entry.token == ll.token {
		delete(ll.locker.held, ll.name)
	}
	return nil
}
