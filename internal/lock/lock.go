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

// Package lock provides the mutual exclusion that keeps several bot
// instances from running a pass at the same time
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	BackendLocal = "local"
	BackendRedis = "redis"
	BackendEtcd  = "etcd"

	DefaultDialTimeout = 5 * time.Second
	DefaultKeyPrefix   = "walkrbot/locks/"
)

// ErrLocked is returned by TryAcquire when somebody else holds the lock
var ErrLocked = errors.New("lock is held by another owner")

// Lock is a held lock
type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out named locks that expire after a TTL unless released
type Locker interface {
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (Lock, error)
	Close() error
}

type Config struct {
	Backend       string        `yaml:"backend"`
	KeyPrefix     string        `yaml:"keyPrefix"     split_words:"true"`
	RedisAddr     string        `yaml:"redisAddr"     split_words:"true"`
	RedisPassword string        `yaml:"redisPassword" split_words:"true"`
	EtcdEndpoints []string      `yaml:"etcdEndpoints" split_words:"true"`
	RedisDB       int           `yaml:"redisDb"       envconfig:"REDIS_DB"`
	DialTimeout   time.Duration `yaml:"dialTimeout"   split_words:"true"`
}

// New creates the Locker for the configured backend. An empty backend
// selects the in-process locker.
func New(cfg Config) (Locker, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	switch strings.ToLower(cfg.Backend) {
	case "", BackendLocal:
		return NewLocal(), nil
	case BackendRedis:
		return NewRedis(cfg)
	case BackendEtcd:
		return NewEtcd(cfg)
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

// newOwnerToken returns a random value identifying one acquisition
func newOwnerToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating lock token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
