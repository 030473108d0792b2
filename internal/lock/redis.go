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
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// releaseScript deletes the key only while it still holds our token
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// Redis is a Locker backed by a single Redis server using SET NX PX
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(cfg Config) (*Redis, error) {
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("no redis address configured for the lock")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.DialTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", cfg.RedisAddr, err)
	}
	return &Redis{
		client: client,
		prefix: cfg.KeyPrefix,
	}, nil
}

func (r *Redis) TryAcquire(
	ctx context.Context,
	name string,
	ttl time.Duration,
) (Lock, error) {
	token, err := newOwnerToken()
	if err != nil {
		return nil, err
	}
	key := r.prefix + name
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &redisLock{client: r.client, key: key, token: token}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type redisLock struct {
	client *redis.Client
	key    string
	token  string
}

func (rl *redisLock) Release(ctx context.Context) error {
	err := rl.client.Eval(ctx, releaseScript, []string{rl.key}, rl.token).Err()
	if err != nil {
		return fmt.Errorf("releasing lock %s: %w", rl.key, err)
	}
	return nil
}
