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
	"math"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Etcd is a Locker backed by etcd. The lock key is attached to a lease that
// is kept alive until the lock is released.
type Etcd struct {
	client *clientv3.Client
	prefix string
}

func NewEtcd(cfg Config) (*Etcd, error) {
	if len(cfg.EtcdEndpoints) == 0 {
		return nil, fmt.Errorf("no etcd endpoints configured for the lock")
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.EtcdEndpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("creating etcd client: %w", err)
	}
	return &Etcd{
		client: client,
		prefix: "/" + cfg.KeyPrefix,
	}, nil
}

func (e *Etcd) TryAcquire(
	ctx context.Context,
	name string,
	ttl time.Duration,
) (Lock, error) {
	key := e.prefix + name
	ttlSeconds := int64(math.Ceil(ttl.Seconds()))
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}
	grant, err := e.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return nil, fmt.Errorf("creating lease for lock %s: %w", name, err)
	}
	resp, err := e.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, "", clientv3.WithLease(grant.ID))).
		Commit()
	if err != nil {
		_, _ = e.client.Revoke(context.Background(), grant.ID)
		return nil, fmt.Errorf("acquiring lock %s: %w", name, err)
	}
	if !resp.Succeeded {
		_, _ = e.client.Revoke(context.Background(), grant.ID)
		return nil, ErrLocked
	}
	keepAliveCtx, cancel := context.WithCancel(context.Background())
	keepAlive, err := e.client.KeepAlive(keepAliveCtx, grant.ID)
	if err != nil {
		cancel()
		_, _ = e.client.Revoke(context.Background(), grant.ID)
		return nil, fmt.Errorf("keeping lock %s alive: %w", name, err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range keepAlive { //nolint:revive // drain keepalive responses
		}
	}()
	return &etcdLock{
		client:  e.client,
		leaseID: grant.ID,
		cancel:  cancel,
		done:    done,
	}, nil
}

func (e *Etcd) Close() error {
	return e.client.Close()
}

type etcdLock struct {
	client  *clientv3.Client
	cancel  context.CancelFunc
	done    chan struct{}
	leaseID clientv3.LeaseID
}

// Release revokes the lease, which deletes the key
func (el *etcdLock) Release(ctx context.Context) error {
	el.cancel()
	<-el.done
	if _, err := el.client.Revoke(ctx, el.leaseID); err != nil {
		return fmt.Errorf("revoking lock lease: %w", err)
	}
	return nil
}
