/*
 * Copyright 2019 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package cache memoizes record reads of a storage.Database for a bounded size and
// lifetime. Writes go through to the wrapped database and evict the written keys, so
// the database stays the only source of truth.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/CovenantSQL/keydir/storage"
	"github.com/CovenantSQL/keydir/types"
)

type entry struct {
	record  types.Record
	expires time.Time
}

// Cache is a read cache in front of a storage.Database.
type Cache struct {
	hits, misses uint64

	storage.Database
	lru *lru.Cache
	ttl time.Duration
	now func() time.Time

	// writing counts running writes, gen counts finished ones. A read only fills the
	// cache when no write overlapped it.
	mu      sync.Mutex
	writing int
	gen     uint64
}

var _ storage.Database = (*Cache)(nil)

// New wraps db with a cache of at most size records, each kept for ttl.
func New(db storage.Database, size int, ttl time.Duration) (*Cache, error) {
	l, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cache{Database: db, lru: l, ttl: ttl, now: time.Now}, nil
}

func cacheKey(key types.Key) string {
	switch k := key.(type) {
	case types.RootKey:
		return "r"
	case types.NodeLabel:
		return fmt.Sprintf("n%d/%x", k.Length, k.Value[:])
	case types.ValueStateKey:
		return fmt.Sprintf("v%d/%x", k.Epoch, k.RawLabel)
	default:
		return fmt.Sprintf("?%T%v", key, key)
	}
}

func (c *Cache) lookup(key types.Key) (types.Record, bool) {
	v, ok := c.lru.Get(cacheKey(key))
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}
	e := v.(entry)
	if c.now().After(e.expires) {
		c.lru.Remove(cacheKey(key))
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}
	atomic.AddUint64(&c.hits, 1)
	return e.record, true
}

// readGen returns the write generation to pass to remember after the read.
func (c *Cache) readGen() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writing > 0 {
		// never matches, gen only grows
		return c.gen - 1
	}
	return c.gen
}

func (c *Cache) remember(gen uint64, records ...types.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writing > 0 || c.gen != gen {
		return
	}
	for _, record := range records {
		c.lru.Add(cacheKey(record.Key()), entry{record: record, expires: c.now().Add(c.ttl)})
	}
}

func (c *Cache) evict(records []types.Record) {
	for _, record := range records {
		c.lru.Remove(cacheKey(record.Key()))
	}
}

// write runs fn with records evicted before and after it.
func (c *Cache) write(records []types.Record, fn func() error) error {
	c.mu.Lock()
	c.writing++
	c.mu.Unlock()
	c.evict(records)

	err := fn()

	c.mu.Lock()
	c.evict(records)
	c.writing--
	c.gen++
	c.mu.Unlock()
	return err
}

// Get implements storage.Database.
func (c *Cache) Get(ctx context.Context, key types.Key) (types.Record, error) {
	if record, ok := c.lookup(key); ok {
		return record, nil
	}
	gen := c.readGen()
	record, err := c.Database.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	c.remember(gen, record)
	return record, nil
}

// BatchGet implements storage.Database, only the keys missing from the cache reach
// the database.
func (c *Cache) BatchGet(ctx context.Context, keys []types.Key) ([]types.Record, error) {
	records := make([]types.Record, 0, len(keys))
	var missing []types.Key
	for _, key := range keys {
		if _, isRoot := key.(types.RootKey); isRoot {
			return nil, storage.Wrap(storage.KindOther, "batch_get", storage.ErrBatchUnsupported)
		}
		if record, ok := c.lookup(key); ok {
			records = append(records, record)
		} else {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return records, nil
	}
	gen := c.readGen()
	found, err := c.Database.BatchGet(ctx, missing)
	if err != nil {
		return nil, err
	}
	c.remember(gen, found...)
	return append(records, found...), nil
}

// Set implements storage.Database.
func (c *Cache) Set(ctx context.Context, record types.Record) error {
	return c.write([]types.Record{record}, func() error {
		return c.Database.Set(ctx, record)
	})
}

// BatchSet implements storage.Database.
func (c *Cache) BatchSet(ctx context.Context, records []types.Record, state types.SetState) error {
	return c.write(records, func() error {
		return c.Database.BatchSet(ctx, records, state)
	})
}

// Flush drops every cached record.
func (c *Cache) Flush() {
	c.lru.Purge()
}

// Stats returns the hit and miss counters.
func (c *Cache) Stats() (hits, misses uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses)
}
