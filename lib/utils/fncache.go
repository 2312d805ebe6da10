// Pica
// Copyright (C) 2025 Pica, Inc.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package utils holds small shared helpers, chiefly FnCache, the
// bounded read-through cache in front of the database.
package utils

import (
	"context"
	"time"

	"github.com/gravitational/trace"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// FnCacheConfig configures an FnCache.
type FnCacheConfig struct {
	// TTL is how long a loaded value stays fresh.
	TTL time.Duration
	// Size bounds the number of cached entries; least recently used
	// entries are evicted first.
	Size int
	// Clock overrides time for tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *FnCacheConfig) CheckAndSetDefaults() error {
	if c.TTL <= 0 {
		return trace.BadParameter("missing TTL")
	}
	if c.Size <= 0 {
		return trace.BadParameter("missing Size")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// FnCache is a bounded TTL cache keyed by string. Concurrent loads of the
// same key are collapsed into one loader call; loader errors are returned
// to all waiters and never cached, so the next lookup retries.
type FnCache[T any] struct {
	cfg     FnCacheConfig
	entries *lru.Cache[string, fnCacheEntry[T]]
	group   singleflight.Group
}

type fnCacheEntry[T any] struct {
	value   T
	expires time.Time
}

// NewFnCache builds an FnCache from the given config.
func NewFnCache[T any](cfg FnCacheConfig) (*FnCache[T], error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	entries, err := lru.New[string, fnCacheEntry[T]](cfg.Size)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &FnCache[T]{cfg: cfg, entries: entries}, nil
}

// Get returns the cached value for key, loading it with loadfn when absent
// or expired.
func (c *FnCache[T]) Get(ctx context.Context, key string, loadfn func(ctx context.Context) (T, error)) (T, error) {
	if entry, ok := c.entries.Get(key); ok && c.cfg.Clock.Now().Before(entry.expires) {
		return entry.value, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Double-check under the flight: a concurrent load may have
		// repopulated the entry while we waited.
		if entry, ok := c.entries.Get(key); ok && c.cfg.Clock.Now().Before(entry.expires) {
			return entry.value, nil
		}
		value, err := loadfn(ctx)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		c.entries.Add(key, fnCacheEntry[T]{
			value:   value,
			expires: c.cfg.Clock.Now().Add(c.cfg.TTL),
		})
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, trace.Wrap(err)
	}
	return v.(T), nil
}

// Remove drops the cached value for key, if any.
func (c *FnCache[T]) Remove(key string) {
	c.entries.Remove(key)
}

// Set stores value under key without going through a loader.
func (c *FnCache[T]) Set(key string, value T) {
	c.entries.Add(key, fnCacheEntry[T]{
		value:   value,
		expires: c.cfg.Clock.Now().Add(c.cfg.TTL),
	})
}

// Len returns the number of cached entries, expired ones included.
func (c *FnCache[T]) Len() int {
	return c.entries.Len()
}
