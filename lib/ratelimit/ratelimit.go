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

// Package ratelimit enforces per-tenant request budgets with a shared Redis
// counter. Counters are not expired locally; the watchdog deletes the
// counter key on its refresh interval, which keeps the window aligned
// across gateway instances regardless of their clocks.
package ratelimit

import (
	"context"

	"github.com/gravitational/trace"
	"github.com/redis/go-redis/v9"

	"github.com/picahq/pica/lib/defaults"
	"github.com/picahq/pica/lib/types"
)

// Config configures a Limiter.
type Config struct {
	// Client is the shared Redis client.
	Client redis.UniversalClient
	// Key is the hash holding one counter field per ownership id.
	Key string
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Client == nil {
		return trace.BadParameter("missing Client")
	}
	if c.Key == "" {
		c.Key = defaults.APIThroughputKey
	}
	return nil
}

// Limiter counts requests per ownership id in a Redis hash.
type Limiter struct {
	cfg Config
}

// New builds a Limiter and verifies Redis is reachable. Callers that want
// fail-open behavior skip the limiter entirely when New fails.
func New(ctx context.Context, cfg Config) (*Limiter, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := cfg.Client.Ping(ctx).Err(); err != nil {
		return nil, trace.ConnectionProblem(err, "redis is unreachable")
	}
	return &Limiter{cfg: cfg}, nil
}

// Allow increments the tenant's counter and reports whether the request is
// within the budget. A zero throughput limit means unlimited. Redis errors
// are returned so the caller can decide to fail open.
func (l *Limiter) Allow(ctx context.Context, access *types.EventAccess) (bool, error) {
	limit := access.Throughput
	if limit <= 0 {
		return true, nil
	}
	count, err := l.cfg.Client.HIncrBy(ctx, l.cfg.Key, access.Ownership.ID, 1).Result()
	if err != nil {
		return true, trace.ConnectionProblem(err, "redis increment failed")
	}
	return count <= limit, nil
}
