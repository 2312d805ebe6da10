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

package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/picahq/pica/lib/defaults"
	"github.com/picahq/pica/lib/types"
)

func newLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	limiter, err := New(context.Background(), Config{Client: client})
	require.NoError(t, err)
	return limiter, srv, client
}

func access(limit int64) *types.EventAccess {
	return &types.EventAccess{
		Ownership:  types.Ownership{ID: "build-1"},
		Throughput: limit,
	}
}

func TestLimiterEnforcesBudget(t *testing.T) {
	ctx := context.Background()
	limiter, _, _ := newLimiter(t)

	a := access(2)
	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, a)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := limiter.Allow(ctx, a)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLimiterResetOnDelete(t *testing.T) {
	ctx := context.Background()
	limiter, srv, _ := newLimiter(t)

	a := access(1)
	ok, err := limiter.Allow(ctx, a)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = limiter.Allow(ctx, a)
	require.NoError(t, err)
	require.False(t, ok)

	// The watchdog clears the whole counter hash.
	srv.Del(defaults.APIThroughputKey)

	ok, err = limiter.Allow(ctx, a)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLimiterUnlimited(t *testing.T) {
	ctx := context.Background()
	limiter, srv, _ := newLimiter(t)

	for i := 0; i < 50; i++ {
		ok, err := limiter.Allow(ctx, access(0))
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.False(t, srv.Exists(defaults.APIThroughputKey))
}

func TestLimiterIsolatesTenants(t *testing.T) {
	ctx := context.Background()
	limiter, _, _ := newLimiter(t)

	first := access(1)
	other := &types.EventAccess{
		Ownership:  types.Ownership{ID: "build-2"},
		Throughput: 1,
	}

	ok, err := limiter.Allow(ctx, first)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = limiter.Allow(ctx, first)
	require.NoError(t, err)
	require.False(t, ok)

	// build-2 still has budget.
	ok, err = limiter.Allow(ctx, other)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLimiterUnreachableRedis(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	_, err := New(context.Background(), Config{Client: client})
	require.Error(t, err)
}
