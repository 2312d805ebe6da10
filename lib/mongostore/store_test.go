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

package mongostore

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/picahq/pica/lib/types"
)

func newTaskStore(t *testing.T) (*Store[types.Task], *MemoryCollection[types.Task]) {
	t.Helper()
	coll := NewMemoryCollection[types.Task]()
	return NewStore[types.Task](coll), coll
}

func TestStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store, _ := newTaskStore(t)
	now := time.UnixMilli(1_700_000_000_000)

	task := types.Task{
		ID:             types.NewID(types.IDPrefixTask, now),
		Endpoint:       "https://example.com/hook",
		StartTime:      now.UnixMilli(),
		RecordMetadata: types.NewRecordMetadata(now),
	}
	require.NoError(t, store.CreateOne(ctx, &task))

	// Duplicate ids are rejected.
	err := store.CreateOne(ctx, &task)
	require.True(t, trace.IsAlreadyExists(err))

	got, err := store.GetByID(ctx, task.ID.String())
	require.NoError(t, err)
	require.Equal(t, task.Endpoint, got.Endpoint)

	require.NoError(t, store.UpdateOne(ctx, task.ID.String(), bson.M{
		"$set": bson.M{"status": "200 OK"},
	}))
	got, err = store.GetByID(ctx, task.ID.String())
	require.NoError(t, err)
	require.Equal(t, "200 OK", got.Status)

	require.NoError(t, store.SoftDelete(ctx, task.ID.String(), now))
	_, err = store.GetByID(ctx, task.ID.String())
	require.True(t, trace.IsNotFound(err))

	// The record is still there, just logically deleted.
	n, err := store.Count(ctx, bson.M{"_id": task.ID.String()})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestStoreUpdateOneMissing(t *testing.T) {
	store, _ := newTaskStore(t)
	err := store.UpdateOne(context.Background(), "task::nope", bson.M{"$set": bson.M{"status": "x"}})
	require.True(t, trace.IsNotFound(err))
}

func TestStoreEligibleTaskQuery(t *testing.T) {
	ctx := context.Background()
	store, _ := newTaskStore(t)
	now := time.UnixMilli(1_700_000_000_000)

	mk := func(start time.Time, workerID int64, active bool) types.Task {
		task := types.Task{
			ID:             types.NewID(types.IDPrefixTask, start),
			WorkerID:       workerID,
			StartTime:      start.UnixMilli(),
			Endpoint:       "https://example.com/hook",
			RecordMetadata: types.NewRecordMetadata(start),
		}
		task.Active = active
		require.NoError(t, store.CreateOne(ctx, &task))
		return task
	}

	eligible := mk(now.Add(-time.Minute), 0, true)
	mk(now.Add(time.Hour), 0, true)   // future
	mk(now.Add(-time.Minute), 1, true) // already leased
	inactive := mk(now.Add(-2*time.Minute), 0, true)
	require.NoError(t, store.UpdateOne(ctx, inactive.ID.String(), bson.M{"$set": bson.M{"active": false}}))

	tasks, err := store.List(ctx, bson.M{
		"active":    true,
		"workerId":  0,
		"startTime": bson.M{"$lte": now.UnixMilli()},
	}, FindOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, eligible.ID, tasks[0].ID)
}

func TestStoreUpsertIncrement(t *testing.T) {
	ctx := context.Background()
	coll := NewMemoryCollection[bson.M]()
	store := NewStore[bson.M](coll)

	update := bson.M{
		"$inc":         bson.M{"passthrough.total": 1, "passthrough.platforms.stripe.total": 1},
		"$setOnInsert": bson.M{"createdAt": int64(1000)},
	}
	require.NoError(t, store.Upsert(ctx, bson.M{"clientId": "c1"}, update))
	require.NoError(t, store.Upsert(ctx, bson.M{"clientId": "c1"}, update))

	docs := coll.Raw()
	require.Len(t, docs, 1)
	require.Equal(t, float64(2), getPath(docs[0], "passthrough.total"))
	require.Equal(t, float64(2), getPath(docs[0], "passthrough.platforms.stripe.total"))
	// createdAt is written only on the insert.
	require.Equal(t, int64(1000), docs[0]["createdAt"])
}

func TestShapeListQuery(t *testing.T) {
	access := &types.EventAccess{
		Environment: types.EnvironmentTest,
		Ownership:   types.Ownership{ID: "build-1"},
	}

	t.Run("defaults", func(t *testing.T) {
		q, err := ShapeListQuery(url.Values{}, access, false)
		require.NoError(t, err)
		require.Equal(t, int64(20), q.Opts.Limit)
		require.Equal(t, int64(0), q.Opts.Skip)
		require.Equal(t, false, q.Filter["deleted"])
		require.Equal(t, "build-1", q.Filter["ownership.buildableId"])
		require.Equal(t, types.EnvironmentTest, q.Filter["environment"])
	})

	t.Run("limit clamped", func(t *testing.T) {
		q, err := ShapeListQuery(url.Values{"limit": {"500"}, "skip": {"40"}}, access, false)
		require.NoError(t, err)
		require.Equal(t, int64(100), q.Opts.Limit)
		require.Equal(t, int64(40), q.Opts.Skip)
	})

	t.Run("contains and regex", func(t *testing.T) {
		q, err := ShapeListQuery(url.Values{
			"contains": {"platform,stripe,shopify"},
			"regex":    {"name,^acme"},
			"group":    {"g1"},
		}, access, false)
		require.NoError(t, err)
		require.Equal(t, bson.M{"$in": []string{"stripe", "shopify"}}, q.Filter["platform"])
		require.Equal(t, bson.M{"$regex": "^acme", "$options": "i"}, q.Filter["name"])
		require.Equal(t, "g1", q.Filter["group"])
	})

	t.Run("nil access has no tenant scope", func(t *testing.T) {
		q, err := ShapeListQuery(url.Values{"connectionPlatform": {"stripe"}}, nil, false)
		require.NoError(t, err)
		require.Equal(t, false, q.Filter["deleted"])
		require.NotContains(t, q.Filter, "ownership.buildableId")
		require.NotContains(t, q.Filter, "environment")
		require.Equal(t, "stripe", q.Filter["connectionPlatform"])
	})

	t.Run("all environments lifts env filter", func(t *testing.T) {
		q, err := ShapeListQuery(url.Values{}, access, true)
		require.NoError(t, err)
		require.NotContains(t, q.Filter, "environment")
	})

	t.Run("bad limit", func(t *testing.T) {
		_, err := ShapeListQuery(url.Values{"limit": {"abc"}}, access, false)
		require.True(t, trace.IsBadParameter(err))
	})
}

func TestMemoryCollectionFilters(t *testing.T) {
	ctx := context.Background()
	coll := NewMemoryCollection[types.Connection]()
	now := time.Now()

	for _, key := range []string{
		"test::stripe::default::a",
		"test::shopify::default::b",
		"live::stripe::default::c",
	} {
		parts := strings.Split(key, "::")
		env := types.EnvironmentTest
		if parts[0] == "live" {
			env = types.EnvironmentLive
		}
		conn := types.Connection{
			ID:             types.NewID(types.IDPrefixConnection, now),
			Key:            key,
			Platform:       parts[1],
			Environment:    env,
			Ownership:      types.Ownership{ID: "build-1"},
			RecordMetadata: types.NewRecordMetadata(now),
		}
		require.NoError(t, coll.InsertOne(ctx, &conn))
	}

	conns, err := coll.Find(ctx, bson.M{"platform": bson.M{"$in": []string{"stripe"}}}, FindOpts{})
	require.NoError(t, err)
	require.Len(t, conns, 2)

	conns, err = coll.Find(ctx, bson.M{"key": bson.M{"$regex": "SHOPIFY", "$options": "i"}}, FindOpts{})
	require.NoError(t, err)
	require.Len(t, conns, 1)
	require.Equal(t, "test::shopify::default::b", conns[0].Key)
}
