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

package watchdog

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/picahq/pica/lib/defaults"
	"github.com/picahq/pica/lib/mongostore"
	"github.com/picahq/pica/lib/types"
)

func newTestWatchdog(t *testing.T) (*Watchdog, *mongostore.MemoryCollection[types.Task], *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	coll := mongostore.NewMemoryCollection[types.Task]()
	w, err := New(Config{
		Tasks:    mongostore.NewStore[types.Task](coll),
		Redis:    client,
		MaxTasks: 10,
	})
	require.NoError(t, err)
	return w, coll, mr
}

func seedTask(t *testing.T, coll *mongostore.MemoryCollection[types.Task], endpoint string, tweak func(*types.Task)) types.Task {
	t.Helper()
	now := time.Now()
	task := types.Task{
		ID:             types.NewID(types.IDPrefixTask, now),
		Endpoint:       endpoint,
		Payload:        map[string]any{"kind": "sync"},
		StartTime:      now.Add(-time.Minute).UnixMilli(),
		Ownership:      types.Ownership{ID: "build-1"},
		RecordMetadata: types.NewRecordMetadata(now),
	}
	if tweak != nil {
		tweak(&task)
	}
	require.NoError(t, coll.InsertOne(context.Background(), &task))
	return task
}

func TestTickExecutesEligibleTasks(t *testing.T) {
	var calls atomic.Int64
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body := new(bytes.Buffer)
		body.ReadFrom(r.Body)
		gotBody = body.Bytes()
		w.Write([]byte("done"))
	}))
	defer srv.Close()

	w, coll, _ := newTestWatchdog(t)
	task := seedTask(t, coll, srv.URL, nil)
	// Not yet due; must stay untouched.
	future := seedTask(t, coll, srv.URL, func(task *types.Task) {
		task.StartTime = time.Now().Add(time.Hour).UnixMilli()
	})
	// Already leased by another replica.
	leased := seedTask(t, coll, srv.URL, func(task *types.Task) {
		task.WorkerID = 1
	})

	require.NoError(t, w.tick(context.Background()))
	require.EqualValues(t, 1, calls.Load())
	require.JSONEq(t, `{"kind":"sync"}`, string(gotBody))

	store := mongostore.NewStore[types.Task](coll)
	done, err := store.GetOne(context.Background(), bson.M{"_id": task.ID.String()})
	require.NoError(t, err)
	require.Equal(t, "200 OK", done.Status)
	require.EqualValues(t, 1, done.WorkerID)
	require.False(t, done.Active)
	require.NotZero(t, done.EndTime)
	require.Equal(t, [][]byte{[]byte("done")}, done.LogTrail)

	for _, untouched := range []types.ID{future.ID, leased.ID} {
		doc, err := store.GetOne(context.Background(), bson.M{"_id": untouched.String()})
		require.NoError(t, err)
		require.Empty(t, doc.Status)
		require.Zero(t, doc.EndTime)
	}
}

func TestTickRecordsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	w, coll, _ := newTestWatchdog(t)
	task := seedTask(t, coll, srv.URL, nil)

	require.NoError(t, w.tick(context.Background()))

	done, err := mongostore.NewStore[types.Task](coll).GetOne(context.Background(), bson.M{"_id": task.ID.String()})
	require.NoError(t, err)
	// The task keeps the upstream status line, not a synthesized status.
	require.Equal(t, "502 Bad Gateway", done.Status)
	require.Equal(t, [][]byte{[]byte("boom")}, done.LogTrail)

	// Failures are terminal: a second tick leaves the task alone.
	require.NoError(t, w.tick(context.Background()))
	again, err := mongostore.NewStore[types.Task](coll).GetOne(context.Background(), bson.M{"_id": task.ID.String()})
	require.NoError(t, err)
	require.Equal(t, done.EndTime, again.EndTime)
}

func TestTickUnreachableEndpoint(t *testing.T) {
	w, coll, _ := newTestWatchdog(t)
	task := seedTask(t, coll, "http://127.0.0.1:1", nil)

	require.NoError(t, w.tick(context.Background()))

	done, err := mongostore.NewStore[types.Task](coll).GetOne(context.Background(), bson.M{"_id": task.ID.String()})
	require.NoError(t, err)
	require.Equal(t, StatusFailed, done.Status)
	require.NotEmpty(t, done.LogTrail)
}

func TestTickResetsThroughputWindow(t *testing.T) {
	w, _, mr := newTestWatchdog(t)
	mr.HSet(defaults.APIThroughputKey, "build-1", "41")

	require.NoError(t, w.tick(context.Background()))
	require.False(t, mr.Exists(defaults.APIThroughputKey))
}

func TestTickRespectsMaxTasks(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	w, coll, _ := newTestWatchdog(t)
	w.cfg.MaxTasks = 2
	for range 5 {
		seedTask(t, coll, srv.URL, nil)
	}

	require.NoError(t, w.tick(context.Background()))
	require.EqualValues(t, 2, calls.Load())

	leased, err := mongostore.NewStore[types.Task](coll).Count(context.Background(), bson.M{"workerId": int64(1)})
	require.NoError(t, err)
	require.EqualValues(t, 2, leased)
}
