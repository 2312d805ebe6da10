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

package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/picahq/pica/lib/mongostore"
	"github.com/picahq/pica/lib/types"
)

func testEvent(name string) types.Event {
	now := time.Now()
	return types.Event{
		ID:             types.NewID(types.IDPrefixEvent, now),
		Name:           name,
		Environment:    types.EnvironmentTest,
		Ownership:      types.Ownership{ID: "build-1", ClientID: "client-1"},
		RecordMetadata: types.NewRecordMetadata(now),
	}
}

func TestEventSinkFlushesOnFullBuffer(t *testing.T) {
	coll := mongostore.NewMemoryCollection[types.Event]()
	sink, err := NewEventSink(EventSinkConfig{
		Store:        mongostore.NewStore[types.Event](coll),
		BufferSize:   3,
		FlushTimeout: time.Hour,
	})
	require.NoError(t, err)
	defer sink.Close(context.Background())

	for i := 0; i < 3; i++ {
		require.True(t, sink.Emit(testEvent("stripe::v1::customers::getMany::request-succeeded")))
	}
	require.Eventually(t, func() bool {
		return len(coll.Raw()) == 3
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEventSinkFlushesOnIdleTimeout(t *testing.T) {
	coll := mongostore.NewMemoryCollection[types.Event]()
	sink, err := NewEventSink(EventSinkConfig{
		Store:        mongostore.NewStore[types.Event](coll),
		BufferSize:   100,
		FlushTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	defer sink.Close(context.Background())

	require.True(t, sink.Emit(testEvent("stripe::v1::customers::create::request-failed")))
	require.Eventually(t, func() bool {
		return len(coll.Raw()) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEventSinkDrainsOnClose(t *testing.T) {
	coll := mongostore.NewMemoryCollection[types.Event]()
	sink, err := NewEventSink(EventSinkConfig{
		Store:        mongostore.NewStore[types.Event](coll),
		BufferSize:   100,
		FlushTimeout: time.Hour,
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.True(t, sink.Emit(testEvent("stripe::v1::customers::getOne::request-succeeded")))
	}
	require.NoError(t, sink.Close(context.Background()))
	require.Len(t, coll.Raw(), 5)
}

func TestMetricSinkDualUpsert(t *testing.T) {
	coll := mongostore.NewMemoryCollection[bson.M]()
	sink, err := NewMetricSink(MetricSinkConfig{
		Store:       mongostore.NewStore[bson.M](coll),
		Tracker:     &captureTracker{},
		SystemID:    "client-system",
		ChannelSize: 10,
	})
	require.NoError(t, err)

	conn := &types.Connection{
		Platform:  "stripe",
		Key:       "test::stripe::default::abc",
		Ownership: types.Ownership{ID: "build-1", ClientID: "client-1"},
	}
	date := time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)
	require.True(t, sink.Emit(types.NewPassthroughMetric(conn, date)))
	require.True(t, sink.Emit(types.NewPassthroughMetric(conn, date)))
	require.NoError(t, sink.Close(context.Background()))

	docs := coll.Raw()
	require.Len(t, docs, 2)
	byClient := map[string]bson.M{}
	for _, doc := range docs {
		byClient[doc["clientId"].(string)] = doc
	}
	for _, clientID := range []string{"client-1", "client-system"} {
		doc, ok := byClient[clientID]
		require.True(t, ok, "missing document for %v", clientID)
		require.EqualValues(t, 2, doc["passthrough"].(bson.M)["total"])
	}
}

type captureTracker struct {
	mu     sync.Mutex
	events []types.TrackedEvent
}

func (c *captureTracker) Track(ctx context.Context, event types.TrackedEvent) error {
	return c.TrackMany(ctx, []types.TrackedEvent{event})
}

func (c *captureTracker) TrackMany(ctx context.Context, events []types.TrackedEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
	return nil
}

func (c *captureTracker) captured() []types.TrackedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.TrackedEvent(nil), c.events...)
}

func TestMetricSinkTrackerFanOut(t *testing.T) {
	tracker := &captureTracker{}
	sink, err := NewMetricSink(MetricSinkConfig{
		Store:       mongostore.NewStore[bson.M](mongostore.NewMemoryCollection[bson.M]()),
		Tracker:     tracker,
		SystemID:    "client-system",
		ChannelSize: 10,
	})
	require.NoError(t, err)

	conn := &types.Connection{
		Platform:  "stripe",
		Key:       "test::stripe::default::abc",
		Ownership: types.Ownership{ID: "build-1", ClientID: "client-1"},
	}
	now := time.Now()
	// Passthrough metrics are persisted but never fan out to analytics.
	require.True(t, sink.Emit(types.NewPassthroughMetric(conn, now)))
	require.True(t, sink.Emit(types.NewUnifiedMetric(conn, "customers", types.ActionGetMany, now)))
	require.NoError(t, sink.Close(context.Background()))

	events := tracker.captured()
	require.Len(t, events, 1)
	require.Equal(t, "Called Unified API", events[0].Event)
}
