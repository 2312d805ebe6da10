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

package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func testConnection() *Connection {
	return &Connection{
		ID:              NewID(IDPrefixConnection, time.Now()),
		Platform:        "stripe",
		PlatformVersion: "v1",
		Key:             "test::stripe::default::abc",
		Environment:     EnvironmentTest,
		Ownership:       Ownership{ID: "build-1", ClientID: "client-1"},
		RecordMetadata:  NewRecordMetadata(time.Now()),
	}
}

func TestMetricUpdateDoc(t *testing.T) {
	date := time.Date(2024, 3, 7, 12, 30, 0, 0, time.UTC)
	m := NewPassthroughMetric(testConnection(), date)

	doc := m.UpdateDoc()
	inc, ok := doc["$inc"].(bson.M)
	require.True(t, ok)
	require.Len(t, inc, 6)

	for _, key := range []string{
		"passthrough.total",
		"passthrough.platforms.stripe.total",
		"passthrough.daily.2024-03-07",
		"passthrough.platforms.stripe.daily.2024-03-07",
		"passthrough.monthly.2024-03",
		"passthrough.platforms.stripe.monthly.2024-03",
	} {
		require.Contains(t, inc, key)
	}

	onInsert, ok := doc["$setOnInsert"].(bson.M)
	require.True(t, ok)
	require.Equal(t, date.UnixMilli(), onInsert["createdAt"])
}

func TestMetricTracked(t *testing.T) {
	conn := testConnection()

	t.Run("unified carries action and model", func(t *testing.T) {
		m := NewUnifiedMetric(conn, "customers", ActionGetMany, time.Now())
		tracked := m.Tracked()
		require.Equal(t, "Called Unified API", tracked.Event)
		require.Equal(t, "build-1", tracked.DistinctID)
		require.Equal(t, "customers", tracked.Properties["commonModel"])
		require.Equal(t, ActionGetMany, tracked.Properties["action"])
	})

	t.Run("distinct id prefers user id", func(t *testing.T) {
		withUser := *conn
		withUser.Ownership.UserID = "user-9"
		m := NewPassthroughMetric(&withUser, time.Now())
		require.Equal(t, "user-9", m.Tracked().DistinctID)
	})

	t.Run("rate limited uses event access", func(t *testing.T) {
		access := &EventAccess{
			Platform:    "shopify",
			Environment: EnvironmentLive,
			Ownership:   Ownership{ID: "build-2", ClientID: "client-2"},
		}
		m := NewRateLimitedMetric(access, "live::shopify::default::xyz", time.Now())
		tracked := m.Tracked()
		require.Equal(t, "Reached Rate Limit", tracked.Event)
		require.Equal(t, "shopify", tracked.Properties["platform"])
		require.Equal(t, "live::shopify::default::xyz", tracked.Properties["key"])
	})
}

func TestEventName(t *testing.T) {
	require.Equal(t,
		"stripe::v1::customers::getMany::request-succeeded",
		EventName("stripe", "v1", "customers", ActionGetMany, true))
	require.Equal(t,
		"stripe::v1::customers::create::request-failed",
		EventName("stripe", "v1", "customers", ActionCreate, false))
}

func TestIDOrdering(t *testing.T) {
	earlier := NewID(IDPrefixTask, time.UnixMilli(1_700_000_000_000))
	later := NewID(IDPrefixTask, time.UnixMilli(1_700_000_100_000))
	require.Less(t, earlier.String(), later.String())
	require.Equal(t, IDPrefixTask, earlier.Prefix())
}

func TestValidateConnectionKey(t *testing.T) {
	require.NoError(t, ValidateConnectionKey("test::stripe::default::abc123"))
	require.NoError(t, ValidateConnectionKey("live::shopify::default::9f8e|acme-inc"))
	require.Error(t, ValidateConnectionKey("staging::stripe::default::abc"))
	require.Error(t, ValidateConnectionKey("test::stripe::abc"))
}
