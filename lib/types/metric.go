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
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// MetricKind is the closed set of metric variants.
type MetricKind string

const (
	MetricPassthrough MetricKind = "passthrough"
	MetricUnified     MetricKind = "unified"
	MetricRateLimited MetricKind = "ratelimited"
)

// Metric counter document keys.
const (
	totalKey     = "total"
	dailyKey     = "daily"
	monthlyKey   = "monthly"
	platformsKey = "platforms"
	createdAtKey = "createdAt"
)

// Metric is one countable gateway occurrence. Each metric increments six
// counters in the per-client metric document and, unless it is a
// passthrough, is fanned out to the analytics tracker.
type Metric struct {
	Kind MetricKind
	// Connection is set for Passthrough and Unified metrics.
	Connection *Connection
	// EventAccess is set for RateLimited metrics.
	EventAccess *EventAccess
	// Action is the unified action, set for Unified metrics.
	Action CrudAction
	// Model is the unified common model, set for Unified metrics.
	Model string
	// Key is the connection key the rate-limited caller presented, if any.
	Key  string
	Date time.Time
}

// NewPassthroughMetric counts one passthrough round-trip.
func NewPassthroughMetric(conn *Connection, now time.Time) Metric {
	return Metric{Kind: MetricPassthrough, Connection: conn, Date: now.UTC()}
}

// NewUnifiedMetric counts one unified round-trip.
func NewUnifiedMetric(conn *Connection, model string, action CrudAction, now time.Time) Metric {
	return Metric{Kind: MetricUnified, Connection: conn, Model: model, Action: action, Date: now.UTC()}
}

// NewRateLimitedMetric counts one rejected request.
func NewRateLimitedMetric(access *EventAccess, key string, now time.Time) Metric {
	return Metric{Kind: MetricRateLimited, EventAccess: access, Key: key, Date: now.UTC()}
}

// Ownership returns the tenant the metric belongs to.
func (m *Metric) Ownership() Ownership {
	if m.Kind == MetricRateLimited {
		return m.EventAccess.Ownership
	}
	return m.Connection.Ownership
}

// Platform returns the platform the metric counts against.
func (m *Metric) Platform() string {
	if m.Kind == MetricRateLimited {
		return m.EventAccess.Platform
	}
	return m.Connection.Platform
}

// UpdateDoc builds the upsert that applies the metric to a metric document:
// six $inc keys (type and per-platform totals, daily and monthly buckets)
// plus createdAt written only on insert.
func (m *Metric) UpdateDoc() bson.M {
	kind := string(m.Kind)
	platform := m.Platform()
	daily := m.Date.Format("2006-01-02")
	monthly := m.Date.Format("2006-01")

	return bson.M{
		"$inc": bson.M{
			fmt.Sprintf("%s.%s", kind, totalKey):                                    1,
			fmt.Sprintf("%s.%s.%s.%s", kind, platformsKey, platform, totalKey):      1,
			fmt.Sprintf("%s.%s.%s", kind, dailyKey, daily):                          1,
			fmt.Sprintf("%s.%s.%s.%s.%s", kind, platformsKey, platform, dailyKey, daily): 1,
			fmt.Sprintf("%s.%s.%s", kind, monthlyKey, monthly):                      1,
			fmt.Sprintf("%s.%s.%s.%s.%s", kind, platformsKey, platform, monthlyKey, monthly): 1,
		},
		"$setOnInsert": bson.M{
			createdAtKey: m.Date.UnixMilli(),
		},
	}
}

// TrackedEvent is the analytics rendering of a metric.
type TrackedEvent struct {
	Event      string         `json:"event"`
	DistinctID string         `json:"distinctId"`
	Properties map[string]any `json:"properties"`
}

// eventNames maps metric kinds to their analytics event names.
var eventNames = map[MetricKind]string{
	MetricPassthrough: "Called Passthrough API",
	MetricUnified:     "Called Unified API",
	MetricRateLimited: "Reached Rate Limit",
}

// Tracked renders the metric for the analytics tracker.
func (m *Metric) Tracked() TrackedEvent {
	props := map[string]any{
		"platform": m.Platform(),
		"clientId": m.Ownership().ClientID,
	}

	switch m.Kind {
	case MetricRateLimited:
		props["environment"] = m.EventAccess.Environment
		props["version"] = m.EventAccess.Version
		if m.Key != "" {
			props["key"] = m.Key
		}
	default:
		conn := m.Connection
		props["connectionDefinitionId"] = conn.ConnectionDefinitionID
		props["environment"] = conn.Environment
		props["key"] = conn.Key
		props["platformVersion"] = conn.PlatformVersion
		props["version"] = conn.Version
		if m.Kind == MetricUnified {
			props["commonModel"] = m.Model
			props["action"] = m.Action
		}
	}

	return TrackedEvent{
		Event:      eventNames[m.Kind],
		DistinctID: m.Ownership().DistinctID(),
		Properties: props,
	}
}
