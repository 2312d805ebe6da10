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
	"encoding/json"
	"fmt"
	"time"
)

// Event is an immutable record of one upstream round-trip. Events are
// telemetry, not system-of-record: they are buffered, bulk-inserted and
// never retried.
type Event struct {
	ID ID `bson:"_id" json:"_id"`
	// AccessKey is the encrypted bearer reference of the credential that
	// produced the event.
	AccessKey string `bson:"accessKey" json:"accessKey"`
	// Name has the shape
	// {platform}::{version}::{model}::{action}::request-{succeeded|failed}.
	Name        string            `bson:"name" json:"name"`
	Environment Environment       `bson:"environment" json:"environment"`
	Headers     map[string]string `bson:"headers,omitempty" json:"headers,omitempty"`
	// Body is a JSON document carrying the unified metadata of the
	// round-trip.
	Body      string    `bson:"body" json:"body"`
	Ownership Ownership `bson:"ownership" json:"ownership"`

	RecordMetadata `bson:",inline"`
}

// EventName builds the canonical event name for one upstream round-trip.
func EventName(platform, platformVersion, model string, action CrudAction, succeeded bool) string {
	outcome := "request-succeeded"
	if !succeeded {
		outcome = "request-failed"
	}
	return fmt.Sprintf("%s::%s::%s::%s::%s", platform, platformVersion, model, action, outcome)
}

// EventBody is the unified metadata serialized into Event.Body.
type EventBody struct {
	Timestamp      int64  `json:"timestamp"`
	TransactionKey string `json:"transactionKey"`
	Platform       string `json:"platform"`
	PlatformVersion string `json:"platformVersion,omitempty"`
	Path           string `json:"path"`
	StatusCode     int    `json:"statusCode"`
	// Latency is the upstream round-trip time in milliseconds.
	Latency  int64 `json:"latency"`
	CacheHit bool  `json:"cacheHit"`
}

// NewEvent assembles an event record from a finished round-trip.
func NewEvent(access *EventAccess, name string, headers map[string]string, body EventBody, now time.Time) (Event, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:             NewID(IDPrefixEvent, now),
		AccessKey:      access.AccessKey,
		Name:           name,
		Environment:    access.Environment,
		Headers:        headers,
		Body:           string(encoded),
		Ownership:      access.Ownership,
		RecordMetadata: NewRecordMetadata(now),
	}, nil
}
