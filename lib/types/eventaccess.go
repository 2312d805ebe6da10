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

// Paths are the path-extraction templates attached to an event access
// record, used when ingesting raw platform events.
type Paths struct {
	ID        string `bson:"id,omitempty" json:"id,omitempty"`
	Event     string `bson:"event,omitempty" json:"event,omitempty"`
	Payload   string `bson:"payload,omitempty" json:"payload,omitempty"`
	Timestamp string `bson:"timestamp,omitempty" json:"timestamp,omitempty"`
	Secret    string `bson:"secret,omitempty" json:"secret,omitempty"`
	Signature string `bson:"signature,omitempty" json:"signature,omitempty"`
}

// EventAccess is an API credential. The access key decrypts to a blob whose
// embedded ownership must match Ownership.ID.
type EventAccess struct {
	ID          ID          `bson:"_id" json:"_id"`
	Name        string      `bson:"name" json:"name"`
	Key         string      `bson:"key" json:"key"`
	Namespace   string      `bson:"namespace" json:"namespace"`
	Platform    string      `bson:"platform" json:"platform"`
	Type        string      `bson:"type" json:"type"`
	Group       string      `bson:"group" json:"group"`
	Ownership   Ownership   `bson:"ownership" json:"ownership"`
	Paths       Paths       `bson:"paths" json:"paths"`
	AccessKey   string      `bson:"accessKey" json:"accessKey"`
	Environment Environment `bson:"environment" json:"environment"`
	// Throughput is the per-second request budget enforced by the rate
	// limiter.
	Throughput int64 `bson:"throughput" json:"throughput"`

	RecordMetadata `bson:",inline"`
}
