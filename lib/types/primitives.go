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
	"time"

	"github.com/gravitational/trace"
)

// Environment scopes credentials and connections to test or live traffic.
type Environment string

const (
	EnvironmentTest Environment = "test"
	EnvironmentLive Environment = "live"
)

// ParseEnvironment validates an environment string.
func ParseEnvironment(s string) (Environment, error) {
	switch Environment(s) {
	case EnvironmentTest, EnvironmentLive:
		return Environment(s), nil
	}
	return "", trace.BadParameter("unknown environment %q", s)
}

func (e Environment) String() string { return string(e) }

// Ownership is the tenant identity carried by every persisted entity and
// used as the primary filter on all list queries.
type Ownership struct {
	ID       string `bson:"buildableId" json:"buildableId"`
	UserID   string `bson:"userId,omitempty" json:"userId,omitempty"`
	ClientID string `bson:"clientId,omitempty" json:"clientId,omitempty"`
}

// DistinctID is the identity metrics are attributed to: the user when one is
// present, the tenant otherwise.
func (o Ownership) DistinctID() string {
	if o.UserID != "" {
		return o.UserID
	}
	return o.ID
}

// RecordMetadata carries the lifecycle state shared by all documents,
// flattened at the top level. Deletion is logical: deleted=true filters the
// record out of list results.
type RecordMetadata struct {
	CreatedAt  int64  `bson:"createdAt" json:"createdAt"`
	UpdatedAt  int64  `bson:"updatedAt" json:"updatedAt"`
	Updated    bool   `bson:"updated" json:"updated"`
	Active     bool   `bson:"active" json:"active"`
	Deprecated bool   `bson:"deprecated" json:"deprecated"`
	Deleted    bool   `bson:"deleted" json:"deleted"`
	Version    string `bson:"version" json:"version"`
}

// NewRecordMetadata returns metadata for a freshly created record.
func NewRecordMetadata(now time.Time) RecordMetadata {
	ms := now.UnixMilli()
	return RecordMetadata{
		CreatedAt: ms,
		UpdatedAt: ms,
		Active:    true,
		Version:   "1.0.0",
	}
}

// MarkUpdated records a modification timestamp.
func (m *RecordMetadata) MarkUpdated(now time.Time) {
	m.Updated = true
	m.UpdatedAt = now.UnixMilli()
}

// MarkDeleted logically deletes the record.
func (m *RecordMetadata) MarkDeleted(now time.Time) {
	m.Deleted = true
	m.MarkUpdated(now)
}

// MarkDeprecated flags the record as superseded. Deprecated records stay
// readable but are never picked up by new work.
func (m *RecordMetadata) MarkDeprecated(now time.Time) {
	m.Deprecated = true
	m.MarkUpdated(now)
}

// MarkInactive takes the record out of rotation without deleting it.
func (m *RecordMetadata) MarkInactive(now time.Time) {
	m.Active = false
	m.MarkUpdated(now)
}

// Throughput is the per-second request budget attached to a connection.
type Throughput struct {
	Key   string `bson:"key" json:"key"`
	Limit int64  `bson:"limit" json:"limit"`
}
