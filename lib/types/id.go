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

// Package types defines the entities persisted and served by the gateway:
// event access records, connections, catalog definitions, events, metrics
// and tasks. All documents use camelCase field names in both BSON and JSON,
// and millisecond UTC timestamps.
package types

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"time"
)

// IDPrefix identifies the entity type an ID belongs to.
type IDPrefix string

const (
	IDPrefixConnection       IDPrefix = "conn"
	IDPrefixConnectionDef    IDPrefix = "conn_def"
	IDPrefixModelDef         IDPrefix = "conn_mod_def"
	IDPrefixOAuthDef         IDPrefix = "conn_oauth_def"
	IDPrefixEventAccess      IDPrefix = "evt_ac"
	IDPrefixEvent            IDPrefix = "evt"
	IDPrefixTask             IDPrefix = "task"
	IDPrefixSecret           IDPrefix = "secret"
	IDPrefixSettings         IDPrefix = "st"
)

// ID is an opaque identifier carrying a type prefix and a time-ordered
// suffix. Equality is byte equality.
type ID string

// NewID mints an ID with the given prefix and creation time. The first
// suffix segment is the millisecond timestamp, hex-encoded at fixed width
// so IDs sort by creation time; the second segment is random.
func NewID(prefix IDPrefix, now time.Time) ID {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(now.UnixMilli()))

	var entropy [14]byte
	if _, err := rand.Read(entropy[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}

	return ID(string(prefix) + "::" + hex.EncodeToString(ts[:]) + "::" + base64.RawURLEncoding.EncodeToString(entropy[:]))
}

// Prefix returns the type prefix of the ID, or an empty string when the ID
// is malformed.
func (id ID) Prefix() IDPrefix {
	prefix, _, ok := strings.Cut(string(id), "::")
	if !ok {
		return ""
	}
	return IDPrefix(prefix)
}

func (id ID) String() string { return string(id) }

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool { return id == "" }
