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

// Package mongostore is the persistence layer: a typed Store over a Mongo
// collection, the list-query shaping shared by all CRUD endpoints, and an
// in-memory collection used by tests.
package mongostore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// FindOpts narrows a Find call. The zero value means no limit, no skip, no
// projection and insertion order.
type FindOpts struct {
	Limit      int64
	Skip       int64
	// Projection restricts returned fields, mongo-style: field name to 1.
	Projection bson.M
	// Sort is a field name; prefix "-" for descending.
	Sort string
}

// Collection is the slice of the Mongo collection API the stores use.
// Implemented by mongoCollection for production and MemoryCollection for
// tests.
type Collection[T any] interface {
	FindOne(ctx context.Context, filter bson.M, opts FindOpts) (*T, error)
	Find(ctx context.Context, filter bson.M, opts FindOpts) ([]T, error)
	Count(ctx context.Context, filter bson.M) (int64, error)
	InsertOne(ctx context.Context, doc *T) error
	InsertMany(ctx context.Context, docs []T) error
	// UpdateOne applies update to the first document matching filter and
	// reports how many documents matched. With upsert set, a missing
	// document is inserted from the filter's equality fields plus the
	// update operators.
	UpdateOne(ctx context.Context, filter, update bson.M, upsert bool) (int64, error)
	UpdateMany(ctx context.Context, filter, update bson.M) (int64, error)
}
