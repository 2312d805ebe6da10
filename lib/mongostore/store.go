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
	"time"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store is a typed view over one collection. Deletion is logical: documents
// carry deleted=true and list reads filter them out.
type Store[T any] struct {
	coll Collection[T]
}

// NewStore wraps a collection.
func NewStore[T any](coll Collection[T]) *Store[T] {
	return &Store[T]{coll: coll}
}

// GetOne returns the first document matching filter, or a not found error.
func (s *Store[T]) GetOne(ctx context.Context, filter bson.M) (*T, error) {
	doc, err := s.coll.FindOne(ctx, filter, FindOpts{})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return doc, nil
}

// GetByID returns the live document with the given id. Logically deleted
// documents read as not found.
func (s *Store[T]) GetByID(ctx context.Context, id string) (*T, error) {
	doc, err := s.coll.FindOne(ctx, bson.M{"_id": id, "deleted": false}, FindOpts{})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return doc, nil
}

// List returns documents matching filter within opts.
func (s *Store[T]) List(ctx context.Context, filter bson.M, opts FindOpts) ([]T, error) {
	docs, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return docs, nil
}

// Count counts documents matching filter.
func (s *Store[T]) Count(ctx context.Context, filter bson.M) (int64, error) {
	n, err := s.coll.Count(ctx, filter)
	return n, trace.Wrap(err)
}

// CreateOne inserts one document.
func (s *Store[T]) CreateOne(ctx context.Context, doc *T) error {
	return trace.Wrap(s.coll.InsertOne(ctx, doc))
}

// CreateMany inserts a batch in one call.
func (s *Store[T]) CreateMany(ctx context.Context, docs []T) error {
	if len(docs) == 0 {
		return nil
	}
	return trace.Wrap(s.coll.InsertMany(ctx, docs))
}

// UpdateOne applies update to the document with the given id; not found when
// no document matches.
func (s *Store[T]) UpdateOne(ctx context.Context, id string, update bson.M) error {
	matched, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update, false)
	if err != nil {
		return trace.Wrap(err)
	}
	if matched == 0 {
		return trace.NotFound("document %q not found", id)
	}
	return nil
}

// UpdateMany applies update to every document matching filter.
func (s *Store[T]) UpdateMany(ctx context.Context, filter, update bson.M) error {
	_, err := s.coll.UpdateMany(ctx, filter, update)
	return trace.Wrap(err)
}

// Upsert applies update to the document matching filter, inserting it when
// missing.
func (s *Store[T]) Upsert(ctx context.Context, filter, update bson.M) error {
	_, err := s.coll.UpdateOne(ctx, filter, update, true)
	return trace.Wrap(err)
}

// SoftDelete marks the document deleted. The record stays in the collection
// but drops out of list reads and GetByID.
func (s *Store[T]) SoftDelete(ctx context.Context, id string, now time.Time) error {
	return trace.Wrap(s.UpdateOne(ctx, id, bson.M{
		"$set": bson.M{
			"deleted":   true,
			"active":    false,
			"updatedAt": now.UnixMilli(),
			"updated":   true,
		},
	}))
}

// mongoCollection adapts *mongo.Collection to the Collection interface.
type mongoCollection[T any] struct {
	coll *mongo.Collection
}

// NewCollection wraps a driver collection.
func NewCollection[T any](coll *mongo.Collection) Collection[T] {
	return &mongoCollection[T]{coll: coll}
}

func (c *mongoCollection[T]) FindOne(ctx context.Context, filter bson.M, opts FindOpts) (*T, error) {
	mopts := options.FindOne()
	if opts.Projection != nil {
		mopts.SetProjection(opts.Projection)
	}
	if opts.Sort != "" {
		mopts.SetSort(sortDoc(opts.Sort))
	}
	var doc T
	err := c.coll.FindOne(ctx, filter, mopts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, trace.NotFound("document not found")
	}
	if err != nil {
		return nil, trace.ConnectionProblem(err, "database read failed")
	}
	return &doc, nil
}

func (c *mongoCollection[T]) Find(ctx context.Context, filter bson.M, opts FindOpts) ([]T, error) {
	mopts := options.Find()
	if opts.Limit > 0 {
		mopts.SetLimit(opts.Limit)
	}
	if opts.Skip > 0 {
		mopts.SetSkip(opts.Skip)
	}
	if opts.Projection != nil {
		mopts.SetProjection(opts.Projection)
	}
	if opts.Sort != "" {
		mopts.SetSort(sortDoc(opts.Sort))
	}
	cursor, err := c.coll.Find(ctx, filter, mopts)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "database read failed")
	}
	var docs []T
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, trace.ConnectionProblem(err, "database read failed")
	}
	return docs, nil
}

func (c *mongoCollection[T]) Count(ctx context.Context, filter bson.M) (int64, error) {
	n, err := c.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, trace.ConnectionProblem(err, "database read failed")
	}
	return n, nil
}

func (c *mongoCollection[T]) InsertOne(ctx context.Context, doc *T) error {
	if _, err := c.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return trace.AlreadyExists("document already exists")
		}
		return trace.ConnectionProblem(err, "database write failed")
	}
	return nil
}

func (c *mongoCollection[T]) InsertMany(ctx context.Context, docs []T) error {
	payload := make([]any, 0, len(docs))
	for i := range docs {
		payload = append(payload, docs[i])
	}
	if _, err := c.coll.InsertMany(ctx, payload); err != nil {
		return trace.ConnectionProblem(err, "database write failed")
	}
	return nil
}

func (c *mongoCollection[T]) UpdateOne(ctx context.Context, filter, update bson.M, upsert bool) (int64, error) {
	res, err := c.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(upsert))
	if err != nil {
		return 0, trace.ConnectionProblem(err, "database write failed")
	}
	return res.MatchedCount + res.UpsertedCount, nil
}

func (c *mongoCollection[T]) UpdateMany(ctx context.Context, filter, update bson.M) (int64, error) {
	res, err := c.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, trace.ConnectionProblem(err, "database write failed")
	}
	return res.MatchedCount, nil
}

func sortDoc(field string) bson.D {
	if len(field) > 0 && field[0] == '-' {
		return bson.D{{Key: field[1:], Value: -1}}
	}
	return bson.D{{Key: field, Value: 1}}
}
