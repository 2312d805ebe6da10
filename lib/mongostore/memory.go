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
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson"
)

// MemoryCollection is an in-memory Collection used by tests. It honors the
// subset of the Mongo query and update language the stores rely on:
// equality, $in, $regex/$options, $lte, $ne on the filter side and $set,
// $inc, $setOnInsert on the update side, with dotted field paths.
type MemoryCollection[T any] struct {
	mu   sync.Mutex
	docs []bson.M
}

// NewMemoryCollection returns an empty collection.
func NewMemoryCollection[T any]() *MemoryCollection[T] {
	return &MemoryCollection[T]{}
}

func (c *MemoryCollection[T]) FindOne(ctx context.Context, filter bson.M, opts FindOpts) (*T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, doc := range c.sorted(opts.Sort) {
		if matches(doc, filter) {
			return decodeDoc[T](doc)
		}
	}
	return nil, trace.NotFound("document not found")
}

func (c *MemoryCollection[T]) Find(ctx context.Context, filter bson.M, opts FindOpts) ([]T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []T
	var skipped int64
	for _, doc := range c.sorted(opts.Sort) {
		if !matches(doc, filter) {
			continue
		}
		if skipped < opts.Skip {
			skipped++
			continue
		}
		decoded, err := decodeDoc[T](doc)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, *decoded)
		if opts.Limit > 0 && int64(len(out)) >= opts.Limit {
			break
		}
	}
	return out, nil
}

func (c *MemoryCollection[T]) Count(ctx context.Context, filter bson.M) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, doc := range c.docs {
		if matches(doc, filter) {
			n++
		}
	}
	return n, nil
}

func (c *MemoryCollection[T]) InsertOne(ctx context.Context, doc *T) error {
	encoded, err := encodeDoc(doc)
	if err != nil {
		return trace.Wrap(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := encoded["_id"]; ok {
		for _, existing := range c.docs {
			if valuesEqual(existing["_id"], id) {
				return trace.AlreadyExists("document already exists")
			}
		}
	}
	c.docs = append(c.docs, encoded)
	return nil
}

func (c *MemoryCollection[T]) InsertMany(ctx context.Context, docs []T) error {
	for i := range docs {
		if err := c.InsertOne(ctx, &docs[i]); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

func (c *MemoryCollection[T]) UpdateOne(ctx context.Context, filter, update bson.M, upsert bool) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, doc := range c.docs {
		if matches(doc, filter) {
			applyUpdate(doc, update, false)
			return 1, nil
		}
	}
	if !upsert {
		return 0, nil
	}
	doc := bson.M{}
	for field, value := range filter {
		if _, isOp := value.(bson.M); !isOp {
			setPath(doc, field, value)
		}
	}
	applyUpdate(doc, update, true)
	c.docs = append(c.docs, doc)
	return 1, nil
}

func (c *MemoryCollection[T]) UpdateMany(ctx context.Context, filter, update bson.M) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var matched int64
	for _, doc := range c.docs {
		if matches(doc, filter) {
			applyUpdate(doc, update, false)
			matched++
		}
	}
	return matched, nil
}

// Raw returns a deep copy of every stored document, for test assertions on
// the raw document shape.
func (c *MemoryCollection[T]) Raw() []bson.M {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]bson.M, 0, len(c.docs))
	for _, doc := range c.docs {
		out = append(out, copyDoc(doc))
	}
	return out
}

func (c *MemoryCollection[T]) sorted(field string) []bson.M {
	if field == "" {
		return c.docs
	}
	desc := strings.HasPrefix(field, "-")
	field = strings.TrimPrefix(field, "-")
	docs := make([]bson.M, len(c.docs))
	copy(docs, c.docs)
	sort.SliceStable(docs, func(i, j int) bool {
		less := compareValues(getPath(docs[i], field), getPath(docs[j], field)) < 0
		if desc {
			return !less
		}
		return less
	})
	return docs
}

func encodeDoc[T any](doc *T) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, trace.Wrap(err)
	}
	return m, nil
}

func decodeDoc[T any](m bson.M) (*T, error) {
	raw, err := bson.Marshal(m)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var doc T
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, trace.Wrap(err)
	}
	return &doc, nil
}

func copyDoc(doc bson.M) bson.M {
	out := bson.M{}
	for k, v := range doc {
		if nested, ok := v.(bson.M); ok {
			out[k] = copyDoc(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func matches(doc, filter bson.M) bool {
	for field, expected := range filter {
		actual := getPath(doc, field)
		if ops, ok := expected.(bson.M); ok {
			if !matchOps(actual, ops) {
				return false
			}
			continue
		}
		if !valuesEqual(actual, expected) {
			return false
		}
	}
	return true
}

func matchOps(actual any, ops bson.M) bool {
	for op, arg := range ops {
		switch op {
		case "$in":
			if !inList(actual, arg) {
				return false
			}
		case "$regex":
			pattern := fmt.Sprintf("%v", arg)
			if opts, ok := ops["$options"].(string); ok && strings.Contains(opts, "i") {
				pattern = "(?i)" + pattern
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return false
			}
			s, ok := actual.(string)
			if !ok || !re.MatchString(s) {
				return false
			}
		case "$options":
			// Consumed by $regex.
		case "$lte":
			if actual == nil || compareValues(actual, arg) > 0 {
				return false
			}
		case "$gte":
			if actual == nil || compareValues(actual, arg) < 0 {
				return false
			}
		case "$ne":
			if valuesEqual(actual, arg) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func inList(actual, arg any) bool {
	switch list := arg.(type) {
	case []string:
		for _, v := range list {
			if valuesEqual(actual, v) {
				return true
			}
		}
	case []any:
		for _, v := range list {
			if valuesEqual(actual, v) {
				return true
			}
		}
	case bson.A:
		for _, v := range list {
			if valuesEqual(actual, v) {
				return true
			}
		}
	}
	return false
}

func applyUpdate(doc, update bson.M, inserting bool) {
	if set, ok := update["$set"].(bson.M); ok {
		for field, value := range set {
			setPath(doc, field, value)
		}
	}
	if inc, ok := update["$inc"].(bson.M); ok {
		for field, value := range inc {
			current, _ := toFloat(getPath(doc, field))
			delta, _ := toFloat(value)
			setPath(doc, field, current+delta)
		}
	}
	if onInsert, ok := update["$setOnInsert"].(bson.M); ok && inserting {
		for field, value := range onInsert {
			setPath(doc, field, value)
		}
	}
}

func getPath(doc bson.M, path string) any {
	parts := strings.Split(path, ".")
	var current any = doc
	for _, part := range parts {
		m, ok := current.(bson.M)
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}
	return current
}

func setPath(doc bson.M, path string, value any) {
	parts := strings.Split(path, ".")
	current := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(bson.M)
		if !ok {
			next = bson.M{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

func valuesEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ab == bb
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func compareValues(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
