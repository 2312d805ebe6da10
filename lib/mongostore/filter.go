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
	"net/url"
	"strconv"
	"strings"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/picahq/pica/lib/defaults"
	"github.com/picahq/pica/lib/types"
)

// ListQuery is the shaped form of a list request: the Mongo filter plus
// paging, derived from the caller's query string and tenant scope.
type ListQuery struct {
	Filter bson.M
	Opts   FindOpts
}

// ShapeListQuery translates list-endpoint query parameters into a Mongo
// filter scoped to the calling tenant:
//
//   - limit defaults to 20 and is clamped to 100; skip defaults to 0;
//   - contains=field,v1,v2 becomes {field: {$in: [v1, v2]}};
//   - regex=field,pattern becomes a case-insensitive regex match;
//   - any other parameter is an equality match on that field;
//   - deleted=false is always enforced;
//   - with an access record, ownership.buildableId scopes the query and the
//     environment filter applies unless allEnvironments is set. A nil access
//     shapes an unscoped catalog query.
func ShapeListQuery(params url.Values, access *types.EventAccess, allEnvironments bool) (*ListQuery, error) {
	filter := bson.M{"deleted": false}
	if access != nil {
		filter["ownership.buildableId"] = access.Ownership.ID
		if !allEnvironments {
			filter["environment"] = access.Environment
		}
	}

	opts := FindOpts{Limit: defaults.DefaultListLimit}
	for key, values := range params {
		if len(values) == 0 || values[0] == "" {
			continue
		}
		value := values[0]
		switch key {
		case "limit":
			limit, err := strconv.ParseInt(value, 10, 64)
			if err != nil || limit < 0 {
				return nil, trace.BadParameter("invalid limit %q", value)
			}
			if limit > defaults.MaxListLimit {
				limit = defaults.MaxListLimit
			}
			opts.Limit = limit
		case "skip":
			skip, err := strconv.ParseInt(value, 10, 64)
			if err != nil || skip < 0 {
				return nil, trace.BadParameter("invalid skip %q", value)
			}
			opts.Skip = skip
		case "contains":
			field, rest, ok := splitFilterParam(value)
			if !ok {
				return nil, trace.BadParameter("contains filter needs field,value[,value...]")
			}
			filter[field] = bson.M{"$in": strings.Split(rest, ",")}
		case "regex":
			field, pattern, ok := splitFilterParam(value)
			if !ok {
				return nil, trace.BadParameter("regex filter needs field,pattern")
			}
			filter[field] = bson.M{"$regex": pattern, "$options": "i"}
		default:
			filter[key] = value
		}
	}
	return &ListQuery{Filter: filter, Opts: opts}, nil
}

func splitFilterParam(value string) (field, rest string, ok bool) {
	field, rest, found := strings.Cut(value, ",")
	if !found || field == "" || rest == "" {
		return "", "", false
	}
	return field, rest, true
}
