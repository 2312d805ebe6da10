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

package web

import (
	"net/http"
	"strconv"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/picahq/pica/lib/defaults"
	"github.com/picahq/pica/lib/mongostore"
	"github.com/picahq/pica/lib/types"
)

// databaseConnectionLost is the unauthenticated callback invoked by a
// database sidecar when its backing connection died. It deprecates the
// connection record; when the connection's stored secret identifies a
// database connection, the sidecar's cluster resources are torn down in the
// namespace the secret names. Replays answer 200 without touching anything.
func (h *Handler) databaseConnectionLost(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	id := p.ByName("connectionId")
	conn, err := h.cfg.Stores.Connections.GetOne(r.Context(), bson.M{
		"_id":     id,
		"deleted": false,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	if conn.Deprecated {
		return map[string]any{"_id": id, "deprecated": true}, nil
	}

	if err := h.cfg.Stores.Connections.UpdateOne(r.Context(), id, bson.M{"$set": bson.M{
		"deprecated": true,
		"active":     false,
		"updated":    true,
		"updatedAt":  h.cfg.Clock.Now().UnixMilli(),
	}}); err != nil {
		return nil, trace.Wrap(err)
	}

	// Only database connections run as cluster resources. Any other secret
	// shape means there is nothing to tear down.
	var secret types.DatabaseConnectionSecret
	if conn.SecretsServiceID != "" {
		if err := h.cfg.Secrets.Get(r.Context(), conn.SecretsServiceID, conn.Ownership.ID, &secret); err != nil {
			h.cfg.Log.Warn("failed to load connection secret", "connection", id, "error", err)
			secret = types.DatabaseConnectionSecret{}
		}
	}
	if secret.Namespace != "" {
		if err := h.cfg.K8s.DeleteAll(r.Context(), secret.Namespace, conn.ID); err != nil {
			// The record is already deprecated either way; teardown failure
			// only leaves orphaned resources behind.
			h.cfg.Log.Warn("failed to tear down database connection resources", "connection", id, "error", err)
		}
	}
	return map[string]any{"_id": id, "deprecated": true}, nil
}

// listPublicConnectionDefinitions serves the unauthenticated catalog. Only
// paging parameters apply; there is no tenant scope to filter by.
func (h *Handler) listPublicConnectionDefinitions(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	opts, err := pagingOpts(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	filter := bson.M{"deleted": false, "active": true}
	rows, err := h.cfg.Stores.PublicDetails.List(r.Context(), filter, opts)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	total, err := h.cfg.Stores.PublicDetails.Count(r.Context(), filter)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return listResponse[types.PublicConnectionDetails]{Rows: rows, Limit: opts.Limit, Skip: opts.Skip, Total: total}, nil
}

// pagingOpts parses limit and skip for endpoints outside the tenant-scoped
// list shaping.
func pagingOpts(r *http.Request) (mongostore.FindOpts, error) {
	opts := mongostore.FindOpts{Limit: defaults.DefaultListLimit}
	if value := r.URL.Query().Get("limit"); value != "" {
		limit, err := strconv.ParseInt(value, 10, 64)
		if err != nil || limit < 0 {
			return opts, trace.BadParameter("invalid limit %q", value)
		}
		if limit > defaults.MaxListLimit {
			limit = defaults.MaxListLimit
		}
		opts.Limit = limit
	}
	if value := r.URL.Query().Get("skip"); value != "" {
		skip, err := strconv.ParseInt(value, 10, 64)
		if err != nil || skip < 0 {
			return opts, trace.BadParameter("invalid skip %q", value)
		}
		opts.Skip = skip
	}
	return opts, nil
}
