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
	"io"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/picahq/pica/lib/types"
)

// listAvailableConnectors serves the authenticated catalog of connectors a
// tenant can provision against. Hidden definitions stay out.
func (h *Handler) listAvailableConnectors(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	opts, err := pagingOpts(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	filter := bson.M{"deleted": false, "active": true, "hidden": false}
	rows, err := h.cfg.Stores.Definitions.List(r.Context(), filter, opts)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	total, err := h.cfg.Stores.Definitions.Count(r.Context(), filter)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return listResponse[types.ConnectionDefinition]{Rows: rows, Limit: opts.Limit, Skip: opts.Skip, Total: total}, nil
}

// listAvailableActions enumerates the model definitions one platform
// implements.
func (h *Handler) listAvailableActions(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	opts, err := pagingOpts(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	rows, total, err := h.cfg.Dispatcher.Actions(r.Context(), p.ByName("platform"), opts)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return listResponse[types.SparseCMD]{Rows: rows, Limit: opts.Limit, Skip: opts.Skip, Total: total}, nil
}

// listModelSchemas lists common-model schemas, optionally narrowed by the
// connectionPlatform and modelName query parameters.
func (h *Handler) listModelSchemas(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	opts, err := pagingOpts(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	filter := bson.M{"deleted": false}
	for _, field := range []string{"connectionPlatform", "modelName", "platformVersion"} {
		if value := r.URL.Query().Get(field); value != "" {
			filter[field] = value
		}
	}
	rows, err := h.cfg.Stores.ModelSchemas.List(r.Context(), filter, opts)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	total, err := h.cfg.Stores.ModelSchemas.Count(r.Context(), filter)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return listResponse[types.ConnectionModelSchema]{Rows: rows, Limit: opts.Limit, Skip: opts.Skip, Total: total}, nil
}

// testModelDefinition executes one model definition against the caller's
// connection, pinning it by id so path-based resolution is bypassed.
func (h *Handler) testModelDefinition(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	conn, err := connectionContext(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	dest := types.Destination{
		Platform:      conn.Platform,
		ConnectionKey: conn.Key,
		Action: types.Action{
			Passthrough: &types.PassthroughAction{
				Method: http.MethodPost,
				ID:     p.ByName("id"),
			},
		},
	}
	resp, def, err := h.cfg.Dispatcher.Dispatch(r.Context(), conn, dest, h.forwardedHeaders(r.Header), r.URL.Query(), body)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{
		"definition": def.ID,
		"statusCode": resp.StatusCode,
		"passed":     resp.Succeeded(),
	}, nil
}
