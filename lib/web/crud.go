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
	"time"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/picahq/pica/lib/httplib"
	"github.com/picahq/pica/lib/mongostore"
	"github.com/picahq/pica/lib/types"
)

// crudHooks customizes the generic CRUD surface for one collection.
type crudHooks[T any] struct {
	prefix types.IDPrefix
	// readOnly binds only the list and get routes.
	readOnly bool
	// catalog drops the tenant and environment scope from reads. Catalog
	// collections carry no ownership.
	catalog bool
	// init stamps identity and record metadata onto a freshly decoded
	// document. Required unless readOnly.
	init func(doc *T, id types.ID, ownership types.Ownership, now time.Time)
	// onCreate validates and defaults the document before insert.
	onCreate func(doc *T, access *types.EventAccess) error
	// sanitize strips private material before the document leaves the
	// gateway.
	sanitize func(T) T
}

func (hooks *crudHooks[T]) sanitized(doc T) T {
	if hooks.sanitize == nil {
		return doc
	}
	return hooks.sanitize(doc)
}

// listResponse is the uniform page shape of list endpoints.
type listResponse[T any] struct {
	Rows  []T   `json:"rows"`
	Limit int64 `json:"limit"`
	Skip  int64 `json:"skip"`
	Total int64 `json:"total"`
}

// bindCRUD registers the generic CRUD routes for one collection:
// POST base, GET base, GET base/:id, PATCH base/:id, DELETE base/:id.
// Every route is tenant-scoped through the auth middleware.
func bindCRUD[T any](h *Handler, base string, store *mongostore.Store[T], hooks crudHooks[T]) {
	r := h.router

	r.GET(base, httplib.MakeHandler(h.withAuth(crudList(h, store, hooks))))
	r.GET(base+"/:id", httplib.MakeHandler(h.withAuth(crudGet(h, store, hooks))))
	if hooks.readOnly {
		return
	}
	r.POST(base, httplib.MakeHandler(h.withAuth(crudCreate(h, store, hooks))))
	r.PATCH(base+"/:id", httplib.MakeHandler(h.withAuth(crudPatch(h, store, hooks))))
	r.DELETE(base+"/:id", httplib.MakeHandler(h.withAuth(crudDelete(h, store, hooks))))
}

func crudList[T any](h *Handler, store *mongostore.Store[T], hooks crudHooks[T]) httplib.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
		access, err := authContext(r)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if hooks.catalog {
			access = nil
		}
		query, err := mongostore.ShapeListQuery(r.URL.Query(), access, showAllEnvironments(r))
		if err != nil {
			return nil, trace.Wrap(err)
		}
		rows, err := store.List(r.Context(), query.Filter, query.Opts)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		total, err := store.Count(r.Context(), query.Filter)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out := make([]T, 0, len(rows))
		for _, row := range rows {
			out = append(out, hooks.sanitized(row))
		}
		return listResponse[T]{Rows: out, Limit: query.Opts.Limit, Skip: query.Opts.Skip, Total: total}, nil
	}
}

func crudGet[T any](h *Handler, store *mongostore.Store[T], hooks crudHooks[T]) httplib.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
		access, err := authContext(r)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		filter := bson.M{
			"_id":     p.ByName("id"),
			"deleted": false,
		}
		if !hooks.catalog {
			filter["ownership.buildableId"] = access.Ownership.ID
		}
		doc, err := store.GetOne(r.Context(), filter)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return hooks.sanitized(*doc), nil
	}
}

func crudCreate[T any](h *Handler, store *mongostore.Store[T], hooks crudHooks[T]) httplib.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
		access, err := authContext(r)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		var doc T
		if err := httplib.ReadJSON(r, &doc); err != nil {
			return nil, trace.Wrap(err)
		}
		now := h.cfg.Clock.Now()
		hooks.init(&doc, types.NewID(hooks.prefix, now), access.Ownership, now)
		if hooks.onCreate != nil {
			if err := hooks.onCreate(&doc, access); err != nil {
				return nil, trace.Wrap(err)
			}
		}
		if err := store.CreateOne(r.Context(), &doc); err != nil {
			return nil, trace.Wrap(err)
		}
		return hooks.sanitized(doc), nil
	}
}

func crudPatch[T any](h *Handler, store *mongostore.Store[T], hooks crudHooks[T]) httplib.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
		access, err := authContext(r)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		var patch map[string]any
		if err := httplib.ReadJSON(r, &patch); err != nil {
			return nil, trace.Wrap(err)
		}
		// Identity and lifecycle fields are not patchable.
		for _, field := range []string{"_id", "ownership", "createdAt", "deleted"} {
			delete(patch, field)
		}
		if len(patch) == 0 {
			return nil, trace.BadParameter("empty patch")
		}

		id := p.ByName("id")
		if _, err := store.GetOne(r.Context(), bson.M{
			"_id":                   id,
			"ownership.buildableId": access.Ownership.ID,
			"deleted":               false,
		}); err != nil {
			return nil, trace.Wrap(err)
		}

		set := bson.M{"updatedAt": h.cfg.Clock.Now().UnixMilli(), "updated": true}
		for field, value := range patch {
			set[field] = value
		}
		if err := store.UpdateOne(r.Context(), id, bson.M{"$set": set}); err != nil {
			return nil, trace.Wrap(err)
		}
		doc, err := store.GetByID(r.Context(), id)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return hooks.sanitized(*doc), nil
	}
}

func crudDelete[T any](h *Handler, store *mongostore.Store[T], hooks crudHooks[T]) httplib.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
		access, err := authContext(r)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		id := p.ByName("id")
		if _, err := store.GetOne(r.Context(), bson.M{
			"_id":                   id,
			"ownership.buildableId": access.Ownership.ID,
			"deleted":               false,
		}); err != nil {
			return nil, trace.Wrap(err)
		}
		if err := store.SoftDelete(r.Context(), id, h.cfg.Clock.Now()); err != nil {
			return nil, trace.Wrap(err)
		}
		return map[string]any{"_id": id, "deleted": true}, nil
	}
}
