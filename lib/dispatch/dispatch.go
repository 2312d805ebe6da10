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

// Package dispatch resolves a destination to a connection model definition
// and executes the upstream call. The hot path runs off two single-flight
// caches: one keyed by connectionPlatform::path::METHOD, one by definition
// id for callers that pin the definition explicitly.
package dispatch

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/picahq/pica/lib/mongostore"
	"github.com/picahq/pica/lib/secrets"
	"github.com/picahq/pica/lib/types"
	"github.com/picahq/pica/lib/utils"
)

// Request is one upstream call to execute: the resolved definition, the
// caller's surviving headers, query and body, and the decrypted secret.
type Request struct {
	Definition *types.SparseCMD
	Connection *types.Connection
	// Path is the caller-requested path; definitions with template paths
	// may differ from it.
	Path    string
	Headers http.Header
	Query   url.Values
	Body    []byte
	// Secret is the decrypted connection secret.
	Secret map[string]any
}

// Response is the upstream result handed back to the handler.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Succeeded reports whether the upstream answered with a 2xx.
func (r *Response) Succeeded() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Extractor executes the upstream HTTP call for a request.
type Extractor interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// sparseProjection materializes only the routing fields on the hot path.
var sparseProjection = bson.M{
	"title": 1, "name": 1, "path": 1, "baseUrl": 1, "action": 1, "actionName": 1,
	"connectionPlatform": 1, "connectionDefinitionId": 1, "platformVersion": 1, "key": 1,
}

// Config configures a Dispatcher.
type Config struct {
	// Definitions reads the connection-model-definitions collection.
	Definitions *mongostore.Store[types.SparseCMD]
	// KeyCache caches definitions by connectionPlatform::path::METHOD.
	KeyCache *utils.FnCache[*types.SparseCMD]
	// IDCache caches definitions by definition id.
	IDCache *utils.FnCache[*types.SparseCMD]
	// Secrets decrypts connection secrets.
	Secrets *secrets.Service
	// Extractor performs the upstream call.
	Extractor Extractor
}

// CheckAndSetDefaults validates the config.
func (c *Config) CheckAndSetDefaults() error {
	if c.Definitions == nil {
		return trace.BadParameter("missing Definitions")
	}
	if c.KeyCache == nil {
		return trace.BadParameter("missing KeyCache")
	}
	if c.IDCache == nil {
		return trace.BadParameter("missing IDCache")
	}
	if c.Secrets == nil {
		return trace.BadParameter("missing Secrets")
	}
	if c.Extractor == nil {
		return trace.BadParameter("missing Extractor")
	}
	return nil
}

// Dispatcher turns destinations into executed upstream calls.
type Dispatcher struct {
	cfg Config
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Dispatcher{cfg: cfg}, nil
}

// Resolve finds the model definition addressed by the destination. A set
// action id bypasses the (platform, path, method) lookup.
func (d *Dispatcher) Resolve(ctx context.Context, dest types.Destination) (*types.SparseCMD, error) {
	action := dest.Action.Passthrough
	if action == nil {
		return nil, trace.BadParameter("destination has no passthrough action")
	}
	if action.ID != "" {
		return d.resolveByID(ctx, action.ID)
	}
	return d.resolveByKey(ctx, dest.Platform, action.Path, action.Method)
}

func (d *Dispatcher) resolveByID(ctx context.Context, id string) (*types.SparseCMD, error) {
	def, err := d.cfg.IDCache.Get(ctx, id, func(ctx context.Context) (*types.SparseCMD, error) {
		def, err := d.cfg.Definitions.List(ctx, bson.M{"_id": id}, mongostore.FindOpts{
			Limit:      1,
			Projection: sparseProjection,
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if len(def) == 0 {
			return nil, trace.NotFound("no model definition with id %q", id)
		}
		return &def[0], nil
	})
	return def, trace.Wrap(err)
}

func (d *Dispatcher) resolveByKey(ctx context.Context, platform, path, method string) (*types.SparseCMD, error) {
	key := types.CMDCacheKey(platform, path, method)
	def, err := d.cfg.KeyCache.Get(ctx, key, func(ctx context.Context) (*types.SparseCMD, error) {
		defs, err := d.cfg.Definitions.List(ctx, bson.M{
			"connectionPlatform": platform,
			"path":               path,
			"action":             strings.ToUpper(method),
		}, mongostore.FindOpts{
			Limit:      1,
			Projection: sparseProjection,
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if len(defs) == 0 {
			return nil, trace.NotFound("no model definition for %v %v on %v", method, path, platform)
		}
		return &defs[0], nil
	})
	return def, trace.Wrap(err)
}

// ResolveUnified finds the model definition implementing one common-model
// action on a platform.
func (d *Dispatcher) ResolveUnified(ctx context.Context, platform, model string, action types.CrudAction) (*types.SparseCMD, error) {
	// The unified keyspace cannot collide with CMDCacheKey: crud actions
	// are camelCase while methods are uppercased.
	key := platform + "::unified::" + model + "::" + string(action)
	def, err := d.cfg.KeyCache.Get(ctx, key, func(ctx context.Context) (*types.SparseCMD, error) {
		defs, err := d.cfg.Definitions.List(ctx, bson.M{
			"connectionPlatform": platform,
			"modelName":          model,
			"actionName":         action,
		}, mongostore.FindOpts{
			Limit:      1,
			Projection: sparseProjection,
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if len(defs) == 0 {
			return nil, trace.NotFound("platform %v does not implement %v on %v", platform, action, model)
		}
		return &defs[0], nil
	})
	return def, trace.Wrap(err)
}

// Actions lists the model definitions a platform exposes, uncached: the
// catalog surface is cold-path.
func (d *Dispatcher) Actions(ctx context.Context, platform string, opts mongostore.FindOpts) ([]types.SparseCMD, int64, error) {
	filter := bson.M{"connectionPlatform": platform, "deleted": false}
	opts.Projection = sparseProjection
	defs, err := d.cfg.Definitions.List(ctx, filter, opts)
	if err != nil {
		return nil, 0, trace.Wrap(err)
	}
	total, err := d.cfg.Definitions.Count(ctx, filter)
	if err != nil {
		return nil, 0, trace.Wrap(err)
	}
	return defs, total, nil
}

// Dispatch resolves the destination, decrypts the connection secret and
// executes the upstream call.
func (d *Dispatcher) Dispatch(ctx context.Context, conn *types.Connection, dest types.Destination, headers http.Header, query url.Values, body []byte) (*Response, *types.SparseCMD, error) {
	def, err := d.Resolve(ctx, dest)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}

	// With an id-pinned definition the definition's own path wins over
	// whatever the caller requested.
	var path string
	if action := dest.Action.Passthrough; action != nil && action.ID == "" {
		path = action.Path
	}
	resp, err := d.execute(ctx, conn, def, path, headers, query, body)
	return resp, def, trace.Wrap(err)
}

// DispatchUnified executes one common-model action. For entity-addressed
// actions the id is substituted into the definition's path template, or
// appended when the template has no {id} marker.
func (d *Dispatcher) DispatchUnified(ctx context.Context, conn *types.Connection, model string, action types.CrudAction, id string, headers http.Header, query url.Values, body []byte) (*Response, *types.SparseCMD, error) {
	def, err := d.ResolveUnified(ctx, conn.Platform, model, action)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}

	path := def.Path
	if id != "" {
		if strings.Contains(path, "{id}") {
			path = strings.ReplaceAll(path, "{id}", id)
		} else {
			path = strings.TrimSuffix(path, "/") + "/" + id
		}
	}
	resp, err := d.execute(ctx, conn, def, path, headers, query, body)
	return resp, def, trace.Wrap(err)
}

func (d *Dispatcher) execute(ctx context.Context, conn *types.Connection, def *types.SparseCMD, path string, headers http.Header, query url.Values, body []byte) (*Response, error) {
	secret := map[string]any{}
	if conn.SecretsServiceID != "" {
		if err := d.cfg.Secrets.Get(ctx, conn.SecretsServiceID, conn.Ownership.ID, &secret); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	resp, err := d.cfg.Extractor.Execute(ctx, &Request{
		Definition: def,
		Connection: conn,
		Path:       path,
		Headers:    headers,
		Query:      query,
		Body:       body,
		Secret:     secret,
	})
	return resp, trace.Wrap(err)
}
