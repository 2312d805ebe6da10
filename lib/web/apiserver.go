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

// Package web is the HTTP surface of the gateway: the router, the auth and
// connection-resolution middleware, the passthrough and unified data paths,
// the OAuth handler, generic CRUD over the tenant collections and the
// public callback endpoints.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/picahq/pica/lib/accesskey"
	"github.com/picahq/pica/lib/defaults"
	"github.com/picahq/pica/lib/dispatch"
	"github.com/picahq/pica/lib/httplib"
	"github.com/picahq/pica/lib/k8s"
	"github.com/picahq/pica/lib/mongostore"
	"github.com/picahq/pica/lib/pipeline"
	"github.com/picahq/pica/lib/ratelimit"
	"github.com/picahq/pica/lib/secrets"
	"github.com/picahq/pica/lib/template"
	"github.com/picahq/pica/lib/track"
	"github.com/picahq/pica/lib/types"
	"github.com/picahq/pica/lib/utils"
)

// Stores bundles the typed collection views the handlers read and write.
type Stores struct {
	EventAccess     *mongostore.Store[types.EventAccess]
	Connections     *mongostore.Store[types.Connection]
	Definitions     *mongostore.Store[types.ConnectionDefinition]
	OAuthDefs       *mongostore.Store[types.ConnectionOAuthDefinition]
	ModelSchemas    *mongostore.Store[types.ConnectionModelSchema]
	PublicDetails   *mongostore.Store[types.PublicConnectionDetails]
	Settings        *mongostore.Store[types.Settings]
	Events          *mongostore.Store[types.Event]
	Tasks           *mongostore.Store[types.Task]
	Knowledge       *mongostore.Store[types.Knowledge]
	// Metrics is the aggregated metric document per client, keyed by
	// clientId rather than the usual record shape.
	Metrics *mongostore.Store[bson.M]
}

// CheckAndSetDefaults validates the store set.
func (s *Stores) CheckAndSetDefaults() error {
	if s.EventAccess == nil || s.Connections == nil || s.Definitions == nil ||
		s.OAuthDefs == nil || s.ModelSchemas == nil || s.PublicDetails == nil ||
		s.Settings == nil || s.Events == nil || s.Tasks == nil ||
		s.Knowledge == nil || s.Metrics == nil {
		return trace.BadParameter("missing store")
	}
	return nil
}

// Caches bundles the read-through caches on the hot path.
type Caches struct {
	Access    *utils.FnCache[*types.EventAccess]
	Conn      *utils.FnCache[*types.Connection]
	OAuthDefs *utils.FnCache[*types.ConnectionOAuthDefinition]
}

// CheckAndSetDefaults validates the cache set.
func (c *Caches) CheckAndSetDefaults() error {
	if c.Access == nil || c.Conn == nil || c.OAuthDefs == nil {
		return trace.BadParameter("missing cache")
	}
	return nil
}

// Config configures the gateway handler.
type Config struct {
	// HeaderAuth and HeaderConnection are the configured header names.
	HeaderAuth       string
	HeaderConnection string

	Stores Stores
	Caches Caches

	// Codec mints access keys for OAuth-provisioned connections.
	Codec *accesskey.Codec
	// Dispatcher drives the passthrough and unified data paths.
	Dispatcher *dispatch.Dispatcher
	// Limiter is nil when Redis was unreachable at startup; requests then
	// pass unthrottled.
	Limiter *ratelimit.Limiter
	// Events and Metrics are the fire-and-forget telemetry sinks.
	Events  *pipeline.EventSink
	Metrics *pipeline.MetricSink
	// Tracker serves the explicit POST /v1/metrics endpoint.
	Tracker track.Tracker
	// Secrets stores OAuth credentials.
	Secrets *secrets.Service
	// Template renders full-template OAuth definitions.
	Template *template.Engine
	// K8s tears down database-connection resources on the lost callback.
	K8s k8s.Driver

	// OAuthURL locates the external script runner.
	OAuthURL string
	// EngineeringAccountID substitutes tenant settings for engineering
	// account provisioning.
	EngineeringAccountID string

	// HTTPClient calls the OAuth script runner.
	HTTPClient *http.Client

	Log   *slog.Logger
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.HeaderAuth == "" {
		c.HeaderAuth = defaults.HeaderAuth
	}
	if c.HeaderConnection == "" {
		c.HeaderConnection = defaults.HeaderConnection
	}
	if err := c.Stores.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	if err := c.Caches.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	if c.Codec == nil {
		return trace.BadParameter("missing Codec")
	}
	if c.Dispatcher == nil {
		return trace.BadParameter("missing Dispatcher")
	}
	if c.Events == nil {
		return trace.BadParameter("missing Events")
	}
	if c.Metrics == nil {
		return trace.BadParameter("missing Metrics")
	}
	if c.Tracker == nil {
		return trace.BadParameter("missing Tracker")
	}
	if c.Secrets == nil {
		return trace.BadParameter("missing Secrets")
	}
	if c.Template == nil {
		c.Template = template.NewEngine()
	}
	if c.K8s == nil {
		return trace.BadParameter("missing K8s")
	}
	if c.OAuthURL == "" {
		return trace.BadParameter("missing OAuthURL")
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaults.HTTPClientTimeout}
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	c.Log = c.Log.With("component", "web")
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Handler is the gateway's HTTP handler.
type Handler struct {
	cfg    Config
	router *httprouter.Router
}

// NewHandler builds the handler and binds all routes.
func NewHandler(cfg Config) (*Handler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	h := &Handler{cfg: cfg, router: httprouter.New()}
	h.bind()
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) bind() {
	r := h.router

	// Public surface.
	r.GET("/v1/public/connection-definitions", httplib.MakeHandler(h.listPublicConnectionDefinitions))
	r.POST("/v1/public/event-callbacks/database-connection-lost/:connectionId", httplib.MakeHandler(h.databaseConnectionLost))
	r.POST("/v1/event-callbacks/database-connection-lost/:connectionId", httplib.MakeHandler(h.databaseConnectionLost))

	// Data path.
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete} {
		r.Handle(method, "/v1/passthrough/*path", httplib.MakeHandler(h.withConnection(h.passthrough)))
	}
	r.GET("/v1/unified/:model", httplib.MakeHandler(h.withConnection(h.unified(types.ActionGetMany))))
	r.POST("/v1/unified/:model", httplib.MakeHandler(h.withConnection(h.unified(types.ActionCreate))))
	// GET /:model/count is routed through the :id segment; the handler
	// special-cases the "count" id.
	r.GET("/v1/unified/:model/:id", httplib.MakeHandler(h.withConnection(h.unified(types.ActionGetOne))))
	r.PATCH("/v1/unified/:model/:id", httplib.MakeHandler(h.withConnection(h.unified(types.ActionUpdate))))
	r.DELETE("/v1/unified/:model/:id", httplib.MakeHandler(h.withConnection(h.unified(types.ActionDelete))))

	// OAuth provisioning.
	r.POST("/v1/oauth/:platform", httplib.MakeHandler(h.withAuth(h.oauthInit)))

	// Catalog reads.
	r.GET("/v1/available-connectors", httplib.MakeHandler(h.withAuth(h.listAvailableConnectors)))
	r.GET("/v1/available-actions/:platform", httplib.MakeHandler(h.withAuth(h.listAvailableActions)))
	r.GET("/v1/connection-model-schema", httplib.MakeHandler(h.withAuth(h.listModelSchemas)))
	r.POST("/v1/connection-model-definitions/test/:id", httplib.MakeHandler(h.withConnection(h.testModelDefinition)))

	// Metrics: POST pushes a tracked event, GET reads back the caller's
	// aggregated metric document.
	r.POST("/v1/metrics", httplib.MakeHandler(h.withAuth(h.trackMetric)))
	r.GET("/v1/metrics", httplib.MakeHandler(h.withAuth(h.getMetrics)))

	// Secrets are append-only and encrypted at rest, so they bypass the
	// generic CRUD path.
	r.POST("/v1/secrets", httplib.MakeHandler(h.withAuth(h.createSecret)))
	r.GET("/v1/secrets", httplib.MakeHandler(h.withAuth(h.listSecrets)))
	r.GET("/v1/secrets/:id", httplib.MakeHandler(h.withAuth(h.getSecret)))

	// Tenant CRUD. The vault alias exposes the same connection surface to
	// the vault UI.
	connectionHooks := crudHooks[types.Connection]{
		prefix: types.IDPrefixConnection,
		init: func(conn *types.Connection, id types.ID, ownership types.Ownership, now time.Time) {
			conn.ID = id
			conn.Ownership = ownership
			conn.RecordMetadata = types.NewRecordMetadata(now)
		},
		onCreate: func(conn *types.Connection, access *types.EventAccess) error {
			conn.Environment = access.Environment
			return trace.Wrap(types.ValidateConnectionKey(conn.Key))
		},
		sanitize: func(conn types.Connection) types.Connection { return conn.Sanitized() },
	}
	bindCRUD(h, "/v1/connections", h.cfg.Stores.Connections, connectionHooks)
	bindCRUD(h, "/v1/vault/connections", h.cfg.Stores.Connections, connectionHooks)

	bindCRUD(h, "/v1/event-access", h.cfg.Stores.EventAccess, crudHooks[types.EventAccess]{
		prefix: types.IDPrefixEventAccess,
		init: func(access *types.EventAccess, id types.ID, ownership types.Ownership, now time.Time) {
			access.ID = id
			access.Ownership = ownership
			access.RecordMetadata = types.NewRecordMetadata(now)
		},
	})
	bindCRUD(h, "/v1/events", h.cfg.Stores.Events, crudHooks[types.Event]{
		prefix:   types.IDPrefixEvent,
		readOnly: true,
	})
	bindCRUD(h, "/v1/knowledge", h.cfg.Stores.Knowledge, crudHooks[types.Knowledge]{
		prefix:   types.IDPrefixModelDef,
		readOnly: true,
		catalog:  true,
	})
	bindCRUD(h, "/v1/tasks", h.cfg.Stores.Tasks, crudHooks[types.Task]{
		prefix: types.IDPrefixTask,
		init: func(task *types.Task, id types.ID, ownership types.Ownership, now time.Time) {
			task.ID = id
			task.Ownership = ownership
			task.RecordMetadata = types.NewRecordMetadata(now)
		},
		onCreate: func(task *types.Task, _ *types.EventAccess) error {
			if task.Endpoint == "" {
				return trace.BadParameter("missing endpoint")
			}
			// Fresh tasks are unleased.
			task.WorkerID = 0
			if task.StartTime == 0 {
				task.StartTime = h.cfg.Clock.Now().UnixMilli()
			}
			return nil
		},
	})
}

type contextKey int

const (
	accessContextKey contextKey = iota
	connectionContextKey
)

// authContext returns the EventAccess attached to the request.
func authContext(r *http.Request) (*types.EventAccess, error) {
	access, ok := r.Context().Value(accessContextKey).(*types.EventAccess)
	if !ok {
		return nil, trace.AccessDenied("request has no access context")
	}
	return access, nil
}

// connectionContext returns the Connection attached to the request.
func connectionContext(r *http.Request) (*types.Connection, error) {
	conn, ok := r.Context().Value(connectionContextKey).(*types.Connection)
	if !ok {
		return nil, trace.AccessDenied("request has no connection context")
	}
	return conn, nil
}

// withAuth authenticates the request: the auth header must decode to a
// non-deleted EventAccess. The record is attached to the request context
// and the rate limit is enforced before the wrapped handler runs.
func (h *Handler) withAuth(fn httplib.HandlerFunc) httplib.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
		token := r.Header.Get(h.cfg.HeaderAuth)
		if token == "" {
			return nil, trace.BadParameter("missing %v header", h.cfg.HeaderAuth)
		}

		access, err := h.cfg.Caches.Access.Get(r.Context(), token, func(ctx context.Context) (*types.EventAccess, error) {
			access, err := h.cfg.Stores.EventAccess.GetOne(ctx, bson.M{
				"accessKey": token,
				"deleted":   false,
			})
			if err != nil {
				return nil, trace.Wrap(err)
			}
			return access, nil
		})
		if err != nil {
			if trace.IsNotFound(err) {
				return nil, httplib.Unauthorized("invalid access key")
			}
			return nil, trace.Wrap(err)
		}

		if h.cfg.Limiter != nil {
			allowed, err := h.cfg.Limiter.Allow(r.Context(), access)
			if err != nil {
				// Redis trouble never blocks traffic.
				h.cfg.Log.Warn("rate limiter unavailable, allowing request", "error", err)
			} else if !allowed {
				h.cfg.Metrics.Emit(types.NewRateLimitedMetric(access, r.Header.Get(h.cfg.HeaderConnection), h.cfg.Clock.Now()))
				return nil, trace.LimitExceeded("rate limit exceeded")
			}
		}

		ctx := context.WithValue(r.Context(), accessContextKey, access)
		return fn(w, r.WithContext(ctx), p)
	}
}

// withConnection runs withAuth, then resolves the connection header into a
// Connection scoped to the caller's tenant and environment. An unknown
// connection is a 404, not a 401.
func (h *Handler) withConnection(fn httplib.HandlerFunc) httplib.HandlerFunc {
	return h.withAuth(func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
		access, err := authContext(r)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		key := r.Header.Get(h.cfg.HeaderConnection)
		if key == "" {
			return nil, trace.BadParameter("missing %v header", h.cfg.HeaderConnection)
		}

		cacheKey := key + "::" + access.Ownership.ID
		conn, err := h.cfg.Caches.Conn.Get(r.Context(), cacheKey, func(ctx context.Context) (*types.Connection, error) {
			conn, err := h.cfg.Stores.Connections.GetOne(ctx, bson.M{
				"key":                   key,
				"ownership.buildableId": access.Ownership.ID,
				"environment":           access.Environment,
				"deleted":               false,
			})
			if err != nil {
				return nil, trace.Wrap(err)
			}
			return conn, nil
		})
		if err != nil {
			if trace.IsNotFound(err) {
				return nil, trace.NotFound("no connection with key %q", key)
			}
			return nil, trace.Wrap(err)
		}

		ctx := context.WithValue(r.Context(), connectionContextKey, conn)
		return fn(w, r.WithContext(ctx), p)
	})
}

// showAllEnvironments reports whether the dual-environment header lifts the
// environment filter from list queries.
func showAllEnvironments(r *http.Request) bool {
	return r.Header.Get(defaults.HeaderDualEnvironment) == "true"
}

// trackMetric lets clients push a tracked event straight to the analytics
// backend.
func (h *Handler) trackMetric(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	access, err := authContext(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var event types.TrackedEvent
	if err := httplib.ReadJSON(r, &event); err != nil {
		return nil, trace.Wrap(err)
	}
	if event.Event == "" {
		return nil, trace.BadParameter("missing event")
	}
	if event.DistinctID == "" {
		event.DistinctID = access.Ownership.DistinctID()
	}
	if err := h.cfg.Tracker.Track(r.Context(), event); err != nil {
		h.cfg.Log.Warn("tracker rejected event", "error", err)
	}
	return map[string]string{"status": "accepted"}, nil
}
