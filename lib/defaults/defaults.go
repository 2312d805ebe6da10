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

// Package defaults holds the process-wide constants shared by the API server
// and the watchdog: header names, collection names, buffer sizes and limits.
package defaults

import "time"

const (
	// HeaderAuth carries the event access bearer key. Configurable, this is
	// the default used when the environment does not override it.
	HeaderAuth = "x-pica-secret"

	// HeaderConnection carries the connection key of the upstream account the
	// request addresses.
	HeaderConnection = "x-pica-connection-key"

	// HeaderPassthroughPrefix is prepended to every upstream response header
	// (except Content-Length) so that gateway headers stay distinguishable.
	HeaderPassthroughPrefix = "x-pica-passthrough-"

	// HeaderActionID pins the connection model definition by id instead of
	// resolving it from the (platform, path, method) triple.
	HeaderActionID = "x-pica-action-id"

	// HeaderDualEnvironment lifts the environment filter from list queries
	// when set to "true".
	HeaderDualEnvironment = "x-pica-show-all-environments"

	// HeaderEnablePassthrough asks the unified endpoint to include the raw
	// upstream response next to the transformed body.
	HeaderEnablePassthrough = "x-pica-enable-passthrough"
)

// Mongo collection names. Every document in these collections carries
// RecordMetadata flattened at the top level.
const (
	CollectionEventAccess             = "event-access"
	CollectionConnections             = "connections"
	CollectionConnectionDefinitions   = "connection-definitions"
	CollectionModelDefinitions        = "connection-model-definitions"
	CollectionModelSchemas            = "connection-model-schemas"
	CollectionOAuthDefinitions        = "connection-oauth-definitions"
	CollectionPublicConnectionDetails = "public-connection-details"
	CollectionCommonModels            = "common-models"
	CollectionCommonEnums             = "common-enums"
	CollectionPlatforms               = "platforms"
	CollectionPlatformPages           = "platform-pages"
	CollectionSecrets                 = "secrets"
	CollectionEvents                  = "events"
	CollectionMetrics                 = "metrics"
	CollectionTasks                   = "tasks"
	CollectionClients                 = "clients"
	CollectionSettings                = "settings"
)

const (
	// DefaultNamespace is the namespace segment of connection keys minted by
	// the OAuth flow.
	DefaultNamespace = "default"

	// DefaultListLimit is the page size of list endpoints when the caller
	// does not pass one.
	DefaultListLimit = 20

	// MaxListLimit caps the page size of list endpoints.
	MaxListLimit = 100

	// MaxBufferSize is the tracker-side metric buffer; the metric collector
	// flushes to the analytics tracker when the buffer reaches this size.
	MaxBufferSize = 100

	// NumFlushWorkers bounds the number of concurrent bulk event inserts so
	// that a slow database cannot stall the event collector.
	NumFlushWorkers = 10

	// OAuthExpiryMargin is subtracted from a freshly provisioned token
	// lifetime so connections refresh before the platform cuts them off.
	OAuthExpiryMargin = 120 * time.Second

	// AwaitTaskTimeout is the HTTP timeout applied to tasks created with
	// await=true.
	AwaitTaskTimeout = 300 * time.Second

	// HTTPClientTimeout is the default timeout for upstream calls.
	HTTPClientTimeout = 10 * time.Second

	// APIThroughputKey is the Redis key holding per-ownership API rate
	// counters, cleared by the watchdog every refresh interval.
	APIThroughputKey = "api-throughput"

	// EventThroughputKey is the Redis key holding per-ownership event rate
	// counters, cleared by the watchdog every second.
	EventThroughputKey = "event-throughput"
)
