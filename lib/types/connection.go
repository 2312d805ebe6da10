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

package types

import (
	"regexp"

	"github.com/gravitational/trace"
)

// ConnectionIdentityType qualifies the identity a connection is bound to.
type ConnectionIdentityType string

const (
	IdentityOrganization ConnectionIdentityType = "organization"
	IdentityUser         ConnectionIdentityType = "user"
	IdentityTeam         ConnectionIdentityType = "team"
	IdentityProject      ConnectionIdentityType = "project"
)

// OAuthEnabled is the live variant of the OAuth field: the connection's
// secret was provisioned through a connection OAuth definition and expires.
type OAuthEnabled struct {
	ConnectionOAuthDefinitionID ID    `bson:"connectionOAuthDefinitionId" json:"connectionOAuthDefinitionId"`
	ExpiresIn                   int64 `bson:"expiresIn,omitempty" json:"expiresIn,omitempty"`
	// ExpiresAt is a unix seconds timestamp already reduced by the safety
	// margin; refresh runs when now passes it.
	ExpiresAt int64 `bson:"expiresAt,omitempty" json:"expiresAt,omitempty"`
}

// OAuth is a closed sum: either Enabled with a definition and expiry, or
// Disabled. The zero value means Disabled.
type OAuth struct {
	Enabled *OAuthEnabled `bson:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled reports whether the connection authenticates through OAuth.
func (o *OAuth) IsEnabled() bool { return o != nil && o.Enabled != nil }

// Connection is a live binding of an EventAccess to one third-party
// account. Exactly one platform+environment pair exists per key.
type Connection struct {
	ID                     ID                     `bson:"_id" json:"_id"`
	PlatformVersion        string                 `bson:"platformVersion" json:"platformVersion"`
	ConnectionDefinitionID ID                     `bson:"connectionDefinitionId" json:"connectionDefinitionId"`
	Type                   string                 `bson:"type" json:"type"`
	Key                    string                 `bson:"key" json:"key"`
	Group                  string                 `bson:"group" json:"group"`
	Name                   string                 `bson:"name,omitempty" json:"name,omitempty"`
	Environment            Environment            `bson:"environment" json:"environment"`
	Platform               string                 `bson:"platform" json:"platform"`
	SecretsServiceID       string                 `bson:"secretsServiceId" json:"secretsServiceId"`
	EventAccessID          ID                     `bson:"eventAccessId,omitempty" json:"eventAccessId,omitempty"`
	AccessKey              string                 `bson:"accessKey,omitempty" json:"accessKey,omitempty"`
	Identity               string                 `bson:"identity,omitempty" json:"identity,omitempty"`
	IdentityType           ConnectionIdentityType `bson:"identityType,omitempty" json:"identityType,omitempty"`
	Settings               map[string]any         `bson:"settings,omitempty" json:"settings,omitempty"`
	Throughput             Throughput             `bson:"throughput" json:"throughput"`
	Ownership              Ownership              `bson:"ownership" json:"ownership"`
	OAuth                  *OAuth                 `bson:"oauth,omitempty" json:"oauth,omitempty"`
	HasError               bool                   `bson:"hasError" json:"hasError"`
	Error                  string                 `bson:"error,omitempty" json:"error,omitempty"`

	RecordMetadata `bson:",inline"`
}

// MarkError records an upstream failure on the connection.
func (c *Connection) MarkError(msg string) {
	c.HasError = true
	c.Error = msg
}

// Sanitized strips the bearer material before the connection leaves the
// gateway.
func (c Connection) Sanitized() Connection {
	c.AccessKey = ""
	return c
}

// DatabaseConnectionSecret is the secret blob stored for database-type
// connections: the cluster namespace the connection's sidecar runs in plus
// the driver configuration. A stored secret decoding to a non-empty
// namespace is what marks a connection as database-backed.
type DatabaseConnectionSecret struct {
	Namespace string         `json:"namespace"`
	Config    map[string]any `json:"config,omitempty"`
}

var connectionKeyRe = regexp.MustCompile(`^(test|live)::[^:]+::[^:]+::[^:]+$`)

// ValidateConnectionKey checks the env::platform::namespace::suffix shape.
func ValidateConnectionKey(key string) error {
	if !connectionKeyRe.MatchString(key) {
		return trace.BadParameter("invalid connection key %q", key)
	}
	return nil
}
